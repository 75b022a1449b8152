package observability

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerName identifies this instrumentation library.
const tracerName = "spikeline"

// Tracer returns the global tracer for the pipeline. Without a configured
// trace provider this is a no-op tracer, so span creation is free.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
