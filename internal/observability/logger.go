// Package observability provides the structured logger, prometheus metrics,
// and tracer used across the pipeline.
package observability

import (
	"log/slog"
	"os"
	"strings"
)

// BuildLogger constructs the process logger: JSON or text handler on
// stderr, leveled from the config string. Unknown levels fall back to info.
func BuildLogger(level string, jsonFormat bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	if jsonFormat {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
