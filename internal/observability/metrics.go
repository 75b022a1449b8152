package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline's prometheus instruments.
type Metrics struct {
	registry *prometheus.Registry

	CyclesTotal         prometheus.Counter
	ArtifactBuildsTotal *prometheus.CounterVec
	BuildFailuresTotal  *prometheus.CounterVec
	BuildDuration       *prometheus.HistogramVec
	InFlightBuilds      prometheus.Gauge
	SegmentsWritten     prometheus.Counter
}

// NewMetrics creates and registers the pipeline instruments on a private
// registry, alongside the standard process and Go collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spikeline_scheduler_cycles_total",
			Help: "Completed scheduler poll cycles.",
		}),
		ArtifactBuildsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spikeline_artifact_builds_total",
			Help: "Artifacts committed, by kind.",
		}, []string{"kind"}),
		BuildFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spikeline_artifact_build_failures_total",
			Help: "Failed artifact builds, by kind.",
		}, []string{"kind"}),
		BuildDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "spikeline_artifact_build_duration_seconds",
			Help:    "Wall time of one artifact build, by kind.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"kind"}),
		InFlightBuilds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spikeline_in_flight_builds",
			Help: "Artifact builds currently running.",
		}),
		SegmentsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spikeline_raw_segments_written_total",
			Help: "Raw segments emitted by the rechunker.",
		}),
	}

	registry.MustRegister(
		m.CyclesTotal,
		m.ArtifactBuildsTotal,
		m.BuildFailuresTotal,
		m.BuildDuration,
		m.InFlightBuilds,
		m.SegmentsWritten,
	)

	return m
}

// Handler serves the /metrics scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
