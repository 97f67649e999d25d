// Package metrics exposes Prometheus instrumentation for the orchestrator.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors shared across the service. A single instance
// is created at startup and injected where needed.
type Metrics struct {
	registry *prometheus.Registry

	JobsSubmitted   prometheus.Counter
	JobsFinished    *prometheus.CounterVec
	ActiveJobs      prometheus.Gauge
	QueueDepth      prometheus.Gauge
	JobDuration     prometheus.Histogram
	ChunkAttempts   *prometheus.CounterVec
	ChunkRetries    prometheus.Counter
	RateLimited     prometheus.Counter
	IdempotencyHits prometheus.Counter
	CachedResults   prometheus.Counter
	WSConnections   prometheus.Gauge
}

// New creates the collectors on a private registry so tests can construct
// multiple instances without duplicate registration panics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		JobsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "chunkd_jobs_submitted_total",
			Help: "Number of jobs accepted for execution.",
		}),
		JobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkd_jobs_finished_total",
			Help: "Number of jobs that reached a terminal state, by status.",
		}, []string{"status"}),
		ActiveJobs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chunkd_jobs_active",
			Help: "Number of jobs currently pending or running.",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chunkd_chunks_queued",
			Help: "Number of chunks dispatched and not yet finished.",
		}),
		JobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "chunkd_job_duration_seconds",
			Help:    "Wall time from submission to terminal state.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		ChunkAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkd_chunk_attempts_total",
			Help: "Number of chunk execution attempts, by outcome.",
		}, []string{"outcome"}),
		ChunkRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "chunkd_chunk_retries_total",
			Help: "Number of chunk attempts that were retried after a transient failure.",
		}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "chunkd_requests_rate_limited_total",
			Help: "Number of requests rejected by the token bucket limiter.",
		}),
		IdempotencyHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "chunkd_idempotency_replays_total",
			Help: "Number of submissions answered from a recorded idempotent response.",
		}),
		CachedResults: factory.NewCounter(prometheus.CounterOpts{
			Name: "chunkd_cached_results_total",
			Help: "Number of submissions served from a previously completed job.",
		}),
		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chunkd_websocket_connections",
			Help: "Number of connected status subscribers.",
		}),
	}
}

// Handler returns the scrape endpoint for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
