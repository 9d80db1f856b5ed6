// Package server — metrics.go registers all Prometheus metrics for the HTTP
// server and exposes helpers used by handlers and middleware.
package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric label values shared across registrations.
const (
	// labelHandler is the "handler" label value used to partition metrics by
	// the logical endpoint name rather than the raw URL path.
	labelHandler = "handler"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// cacheHitsTotal counts turns answered from the question cache.
	cacheHitsTotal prometheus.Counter

	// cacheMissesTotal counts turns that required the answer generator.
	cacheMissesTotal prometheus.Counter

	// dedupeSkipsTotal counts generated answers whose store write was
	// skipped because the re-search found a concurrent duplicate.
	dedupeSkipsTotal prometheus.Counter

	// turnDurationSeconds records the wall-clock duration of each processed
	// turn, partitioned by outcome: "hit", "miss", or "error".
	turnDurationSeconds *prometheus.HistogramVec

	// sessionsActive is the number of chat sessions currently open.
	sessionsActive prometheus.Gauge

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, handler name, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics. promauto.With(reg) is used so that each call
// registers into the provided registry rather than the global default —
// this keeps unit tests hermetic.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		cacheHitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pollon",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of turns answered from the question cache.",
		}),

		cacheMissesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pollon",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of turns that required the answer generator.",
		}),

		dedupeSkipsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pollon",
			Subsystem: "cache",
			Name:      "dedupe_skips_total",
			Help:      "Total number of generated answers not stored because a concurrent duplicate was found.",
		}),

		turnDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pollon",
			Subsystem: "chat",
			Name:      "turn_duration_seconds",
			Help:      "Wall-clock duration of processed turns, partitioned by outcome.",
			Buckets:   []float64{0.05, 0.25, 1, 5, 10, 30, 60},
		}, []string{"outcome"}),

		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "pollon",
			Subsystem: "chat",
			Name:      "sessions_active",
			Help:      "Number of chat sessions currently open.",
		}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pollon",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pollon",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}
