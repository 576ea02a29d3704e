// Package metrics provides Prometheus instrumentation for sessiond. It exposes
// counters for session lifecycle transitions, a gauge for sessions currently
// open, and histograms for backend and lock latency.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SessionsStarted counts successful starts, labeled by result:
	// "new" or "resumed".
	SessionsStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sessiond_sessions_started_total",
		Help: "Total number of sessions started",
	}, []string{"result"}) // result = "new", "resumed"

	// SessionsActive tracks sessions that are started and not yet closed.
	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sessiond_sessions_active",
		Help: "Current number of open sessions",
	})

	// SessionsClosed counts sessions leaving the started state, labeled by
	// how: "commit", "abort", "destroy".
	SessionsClosed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sessiond_sessions_closed_total",
		Help: "Total number of sessions closed",
	}, []string{"how"})

	// SessionsRegenerated counts identifier regenerations, labeled by
	// whether the old record was deleted.
	SessionsRegenerated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sessiond_sessions_regenerated_total",
		Help: "Total number of session identifier regenerations",
	}, []string{"delete_old"})

	// BackendLatency records storage backend latency in seconds per operation.
	BackendLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sessiond_backend_latency_seconds",
		Help:    "Session backend operation latency in seconds",
		Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"op"}) // op = "load", "save", "touch", "destroy"

	// BackendErrors counts failed backend operations.
	BackendErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sessiond_backend_errors_total",
		Help: "Total number of failed session backend operations",
	}, []string{"op"})

	// LockWait records how long Start waited for the per-session lock.
	LockWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sessiond_lock_wait_seconds",
		Help:    "Time spent waiting for a session lock",
		Buckets: []float64{.0001, .001, .01, .05, .1, .5, 1, 5},
	})

	// GCRemoved counts expired records removed by garbage collection.
	GCRemoved = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sessiond_gc_removed_total",
		Help: "Total number of expired session records removed by GC",
	})

	// ConsoleConnections tracks open WebSocket console connections.
	ConsoleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sessiond_console_connections",
		Help: "Current number of open session console connections",
	})

	// RateLimited counts requests refused a new session by the limiter.
	RateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sessiond_rate_limited_total",
		Help: "Total number of new-session requests rejected by rate limiting",
	})
)

func init() {
	prometheus.MustRegister(
		SessionsStarted,
		SessionsActive,
		SessionsClosed,
		SessionsRegenerated,
		BackendLatency,
		BackendErrors,
		LockWait,
		GCRemoved,
		ConsoleConnections,
		RateLimited,
	)
}

// ObserveBackend records the latency and outcome of one backend operation
// started at start.
func ObserveBackend(op string, start time.Time, err error) {
	BackendLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		BackendErrors.WithLabelValues(op).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
