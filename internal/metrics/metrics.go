// Package metrics provides Prometheus instrumentation for the debit check service.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "debitcheck",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "debitcheck",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// DecisionsTotal counts completed evaluations by outcome.
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "debitcheck",
			Name:      "decisions_total",
			Help:      "Total risk decisions by outcome (aprobado, rechazado).",
		},
		[]string{"decision"},
	)

	// DecisionDuration observes end-to-end evaluation latency.
	DecisionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "debitcheck",
		Name:      "decision_duration_seconds",
		Help:      "End-to-end evaluation latency in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	// DecisionErrorsTotal counts failed evaluations by error kind.
	DecisionErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "debitcheck",
			Name:      "decision_errors_total",
			Help:      "Total failed evaluations by error kind.",
		},
		[]string{"kind"},
	)

	// SignalFetchesTotal counts upstream signal fetches by source and result.
	SignalFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "debitcheck",
			Name:      "signal_fetches_total",
			Help:      "Total upstream signal fetches by source and result.",
		},
		[]string{"source", "result"},
	)

	// SignalFetchDuration observes per-source fetch latency.
	SignalFetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "debitcheck",
			Name:      "signal_fetch_duration_seconds",
			Help:      "Upstream signal fetch latency in seconds by source.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	// SignalCacheHitsTotal counts signal cache lookups by source and outcome.
	SignalCacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "debitcheck",
			Name:      "signal_cache_lookups_total",
			Help:      "Signal cache lookups by source and outcome (hit, miss).",
		},
		[]string{"source", "outcome"},
	)

	// ScoringDuration observes model inference latency.
	ScoringDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "debitcheck",
		Name:      "scoring_duration_seconds",
		Help:      "Model inference latency in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	})

	// ResultsPublishedTotal counts result publications by outcome.
	ResultsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "debitcheck",
			Name:      "results_published_total",
			Help:      "Total decision results published to the broker by result.",
		},
		[]string{"result"},
	)

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "debitcheck",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "debitcheck", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "debitcheck", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "debitcheck", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "debitcheck", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "debitcheck", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "debitcheck", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		DecisionsTotal,
		DecisionDuration,
		DecisionErrorsTotal,
		SignalFetchesTotal,
		SignalFetchDuration,
		SignalCacheHitsTotal,
		ScoringDuration,
		ResultsPublishedTotal,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
