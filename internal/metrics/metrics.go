// Package metrics provides Prometheus instrumentation for fraudscope.
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
			Namespace: "fraudscope",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fraudscope",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// PredictionsTotal counts scored transactions by decision.
	PredictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudscope",
			Name:      "predictions_total",
			Help:      "Total scored transactions by decision.",
		},
		[]string{"decision"},
	)

	// PredictionErrorsTotal counts failed predictions by reason.
	PredictionErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudscope",
			Name:      "prediction_errors_total",
			Help:      "Total failed predictions by reason (validation, model).",
		},
		[]string{"reason"},
	)

	// PredictionDuration observes end-to-end pipeline latency.
	PredictionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fraudscope",
		Name:      "prediction_duration_seconds",
		Help:      "Feature engineering plus inference latency in seconds.",
		Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
	})

	// PredictionProbability observes the distribution of model outputs.
	PredictionProbability = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fraudscope",
		Name:      "prediction_probability",
		Help:      "Distribution of fraud probabilities returned by the model.",
		Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
	})

	// PersistFailuresTotal counts scored transactions that could not be stored.
	PersistFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fraudscope",
		Name:      "persist_failures_total",
		Help:      "Scored transactions that failed to persist.",
	})

	// ModelReloadsTotal counts bundle reload attempts by result.
	ModelReloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudscope",
			Name:      "model_reloads_total",
			Help:      "Model bundle reloads by result (success, failure).",
		},
		[]string{"result"},
	)

	// DashboardCacheTotal counts dashboard cache lookups by result.
	DashboardCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudscope",
			Name:      "dashboard_cache_total",
			Help:      "Dashboard aggregate cache lookups by result (hit, miss, error, bypass).",
		},
		[]string{"result"},
	)

	// CircuitTransitionsTotal counts circuit breaker state changes.
	CircuitTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudscope",
			Subsystem: "circuitbreaker",
			Name:      "state_transitions_total",
			Help:      "Circuit breaker state transitions by key, from-state, and to-state.",
		},
		[]string{"key", "from_state", "to_state"},
	)

	// ActiveWebSocketClients tracks connected live-feed clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fraudscope",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraudscope", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraudscope", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraudscope", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		PredictionsTotal,
		PredictionErrorsTotal,
		PredictionDuration,
		PredictionProbability,
		PersistFailuresTotal,
		ModelReloadsTotal,
		DashboardCacheTotal,
		CircuitTransitionsTotal,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// ObservePrediction records one successful prediction.
func ObservePrediction(decision string, probability float64, elapsed time.Duration) {
	PredictionsTotal.WithLabelValues(decision).Inc()
	PredictionProbability.Observe(probability)
	PredictionDuration.Observe(elapsed.Seconds())
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
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath() // route pattern, not raw path
		if path == "" {
			path = "unmatched"
		}
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(c.Request.Method, path))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			path,
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
