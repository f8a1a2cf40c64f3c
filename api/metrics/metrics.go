package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bonds_api_build_info",
			Help: "Build information of the bonds API",
		},
		[]string{"version", "commit", "date"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bonds_api_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bonds_api_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bonds_api_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Postgres metrics
	PostgresQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bonds_api_postgres_queries_total",
			Help: "Total number of Postgres queries",
		},
		[]string{"query", "status"},
	)

	PostgresQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bonds_api_postgres_query_duration_seconds",
			Help:    "Duration of Postgres queries in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"query"},
	)

	// Collector metrics
	CollectorRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bonds_api_collector_refresh_total",
			Help: "Total number of collector refreshes",
		},
		[]string{"status"}, // "success", "error", "panic"
	)

	CollectorRefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bonds_api_collector_refresh_duration_seconds",
			Help:    "Duration of collector refreshes in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
		},
	)

	CollectorEpoch = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bonds_api_collector_epoch",
			Help: "Epoch of the last stored snapshot",
		},
	)

	CollectorAccounts = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bonds_api_collector_accounts",
			Help: "Accounts in the last stored snapshot",
		},
		[]string{"type"}, // "bond", "settlement", "withdraw_request", "stake"
	)
)

// Middleware returns a chi middleware that records HTTP metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Use the route pattern if available, otherwise use the path
		path := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			path = rctx.RoutePattern()
		}
		if path == "" {
			path = r.URL.Path
		}

		status := strconv.Itoa(ww.Status())
		duration := time.Since(start).Seconds()

		HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// RecordPostgresQuery records metrics for a Postgres query.
func RecordPostgresQuery(query string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	PostgresQueriesTotal.WithLabelValues(query, status).Inc()
	PostgresQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}
