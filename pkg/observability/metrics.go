package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Sign-in metrics
	LoginAttemptsTotal   *prometheus.CounterVec
	LoginAttemptDuration *prometheus.HistogramVec
	PopupFlowsPending    prometheus.Gauge
	ScreensActive        prometheus.Gauge
	RateLimitedTotal     *prometheus.CounterVec

	// Key-value store metrics
	KVOperationsTotal   *prometheus.CounterVec
	KVOperationDuration *prometheus.HistogramVec
}

// Login attempt outcomes
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeRejected = "rejected"
)

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autohub_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "autohub_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		LoginAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autohub_login_attempts_total",
				Help: "Total number of sign-in attempts",
			},
			[]string{"method", "outcome"},
		),
		LoginAttemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "autohub_login_attempt_duration_seconds",
				Help:    "Sign-in attempt duration in seconds, including time spent in the provider popup",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300},
			},
			[]string{"method"},
		),
		PopupFlowsPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "autohub_popup_flows_pending",
				Help: "Number of provider popups waiting for a callback",
			},
		),
		ScreensActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "autohub_login_screens_active",
				Help: "Number of per-device sign-in screens held in memory",
			},
		),
		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autohub_login_rate_limited_total",
				Help: "Sign-in submissions refused by the rate limiter",
			},
			[]string{"route"},
		),

		KVOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autohub_kvstore_operations_total",
				Help: "Total number of key-value store operations",
			},
			[]string{"operation", "backend", "status"},
		),
		KVOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "autohub_kvstore_operation_duration_seconds",
				Help:    "Key-value store operation duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation", "backend"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LoginAttemptsTotal,
		m.LoginAttemptDuration,
		m.PopupFlowsPending,
		m.ScreensActive,
		m.RateLimitedTotal,
		m.KVOperationsTotal,
		m.KVOperationDuration,
	)

	return m
}

// ObserveLoginAttempt records one sign-in attempt
func (m *Metrics) ObserveLoginAttempt(method, outcome string, duration time.Duration) {
	m.LoginAttemptsTotal.WithLabelValues(method, outcome).Inc()
	if outcome != OutcomeRejected {
		m.LoginAttemptDuration.WithLabelValues(method).Observe(duration.Seconds())
	}
}

// ObserveKVOperation records one key-value store operation
func (m *Metrics) ObserveKVOperation(operation, backend string, err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.KVOperationsTotal.WithLabelValues(operation, backend, status).Inc()
	m.KVOperationDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests are labelled by their mux route template to keep cardinality low.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
