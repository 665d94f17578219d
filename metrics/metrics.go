/*
Package metrics exposes Prometheus counters for HTTP traffic and backend
calls.

METRICS:
  points_http_requests_total{method,path,status}
  points_http_request_duration_seconds{method,path}
  points_backend_calls_total{backend,op,outcome}
  points_backend_call_duration_seconds{backend,op}

The path label is the chi route pattern, never the raw URL, so record ids
do not explode cardinality.

SEE ALSO:
  - ledger/selector.go: calls BackendCall once per attempt
*/
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the registered collectors.
type Metrics struct {
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	backendCalls    *prometheus.CounterVec
	backendDuration *prometheus.HistogramVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "points_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "points_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"method", "path"},
		),
		backendCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "points_backend_calls_total",
				Help: "Storage backend attempts by outcome",
			},
			[]string{"backend", "op", "outcome"},
		),
		backendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "points_backend_call_duration_seconds",
				Help:    "Storage backend attempt duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend", "op"},
		),
	}
	reg.MustRegister(m.httpRequests, m.httpDuration, m.backendCalls, m.backendDuration)
	return m
}

// BackendCall implements ledger.Observer.
func (m *Metrics) BackendCall(backend, op, outcome string, elapsed time.Duration) {
	m.backendCalls.WithLabelValues(backend, op, outcome).Inc()
	m.backendDuration.WithLabelValues(backend, op).Observe(elapsed.Seconds())
}

// Middleware records one sample per request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
