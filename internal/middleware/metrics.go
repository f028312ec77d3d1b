package middleware

import (
	"net/http"
	"time"

	"github.com/victorgomez09/garagedesk/internal/metrics"
)

// MetricsMiddleware records request counts, latency and in-flight requests.
type MetricsMiddleware struct {
	metrics *metrics.Metrics
}

func NewMetricsMiddleware(m *metrics.Metrics) *MetricsMiddleware {
	return &MetricsMiddleware{metrics: m}
}

func (m *MetricsMiddleware) Middleware(next http.Handler) http.Handler {
	if m.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.metrics.Inflight(1)
		defer m.metrics.Inflight(-1)

		start := time.Now()
		sw := newStatusWriter(w)
		next.ServeHTTP(sw, r)
		m.metrics.ObserveRequest(r.Method, metrics.RouteLabel(r.URL.Path), sw.Status(), time.Since(start))
	})
}
