package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouteLabel(t *testing.T) {
	tests := map[string]string{
		"":                       "/",
		"/":                      "/",
		"/api/customers":         "/api/customers",
		"/api/customers/42":      "/api/customers/:id",
		"/api/users/7/role":      "/api/users/:id/role",
		"/api/parts?low_stock=1": "/api/parts",
	}
	for in, want := range tests {
		assert.Equal(t, want, RouteLabel(in), in)
	}
}

func TestCounters(t *testing.T) {
	m := New()
	m.LoginAttempt(OutcomeSuccess)
	m.LoginAttempt(OutcomeInvalid)
	m.LoginAttempt(OutcomeInvalid)
	m.Lockout()
	m.RateLimited("login:ip")
	m.SessionsCleaned(3)
	m.SessionsCleaned(0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.loginAttempts.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.loginAttempts.WithLabelValues(OutcomeInvalid)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lockouts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimited.WithLabelValues("login:ip")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.sessionsCleaned))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.LoginAttempt(OutcomeSuccess)
		m.Lockout()
		m.RateLimited("x")
		m.AuditFailure()
		m.SessionsCleaned(1)
		m.ObserveRequest("GET", "/", 200, time.Millisecond)
		m.Inflight(1)
	})
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ObserveRequest(http.MethodGet, "/api/customers/9", 200, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `garagedesk_http_requests_total{method="GET",path="/api/customers/:id",status="200"} 1`))
	assert.Contains(t, body, "go_goroutines")
}
