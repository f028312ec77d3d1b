package trace

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func serve(m *RequestID, r *http.Request) (string, *httptest.ResponseRecorder) {
	var seen string
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return seen, rec
}

func TestRequestID_Generates(t *testing.T) {
	seen, rec := serve(WithRequestID(false), httptest.NewRequest(http.MethodGet, "/", nil))
	_, err := uuid.Parse(seen)
	assert.NoError(t, err)
	assert.Equal(t, seen, rec.Header().Get(HeaderRequestID))
}

func TestRequestID_Incoming(t *testing.T) {
	incoming := uuid.NewString()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(HeaderRequestID, incoming)
	seen, _ := serve(WithRequestID(true), r)
	assert.Equal(t, incoming, seen)

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(HeaderRequestID, incoming)
	seen, _ = serve(WithRequestID(false), r)
	assert.NotEqual(t, incoming, seen)

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(HeaderRequestID, "<script>")
	seen, _ = serve(WithRequestID(true), r)
	assert.NotEqual(t, "<script>", seen)
}

func TestGetRequestID_Empty(t *testing.T) {
	assert.Empty(t, GetRequestID(context.Background()))
	//nolint:staticcheck
	assert.Empty(t, GetRequestID(nil))
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.1.2.3:5555"
	assert.Equal(t, "10.1.2.3", ClientIP(r))
	r.RemoteAddr = "[::1]:80"
	assert.Equal(t, "::1", ClientIP(r))
	r.RemoteAddr = "pipe"
	assert.Equal(t, "pipe", ClientIP(r))
}
