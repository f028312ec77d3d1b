package trace

import (
	"context"
	"net"
	"net/http"

	"github.com/google/uuid"
)

const HeaderRequestID = "X-Request-ID"

type contextKey struct{}

type RequestID struct {
	trustIncoming bool
}

// WithRequestID returns the request id middleware. When trustIncoming is
// set, a well-formed X-Request-ID from the client is kept instead of
// generating a new one.
func WithRequestID(trustIncoming bool) *RequestID {
	return &RequestID{trustIncoming: trustIncoming}
}

// Middleware stores a request id in the context and echoes it in the
// response headers.
func (m *RequestID) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := ""
		if m.trustIncoming {
			if id, err := uuid.Parse(r.Header.Get(HeaderRequestID)); err == nil {
				requestID = id.String()
			}
		}
		if requestID == "" {
			requestID = uuid.NewString()
		}

		w.Header().Set(HeaderRequestID, requestID)
		next.ServeHTTP(w, r.WithContext(ContextWithRequestID(r.Context(), requestID)))
	})
}

func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// GetRequestID retrieves the request ID from the context.
// Returns an empty string if not found.
func GetRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if reqID, ok := ctx.Value(contextKey{}).(string); ok {
		return reqID
	}
	return ""
}

// ClientIP returns the host part of r.RemoteAddr.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
