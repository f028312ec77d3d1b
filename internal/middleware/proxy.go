package middleware

import (
	"net"
	"net/http"
	"strings"
)

// ProxyHeaders replaces r.RemoteAddr with the client address reported by
// a reverse proxy. Only enable it behind a proxy that overwrites these
// headers; otherwise clients can pick their own address and dodge the
// per-IP limits.
type ProxyHeaders struct{}

func NewProxyHeadersMiddleware() *ProxyHeaders { return &ProxyHeaders{} }

func (p *ProxyHeaders) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ip := forwardedIP(r); ip != "" {
			r2 := r.Clone(r.Context())
			r2.RemoteAddr = net.JoinHostPort(ip, "0")
			r = r2
		}
		next.ServeHTTP(w, r)
	})
}

// forwardedIP takes the first X-Forwarded-For entry, then X-Real-IP.
// Values that are not IP addresses are ignored.
func forwardedIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if net.ParseIP(first) != nil {
			return first
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(realIP) != nil {
		return realIP
	}
	return ""
}
