package admin

import (
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/victorgomez09/garagedesk/internal/middleware"
)

// HostnameMiddleware rejects requests whose Host header is not one of the
// configured names. An empty list allows every host.
type HostnameMiddleware struct {
	hostnames []string
	logger    *zap.Logger
}

func NewHostnameMiddleware(hostnames []string, logger *zap.Logger) middleware.Middleware {
	return &HostnameMiddleware{
		hostnames: hostnames,
		logger:    logger,
	}
}

func (m *HostnameMiddleware) Middleware(next http.Handler) http.Handler {
	if len(m.hostnames) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Host may or may not carry a port
		host, _, err := net.SplitHostPort(r.Host)
		if err != nil {
			host = r.Host
		}

		for _, h := range m.hostnames {
			if strings.EqualFold(host, h) {
				next.ServeHTTP(w, r)
				return
			}
		}

		m.logger.Warn("Invalid hostname",
			zap.Strings("expected", m.hostnames),
			zap.String("received", host),
			zap.String("ip", r.RemoteAddr),
		)
		writeForbidden(w, "invalid host")
	})
}

func writeForbidden(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}` + "\n"))
}
