package admin

import (
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/victorgomez09/garagedesk/internal/middleware"
	"github.com/victorgomez09/garagedesk/pkg/trace"
)

// IPRestrictionMiddleware validates incoming requests against configured
// addresses and CIDR ranges.
type IPRestrictionMiddleware struct {
	allowed []*net.IPNet
	logger  *zap.Logger
}

// NewIPRestrictionMiddleware parses allowedIPs. Entries may be plain
// addresses ("192.0.2.4") or ranges ("10.0.0.0/8"); unparsable entries are
// logged and ignored.
func NewIPRestrictionMiddleware(allowedIPs []string, logger *zap.Logger) middleware.Middleware {
	m := &IPRestrictionMiddleware{logger: logger}
	for _, entry := range allowedIPs {
		entry = strings.TrimSpace(entry)
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				logger.Warn("ignoring invalid allowed ip", zap.String("entry", entry))
				continue
			}
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			m.allowed = append(m.allowed, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, network, err := net.ParseCIDR(entry)
		if err != nil {
			logger.Warn("ignoring invalid allowed ip range", zap.String("entry", entry), zap.Error(err))
			continue
		}
		m.allowed = append(m.allowed, network)
	}
	return m
}

// Middleware allows everything when no addresses are configured. The
// client address is the connection's peer, or the proxy-reported address
// when proxy headers are trusted upstream in the chain.
func (m *IPRestrictionMiddleware) Middleware(next http.Handler) http.Handler {
	if len(m.allowed) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := net.ParseIP(trace.ClientIP(r))
		if clientIP == nil {
			writeForbidden(w, "access denied")
			return
		}

		for _, network := range m.allowed {
			if network.Contains(clientIP) {
				next.ServeHTTP(w, r)
				return
			}
		}

		m.logger.Warn("Access denied: IP not allowed", zap.String("client_ip", clientIP.String()))
		writeForbidden(w, "access denied")
	})
}
