package middleware

import (
	"fmt"
	"net/http"

	"github.com/victorgomez09/garagedesk/internal/config"
)

type ServerSecurity struct {
	HSTS                  bool
	HSTSMaxAge            int // seconds
	HSTSIncludeSubDomains bool
	FrameOptions          string
	ContentTypeOptions    bool
	ReferrerPolicy        string
}

func NewSecurityMiddleware(cfg *config.Security) *ServerSecurity {
	return &ServerSecurity{
		HSTS:                  cfg.HSTS,
		HSTSMaxAge:            cfg.HSTSMaxAge,
		HSTSIncludeSubDomains: cfg.HSTSIncludeSubDomains,
		FrameOptions:          cfg.FrameOptions,
		ContentTypeOptions:    cfg.ContentTypeOptions,
		ReferrerPolicy:        cfg.ReferrerPolicy,
	}
}

// Middleware sets the configured security headers. API responses are
// never cached.
func (s *ServerSecurity) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		if s.HSTS {
			value := fmt.Sprintf("max-age=%d", s.HSTSMaxAge)
			if s.HSTSIncludeSubDomains {
				value += "; includeSubDomains"
			}
			h.Set("Strict-Transport-Security", value)
		}

		if s.FrameOptions != "" {
			h.Set("X-Frame-Options", s.FrameOptions)
		}

		if s.ContentTypeOptions {
			h.Set("X-Content-Type-Options", "nosniff")
		}

		if s.ReferrerPolicy != "" {
			h.Set("Referrer-Policy", s.ReferrerPolicy)
		}

		h.Set("Cache-Control", "no-store")

		next.ServeHTTP(w, r)
	})
}
