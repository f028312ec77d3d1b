package middleware

import (
	"bufio"
	"fmt"
	"net"
	"net/http"

	"go.uber.org/zap"

	"github.com/victorgomez09/garagedesk/internal/config"
)

// Middleware defines an interface for HTTP middleware.
// Each middleware must implement the Middleware method, which takes the next handler in the chain
// and returns a new handler that wraps additional functionality around it.
type Middleware interface {
	Middleware(next http.Handler) http.Handler
}

// MiddlewareFunc adapts a plain function to Middleware.
type MiddlewareFunc func(next http.Handler) http.Handler

func (f MiddlewareFunc) Middleware(next http.Handler) http.Handler { return f(next) }

// statusWriter captures the status code and body length of a response.
type statusWriter struct {
	http.ResponseWriter
	status int
	length int
}

func newStatusWriter(w http.ResponseWriter) *statusWriter {
	return &statusWriter{
		ResponseWriter: w,
		status:         http.StatusOK,
	}
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.length += n
	return n, err
}

func (w *statusWriter) Status() int { return w.status }

func (w *statusWriter) Length() int { return w.length }

// Hijack lets the activity websocket upgrade through the chain.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := w.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("upstream ResponseWriter does not implement http.Hijacker")
}

func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// MiddlewareChain manages a sequence of middleware.
type MiddlewareChain struct {
	middlewares []Middleware
}

func NewMiddlewareChain(middlewares ...Middleware) *MiddlewareChain {
	return &MiddlewareChain{
		middlewares: middlewares,
	}
}

// Use appends middleware to the chain. Nil entries are skipped so optional
// middleware can be passed unconditionally.
func (c *MiddlewareChain) Use(middlewares ...Middleware) {
	for _, mw := range middlewares {
		if mw != nil {
			c.middlewares = append(c.middlewares, mw)
		}
	}
}

// Then applies the middleware chain to the final HTTP handler. The first
// middleware added is the first to see the request.
func (c *MiddlewareChain) Then(final http.Handler) http.Handler {
	if final == nil {
		final = http.NotFoundHandler()
	}
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		final = c.middlewares[i].Middleware(final)
	}
	return final
}

// AddConfiguredMiddlewares adds the security headers, CORS and per-client
// throttle configured for the server, in that order. The throttle is
// returned so the caller can stop its eviction loop.
func (c *MiddlewareChain) AddConfiguredMiddlewares(cfg *config.Server, logger *zap.Logger) *ClientRateLimiter {
	if cfg.Security != nil {
		c.Use(NewSecurityMiddleware(cfg.Security))
		logger.Info("Security headers middleware configured",
			zap.Bool("hsts", cfg.Security.HSTS),
			zap.String("frame_options", cfg.Security.FrameOptions))
	}

	if cfg.CORS != nil && len(cfg.CORS.AllowedOrigins) > 0 {
		c.Use(NewCORSMiddleware(cfg.CORS))
		logger.Info("CORS middleware configured", zap.Strings("allowed_origins", cfg.CORS.AllowedOrigins))
	}

	if cfg.RequestRate > 0 {
		rl := NewClientRateLimiter(cfg.RequestRate, cfg.RequestBurst, logger)
		c.Use(rl)
		logger.Info("Per-client rate limiter configured",
			zap.Float64("requests_per_second", cfg.RequestRate),
			zap.Int("burst", cfg.RequestBurst))
		return rl
	}
	return nil
}
