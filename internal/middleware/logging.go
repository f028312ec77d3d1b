package middleware

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/victorgomez09/garagedesk/pkg/trace"
)

type LoggingMiddleware struct {
	logger         *zap.Logger
	logLevel       zapcore.Level
	includeHeaders bool
	includeQuery   bool
	sensitivePaths []string
	skipPaths      []string
}

type LoggingOption func(*LoggingMiddleware)

func WithLogLevel(level zapcore.Level) LoggingOption {
	return func(l *LoggingMiddleware) {
		l.logLevel = level
	}
}

// enables logging of request headers. Authorization and Cookie are never logged.
func WithHeaders(enabled bool) LoggingOption {
	return func(l *LoggingMiddleware) {
		l.includeHeaders = enabled
	}
}

// enables logging of query parameters.
func WithQueryParams(enabled bool) LoggingOption {
	return func(l *LoggingMiddleware) {
		l.includeQuery = enabled
	}
}

// WithSensitivePaths lists path prefixes whose query and headers are never
// logged, such as login and password reset.
func WithSensitivePaths(paths []string) LoggingOption {
	return func(l *LoggingMiddleware) {
		l.sensitivePaths = paths
	}
}

// WithSkipPaths lists path prefixes that produce no access log at all.
func WithSkipPaths(paths []string) LoggingOption {
	return func(l *LoggingMiddleware) {
		l.skipPaths = paths
	}
}

func NewLoggingMiddleware(logger *zap.Logger, opts ...LoggingOption) *LoggingMiddleware {
	lm := &LoggingMiddleware{
		logger:   logger,
		logLevel: zapcore.InfoLevel,
	}

	for _, opt := range opts {
		opt(lm)
	}

	return lm
}

var redactedHeaders = map[string]struct{}{
	"Authorization": {},
	"Cookie":        {},
	"Set-Cookie":    {},
}

func hasPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func (l *LoggingMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hasPrefix(r.URL.Path, l.skipPaths) {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		sw := newStatusWriter(w)
		next.ServeHTTP(sw, r)
		duration := time.Since(start)

		fields := make([]zap.Field, 0, 10)
		fields = append(fields,
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.Status()),
			zap.Duration("duration", duration),
			zap.String("ip", trace.ClientIP(r)),
			zap.String("user_agent", r.UserAgent()),
			zap.Int("response_size", sw.Length()),
			zap.String("request_id", trace.GetRequestID(r.Context())),
		)

		sensitive := hasPrefix(r.URL.Path, l.sensitivePaths)
		if l.includeQuery && !sensitive && len(r.URL.RawQuery) > 0 {
			queryParams := make(map[string]string)
			for key, values := range r.URL.Query() {
				queryParams[key] = strings.Join(values, ",")
			}
			fields = append(fields, zap.Any("query_params", queryParams))
		}

		if l.includeHeaders && !sensitive {
			headers := make(map[string]string)
			for key, values := range r.Header {
				if _, skip := redactedHeaders[key]; skip {
					continue
				}
				headers[key] = strings.Join(values, ",")
			}
			fields = append(fields, zap.Any("headers", headers))
		}

		switch {
		case sw.Status() >= 500:
			l.logger.Error("Server error", fields...)
		case sw.Status() >= 400:
			l.logger.Warn("Client error", fields...)
		default:
			if ce := l.logger.Check(l.logLevel, "Request completed"); ce != nil {
				ce.Write(fields...)
			}
		}
	})
}
