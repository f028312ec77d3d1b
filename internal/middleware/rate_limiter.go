package middleware

import (
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/victorgomez09/garagedesk/pkg/trace"
)

const (
	clientIdleTTL        = 10 * time.Minute
	clientEvictionPeriod = time.Minute
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ClientRateLimiter throttles requests per client IP with a token bucket.
// Buckets idle for longer than clientIdleTTL are evicted.
type ClientRateLimiter struct {
	rps    rate.Limit
	burst  int
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	clients map[string]*clientLimiter

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewClientRateLimiter starts the eviction loop; call Close to stop it.
func NewClientRateLimiter(rps float64, burst int, logger *zap.Logger) *ClientRateLimiter {
	if burst <= 0 {
		burst = 20
	}
	if rps <= 0 {
		rps = 10
	}
	m := &ClientRateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		logger:  logger,
		now:     time.Now,
		clients: make(map[string]*clientLimiter),
		done:    make(chan struct{}),
	}
	m.wg.Add(1)
	go m.evictLoop()
	return m
}

func (m *ClientRateLimiter) limiterFor(ip string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.clients[ip]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(m.rps, m.burst)}
		m.clients[ip] = c
	}
	c.lastSeen = m.now()
	return c.limiter
}

func (m *ClientRateLimiter) evictLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(clientEvictionPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.evictIdle()
		case <-m.done:
			return
		}
	}
}

func (m *ClientRateLimiter) evictIdle() int {
	cutoff := m.now().Add(-clientIdleTTL)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for ip, c := range m.clients {
		if c.lastSeen.Before(cutoff) {
			delete(m.clients, ip)
			n++
		}
	}
	return n
}

// Clients reports how many client buckets are tracked.
func (m *ClientRateLimiter) Clients() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

func (m *ClientRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := trace.ClientIP(r)
		if !m.limiterFor(ip).Allow() {
			m.logger.Debug("request throttled", zap.String("ip", ip), zap.String("path", r.URL.Path))
			w.Header().Set("Retry-After", "1")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"too many requests"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *ClientRateLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	m.wg.Wait()
	return nil
}
