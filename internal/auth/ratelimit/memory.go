package ratelimit

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory keeps failures in process. Limits are per process; run the Redis
// limiter when several instances share traffic.
type Memory struct {
	cfg   Config
	now   func() time.Time
	mu    sync.Mutex
	cache *gocache.Cache
}

type MemoryOption func(*Memory)

func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

func NewMemory(cfg Config, opts ...MemoryOption) *Memory {
	cfg = cfg.withDefaults()
	m := &Memory{
		cfg:   cfg,
		now:   time.Now,
		cache: gocache.New(cfg.Window, time.Minute),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// prune drops timestamps at or before now-window. Callers hold m.mu.
func (m *Memory) prune(key string, now time.Time) []time.Time {
	v, ok := m.cache.Get(key)
	if !ok {
		return nil
	}
	stamps := v.([]time.Time)
	cutoff := now.Add(-m.cfg.Window)
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	if i == len(stamps) {
		m.cache.Delete(key)
		return nil
	}
	if i > 0 {
		stamps = append([]time.Time(nil), stamps[i:]...)
		m.cache.Set(key, stamps, m.cfg.Window)
	}
	return stamps
}

func (m *Memory) Allow(_ context.Context, key string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	stamps := m.prune(key, now)
	var oldest time.Time
	if len(stamps) > 0 {
		oldest = stamps[0]
	}
	return result(m.cfg.Limit, len(stamps), oldest, m.cfg.Window, now), nil
}

func (m *Memory) RecordFailure(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	stamps := append(m.prune(key, now), now)
	m.cache.Set(key, stamps, m.cfg.Window)
	return nil
}

func (m *Memory) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Delete(key)
	return nil
}
