// Package ratelimit counts failed authentication attempts per key over a
// trailing window. Keys carry their namespace ("login:user:jane",
// "login:ip:10.0.0.1") so limits in one namespace never affect another.
package ratelimit

import (
	"context"
	"strings"
	"time"
)

const (
	DefaultLimit  = 5
	DefaultWindow = 5 * time.Minute
)

// Result describes the state of one key at check time.
type Result struct {
	Allowed    bool
	Count      int           // failures inside the window
	Remaining  int           // failures left before blocking
	RetryAfter time.Duration // until the oldest counted failure leaves the window; zero when allowed
}

// Limiter is a sliding-window failure counter.
type Limiter interface {
	// Allow prunes failures older than the window and reports whether
	// fewer than the limit remain.
	Allow(ctx context.Context, key string) (Result, error)
	// RecordFailure adds one failure at the current time.
	RecordFailure(ctx context.Context, key string) error
	// Reset forgets every failure of key.
	Reset(ctx context.Context, key string) error
}

type Config struct {
	Limit  int
	Window time.Duration
}

func (c Config) withDefaults() Config {
	if c.Limit <= 0 {
		c.Limit = DefaultLimit
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	return c
}

// Key joins a namespace and identifier into a limiter key. Identifiers are
// case-folded so "Jane" and "jane" share a bucket.
func Key(namespace, identifier string) string {
	return namespace + ":" + strings.ToLower(strings.TrimSpace(identifier))
}

func result(limit, count int, oldest time.Time, window time.Duration, now time.Time) Result {
	r := Result{Count: count, Remaining: limit - count, Allowed: count < limit}
	if r.Remaining < 0 {
		r.Remaining = 0
	}
	if !r.Allowed {
		r.RetryAfter = oldest.Add(window).Sub(now)
		if r.RetryAfter < 0 {
			r.RetryAfter = 0
		}
	}
	return r
}
