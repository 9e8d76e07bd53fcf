package ratelimit

import (
	"context"
	"time"
)

// Counter is the persisted state of one fixed window
type Counter struct {
	Count   int
	ResetAt time.Time
}

// Expired reports whether the window has elapsed at now.
// A counter is still live at exactly ResetAt.
func (c Counter) Expired(now time.Time) bool {
	return now.After(c.ResetAt)
}

// CounterStore holds rate-limit and cooldown counters.
//
// Take is the only operation the limiter relies on for admission and must be atomic
// per key: read the counter, reset it if expired, deny if Count >= limit, otherwise
// increment and persist. The returned Counter is the state after the decision.
type CounterStore interface {
	Get(ctx context.Context, key string) (Counter, bool, error)
	Set(ctx context.Context, key string, c Counter) error
	Delete(ctx context.Context, key string) error
	Take(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Counter, bool, error)
	// Sweep removes counters expired at now and returns how many were removed
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// take is the shared fixed-window decision used by stores that lock around it
func take(c Counter, found bool, limit int, window time.Duration, now time.Time) (Counter, bool) {
	if !found || c.Expired(now) {
		c = Counter{Count: 0, ResetAt: now.Add(window)}
	}
	if c.Count >= limit {
		return c, false
	}
	c.Count++
	return c, true
}
