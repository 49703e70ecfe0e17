package gateway

import (
	"sync"
	"time"
)

const (
	defaultRateEvents = 30
	defaultRateWindow = time.Second
)

// RateLimiter is a per-connection sliding-window limiter.
type RateLimiter struct {
	mu     sync.Mutex
	events []time.Time
	limit  int
	window time.Duration
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = defaultRateEvents
	}
	if window <= 0 {
		window = defaultRateWindow
	}
	return &RateLimiter{
		events: make([]time.Time, 0, limit),
		limit:  limit,
		window: window,
	}
}

// Allow reports whether an event at now fits in the window, and records it if so.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cut := now.Add(-r.window)
	kept := r.events[:0]
	for _, t := range r.events {
		if t.After(cut) {
			kept = append(kept, t)
		}
	}
	r.events = kept

	if len(r.events) >= r.limit {
		return false
	}
	r.events = append(r.events, now)
	return true
}
