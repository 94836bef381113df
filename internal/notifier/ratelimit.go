package notifier

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter applies an independent token bucket to each webhook.
type RateLimiter struct {
	mu       sync.Mutex
	perMin   int
	limiters map[string]*rate.Limiter
	dropped  int64
}

// NewRateLimiter allows perMinute notifications per webhook, with bursts up
// to the same amount. A non-positive perMinute disables limiting.
func NewRateLimiter(perMinute int) *RateLimiter {
	return &RateLimiter{
		perMin:   perMinute,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether a notification to key may be sent now.
func (r *RateLimiter) Allow(key string) bool {
	return r.AllowAt(key, time.Now())
}

// AllowAt reports whether a notification to key may be sent at t.
func (r *RateLimiter) AllowAt(key string, t time.Time) bool {
	if r == nil || r.perMin <= 0 {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(time.Minute/time.Duration(r.perMin)), r.perMin)
		r.limiters[key] = l
	}
	if !l.AllowN(t, 1) {
		r.dropped++
		return false
	}
	return true
}

// Dropped returns the number of notifications refused.
func (r *RateLimiter) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
