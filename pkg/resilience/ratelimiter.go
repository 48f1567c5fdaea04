package resilience

import (
	"context"
	"sync"
	"time"
)

// LimiterOpts configures the fixed-window rate limiter.
type LimiterOpts struct {
	// Limit is the number of requests admitted per window.
	Limit int
	// Interval is the window length.
	Interval time.Duration
	// Poll is how often Wait re-checks admission. Defaults to 50ms.
	Poll time.Duration
}

// DefaultLimiterOpts admits five requests per second.
var DefaultLimiterOpts = LimiterOpts{
	Limit:    5,
	Interval: time.Second,
	Poll:     50 * time.Millisecond,
}

// Limiter caps the number of admitted requests per fixed time window.
type Limiter struct {
	mu        sync.Mutex
	opts      LimiterOpts
	active    int
	lastReset time.Time
	now       func() time.Time
}

// NewLimiter creates a fixed-window rate limiter.
func NewLimiter(opts LimiterOpts) *Limiter {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimiterOpts.Limit
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultLimiterOpts.Interval
	}
	if opts.Poll <= 0 {
		opts.Poll = DefaultLimiterOpts.Poll
	}
	l := &Limiter{opts: opts, now: time.Now}
	l.lastReset = l.now()
	return l
}

// reset starts a new window once Interval has elapsed. Must hold mu.
func (l *Limiter) reset() {
	now := l.now()
	if now.Sub(l.lastReset) > l.opts.Interval {
		l.active = 0
		l.lastReset = now
	}
}

// CanRequest reports whether another request fits in the current window.
// It does not consume capacity.
func (l *Limiter) CanRequest() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reset()
	return l.active < l.opts.Limit
}

// Allow consumes one slot if available (non-blocking).
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reset()
	if l.active < l.opts.Limit {
		l.active++
		return true
	}
	return false
}

// Wait polls until a slot is free, then consumes it. It returns ctx.Err() if the
// context ends first.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		if l.Allow() {
			return nil
		}
		t := time.NewTimer(l.opts.Poll)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
