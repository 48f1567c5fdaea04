package fn

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// RetryOpts configures retry behavior.
type RetryOpts struct {
	MaxAttempts int
	// InitialWait is the base delay; the wait after the n-th failure is
	// InitialWait * 2^n, scaled by a jitter factor in [0.9, 1.1] when Jitter is set.
	InitialWait time.Duration
	// MaxWait caps a single wait. Zero means uncapped.
	MaxWait time.Duration
	Jitter  bool
}

// DefaultRetry provides sensible retry defaults.
var DefaultRetry = RetryOpts{
	MaxAttempts: 3,
	InitialWait: 100 * time.Millisecond,
	MaxWait:     5 * time.Second,
	Jitter:      true,
}

// jitterSpread is the half-width of the symmetric jitter range around 1.0.
const jitterSpread = 0.1

// Backoff returns the wait that follows the given failed attempt (1-based).
func (o RetryOpts) Backoff(attempt int) time.Duration {
	d := float64(o.InitialWait) * float64(uint64(1)<<min(attempt, 30))
	if o.Jitter {
		d *= 1 + (rand.Float64()*2-1)*jitterSpread
	}
	wait := time.Duration(d)
	if o.MaxWait > 0 && wait > o.MaxWait {
		wait = o.MaxWait
	}
	return wait
}

// Retry runs f up to MaxAttempts times with exponential backoff between attempts.
// The last error is returned unchanged once attempts are exhausted. Cancellation is
// never retried: if ctx is done, or f reports context.Canceled, Retry stops.
func Retry[T any](ctx context.Context, opts RetryOpts, f func(context.Context) Result[T]) Result[T] {
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var result Result[T]
	for attempt := 1; attempt <= attempts; attempt++ {
		result = f(ctx)
		if result.IsOk() {
			return result
		}
		if errors.Is(result.err, context.Canceled) {
			return result
		}
		if attempt == attempts {
			break
		}
		if ctx.Err() != nil {
			return Err[T](ctx.Err())
		}

		t := time.NewTimer(opts.Backoff(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return Err[T](ctx.Err())
		case <-t.C:
		}
	}
	return result
}
