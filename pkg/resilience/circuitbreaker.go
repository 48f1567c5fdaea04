// Package resilience provides circuit breaker, rate limiter and bounded work queue
// primitives for calling unreliable upstreams.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/WessleyAI/pricepulse/pkg/fn"
)

// Circuit breaker states.
type State int

const (
	StateClosed   State = iota // normal operation
	StateOpen                  // tripped, reject calls
	StateHalfOpen              // allowing trial calls
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

var (
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// BreakerOpts configures the circuit breaker.
type BreakerOpts struct {
	// FailureThreshold is how many consecutive failures trip the breaker.
	FailureThreshold int
	// SuccessThreshold is how many consecutive half-open successes close it again.
	SuccessThreshold int
	// Timeout is how long the breaker stays open before a trial call is allowed.
	Timeout time.Duration
	// HalfOpenMax is the number of trial calls allowed in flight while half-open.
	HalfOpenMax int
}

// DefaultBreakerOpts provides sensible defaults.
var DefaultBreakerOpts = BreakerOpts{
	FailureThreshold: 5,
	SuccessThreshold: 2,
	Timeout:          10 * time.Second,
	HalfOpenMax:      1,
}

// Status is a point-in-time view of a breaker.
type Status struct {
	State       State     `json:"state"`
	Failures    int       `json:"failures"`
	NextRetryAt time.Time `json:"nextRetryAt"`
}

// Breaker implements a circuit breaker with closed/open/half-open states.
type Breaker struct {
	mu          sync.Mutex
	opts        BreakerOpts
	state       State
	failures    int
	successes   int
	nextRetryAt time.Time
	trials      int              // half-open calls in flight
	gen         uint64           // bumped on every state change
	now         func() time.Time // for testing
}

// NewBreaker creates a circuit breaker with the given options.
func NewBreaker(opts BreakerOpts) *Breaker {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = DefaultBreakerOpts.FailureThreshold
	}
	if opts.SuccessThreshold <= 0 {
		opts.SuccessThreshold = DefaultBreakerOpts.SuccessThreshold
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultBreakerOpts.Timeout
	}
	if opts.HalfOpenMax <= 0 {
		opts.HalfOpenMax = DefaultBreakerOpts.HalfOpenMax
	}
	b := &Breaker{opts: opts, now: time.Now}
	b.nextRetryAt = b.now()
	return b
}

// State returns the current breaker state without transitioning it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Status returns state, consecutive failures and the next retry time. It never
// mutates the breaker.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{State: b.state, Failures: b.failures, NextRetryAt: b.nextRetryAt}
}

// setState moves to st and starts a new generation, so outcomes of calls
// admitted under the previous state are ignored.
func (b *Breaker) setState(st State) {
	b.state = st
	b.gen++
	b.successes = 0
	b.trials = 0
}

// admit decides whether a call may proceed, moving open→half-open once the retry
// time has passed. It returns the generation the call was admitted under.
func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if !b.now().After(b.nextRetryAt) {
			return 0, ErrCircuitOpen
		}
		b.setState(StateHalfOpen)
	}
	if b.state == StateHalfOpen {
		if b.trials >= b.opts.HalfOpenMax {
			return 0, ErrCircuitOpen
		}
		b.trials++
	}
	return b.gen, nil
}

// record applies the outcome of a call admitted under generation gen.
func (b *Breaker) record(ctx context.Context, gen uint64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if gen != b.gen {
		return
	}
	if b.state == StateHalfOpen {
		b.trials--
	}
	// The caller giving up says nothing about the upstream.
	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return
	}

	if err != nil {
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.opts.FailureThreshold {
			b.setState(StateOpen)
			b.nextRetryAt = b.now().Add(b.opts.Timeout)
		}
		return
	}

	if b.state == StateHalfOpen {
		b.successes++
		if b.successes >= b.opts.SuccessThreshold {
			b.setState(StateClosed)
			b.failures = 0
		}
		return
	}
	b.failures = 0
}

// Execute runs f through the circuit breaker. While open, f is not called and
// ErrCircuitOpen is returned. Errors from f are returned unchanged.
func (b *Breaker) Execute(ctx context.Context, f func(context.Context) error) error {
	gen, err := b.admit()
	if err != nil {
		return err
	}
	err = f(ctx)
	b.record(ctx, gen, err)
	return err
}

// CallResult is the fn.Result flavour of Execute.
func CallResult[T any](b *Breaker, ctx context.Context, f func(context.Context) fn.Result[T]) fn.Result[T] {
	gen, err := b.admit()
	if err != nil {
		return fn.Err[T](err)
	}
	result := f(ctx)
	b.record(ctx, gen, result.Error())
	return result
}
