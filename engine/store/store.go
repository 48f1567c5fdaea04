package store

import (
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/WessleyAI/pricepulse/pkg/metrics"
)

// ErrDispatchInProgress is returned by Dispatch while another dispatch is
// reducing, including a dispatch attempted from inside a reducer or
// middleware. Writers from several goroutines must serialize their
// dispatches.
var ErrDispatchInProgress = errors.New("store: dispatch already in progress")

// Middleware post-processes the reducer's output. prev is the state before
// the action.
type Middleware func(prev AppState, a Action, next AppState) AppState

// Listener receives the full state after every dispatch.
type Listener func(AppState)

type subscription struct {
	id uint64
	fn Listener
}

// Store owns an AppState.
type Store struct {
	mu          sync.RWMutex
	state       AppState
	listeners   []subscription
	nextID      uint64
	dispatching atomic.Bool

	reducer    Reducer
	middleware []Middleware
}

// New creates a store. A nil reducer selects Reduce.
func New(initial AppState, reducer Reducer, middleware ...Middleware) *Store {
	if reducer == nil {
		reducer = Reduce
	}
	return &Store{state: initial, reducer: reducer, middleware: middleware}
}

// Dispatch reduces a, runs middleware in order, installs the result and then
// notifies listeners synchronously in subscription order.
func (s *Store) Dispatch(a Action) error {
	if !s.dispatching.CompareAndSwap(false, true) {
		return ErrDispatchInProgress
	}
	next, listeners := s.install(a)
	for _, l := range listeners {
		l.fn(next)
	}
	return nil
}

func (s *Store) install(a Action) (AppState, []subscription) {
	defer s.dispatching.Store(false)

	prev := s.State()
	next := s.reducer(prev, a)
	for _, m := range s.middleware {
		next = m(prev, a, next)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = next
	return next, slices.Clone(s.listeners)
}

// State returns the current state.
func (s *Store) State() AppState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Subscribe registers fn and returns a func that removes it.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, subscription{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.listeners = slices.DeleteFunc(s.listeners, func(sub subscription) bool { return sub.id == id })
	}
}

// Select applies a selector to the current state.
func Select[T any](s *Store, selector func(AppState) T) T {
	return selector(s.State())
}

// LogMiddleware logs each action at debug level.
func LogMiddleware(log *slog.Logger) Middleware {
	if log == nil {
		log = slog.Default()
	}
	return func(prev AppState, a Action, next AppState) AppState {
		log.Debug("dispatch", "action", a.Kind(),
			"products", len(next.Products), "loading", next.Loading, "error", next.Error)
		return next
	}
}

// MetricsMiddleware counts dispatches per action kind.
func MetricsMiddleware(reg *metrics.Registry) Middleware {
	return func(_ AppState, a Action, next AppState) AppState {
		reg.Counter("store_dispatches_total", "Actions dispatched", "action", a.Kind()).Inc()
		return next
	}
}
