package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrQueueClosed = errors.New("queue closed")

// Queue runs enqueued operations with bounded concurrency in FIFO order.
type Queue struct {
	mu          sync.Mutex
	concurrency int
	pending     []func()
	active      int
	closed      bool
}

// NewQueue creates a queue running at most concurrency operations at once.
func NewQueue(concurrency int) *Queue {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Queue{concurrency: concurrency}
}

// Active returns the number of running operations.
func (q *Queue) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// Pending returns the number of operations waiting for a slot.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close rejects future Enqueue calls. Operations already queued still run.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// Future is the eventual outcome of an enqueued operation.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Await blocks until the operation settles or ctx ends.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (f *Future[T]) settle(v T, err error) {
	f.val, f.err = v, err
	close(f.done)
}

// Enqueue schedules op on q and returns its future. If ctx is already done when
// the op is admitted, it settles with ctx.Err() without running.
func Enqueue[T any](q *Queue, ctx context.Context, op func(context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}

	task := func() {
		if err := ctx.Err(); err != nil {
			var zero T
			f.settle(zero, err)
			return
		}
		var (
			v   T
			err error
		)
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("resilience: queued operation panicked: %v", r)
				}
			}()
			v, err = op(ctx)
		}()
		f.settle(v, err)
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		var zero T
		f.settle(zero, ErrQueueClosed)
		return f
	}
	q.pending = append(q.pending, task)
	q.mu.Unlock()

	q.process()
	return f
}

// process admits pending tasks while capacity allows.
func (q *Queue) process() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.active < q.concurrency && len(q.pending) > 0 {
		task := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.active++
		go func() {
			defer func() {
				q.mu.Lock()
				q.active--
				q.mu.Unlock()
				q.process()
			}()
			task()
		}()
	}
}
