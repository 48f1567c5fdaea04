package fn

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"
)

// --- Result ---

func TestOkAndErr(t *testing.T) {
	r := Ok(42)
	if !r.IsOk() || r.IsErr() {
		t.Fatal("Ok should be ok")
	}
	v, err := r.Unwrap()
	if v != 42 || err != nil {
		t.Fatal("wrong unwrap")
	}
	e := Err[int](errors.New("fail"))
	if e.IsOk() || !e.IsErr() || e.Error() == nil {
		t.Fatal("Err should be err")
	}
}

func TestFromPair(t *testing.T) {
	if v, _ := FromPair(strconv.Atoi("42")).Unwrap(); v != 42 {
		t.Fatal("FromPair failed")
	}
	if FromPair(strconv.Atoi("nope")).IsOk() {
		t.Fatal("FromPair should fail")
	}
}

func TestPartition(t *testing.T) {
	e1 := errors.New("e1")
	vals, errs := Partition([]Result[int]{Ok(1), Err[int](e1), Ok(3)})
	if len(vals) != 2 || vals[0] != 1 || vals[1] != 3 {
		t.Fatalf("unexpected vals: %v", vals)
	}
	if len(errs) != 1 || errs[0] != e1 {
		t.Fatalf("unexpected errs: %v", errs)
	}
}

func TestMap(t *testing.T) {
	out := Map([]int{1, 2, 3}, func(v int) int { return v * 2 })
	if len(out) != 3 || out[2] != 6 {
		t.Fatal("Map failed")
	}
}

func TestFilter(t *testing.T) {
	out := Filter([]int{1, 2, 3, 4}, func(v int) bool { return v%2 == 0 })
	if len(out) != 2 || out[0] != 2 {
		t.Fatal("Filter failed")
	}
	none := Filter([]int{1, 3}, func(v int) bool { return false })
	if none == nil || len(none) != 0 {
		t.Fatal("Filter should return an empty, non-nil slice")
	}
}

func TestFilterMap(t *testing.T) {
	out := FilterMap([]string{"1", "x", "3"}, func(s string) (int, bool) {
		v, err := strconv.Atoi(s)
		return v, err == nil
	})
	if len(out) != 2 || out[1] != 3 {
		t.Fatal("FilterMap failed")
	}
}

func TestReduce(t *testing.T) {
	if Reduce([]int{1, 2, 3}, 0, func(acc, v int) int { return acc + v }) != 6 {
		t.Fatal("Reduce failed")
	}
	if Reduce([]int{}, 10, func(acc, v int) int { return acc + v }) != 10 {
		t.Fatal("Reduce empty should return init")
	}
}

// --- Pipeline ---

func TestPipeline(t *testing.T) {
	add := Stage[int, int](func(_ context.Context, v int) Result[int] { return Ok(v + 1) })
	double := MapStage(func(v int) int { return v * 2 })
	r := Pipeline(add, double, add)(context.Background(), 5)
	if v, _ := r.Unwrap(); v != 13 {
		t.Fatalf("expected 13, got %d", v)
	}
	if v, _ := Pipeline[int]()(context.Background(), 42).Unwrap(); v != 42 {
		t.Fatal("empty pipeline should pass through")
	}
}

func TestTracedStage(t *testing.T) {
	ok := TracedStage("ok", Stage[int, int](func(_ context.Context, v int) Result[int] { return Ok(v + 1) }))
	if v, _ := ok(context.Background(), 1).Unwrap(); v != 2 {
		t.Fatal("TracedStage failed")
	}
	bad := TracedStage("bad", Stage[int, int](func(_ context.Context, _ int) Result[int] { return Err[int](errors.New("x")) }))
	if bad(context.Background(), 1).IsOk() {
		t.Fatal("TracedStage error should propagate")
	}
}

// --- Retry ---

func TestBackoffGrowsExponentially(t *testing.T) {
	o := RetryOpts{InitialWait: 100 * time.Millisecond}
	if o.Backoff(1) != 200*time.Millisecond || o.Backoff(2) != 400*time.Millisecond {
		t.Fatalf("unexpected backoff: %v %v", o.Backoff(1), o.Backoff(2))
	}
}

func TestBackoffJitterBounded(t *testing.T) {
	o := RetryOpts{InitialWait: 100 * time.Millisecond, Jitter: true}
	for i := 0; i < 200; i++ {
		d := o.Backoff(1)
		if d < 180*time.Millisecond || d > 220*time.Millisecond {
			t.Fatalf("jittered backoff out of ±10%% range: %v", d)
		}
	}
}

func TestBackoffMaxWait(t *testing.T) {
	o := RetryOpts{InitialWait: time.Second, MaxWait: 1500 * time.Millisecond}
	if o.Backoff(3) != 1500*time.Millisecond {
		t.Fatalf("expected cap, got %v", o.Backoff(3))
	}
}

func TestRetrySuccess(t *testing.T) {
	attempts := 0
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond}, func(_ context.Context) Result[int] {
		attempts++
		if attempts < 3 {
			return Err[int](errors.New("not yet"))
		}
		return Ok(42)
	})
	if v, _ := r.Unwrap(); v != 42 || attempts != 3 {
		t.Fatal("Retry should succeed on 3rd attempt")
	}
}

func TestRetryExhaustedReturnsLastError(t *testing.T) {
	attempts := 0
	last := errors.New("third")
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond}, func(_ context.Context) Result[int] {
		attempts++
		if attempts == 3 {
			return Err[int](last)
		}
		return Err[int](errors.New("earlier"))
	})
	if _, err := r.Unwrap(); err != last {
		t.Fatalf("expected last error unchanged, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryZeroAttemptsRunsOnce(t *testing.T) {
	attempts := 0
	Retry(context.Background(), RetryOpts{}, func(_ context.Context) Result[int] {
		attempts++
		return Err[int](errors.New("fail"))
	})
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetryDoesNotRetryCancellation(t *testing.T) {
	attempts := 0
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 5, InitialWait: time.Millisecond}, func(_ context.Context) Result[int] {
		attempts++
		return Err[int](context.Canceled)
	})
	if r.IsOk() || attempts != 1 {
		t.Fatalf("cancellation must not be retried, attempts=%d", attempts)
	}
}

func TestRetryContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	r := Retry(ctx, RetryOpts{MaxAttempts: 5, InitialWait: time.Hour}, func(_ context.Context) Result[int] {
		return Err[int](errors.New("fail"))
	})
	if _, err := r.Unwrap(); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
