package metrics

import (
	"runtime"
	"sync"
	"time"
)

// CollectRuntime samples goroutine count, heap size and GC cycles every
// interval. The returned func stops sampling.
func (r *Registry) CollectRuntime(interval time.Duration) func() {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	goroutines := r.Gauge("goroutines", "Number of live goroutines")
	heap := r.Gauge("heap_alloc_bytes", "Bytes of allocated heap objects")
	gc := r.Gauge("gc_cycles", "Completed GC cycles")

	sample := func() {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		goroutines.Set(int64(runtime.NumGoroutine()))
		heap.Set(int64(ms.HeapAlloc))
		gc.Set(int64(ms.NumGC))
	}
	sample()

	stop := make(chan struct{})
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				sample()
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(stop) }) }
}
