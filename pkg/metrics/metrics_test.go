package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSeriesAreSharedByNameAndLabels(t *testing.T) {
	r := New()
	a := r.Counter("source_requests_total", "Source fetches", "source", "dummyjson")
	a.Inc()
	a.Add(4)
	if b := r.Counter("source_requests_total", "", "source", "dummyjson"); b != a || b.Value() != 5 {
		t.Fatalf("expected the same series with 5, got %d", b.Value())
	}
	if other := r.Counter("source_requests_total", "", "source", "fakestore"); other == a || other.Value() != 0 {
		t.Fatal("a different label value should be a separate series")
	}
}

func TestKindMismatchPanics(t *testing.T) {
	r := New()
	r.Counter("cache_entries", "")
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic when re-registering as a gauge")
		}
	}()
	r.Gauge("cache_entries", "")
}

func TestHistogramBuckets(t *testing.T) {
	r := New()
	h := r.Histogram("fetch_seconds", "", []float64{1, 0.1, 0.5})
	for _, v := range []float64{0.05, 0.1, 0.3, 0.8, 2} {
		h.Observe(v)
	}
	out := r.Render()
	for _, want := range []string{
		`pricepulse_fetch_seconds_bucket{le="0.1"} 2`,
		`pricepulse_fetch_seconds_bucket{le="0.5"} 3`,
		`pricepulse_fetch_seconds_bucket{le="1"} 4`,
		`pricepulse_fetch_seconds_bucket{le="+Inf"} 5`,
		"pricepulse_fetch_seconds_count 5",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestHistogramDefaultsToLatencyBuckets(t *testing.T) {
	r := New()
	h := r.Histogram("search_duration_seconds", "", nil, "outcome", "ok")
	h.Since(time.Now().Add(-30 * time.Millisecond))
	if len(h.bounds) != len(LatencyBuckets) {
		t.Fatalf("expected %d bounds, got %d", len(LatencyBuckets), len(h.bounds))
	}
	out := r.Render()
	if !strings.Contains(out, `pricepulse_search_duration_seconds_bucket{outcome="ok",le="0.05"} 1`) {
		t.Fatalf("labelled bucket missing:\n%s", out)
	}
	if !strings.Contains(out, `pricepulse_search_duration_seconds_count{outcome="ok"} 1`) {
		t.Fatalf("labelled count missing:\n%s", out)
	}
}

func TestRenderOrderAndEscaping(t *testing.T) {
	r := New()
	r.Gauge("cache_entries", "Entries currently stored").Set(3)
	r.Counter("http_requests_total", "HTTP requests served", "method", "GET", "code", "2xx").Add(2)
	r.Counter("http_requests_total", "", "method", `BR"EW`, "code", "4xx").Inc()

	out := r.Render()
	gauge := strings.Index(out, "# TYPE pricepulse_cache_entries gauge")
	counter := strings.Index(out, "# TYPE pricepulse_http_requests_total counter")
	if gauge < 0 || counter < 0 || gauge > counter {
		t.Fatalf("families should render in registration order:\n%s", out)
	}
	if !strings.Contains(out, "# HELP pricepulse_http_requests_total HTTP requests served") {
		t.Fatal("missing HELP line")
	}
	if !strings.Contains(out, `pricepulse_http_requests_total{method="BR\"EW",code="4xx"} 1`) {
		t.Fatalf("label value not escaped:\n%s", out)
	}
	if !strings.Contains(out, "pricepulse_cache_entries 3") {
		t.Fatal("missing unlabelled gauge")
	}
}

func TestHandler(t *testing.T) {
	r := New()
	r.Counter("searches_total", "", "outcome", "ok").Inc()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "text/plain") {
		t.Fatalf("unexpected content type: %s", ct)
	}
	if !strings.Contains(rec.Body.String(), `pricepulse_searches_total{outcome="ok"} 1`) {
		t.Fatalf("missing series:\n%s", rec.Body.String())
	}
}

func TestCollectRuntime(t *testing.T) {
	r := New()
	stop := r.CollectRuntime(time.Hour)
	defer stop()
	if r.Gauge("goroutines", "").Value() < 1 {
		t.Fatal("goroutine gauge should be sampled immediately")
	}
	if r.Gauge("heap_alloc_bytes", "").Value() <= 0 {
		t.Fatal("heap gauge should be sampled immediately")
	}
	if !strings.Contains(r.Render(), "# TYPE pricepulse_gc_cycles gauge") {
		t.Fatal("runtime gauges missing from render")
	}
	stop()
}
