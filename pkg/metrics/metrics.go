// Package metrics is the service's in-process metrics registry. Every series
// lives under the pricepulse namespace and is rendered in the Prometheus text
// exposition format by Handler.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Namespace prefixes every registered metric name.
const Namespace = "pricepulse"

// LatencyBuckets are the default histogram bounds in seconds. They span a
// warm cache hit up to a fetch that exhausts its retries against a slow source.
var LatencyBuckets = []float64{0.005, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16}

// Counter is a monotonically increasing count.
type Counter struct{ v atomic.Int64 }

func (c *Counter) Inc()         { c.v.Add(1) }
func (c *Counter) Add(n int64)  { c.v.Add(n) }
func (c *Counter) Value() int64 { return c.v.Load() }

// Gauge holds the latest sampled value.
type Gauge struct{ v atomic.Int64 }

func (g *Gauge) Set(n int64)  { g.v.Store(n) }
func (g *Gauge) Value() int64 { return g.v.Load() }

// Histogram counts observations into fixed upper bounds.
type Histogram struct {
	bounds []float64

	mu    sync.Mutex
	hits  []uint64 // per bound, not cumulative
	sum   float64
	count uint64
}

// Observe records v.
func (h *Histogram) Observe(v float64) {
	i := sort.SearchFloat64s(h.bounds, v)
	h.mu.Lock()
	if i < len(h.hits) {
		h.hits[i]++
	}
	h.sum += v
	h.count++
	h.mu.Unlock()
}

// Since observes the seconds elapsed since start.
func (h *Histogram) Since(start time.Time) { h.Observe(time.Since(start).Seconds()) }

type kind string

const (
	kindCounter   kind = "counter"
	kindGauge     kind = "gauge"
	kindHistogram kind = "histogram"
)

// family groups every labelled series of one metric name.
type family struct {
	name    string
	help    string
	kind    kind
	buckets []float64
	series  map[string]any // label string -> *Counter, *Gauge or *Histogram
}

// Registry holds metric families in registration order.
type Registry struct {
	mu       sync.Mutex
	order    []*family
	families map[string]*family
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{families: make(map[string]*family)}
}

// Counter returns the counter for name and the given label pairs, creating it
// on first use.
func (r *Registry) Counter(name, help string, labels ...string) *Counter {
	return r.series(name, help, kindCounter, nil, labels, func(*family) any { return &Counter{} }).(*Counter)
}

// Gauge returns the gauge for name and the given label pairs.
func (r *Registry) Gauge(name, help string, labels ...string) *Gauge {
	return r.series(name, help, kindGauge, nil, labels, func(*family) any { return &Gauge{} }).(*Gauge)
}

// Histogram returns the histogram for name and the given label pairs. A nil
// buckets uses LatencyBuckets. Bounds are fixed by the first registration of name.
func (r *Registry) Histogram(name, help string, buckets []float64, labels ...string) *Histogram {
	if buckets == nil {
		buckets = LatencyBuckets
	}
	return r.series(name, help, kindHistogram, buckets, labels, func(f *family) any {
		return &Histogram{bounds: f.buckets, hits: make([]uint64, len(f.buckets))}
	}).(*Histogram)
}

// series looks up or creates one series. Registering a name twice with
// different kinds is a programming error and panics.
func (r *Registry) series(name, help string, k kind, buckets []float64, labels []string, mk func(*family) any) any {
	full := Namespace + "_" + name
	key := labelString(labels)

	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.families[full]
	if !ok {
		f = &family{name: full, help: help, kind: k, series: make(map[string]any)}
		if buckets != nil {
			f.buckets = append([]float64(nil), buckets...)
			sort.Float64s(f.buckets)
		}
		r.families[full] = f
		r.order = append(r.order, f)
	}
	if f.kind != k {
		panic(fmt.Sprintf("metrics: %s registered as %s, requested as %s", full, f.kind, k))
	}
	if f.help == "" {
		f.help = help
	}
	m, ok := f.series[key]
	if !ok {
		m = mk(f)
		f.series[key] = m
	}
	return m
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

// labelString renders k1="v1",k2="v2". A trailing unpaired key is ignored.
func labelString(kvs []string) string {
	var b strings.Builder
	for i := 0; i+1 < len(kvs); i += 2 {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(kvs[i])
		b.WriteString(`="`)
		b.WriteString(labelEscaper.Replace(kvs[i+1]))
		b.WriteByte('"')
	}
	return b.String()
}

func braces(labels string) string {
	if labels == "" {
		return ""
	}
	return "{" + labels + "}"
}

// Render writes every family in registration order, series sorted by labels.
func (r *Registry) Render() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	for _, f := range r.order {
		if f.help != "" {
			fmt.Fprintf(&b, "# HELP %s %s\n", f.name, f.help)
		}
		fmt.Fprintf(&b, "# TYPE %s %s\n", f.name, f.kind)

		keys := make([]string, 0, len(f.series))
		for k := range f.series {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			switch m := f.series[k].(type) {
			case *Counter:
				fmt.Fprintf(&b, "%s%s %d\n", f.name, braces(k), m.Value())
			case *Gauge:
				fmt.Fprintf(&b, "%s%s %d\n", f.name, braces(k), m.Value())
			case *Histogram:
				renderHistogram(&b, f.name, k, m)
			}
		}
	}
	return b.String()
}

func renderHistogram(b *strings.Builder, name, labels string, h *Histogram) {
	h.mu.Lock()
	hits := append([]uint64(nil), h.hits...)
	sum, count := h.sum, h.count
	h.mu.Unlock()

	sep := ""
	if labels != "" {
		sep = ","
	}
	var cum uint64
	for i, bound := range h.bounds {
		cum += hits[i]
		fmt.Fprintf(b, "%s_bucket{%s%sle=\"%g\"} %d\n", name, labels, sep, bound, cum)
	}
	fmt.Fprintf(b, "%s_bucket{%s%sle=\"+Inf\"} %d\n", name, labels, sep, count)
	fmt.Fprintf(b, "%s_sum%s %g\n", name, braces(labels), sum)
	fmt.Fprintf(b, "%s_count%s %d\n", name, braces(labels), count)
}

// Handler serves Render as text/plain.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(r.Render()))
	})
}
