// Package search orchestrates a query end to end: validation, cached
// multi-source fetch, and the store updates that publish the outcome.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/WessleyAI/pricepulse/engine/domain"
	"github.com/WessleyAI/pricepulse/engine/store"
	"github.com/WessleyAI/pricepulse/pkg/metrics"
	"github.com/WessleyAI/pricepulse/pkg/resilience"
)

const tracerName = "pricepulse/engine/search"

// User-visible error messages.
const (
	MsgInvalidQuery = "Invalid search query"
	MsgFetchFailed  = "Failed to fetch products"
)

// Fetcher produces the merged result set for a query.
type Fetcher interface {
	FetchAll(ctx context.Context, query string) ([]domain.Product, error)
}

// Cache serves fresh results or calls fetch, falling back to stale copies.
type Cache interface {
	Cacheable(ctx context.Context, query string, fetch func(context.Context) ([]domain.Product, error)) ([]domain.Product, error)
}

// Events receives a record of every completed search.
type Events interface {
	SearchCompleted(ctx context.Context, ev SearchCompleted) error
}

// SearchCompleted describes the outcome of one search.
type SearchCompleted struct {
	ID         string    `json:"id"`
	Query      string    `json:"query"`
	Results    int       `json:"results"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"durationMs"`
	At         time.Time `json:"at"`
}

// Deps are the collaborators a Searcher drives. Events and Metrics are
// optional.
type Deps struct {
	Store   *store.Store
	Fetcher Fetcher
	Cache   Cache
	Events  Events
	Log     *slog.Logger
	Metrics *metrics.Registry
}

// Options tunes validation and warm-up.
type Options struct {
	MaxQueryLength int
	MaxPriceLimit  float64
	// KeepProductsOnError leaves the previous results in place when a
	// search fails instead of clearing them.
	KeepProductsOnError bool
	WarmConcurrency     int
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{MaxQueryLength: 100, MaxPriceLimit: 10000, WarmConcurrency: 2}
}

// Searcher is the entry point for search, filter and sort requests. Store
// writes are serialized internally; fetches run outside that lock so a newer
// search can start while an older one is in flight. Results of a superseded
// search are discarded by the store.
type Searcher struct {
	deps Deps
	opts Options
	log  *slog.Logger

	mu   sync.Mutex
	seq  atomic.Uint64
	warm *resilience.Queue

	succeeded *metrics.Counter
	failed    *metrics.Counter
	rejected  *metrics.Counter
	duration  *metrics.Histogram
}

// New creates a Searcher.
func New(deps Deps, opts Options) (*Searcher, error) {
	if deps.Store == nil || deps.Fetcher == nil || deps.Cache == nil {
		return nil, errors.New("search: store, fetcher and cache are required")
	}
	def := DefaultOptions()
	if opts.MaxQueryLength <= 0 {
		opts.MaxQueryLength = def.MaxQueryLength
	}
	if opts.MaxPriceLimit <= 0 {
		opts.MaxPriceLimit = def.MaxPriceLimit
	}
	if opts.WarmConcurrency <= 0 {
		opts.WarmConcurrency = def.WarmConcurrency
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	reg := deps.Metrics
	if reg == nil {
		reg = metrics.New()
	}
	outcome := func(v string) *metrics.Counter {
		return reg.Counter("searches_total", "Searches by outcome", "outcome", v)
	}
	return &Searcher{
		deps:      deps,
		opts:      opts,
		log:       deps.Log.With("component", "search"),
		warm:      resilience.NewQueue(opts.WarmConcurrency),
		succeeded: outcome("ok"),
		failed:    outcome("failed"),
		rejected:  outcome("invalid"),
		duration:  reg.Histogram("search_duration_seconds", "End-to-end search duration", nil),
	}, nil
}

// Close stops accepting warm-up work.
func (s *Searcher) Close() { s.warm.Close() }

// dispatch applies actions in order as one uninterrupted sequence.
func (s *Searcher) dispatch(actions ...store.Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range actions {
		if err := s.deps.Store.Dispatch(a); err != nil {
			s.log.Error("dispatch failed", "action", a.Kind(), "err", err)
		}
	}
}

// Result is the outcome of one Search call, independent of any search that
// ran concurrently.
type Result struct {
	Query string
	// Products are this run's results as produced, before filters and sort.
	Products []domain.Product
	// Message is the user-visible error this run reported, if any.
	Message string
	// Superseded is set when a newer search started before this one
	// finished; its outcome did not reach the store.
	Superseded bool
}

// Search runs query and publishes the outcome through the store. An empty
// query resets the results. A query over MaxQueryLength sets the invalid
// query error and returns a *domain.ValidationError without any upstream
// call. A failed fetch with no cached fallback sets the fetch error and is
// returned. Loading is always cleared before Search returns.
func (s *Searcher) Search(ctx context.Context, query string) (Result, error) {
	text := domain.NormalizeQuery(query)
	res := Result{Query: text, Products: []domain.Product{}}
	if text == "" {
		s.dispatch(store.ResetSearch{Search: s.seq.Add(1)})
		return res, nil
	}
	if err := domain.ValidateQuery(text, s.opts.MaxQueryLength); err != nil {
		s.rejected.Inc()
		s.dispatch(store.SetError{Message: MsgInvalidQuery})
		res.Message = MsgInvalidQuery
		return res, err
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "search.Search",
		trace.WithAttributes(attribute.String("query", text)))
	defer span.End()

	n := s.seq.Add(1)
	start := time.Now()
	s.dispatch(store.BeginSearch{Search: n})
	defer s.dispatch(store.SetLoading{Loading: false, Search: n})

	products, err := s.deps.Cache.Cacheable(ctx, text, func(ctx context.Context) ([]domain.Product, error) {
		return s.deps.Fetcher.FetchAll(ctx, text)
	})
	s.duration.Since(start)
	res.Superseded = s.seq.Load() != n

	if err != nil {
		s.failed.Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.Warn("search failed", "query", text, "err", err)
		actions := []store.Action{store.SetError{Message: MsgFetchFailed, Search: n}}
		if !s.opts.KeepProductsOnError {
			actions = append(actions, store.SetProducts{Products: []domain.Product{}, Search: n})
		}
		s.dispatch(actions...)
		s.publish(ctx, text, 0, err, start)
		res.Message = MsgFetchFailed
		return res, fmt.Errorf("search: %q: %w", text, err)
	}

	s.succeeded.Inc()
	span.SetAttributes(attribute.Int("results", len(products)), attribute.Bool("superseded", res.Superseded))
	s.dispatch(store.SetProducts{Products: products, Search: n})
	s.log.Info("search completed", "query", text, "results", len(products),
		"superseded", res.Superseded, "duration", time.Since(start))
	s.publish(ctx, text, len(products), nil, start)
	res.Products = products
	return res, nil
}

func (s *Searcher) publish(ctx context.Context, query string, results int, err error, start time.Time) {
	if s.deps.Events == nil {
		return
	}
	ev := SearchCompleted{
		ID:         uuid.NewString(),
		Query:      query,
		Results:    results,
		DurationMs: time.Since(start).Milliseconds(),
		At:         time.Now().UTC(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	if perr := s.deps.Events.SearchCompleted(context.WithoutCancel(ctx), ev); perr != nil {
		s.log.Warn("publish search event failed", "query", query, "err", perr)
	}
}

// SetFilter updates one filter. Boolean filters need a bool; maxPrice needs a
// number within [0, MaxPriceLimit]. Anything else is dropped and reported
// as false.
func (s *Searcher) SetFilter(name string, value any) bool {
	switch name {
	case store.FilterInStockOnly, store.FilterFastDeliveryOnly:
		if _, ok := value.(bool); !ok {
			return false
		}
	case store.FilterMaxPrice:
		price, ok := toFloat(value)
		if !ok || math.IsNaN(price) || price < 0 || price > s.opts.MaxPriceLimit {
			return false
		}
		value = price
	default:
		return false
	}
	s.dispatch(store.SetFilter{Name: name, Value: value})
	return true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}

// SetSort applies field and order as given. Unknown values yield unsorted
// results.
func (s *Searcher) SetSort(field, order string) {
	s.dispatch(store.SetSort{Field: field, Order: order})
}

func (s *Searcher) ResetSort()    { s.dispatch(store.ResetSort{}) }
func (s *Searcher) ResetFilters() { s.dispatch(store.ResetFilters{}) }

func (s *Searcher) SetTheme(theme string) { s.dispatch(store.SetTheme{Theme: theme}) }

// Subscribe registers fn for every state change.
func (s *Searcher) Subscribe(fn store.Listener) (unsubscribe func()) {
	return s.deps.Store.Subscribe(fn)
}

func (s *Searcher) State() store.AppState { return s.deps.Store.State() }

// Products returns the filtered, sorted view of the current results.
func (s *Searcher) Products() []domain.Product {
	return store.Select(s.deps.Store, store.SortedProducts)
}

// View applies the current filters and sort to products.
func (s *Searcher) View(products []domain.Product) []domain.Product {
	return store.Select(s.deps.Store, func(st store.AppState) []domain.Product {
		st.Products = products
		return store.SortedProducts(st)
	})
}

// Warm refreshes queries into the cache through a bounded queue without
// touching the store. It returns the failures keyed by query.
func (s *Searcher) Warm(ctx context.Context, queries []string) map[string]error {
	type pending struct {
		query  string
		future *resilience.Future[int]
	}
	var jobs []pending
	failures := make(map[string]error)
	seen := make(map[string]bool)
	for _, q := range queries {
		text := domain.NormalizeQuery(q)
		if seen[text] {
			continue
		}
		seen[text] = true
		if err := domain.ValidateQuery(text, s.opts.MaxQueryLength); err != nil {
			failures[text] = err
			continue
		}
		f := resilience.Enqueue(s.warm, ctx, func(ctx context.Context) (int, error) {
			products, err := s.deps.Cache.Cacheable(ctx, text, func(ctx context.Context) ([]domain.Product, error) {
				return s.deps.Fetcher.FetchAll(ctx, text)
			})
			return len(products), err
		})
		jobs = append(jobs, pending{query: text, future: f})
	}
	s.log.Debug("warm-up queued", "queries", len(jobs), "running", s.warm.Active(), "waiting", s.warm.Pending())
	for _, j := range jobs {
		n, err := j.future.Await(ctx)
		if err != nil {
			failures[j.query] = err
			continue
		}
		s.log.Debug("warmed", "query", j.query, "results", n)
	}
	return failures
}
