// Package cache amortizes repeated queries with a time-bounded store of
// successful result sets, falling back to expired copies when upstreams fail.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/WessleyAI/pricepulse/engine/domain"
	"github.com/WessleyAI/pricepulse/pkg/metrics"
)

// Options configures a Cache.
type Options struct {
	TTL        time.Duration
	MaxEntries int
}

// DefaultOptions holds one hour of at most 500 queries.
var DefaultOptions = Options{TTL: time.Hour, MaxEntries: 500}

// Stats mirrors the housekeeping view exposed by the API. Size is the encoded
// byte size of all stored results.
type Stats struct {
	Total   int
	Expired int
	Size    int64
	TTL     time.Duration
}

// MarshalJSON renders TTL in milliseconds.
func (s Stats) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Total   int   `json:"total"`
		Expired int   `json:"expired"`
		Size    int64 `json:"size"`
		TTL     int64 `json:"ttl"`
	}{s.Total, s.Expired, s.Size, s.TTL.Milliseconds()})
}

// Cache fronts a Backend with TTL semantics. Backend failures degrade to
// misses; they are logged, never returned from reads.
type Cache struct {
	backend Backend
	opts    Options
	log     *slog.Logger
	now     func() time.Time

	hits      *metrics.Counter
	misses    *metrics.Counter
	stale     *metrics.Counter
	evictions *metrics.Counter
	entries   *metrics.Gauge
}

// New creates a cache over backend. A nil registry keeps metrics private.
func New(backend Backend, opts Options, log *slog.Logger, reg *metrics.Registry) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultOptions.TTL
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultOptions.MaxEntries
	}
	if log == nil {
		log = slog.Default()
	}
	if reg == nil {
		reg = metrics.New()
	}
	return &Cache{
		backend:   backend,
		opts:      opts,
		log:       log.With("component", "cache"),
		now:       time.Now,
		hits:      reg.Counter("cache_hits_total", "Fresh cache hits"),
		misses:    reg.Counter("cache_misses_total", "Cache misses"),
		stale:     reg.Counter("cache_stale_total", "Expired entries served after a fetch failure"),
		evictions: reg.Counter("cache_evictions_total", "Entries removed by purge or size bound"),
		entries:   reg.Gauge("cache_entries", "Entries currently stored"),
	}
}

// TTL reports the freshness window.
func (c *Cache) TTL() time.Duration { return c.opts.TTL }

func (c *Cache) fresh(e Entry) bool {
	return c.now().Sub(e.Timestamp) <= c.opts.TTL
}

func (c *Cache) load(ctx context.Context, key string) (Entry, bool) {
	e, ok, err := c.backend.Load(ctx, key)
	if err != nil {
		c.log.Warn("cache read failed", "query", key, "err", err)
		return Entry{}, false
	}
	return e, ok
}

// Get returns the products cached for query while they are within TTL.
func (c *Cache) Get(ctx context.Context, query string) ([]domain.Product, bool) {
	key := domain.NormalizeQuery(query)
	e, ok := c.load(ctx, key)
	if !ok || !c.fresh(e) {
		c.misses.Inc()
		return nil, false
	}
	c.hits.Inc()
	return e.Products, true
}

// GetStale returns the products cached for query regardless of age.
func (c *Cache) GetStale(ctx context.Context, query string) ([]domain.Product, time.Time, bool) {
	e, ok := c.load(ctx, domain.NormalizeQuery(query))
	if !ok {
		return nil, time.Time{}, false
	}
	return e.Products, e.Timestamp, true
}

// Put stores products for query stamped with the current time. Empty result
// sets are never cached.
func (c *Cache) Put(ctx context.Context, query string, products []domain.Product) error {
	if len(products) == 0 {
		return nil
	}
	e := Entry{Query: domain.NormalizeQuery(query), Products: products, Timestamp: c.now()}
	if err := c.backend.Save(ctx, e); err != nil {
		return err
	}
	n, err := c.backend.Trim(ctx, c.opts.MaxEntries)
	if err != nil {
		c.log.Warn("cache trim failed", "err", err)
	}
	c.evictions.Add(int64(n))
	c.refreshGauge(ctx)
	return nil
}

// Cacheable serves query from cache when fresh, otherwise calls fetch and
// caches a non-empty result. When fetch fails an expired copy is returned if
// one exists; without one the result is an empty list together with the
// fetch error.
func (c *Cache) Cacheable(ctx context.Context, query string, fetch func(context.Context) ([]domain.Product, error)) ([]domain.Product, error) {
	if products, ok := c.Get(ctx, query); ok {
		return products, nil
	}

	products, err := fetch(ctx)
	if err == nil {
		if perr := c.Put(ctx, query, products); perr != nil {
			c.log.Warn("cache write failed", "query", query, "err", perr)
		}
		if products == nil {
			products = []domain.Product{}
		}
		return products, nil
	}

	if stale, ts, ok := c.GetStale(ctx, query); ok {
		c.stale.Inc()
		c.log.Warn("serving stale results after fetch failure",
			"query", query, "age", c.now().Sub(ts), "err", err)
		return stale, nil
	}
	return []domain.Product{}, err
}

// PurgeExpired removes entries older than TTL and reports how many went.
func (c *Cache) PurgeExpired(ctx context.Context) (int, error) {
	n, err := c.backend.DeleteBefore(ctx, c.now().Add(-c.opts.TTL))
	if err != nil {
		return 0, err
	}
	c.evictions.Add(int64(n))
	c.refreshGauge(ctx)
	if n > 0 {
		c.log.Info("purged expired cache entries", "count", n)
	}
	return n, nil
}

// Delete drops the entry for query.
func (c *Cache) Delete(ctx context.Context, query string) error {
	if err := c.backend.Delete(ctx, domain.NormalizeQuery(query)); err != nil {
		return err
	}
	c.refreshGauge(ctx)
	return nil
}

// Clear drops every entry.
func (c *Cache) Clear(ctx context.Context) error {
	if err := c.backend.Clear(ctx); err != nil {
		return err
	}
	c.entries.Set(0)
	return nil
}

// Stats reports entry counts and the encoded size of the stored results.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	bs, err := c.backend.Stats(ctx, c.now().Add(-c.opts.TTL))
	if err != nil {
		return Stats{}, err
	}
	return Stats{Total: bs.Total, Expired: bs.Expired, Size: bs.Bytes, TTL: c.opts.TTL}, nil
}

// RunPurge sweeps expired entries every interval until ctx is done.
func (c *Cache) RunPurge(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := c.PurgeExpired(ctx); err != nil && ctx.Err() == nil {
				c.log.Warn("cache purge failed", "err", err)
			}
		}
	}
}

// Close releases the backend.
func (c *Cache) Close() error { return c.backend.Close() }

func (c *Cache) refreshGauge(ctx context.Context) {
	if bs, err := c.backend.Stats(ctx, time.Time{}); err == nil {
		c.entries.Set(int64(bs.Total))
	}
}
