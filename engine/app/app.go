// Package app assembles the search pipeline from configuration: cache
// backend, source clients, aggregator, state store, searcher and the
// optional NATS connection.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/pricepulse/engine/aggregate"
	"github.com/WessleyAI/pricepulse/engine/cache"
	"github.com/WessleyAI/pricepulse/engine/domain"
	"github.com/WessleyAI/pricepulse/engine/search"
	"github.com/WessleyAI/pricepulse/engine/source"
	"github.com/WessleyAI/pricepulse/engine/store"
	"github.com/WessleyAI/pricepulse/pkg/config"
	"github.com/WessleyAI/pricepulse/pkg/fn"
	"github.com/WessleyAI/pricepulse/pkg/metrics"
	"github.com/WessleyAI/pricepulse/pkg/natsutil"
	"github.com/WessleyAI/pricepulse/pkg/resilience"
)

const userAgent = "pricepulse/1.0"

// CacheInvalidation is the payload on natsutil.SubjectCacheInvalidate. An
// empty Query clears the whole cache.
type CacheInvalidation struct {
	Query string `json:"query,omitempty"`
}

// App owns every long-lived component of the service.
type App struct {
	Config     config.Config
	Cache      *cache.Cache
	Aggregator *aggregate.Aggregator
	Store      *store.Store
	Searcher   *search.Searcher
	Metrics    *metrics.Registry
	// NATS is nil when no URL is configured.
	NATS *nats.Conn

	log     *slog.Logger
	closers []func() error
}

// Build wires the pipeline described by cfg. On error every component
// created so far is closed.
func Build(cfg config.Config, log *slog.Logger, reg *metrics.Registry) (_ *App, err error) {
	if log == nil {
		log = slog.Default()
	}
	if reg == nil {
		reg = metrics.New()
	}
	a := &App{Config: cfg, Metrics: reg, log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	backend, err := openBackend(cfg.Cache)
	if err != nil {
		return nil, err
	}
	a.Cache = cache.New(backend, cache.Options{TTL: cfg.Cache.TTL, MaxEntries: cfg.Cache.MaxEntries}, log, reg)
	a.closers = append(a.closers, a.Cache.Close)

	clients, weights, err := buildClients(cfg, log)
	if err != nil {
		return nil, err
	}
	a.Aggregator, err = aggregate.New(clients, aggregateOptions(cfg.Resilience, weights), log, reg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { a.Aggregator.Close(); return nil })

	a.Store = store.New(store.InitialState(), store.Reduce,
		store.LogMiddleware(log),
		store.MetricsMiddleware(reg),
	)

	deps := search.Deps{
		Store:   a.Store,
		Fetcher: a.Aggregator,
		Cache:   a.Cache,
		Log:     log,
		Metrics: reg,
	}
	if cfg.NATS.URL != "" {
		a.NATS, err = natsutil.Connect(cfg.NATS.URL, cfg.NATS.Name, log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.NATS.Drain)
		deps.Events = search.NewNATSEvents(a.NATS)
		if _, err = natsutil.Subscribe(a.NATS, natsutil.SubjectCacheInvalidate, a.invalidate); err != nil {
			return nil, fmt.Errorf("app: subscribe %s: %w", natsutil.SubjectCacheInvalidate, err)
		}
	}

	a.Searcher, err = search.New(deps, search.Options{
		MaxQueryLength:      cfg.Search.MaxQueryLength,
		MaxPriceLimit:       cfg.Search.MaxPriceLimit,
		KeepProductsOnError: cfg.Search.KeepProductsOnError,
		WarmConcurrency:     cfg.Search.WarmConcurrency,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { a.Searcher.Close(); return nil })
	return a, nil
}

func openBackend(c config.CacheConfig) (cache.Backend, error) {
	switch c.Backend {
	case config.BackendSQLite:
		return cache.OpenSQLite(c.Path)
	case config.BackendMemory, "":
		return cache.NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("app: unknown cache backend %q", c.Backend)
	}
}

func buildClients(cfg config.Config, log *slog.Logger) ([]aggregate.Client, map[domain.Source]int, error) {
	clients := make([]aggregate.Client, 0, len(cfg.Sources))
	weights := make(map[domain.Source]int, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		src, err := domain.ParseSource(sc.Name)
		if err != nil {
			return nil, nil, err
		}
		weights[src] = aggregate.DefaultWeights[src]
		if sc.Weight > 0 {
			weights[src] = sc.Weight
		}
		if sc.Static {
			clients = append(clients, source.NewStaticClient(src, nil))
			continue
		}
		clients = append(clients, source.NewHTTPClient(source.HTTPConfig{
			Source:          src,
			BaseURL:         sc.URL,
			PriceMultiplier: sc.PriceMultiplier,
			RatePerSecond:   sc.RatePerSecond,
			Burst:           sc.Burst,
			Timeout:         cfg.Resilience.SourceTimeout,
			UserAgent:       userAgent,
		}, log))
	}
	return clients, weights, nil
}

func aggregateOptions(r config.ResilienceConfig, weights map[domain.Source]int) aggregate.Options {
	return aggregate.Options{
		Weights: weights,
		Breaker: resilience.BreakerOpts{
			FailureThreshold: r.FailureThreshold,
			SuccessThreshold: r.SuccessThreshold,
			Timeout:          r.BreakerTimeout,
			HalfOpenMax:      r.HalfOpenMax,
		},
		Limiter: resilience.LimiterOpts{
			Limit:    r.RateLimit,
			Interval: r.RateInterval,
			Poll:     resilience.DefaultLimiterOpts.Poll,
		},
		Retry: fn.RetryOpts{
			MaxAttempts: r.RetryAttempts,
			InitialWait: r.RetryInitialWait,
			MaxWait:     r.RetryMaxWait,
			Jitter:      true,
		},
		Concurrency:   r.Concurrency,
		SourceTimeout: r.SourceTimeout,
	}
}

func (a *App) invalidate(ctx context.Context, msg CacheInvalidation) {
	var err error
	if msg.Query == "" {
		err = a.Cache.Clear(ctx)
	} else {
		err = a.Cache.Delete(ctx, msg.Query)
	}
	if err != nil {
		a.log.Warn("cache invalidation failed", "query", msg.Query, "err", err)
		return
	}
	a.log.Info("cache invalidated", "query", msg.Query)
}

// Background runs the expired-entry sweep and warms the configured queries.
// It returns once warm-up has finished; the sweep stops when ctx is done.
func (a *App) Background(ctx context.Context) {
	go a.Cache.RunPurge(ctx, a.Config.Cache.PurgeInterval)
	if len(a.Config.Search.WarmQueries) == 0 {
		return
	}
	start := time.Now()
	failures := a.Searcher.Warm(ctx, a.Config.Search.WarmQueries)
	for q, err := range failures {
		a.log.Warn("warm-up failed", "query", q, "err", err)
	}
	a.log.Info("cache warmed",
		"queries", len(a.Config.Search.WarmQueries),
		"failed", len(failures),
		"duration", time.Since(start),
	)
}

// Close releases components in reverse creation order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
