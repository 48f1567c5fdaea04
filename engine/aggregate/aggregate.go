// Package aggregate fans a query out to every source client, isolating each
// behind its own circuit breaker, and merges the survivors into one scored,
// deduplicated result set.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/WessleyAI/pricepulse/engine/domain"
	"github.com/WessleyAI/pricepulse/engine/source"
	"github.com/WessleyAI/pricepulse/pkg/fn"
	"github.com/WessleyAI/pricepulse/pkg/metrics"
	"github.com/WessleyAI/pricepulse/pkg/resilience"
)

const tracerName = "pricepulse/engine/aggregate"

var (
	ErrNoSources        = errors.New("aggregate: no sources configured")
	ErrDuplicateSource  = errors.New("aggregate: duplicate source")
	ErrAllSourcesFailed = errors.New("aggregate: all sources failed")
)

// Client fetches raw listings for one marketplace.
type Client interface {
	Source() domain.Source
	Fetch(ctx context.Context, query string) fn.Result[[]domain.Product]
}

// Options configures an Aggregator.
type Options struct {
	Weights map[domain.Source]int
	Breaker resilience.BreakerOpts
	Limiter resilience.LimiterOpts
	Retry   fn.RetryOpts
	// Concurrency bounds in-flight source fetches across all queries.
	// Zero means one slot per client.
	Concurrency int
	// SourceTimeout bounds each fetch attempt.
	SourceTimeout time.Duration
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		Weights:       DefaultWeights,
		Breaker:       resilience.DefaultBreakerOpts,
		Limiter:       resilience.DefaultLimiterOpts,
		Retry:         fn.DefaultRetry,
		SourceTimeout: 5 * time.Second,
	}
}

type sourceMetrics struct {
	requests *metrics.Counter
	failures *metrics.Counter
	rejected *metrics.Counter
	duration *metrics.Histogram
	state    *metrics.Gauge
}

// Aggregator owns one breaker per source plus a shared request budget and
// fan-out queue.
type Aggregator struct {
	clients  []Client
	breakers map[domain.Source]*resilience.Breaker
	limiter  *resilience.Limiter
	queue    *resilience.Queue
	opts     Options
	post     fn.Stage[[]domain.Product, []domain.Product]
	metrics  map[domain.Source]sourceMetrics
	log      *slog.Logger
}

// New creates an Aggregator over clients, one per source.
func New(clients []Client, opts Options, log *slog.Logger, reg *metrics.Registry) (*Aggregator, error) {
	if len(clients) == 0 {
		return nil, ErrNoSources
	}
	if log == nil {
		log = slog.Default()
	}
	if reg == nil {
		reg = metrics.New()
	}
	if opts.Weights == nil {
		opts.Weights = DefaultWeights
	}
	if opts.SourceTimeout <= 0 {
		opts.SourceTimeout = 5 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = len(clients)
	}

	a := &Aggregator{
		clients:  clients,
		breakers: make(map[domain.Source]*resilience.Breaker, len(clients)),
		limiter:  resilience.NewLimiter(opts.Limiter),
		queue:    resilience.NewQueue(opts.Concurrency),
		opts:     opts,
		metrics:  make(map[domain.Source]sourceMetrics, len(clients)),
		log:      log.With("component", "aggregate"),
	}
	for _, c := range clients {
		src := c.Source()
		if _, dup := a.breakers[src]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSource, src)
		}
		a.breakers[src] = resilience.NewBreaker(opts.Breaker)
		label := string(src)
		a.metrics[src] = sourceMetrics{
			requests: reg.Counter("source_requests_total", "Source fetches started", "source", label),
			failures: reg.Counter("source_failures_total", "Source fetches failed after retries", "source", label),
			rejected: reg.Counter("source_rejected_total", "Source fetches rejected by an open breaker", "source", label),
			duration: reg.Histogram("source_fetch_duration_seconds", "Source fetch duration including retries", nil, "source", label),
			state:    reg.Gauge("source_breaker_state", "Breaker state (0 closed, 1 open, 2 half-open)", "source", label),
		}
	}

	scorer := Scorer{Weights: opts.Weights}
	a.post = fn.Pipeline(
		fn.TracedStage("aggregate.score", fn.MapStage(scorer.Apply)),
		fn.TracedStage("aggregate.dedupe", fn.MapStage(Dedupe)),
		fn.TracedStage("aggregate.deviation", fn.MapStage(PriceDeviation)),
	)
	return a, nil
}

// Sources lists the configured sources in fan-out order.
func (a *Aggregator) Sources() []domain.Source {
	return fn.Map(a.clients, Client.Source)
}

// Status returns a point-in-time breaker view per source.
func (a *Aggregator) Status() map[domain.Source]resilience.Status {
	out := make(map[domain.Source]resilience.Status, len(a.breakers))
	for src, b := range a.breakers {
		out[src] = b.Status()
	}
	return out
}

// Close stops the fan-out queue from accepting work.
func (a *Aggregator) Close() { a.queue.Close() }

// FetchAll queries every source and merges what succeeded. It fails only when
// every source failed, returning ErrAllSourcesFailed joined with each
// source's error.
func (a *Aggregator) FetchAll(ctx context.Context, query string) ([]domain.Product, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "aggregate.FetchAll",
		trace.WithAttributes(attribute.String("query", query)))
	defer span.End()

	futures := make([]*resilience.Future[[]domain.Product], len(a.clients))
	for i, c := range a.clients {
		futures[i] = resilience.Enqueue(a.queue, ctx, func(ctx context.Context) ([]domain.Product, error) {
			return a.fetchSource(ctx, c, query).Unwrap()
		})
	}

	results := make([]fn.Result[[]domain.Product], len(futures))
	for i, f := range futures {
		products, err := f.Await(ctx)
		if err != nil {
			err = fmt.Errorf("%s: %w", a.clients[i].Source(), err)
		}
		results[i] = fn.FromPair(products, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batches, errs := fn.Partition(results)
	for _, err := range errs {
		a.log.Warn("source failed", "query", query, "err", err)
	}
	if len(batches) == 0 {
		err := fmt.Errorf("%w: %w", ErrAllSourcesFailed, errors.Join(errs...))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	merged := fn.Reduce(batches, make([]domain.Product, 0), func(acc, batch []domain.Product) []domain.Product {
		return append(acc, batch...)
	})
	products, err := a.post(ctx, merged).Unwrap()
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("products", len(products)),
		attribute.Int("failed_sources", len(errs)),
	)
	a.log.Info("aggregated", "query", query, "products", len(products), "raw", len(merged), "failed_sources", len(errs))
	return products, nil
}

// fetchSource runs one source through breaker, retry, rate limit and
// per-attempt timeout. The breaker sees only the retrier's final outcome.
func (a *Aggregator) fetchSource(ctx context.Context, c Client, query string) fn.Result[[]domain.Product] {
	src := c.Source()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "aggregate.fetch",
		trace.WithAttributes(attribute.String("source", string(src))))
	defer span.End()

	m := a.metrics[src]
	breaker := a.breakers[src]
	m.requests.Inc()
	start := time.Now()

	r := resilience.CallResult(breaker, ctx, func(ctx context.Context) fn.Result[[]domain.Product] {
		return fn.Retry(ctx, a.opts.Retry, func(ctx context.Context) fn.Result[[]domain.Product] {
			if err := a.limiter.Wait(ctx); err != nil {
				return fn.Err[[]domain.Product](err)
			}
			return a.attempt(ctx, c, query)
		})
	})

	m.duration.Since(start)
	m.state.Set(int64(breaker.State()))
	if err := r.Error(); err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			m.rejected.Inc()
		} else {
			m.failures.Inc()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return r
	}
	products, _ := r.Unwrap()
	span.SetAttributes(attribute.Int("products", len(products)))
	return r
}

// attempt races a single fetch against the per-attempt timeout.
func (a *Aggregator) attempt(ctx context.Context, c Client, query string) fn.Result[[]domain.Product] {
	actx, cancel := context.WithTimeout(ctx, a.opts.SourceTimeout)
	defer cancel()

	done := make(chan fn.Result[[]domain.Product], 1)
	go func() { done <- c.Fetch(actx, query) }()

	select {
	case r := <-done:
		if r.IsErr() && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
			return fn.Err[[]domain.Product](a.timeoutErr(c.Source()))
		}
		return r
	case <-actx.Done():
		if err := ctx.Err(); err != nil {
			return fn.Err[[]domain.Product](err)
		}
		return fn.Err[[]domain.Product](a.timeoutErr(c.Source()))
	}
}

func (a *Aggregator) timeoutErr(src domain.Source) error {
	return fmt.Errorf("%w: %s after %s", source.ErrTimeout, src, a.opts.SourceTimeout)
}
