// Package source implements the upstream clients that turn a query into
// canonical product listings for one marketplace.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/WessleyAI/pricepulse/engine/domain"
	"github.com/WessleyAI/pricepulse/pkg/fn"
)

var (
	// ErrUpstreamStatus is returned for non-2xx upstream responses.
	ErrUpstreamStatus = errors.New("source: upstream returned error status")
	// ErrTimeout marks an attempt that exceeded its per-attempt budget.
	ErrTimeout = errors.New("source: request timed out")
)

// maxBody caps how much of an upstream response is read.
const maxBody = 8 << 20

// DefaultPriceMultipliers models per-marketplace pricing against a shared
// search endpoint.
var DefaultPriceMultipliers = map[domain.Source]float64{
	domain.SourceAmazon:  1.0,
	domain.SourceEbay:    0.9,
	domain.SourceWalmart: 1.05,
}

// HTTPConfig configures an HTTPClient.
type HTTPConfig struct {
	Source domain.Source
	// BaseURL is the search endpoint. A "{query}" placeholder is replaced by
	// the escaped query; otherwise the query is appended as the q parameter.
	BaseURL         string
	PriceMultiplier float64
	// RatePerSecond paces outgoing requests. Zero disables pacing.
	RatePerSecond float64
	Burst         int
	Timeout       time.Duration
	UserAgent     string
}

// HTTPClient fetches listings for one source from a JSON search endpoint.
type HTTPClient struct {
	cfg     HTTPConfig
	limiter *rate.Limiter
	client  *http.Client
	log     *slog.Logger
}

// NewHTTPClient creates a client whose transport is traced with otelhttp.
func NewHTTPClient(cfg HTTPConfig, log *slog.Logger) *HTTPClient {
	if log == nil {
		log = slog.Default()
	}
	if cfg.PriceMultiplier <= 0 {
		cfg.PriceMultiplier = DefaultPriceMultipliers[cfg.Source]
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "pricepulse/1.0"
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return &HTTPClient{
		cfg:     cfg,
		limiter: limiter,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		log: log.With("source", cfg.Source),
	}
}

// Source reports which marketplace this client serves.
func (c *HTTPClient) Source() domain.Source { return c.cfg.Source }

// Fetch searches the upstream and normalizes the response.
func (c *HTTPClient) Fetch(ctx context.Context, query string) fn.Result[[]domain.Product] {
	if err := c.limiter.Wait(ctx); err != nil {
		return fn.Err[[]domain.Product](err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.searchURL(query), nil)
	if err != nil {
		return fn.Err[[]domain.Product](fmt.Errorf("source: build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return fn.Err[[]domain.Product](fmt.Errorf("source: %s: %w", c.cfg.Source, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		return fn.Err[[]domain.Product](fmt.Errorf("%w: %s %d", ErrUpstreamStatus, c.cfg.Source, resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fn.Err[[]domain.Product](fmt.Errorf("source: %s: read body: %w", c.cfg.Source, err))
	}

	products := Normalize(c.log, c.cfg.Source, c.cfg.PriceMultiplier, body)
	c.log.Debug("fetched listings", "query", query, "count", len(products), "duration", time.Since(start))
	return fn.Ok(products)
}

func (c *HTTPClient) searchURL(query string) string {
	escaped := url.QueryEscape(query)
	if strings.Contains(c.cfg.BaseURL, "{query}") {
		return strings.ReplaceAll(c.cfg.BaseURL, "{query}", escaped)
	}
	sep := "?"
	if strings.Contains(c.cfg.BaseURL, "?") {
		sep = "&"
	}
	return c.cfg.BaseURL + sep + "q=" + escaped
}
