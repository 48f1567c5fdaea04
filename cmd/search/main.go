// Command search runs one aggregated product search and prints the filtered,
// sorted results as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/WessleyAI/pricepulse/engine/app"
	"github.com/WessleyAI/pricepulse/engine/store"
	"github.com/WessleyAI/pricepulse/pkg/config"
)

type options struct {
	query     string
	static    bool
	inStock   bool
	fast      bool
	maxPrice  float64
	sortField string
	order     string
	timeout   time.Duration
}

func main() {
	var o options
	flag.StringVar(&o.query, "q", "", "search query")
	flag.BoolVar(&o.static, "static", false, "use the built-in demo catalog instead of upstream APIs")
	flag.BoolVar(&o.inStock, "in-stock", false, "only in-stock listings")
	flag.BoolVar(&o.fast, "fast", false, "only listings delivered within two days")
	flag.Float64Var(&o.maxPrice, "max-price", 0, "maximum price (0 keeps the default)")
	flag.StringVar(&o.sortField, "sort", "price", "sort field: "+fmt.Sprint(store.SortFields()))
	flag.StringVar(&o.order, "order", store.OrderAsc, "sort order: asc or desc")
	flag.DurationVar(&o.timeout, "timeout", 30*time.Second, "overall deadline")
	flag.Parse()
	if o.query == "" && flag.NArg() > 0 {
		o.query = flag.Arg(0)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	// Diagnostics go to stderr so stdout stays machine-readable.
	logger := cfg.Log.NewLogger(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, o, logger, os.Stdout); err != nil {
		logger.Error("search failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, o options, logger *slog.Logger, out io.Writer) error {
	if o.static {
		for i := range cfg.Sources {
			cfg.Sources[i].Static = true
		}
	}
	// A one-shot run neither publishes events nor needs invalidation.
	cfg.NATS.URL = ""

	a, err := app.Build(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	res, err := a.Searcher.Search(ctx, o.query)
	if err != nil {
		return err
	}

	a.Searcher.SetFilter(store.FilterInStockOnly, o.inStock)
	a.Searcher.SetFilter(store.FilterFastDeliveryOnly, o.fast)
	if o.maxPrice > 0 && !a.Searcher.SetFilter(store.FilterMaxPrice, o.maxPrice) {
		return fmt.Errorf("max-price %.2f out of range", o.maxPrice)
	}
	a.Searcher.SetSort(o.sortField, o.order)

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(a.Searcher.View(res.Products))
}
