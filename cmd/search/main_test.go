package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/WessleyAI/pricepulse/engine/domain"
	"github.com/WessleyAI/pricepulse/pkg/config"
)

func runStatic(t *testing.T, o options) ([]domain.Product, error) {
	t.Helper()
	o.static = true
	if o.timeout == 0 {
		o.timeout = 5 * time.Second
	}
	if o.sortField == "" {
		o.sortField, o.order = "price", "asc"
	}
	var buf bytes.Buffer
	err := run(context.Background(), config.Default(), o, slog.New(slog.NewTextHandler(io.Discard, nil)), &buf)
	if err != nil {
		return nil, err
	}
	var products []domain.Product
	if err := json.Unmarshal(buf.Bytes(), &products); err != nil {
		t.Fatalf("output is not a product list: %v", err)
	}
	return products, nil
}

func TestRunPrintsSortedProducts(t *testing.T) {
	products, err := runStatic(t, options{query: "apple", sortField: "rating", order: "desc"})
	if err != nil {
		t.Fatal(err)
	}
	if len(products) == 0 {
		t.Fatal("expected products")
	}
	for i := 1; i < len(products); i++ {
		if products[i-1].Rating < products[i].Rating {
			t.Fatal("products should be sorted by descending rating")
		}
	}
}

func TestRunAppliesFilters(t *testing.T) {
	products, err := runStatic(t, options{query: "apple", inStock: true, maxPrice: 600})
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range products {
		if !p.InStock || p.Price > 600 {
			t.Fatalf("%s should have been filtered out", p.ID)
		}
	}
}

func TestRunRejectsBadInput(t *testing.T) {
	if _, err := runStatic(t, options{query: "apple", maxPrice: 50000}); err == nil {
		t.Fatal("expected max price error")
	}
	long := make([]byte, 150)
	for i := range long {
		long[i] = 'x'
	}
	if _, err := runStatic(t, options{query: string(long)}); err == nil {
		t.Fatal("expected query length error")
	}
}

func TestRunEmptyQueryPrintsNothing(t *testing.T) {
	products, err := runStatic(t, options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(products) != 0 {
		t.Fatalf("expected empty list, got %d", len(products))
	}
}
