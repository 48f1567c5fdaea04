package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/WessleyAI/pricepulse/engine/app"
	"github.com/WessleyAI/pricepulse/engine/domain"
	"github.com/WessleyAI/pricepulse/engine/store"
	"github.com/WessleyAI/pricepulse/pkg/config"
	"github.com/WessleyAI/pricepulse/pkg/mid"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestHandler(t *testing.T, cfg config.Config) http.Handler {
	t.Helper()
	a, err := app.Build(cfg, quiet(), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { a.Close() })
	return newHandler(a, quiet())
}

func staticConfig() config.Config {
	cfg := config.Default()
	for i := range cfg.Sources {
		cfg.Sources[i].Static = true
	}
	return cfg
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, r))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestHealthEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	handleHealth(rec, httptest.NewRequest("GET", "/api/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if resp := decode[map[string]string](t, rec); resp["status"] != "ok" {
		t.Fatalf("expected status ok, got %s", resp["status"])
	}
}

func TestSearchEndpoint(t *testing.T) {
	h := newTestHandler(t, staticConfig())

	rec := do(t, h, "GET", "/api/search?q=apple", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get(mid.RequestIDHeader) == "" {
		t.Fatal("missing request id header")
	}
	resp := decode[SearchResponse](t, rec)
	if resp.Query != "apple" || resp.Total == 0 || len(resp.Products) == 0 {
		t.Fatalf("unexpected response %+v", resp)
	}
	for i := 1; i < len(resp.Products); i++ {
		if resp.Products[i-1].Price > resp.Products[i].Price {
			t.Fatal("products should be sorted by ascending price")
		}
	}

	state := decode[store.AppState](t, do(t, h, "GET", "/api/state", ""))
	if !state.HasSearched || state.Loading || state.Error != "" {
		t.Fatalf("unexpected state %+v", state)
	}
}

func TestSearchEndpointInvalidQuery(t *testing.T) {
	h := newTestHandler(t, staticConfig())
	rec := do(t, h, "GET", "/api/search?q="+strings.Repeat("x", 101), "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if resp := decode[SearchResponse](t, rec); resp.Error != "Invalid search query" {
		t.Fatalf("unexpected error %q", resp.Error)
	}
}

func TestSearchEndpointUpstreamDown(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer upstream.Close()

	cfg := config.Default()
	for i := range cfg.Sources {
		cfg.Sources[i].URL = upstream.URL
	}
	cfg.Resilience.RetryAttempts = 1
	cfg.Resilience.RetryInitialWait = time.Millisecond
	h := newTestHandler(t, cfg)

	rec := do(t, h, "GET", "/api/search?q=phone", "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	resp := decode[SearchResponse](t, rec)
	if resp.Error != "Failed to fetch products" || len(resp.Products) != 0 {
		t.Fatalf("unexpected response %+v", resp)
	}

	breakers := decode[map[domain.Source]map[string]any](t, do(t, h, "GET", "/api/breakers", ""))
	if len(breakers) != 3 || breakers[domain.SourceAmazon]["failures"].(float64) != 1 {
		t.Fatalf("unexpected breakers %v", breakers)
	}
}

func TestOverlappingSearchesAnswerWithTheirOwnResults(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		if q == "phone" {
			time.Sleep(300 * time.Millisecond)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"products":[{"id":1,"title":"%s item","price":100,"rating":4.5,"stock":3}]}`, q)
	}))
	defer upstream.Close()

	cfg := config.Default()
	for i := range cfg.Sources {
		cfg.Sources[i].URL = upstream.URL
	}
	cfg.Resilience.RateLimit = 100
	h := newTestHandler(t, cfg)

	var wg sync.WaitGroup
	var phone *httptest.ResponseRecorder
	wg.Add(1)
	go func() {
		defer wg.Done()
		phone = do(t, h, "GET", "/api/search?q=phone", "")
	}()
	time.Sleep(50 * time.Millisecond)
	laptop := do(t, h, "GET", "/api/search?q=laptop", "")
	wg.Wait()

	if laptop.Code != http.StatusOK {
		t.Fatalf("laptop: expected 200, got %d", laptop.Code)
	}
	lr := decode[SearchResponse](t, laptop)
	if lr.Query != "laptop" || len(lr.Products) == 0 {
		t.Fatalf("unexpected laptop response %+v", lr)
	}
	for _, p := range lr.Products {
		if !strings.HasPrefix(p.Name, "laptop") {
			t.Fatalf("laptop response carries %q", p.Name)
		}
	}

	if phone.Code != http.StatusConflict {
		t.Fatalf("phone: expected 409, got %d", phone.Code)
	}
	pr := decode[SearchResponse](t, phone)
	if !pr.Superseded || pr.Query != "phone" || pr.Error != MsgSuperseded || len(pr.Products) == 0 {
		t.Fatalf("unexpected phone response %+v", pr)
	}
	for _, p := range pr.Products {
		if !strings.HasPrefix(p.Name, "phone") {
			t.Fatalf("phone response carries %q", p.Name)
		}
	}

	state := decode[store.AppState](t, do(t, h, "GET", "/api/state", ""))
	for _, p := range state.Products {
		if !strings.HasPrefix(p.Name, "laptop") {
			t.Fatalf("store should hold the newest search, got %q", p.Name)
		}
	}
}

func TestFilterEndpoints(t *testing.T) {
	h := newTestHandler(t, staticConfig())
	do(t, h, "GET", "/api/search?q=apple", "")
	all := decode[[]domain.Product](t, do(t, h, "GET", "/api/products", ""))

	rec := do(t, h, "PUT", "/api/filters/maxPrice", `{"value": 600}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	cheap := decode[[]domain.Product](t, do(t, h, "GET", "/api/products", ""))
	if len(cheap) == 0 || len(cheap) >= len(all) {
		t.Fatalf("filter should narrow results: %d of %d", len(cheap), len(all))
	}
	for _, p := range cheap {
		if p.Price > 600 {
			t.Fatalf("%s exceeds max price", p.ID)
		}
	}

	for _, bad := range []struct{ path, body string }{
		{"/api/filters/maxPrice", `{"value": 20000}`},
		{"/api/filters/maxPrice", `{"value": "cheap"}`},
		{"/api/filters/inStockOnly", `{"value": 1}`},
		{"/api/filters/color", `{"value": true}`},
		{"/api/filters/inStockOnly", `nope`},
	} {
		if rec := do(t, h, "PUT", bad.path, bad.body); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s %s: expected 400, got %d", bad.path, bad.body, rec.Code)
		}
	}

	filters := decode[store.Filters](t, do(t, h, "DELETE", "/api/filters", ""))
	if filters != store.DefaultFilters() {
		t.Fatalf("filters not reset: %+v", filters)
	}
}

func TestSortAndThemeEndpoints(t *testing.T) {
	h := newTestHandler(t, staticConfig())
	do(t, h, "GET", "/api/search?q=apple", "")

	sort := decode[store.Sort](t, do(t, h, "PUT", "/api/sort", `{"field":"price","order":"desc"}`))
	if sort.Order != store.OrderDesc {
		t.Fatalf("unexpected sort %+v", sort)
	}
	products := decode[[]domain.Product](t, do(t, h, "GET", "/api/products", ""))
	for i := 1; i < len(products); i++ {
		if products[i-1].Price < products[i].Price {
			t.Fatal("products should be sorted by descending price")
		}
	}
	if sort := decode[store.Sort](t, do(t, h, "DELETE", "/api/sort", "")); sort != store.DefaultSort() {
		t.Fatalf("sort not reset: %+v", sort)
	}

	if rec := do(t, h, "PUT", "/api/theme", `{"theme":"dark"}`); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec := do(t, h, "PUT", "/api/theme", `{"theme":"neon"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if state := decode[store.AppState](t, do(t, h, "GET", "/api/state", "")); state.Theme != store.ThemeDark {
		t.Fatalf("expected dark theme, got %s", state.Theme)
	}
}

func TestCacheEndpoints(t *testing.T) {
	h := newTestHandler(t, staticConfig())
	do(t, h, "GET", "/api/search?q=apple", "")
	do(t, h, "GET", "/api/search?q=sony", "")

	stats := decode[map[string]any](t, do(t, h, "GET", "/api/cache/stats", ""))
	if stats["total"].(float64) != 2 || stats["ttl"].(float64) != float64(time.Hour.Milliseconds()) {
		t.Fatalf("unexpected stats %v", stats)
	}

	if rec := do(t, h, "DELETE", "/api/cache", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	stats = decode[map[string]any](t, do(t, h, "GET", "/api/cache/stats", ""))
	if stats["total"].(float64) != 0 {
		t.Fatalf("cache not cleared: %v", stats)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestHandler(t, staticConfig())
	do(t, h, "GET", "/api/search?q=apple", "")

	rec := do(t, h, "GET", "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"pricepulse_searches_total", "pricepulse_source_requests_total", "pricepulse_http_requests_total"} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %s", want)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	h := newTestHandler(t, staticConfig())
	rec := do(t, h, "OPTIONS", "/api/search", "")
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("unexpected preflight response %d %v", rec.Code, rec.Header())
	}
}
