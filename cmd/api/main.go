// Package main implements the PricePulse API server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/WessleyAI/pricepulse/engine/aggregate"
	"github.com/WessleyAI/pricepulse/engine/app"
	"github.com/WessleyAI/pricepulse/engine/domain"
	"github.com/WessleyAI/pricepulse/engine/store"
	"github.com/WessleyAI/pricepulse/pkg/config"
	"github.com/WessleyAI/pricepulse/pkg/metrics"
	"github.com/WessleyAI/pricepulse/pkg/mid"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger := cfg.Log.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.New()
	stopRuntime := reg.CollectRuntime(15 * time.Second)
	defer stopRuntime()

	a, err := app.Build(cfg, logger, reg)
	if err != nil {
		return err
	}
	defer a.Close()
	go a.Background(ctx)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      newHandler(a, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Server.Port, "sources", len(cfg.Sources), "cache", cfg.Cache.Backend)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

type server struct {
	app *app.App
	log *slog.Logger
}

func newHandler(a *app.App, logger *slog.Logger) http.Handler {
	s := &server{app: a, log: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("GET /api/search", s.handleSearch)
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/products", s.handleProducts)
	mux.HandleFunc("PUT /api/filters/{name}", s.handleSetFilter)
	mux.HandleFunc("DELETE /api/filters", s.handleResetFilters)
	mux.HandleFunc("PUT /api/sort", s.handleSetSort)
	mux.HandleFunc("DELETE /api/sort", s.handleResetSort)
	mux.HandleFunc("PUT /api/theme", s.handleSetTheme)
	mux.HandleFunc("GET /api/breakers", s.handleBreakers)
	mux.HandleFunc("GET /api/cache/stats", s.handleCacheStats)
	mux.HandleFunc("DELETE /api/cache", s.handleClearCache)
	mux.Handle("GET /metrics", a.Metrics.Handler())

	return mid.Chain(mux,
		mid.Recover(logger),
		mid.RequestID,
		mid.Logger(logger),
		mid.Metrics(a.Metrics),
		mid.CORS(a.Config.Server.CORSOrigin),
		mid.OTel("pricepulse-api"),
	)
}

// --- Handlers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// MsgSuperseded reports a search overtaken by a newer one.
const MsgSuperseded = "Search superseded by a newer query"

// SearchResponse is the JSON response for GET /api/search. Products are this
// request's own results with the current filters and sort applied.
type SearchResponse struct {
	Query      string           `json:"query"`
	Products   []domain.Product `json:"products"`
	Total      int              `json:"total"`
	Error      string           `json:"error,omitempty"`
	Superseded bool             `json:"superseded,omitempty"`
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	res, err := s.app.Searcher.Search(r.Context(), r.URL.Query().Get("q"))
	resp := SearchResponse{
		Query:      res.Query,
		Products:   s.app.Searcher.View(res.Products),
		Total:      len(res.Products),
		Error:      res.Message,
		Superseded: res.Superseded,
	}

	var verr *domain.ValidationError
	switch {
	case err == nil && res.Superseded:
		resp.Error = MsgSuperseded
		writeJSON(w, http.StatusConflict, resp)
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, resp)
	case errors.Is(err, context.Canceled):
		writeJSON(w, http.StatusServiceUnavailable, resp)
	case errors.Is(err, aggregate.ErrAllSourcesFailed):
		writeJSON(w, http.StatusBadGateway, resp)
	default:
		s.log.Error("search failed", "err", err, "request_id", mid.RequestIDFrom(r.Context()))
		writeJSON(w, http.StatusInternalServerError, resp)
	}
}

func (s *server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Searcher.State())
}

func (s *server) handleProducts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Searcher.Products())
}

// FilterRequest is the JSON body for PUT /api/filters/{name}.
type FilterRequest struct {
	Value any `json:"value"`
}

func (s *server) handleSetFilter(w http.ResponseWriter, r *http.Request) {
	var req FilterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !s.app.Searcher.SetFilter(r.PathValue("name"), req.Value) {
		writeError(w, http.StatusBadRequest, "invalid filter")
		return
	}
	writeJSON(w, http.StatusOK, s.app.Searcher.State().Filters)
}

func (s *server) handleResetFilters(w http.ResponseWriter, _ *http.Request) {
	s.app.Searcher.ResetFilters()
	writeJSON(w, http.StatusOK, s.app.Searcher.State().Filters)
}

func (s *server) handleSetSort(w http.ResponseWriter, r *http.Request) {
	var req store.Sort
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.app.Searcher.SetSort(req.Field, req.Order)
	writeJSON(w, http.StatusOK, s.app.Searcher.State().Sort)
}

func (s *server) handleResetSort(w http.ResponseWriter, _ *http.Request) {
	s.app.Searcher.ResetSort()
	writeJSON(w, http.StatusOK, s.app.Searcher.State().Sort)
}

// ThemeRequest is the JSON body for PUT /api/theme.
type ThemeRequest struct {
	Theme string `json:"theme"`
}

func (s *server) handleSetTheme(w http.ResponseWriter, r *http.Request) {
	var req ThemeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Theme != store.ThemeLight && req.Theme != store.ThemeDark {
		writeError(w, http.StatusBadRequest, "theme must be light or dark")
		return
	}
	s.app.Searcher.SetTheme(req.Theme)
	writeJSON(w, http.StatusOK, req)
}

func (s *server) handleBreakers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Aggregator.Status())
}

func (s *server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.app.Cache.Stats(r.Context())
	if err != nil {
		s.log.Error("cache stats failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Cache.Clear(r.Context()); err != nil {
		s.log.Error("cache clear failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
