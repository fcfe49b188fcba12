// Package httpapi serves saved backtest runs, the strategy catalogue and
// Prometheus metrics over HTTP.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"barrun/internal/store"
	"barrun/internal/strategy"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 1000
)

// RunServer serves the read-only results API.
type RunServer struct {
	runs     store.RunStore
	registry *strategy.Registry
	gatherer prometheus.Gatherer
	log      *slog.Logger
}

// NewRunServer creates a RunServer. A nil gatherer disables /metrics.
func NewRunServer(runs store.RunStore, registry *strategy.Registry, gatherer prometheus.Gatherer, log *slog.Logger) *RunServer {
	return &RunServer{
		runs:     runs,
		registry: registry,
		gatherer: gatherer,
		log:      log.With("component", "httpapi"),
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *RunServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/strategies", s.handleStrategies)
	mux.HandleFunc("GET /api/runs", s.handleRuns)
	mux.HandleFunc("GET /api/runs/{id}/trades", s.handleTrades)
	mux.HandleFunc("GET /api/runs/{id}/events", s.handleEvents)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

// Handler returns an http.Handler with CORS middleware.
func (s *RunServer) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *RunServer) handleStrategies(w http.ResponseWriter, _ *http.Request) {
	out := make([]StrategyInfo, 0)
	for _, name := range s.registry.List() {
		p, err := s.registry.New(name, nil)
		if err != nil {
			s.log.Warn("building strategy", "strategy", name, "error", err)
			continue
		}
		out = append(out, StrategyInfo{Name: name, Params: p.Params()})
	}
	writeJSON(w, out)
}

func (s *RunServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunLimit)
	}

	runs, err := s.runs.ListRuns(r.Context(), limit)
	if err != nil {
		s.log.Error("listing runs", "error", err)
		writeError(w, http.StatusInternalServerError, "listing runs failed")
		return
	}
	out := make([]RunInfo, 0, len(runs))
	for _, run := range runs {
		out = append(out, RunInfo{ID: run.ID, CreatedAt: run.CreatedAt, Summary: run.Summary})
	}
	writeJSON(w, out)
}

func (s *RunServer) handleTrades(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	trades, err := s.runs.RunTrades(r.Context(), id)
	if err != nil {
		s.log.Error("loading trades", "run", id, "error", err)
		writeError(w, http.StatusInternalServerError, "loading trades failed")
		return
	}
	writeJSON(w, TradesResponse{RunID: id, Trades: nonNil(trades)})
}

func (s *RunServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	events, err := s.runs.RunEvents(r.Context(), id)
	if err != nil {
		s.log.Error("loading events", "run", id, "error", err)
		writeError(w, http.StatusInternalServerError, "loading events failed")
		return
	}
	writeJSON(w, EventsResponse{RunID: id, Events: nonNil(events)})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
