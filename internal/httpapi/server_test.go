package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"barrun/internal/domain"
	"barrun/internal/metrics"
	"barrun/internal/store"
	"barrun/internal/strategy/builtins"
)

// memRuns is an in-memory RunStore.
type memRuns struct {
	runs      []store.Run
	lastLimit int
	err       error
}

func (m *memRuns) SaveRun(_ context.Context, run *store.Run) error {
	m.runs = append(m.runs, *run)
	return nil
}

func (m *memRuns) ListRuns(_ context.Context, limit int) ([]store.Run, error) {
	m.lastLimit = limit
	if m.err != nil {
		return nil, m.err
	}
	return m.runs, nil
}

func (m *memRuns) RunTrades(_ context.Context, id string) ([]domain.Trade, error) {
	for _, r := range m.runs {
		if r.ID == id {
			return r.Trades, nil
		}
	}
	return nil, nil
}

func (m *memRuns) RunEvents(_ context.Context, id string) ([]domain.Event, error) {
	for _, r := range m.runs {
		if r.ID == id {
			return r.Events, nil
		}
	}
	return nil, nil
}

func newTestServer(runs *memRuns, reg *prometheus.Registry) *httptest.Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var g prometheus.Gatherer
	if reg != nil {
		g = reg
	}
	return httptest.NewServer(NewRunServer(runs, builtins.NewRegistry(), g, logger).Handler())
}

func get(t *testing.T, url string, dst any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if dst != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			t.Fatalf("decoding %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func sampleRun() store.Run {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return store.Run{
		ID:        "run-1",
		CreatedAt: at,
		Summary:   domain.Summary{Strategy: "zscore-reversion", Symbol: "ETHUSDT", TotalTrades: 1},
		Trades: []domain.Trade{{
			PositionID: "p1", Side: domain.SideShort, Qty: 2, EntryPrice: 100, ExitPrice: 95,
			PnL: 10, ExitReason: domain.ExitZReversion,
		}},
		Events: []domain.Event{{Index: 3, Time: at, Kind: domain.EventEntry, Reason: "z_high"}},
	}
}

func TestListRuns(t *testing.T) {
	runs := &memRuns{runs: []store.Run{sampleRun()}}
	srv := newTestServer(runs, nil)
	defer srv.Close()

	var out []RunInfo
	if code := get(t, srv.URL+"/api/runs?limit=5", &out); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if runs.lastLimit != 5 {
		t.Errorf("limit passed to store = %d, want 5", runs.lastLimit)
	}
	if len(out) != 1 || out[0].ID != "run-1" || out[0].Summary.Symbol != "ETHUSDT" {
		t.Errorf("runs = %+v", out)
	}

	get(t, srv.URL+"/api/runs", nil)
	if runs.lastLimit != defaultRunLimit {
		t.Errorf("default limit = %d, want %d", runs.lastLimit, defaultRunLimit)
	}
	get(t, srv.URL+"/api/runs?limit=100000", nil)
	if runs.lastLimit != maxRunLimit {
		t.Errorf("capped limit = %d, want %d", runs.lastLimit, maxRunLimit)
	}
}

func TestListRunsErrors(t *testing.T) {
	runs := &memRuns{}
	srv := newTestServer(runs, nil)
	defer srv.Close()

	if code := get(t, srv.URL+"/api/runs?limit=abc", nil); code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", code)
	}
	runs.err = errors.New("database is locked")
	if code := get(t, srv.URL+"/api/runs", nil); code != http.StatusInternalServerError {
		t.Errorf("store failure status = %d, want 500", code)
	}
}

func TestRunTradesAndEvents(t *testing.T) {
	srv := newTestServer(&memRuns{runs: []store.Run{sampleRun()}}, nil)
	defer srv.Close()

	var trades TradesResponse
	get(t, srv.URL+"/api/runs/run-1/trades", &trades)
	if len(trades.Trades) != 1 || trades.Trades[0].ExitReason != domain.ExitZReversion {
		t.Errorf("trades = %+v", trades)
	}

	var events EventsResponse
	get(t, srv.URL+"/api/runs/run-1/events", &events)
	if len(events.Events) != 1 || events.Events[0].Reason != "z_high" {
		t.Errorf("events = %+v", events)
	}

	var missing TradesResponse
	get(t, srv.URL+"/api/runs/nope/trades", &missing)
	if missing.RunID != "nope" || missing.Trades == nil || len(missing.Trades) != 0 {
		t.Errorf("unknown run trades = %+v, want empty list", missing)
	}
}

func TestStrategies(t *testing.T) {
	srv := newTestServer(&memRuns{}, nil)
	defer srv.Close()

	var out []StrategyInfo
	get(t, srv.URL+"/api/strategies", &out)
	if len(out) != 6 {
		t.Fatalf("strategies = %d, want 6", len(out))
	}
	for _, s := range out {
		if len(s.Params) == 0 {
			t.Errorf("%s has no params", s.Name)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.New(reg).Run("band-reversion", "ok", 0.02)

	srv := newTestServer(&memRuns{}, reg)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `barrun_runs_total{outcome="ok",strategy="band-reversion"} 1`) {
		t.Errorf("metrics body missing run counter:\n%s", body)
	}
}

func TestMetricsDisabled(t *testing.T) {
	srv := newTestServer(&memRuns{}, nil)
	defer srv.Close()
	if code := get(t, srv.URL+"/metrics", nil); code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", code)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(&memRuns{}, nil)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/runs", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
}
