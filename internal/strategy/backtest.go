package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"barrun/internal/broker"
	"barrun/internal/domain"
	"barrun/internal/engine"
	"barrun/internal/funding"
	"barrun/internal/indicator"
	"barrun/internal/metrics"
	"barrun/internal/store"
)

// Result is everything a completed run produced.
type Result struct {
	RunID   string
	Summary domain.Summary
	Trades  []domain.Trade
	Events  []domain.Event
	Equity  []domain.EquityPoint

	// Open holds positions still active after the last bar, marked into
	// FinalEquity but not counted as trades.
	Open []domain.Position
}

// Options configures the simulated account of a run.
type Options struct {
	Capital    float64
	Commission float64
}

// Request names a stored dataset to backtest.
type Request struct {
	Strategy  string
	Params    *yaml.Node
	Market    string
	Timeframe string
	Symbol    string
	Start     time.Time
	End       time.Time
	Options
}

// Backtester replays bars through a policy and computes performance
// metrics.
type Backtester struct {
	store    store.BarStore
	registry *Registry
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewBacktester creates a Backtester that reads bars from the given store
// and looks up strategies in the provided registry. barStore may be nil
// when only RunBars is used.
func NewBacktester(barStore store.BarStore, registry *Registry, logger *slog.Logger, m *metrics.Metrics) *Backtester {
	return &Backtester{
		store:    barStore,
		registry: registry,
		logger:   logger.With("component", "backtest"),
		metrics:  m,
	}
}

// Registry returns the policy registry.
func (bt *Backtester) Registry() *Registry { return bt.registry }

// LoadBars reads a stored dataset and merges funding rates when the store
// holds any for the symbol.
func (bt *Backtester) LoadBars(ctx context.Context, market, timeframe, symbol string, start, end time.Time) ([]domain.Bar, error) {
	if bt.store == nil {
		return nil, fmt.Errorf("no bar store configured")
	}
	bars, err := bt.store.ReadBars(ctx, market, timeframe, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("reading bars for %s: %w", symbol, err)
	}
	fs, ok := bt.store.(store.FundingStore)
	if !ok || len(bars) == 0 {
		return bars, nil
	}
	rates, err := fs.ReadFunding(ctx, market, symbol, time.Time{}, end)
	if err != nil {
		bt.logger.Warn("funding unavailable, running without it", "symbol", symbol, "error", err)
		return bars, nil
	}
	return funding.Merge(bars, rates), nil
}

// Run executes a backtest for the named strategy over a stored dataset.
func (bt *Backtester) Run(ctx context.Context, req Request) (*Result, error) {
	policy, err := bt.registry.New(req.Strategy, req.Params)
	if err != nil {
		return nil, err
	}
	bars, err := bt.LoadBars(ctx, req.Market, req.Timeframe, req.Symbol, req.Start, req.End)
	if err != nil {
		return nil, err
	}
	return bt.RunBars(ctx, policy, bars, req.Options)
}

// RunBars executes policy over bars against a fresh simulator ledger.
func (bt *Backtester) RunBars(ctx context.Context, policy Policy, bars []domain.Bar, opts Options) (*Result, error) {
	return bt.Execute(ctx, policy, bars, broker.NewSimulatorBroker(opts.Capital, opts.Commission))
}

// Execute drives policy over bars, emitting orders to ledger. A malformed
// feed fails the run before any statistics are produced.
func (bt *Backtester) Execute(ctx context.Context, policy Policy, bars []domain.Bar, ledger broker.Ledger) (*Result, error) {
	started := time.Now()
	res, err := bt.execute(ctx, policy, bars, ledger)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	bt.metrics.Run(policy.Name(), outcome, time.Since(started).Seconds())
	return res, err
}

func (bt *Backtester) execute(ctx context.Context, policy Policy, bars []domain.Bar, ledger broker.Ledger) (*Result, error) {
	if err := domain.ValidateBars(bars); err != nil {
		return nil, err
	}

	pipe := indicator.NewPipeline()
	policy.Indicators(pipe)
	frame, err := pipe.Compute(bars)
	if err != nil {
		return nil, err
	}

	acct, err := ledger.GetAccount(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading starting account: %w", err)
	}
	initial := acct.Equity

	ttl := 0
	if e, ok := policy.(Expirer); ok {
		ttl = e.OrderTTL()
	}
	pm := engine.NewPositionManager(engine.Config{
		Strategy:       policy.Name(),
		Symbol:         bars[0].Symbol,
		Sizer:          policy.Sizer(),
		InitialCapital: initial,
		MaxActive:      policy.MaxConcurrent(),
		OrderTTL:       ttl,
	}, ledger, bt.logger, bt.metrics)

	runID := uuid.NewString()
	log := bt.logger.With("run", runID, "strategy", policy.Name(), "symbol", bars[0].Symbol)
	log.Info("run started", "bars", len(bars), "initial_equity", initial, "broker", ledger.Name())

	required := policy.Required()
	multi := policy.MaxConcurrent() > 1
	curve := make([]domain.EquityPoint, 0, len(bars))

	for i, bar := range bars {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("run aborted at bar %d: %w", i, err)
		}

		fills, err := ledger.Advance(ctx, i, bar)
		if err != nil {
			return nil, fmt.Errorf("advancing ledger to bar %d: %w", i, err)
		}
		pm.ApplyFills(fills)
		if err := pm.Expire(ctx, i, bar); err != nil {
			return nil, err
		}
		bt.metrics.Bar(policy.Name())

		if err := bt.step(ctx, policy, pm, ledger, frame, bars, i, required, multi); err != nil {
			return nil, err
		}

		acct, err := ledger.GetAccount(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading account at bar %d: %w", i, err)
		}
		curve = append(curve, domain.EquityPoint{Time: bar.Timestamp, Equity: acct.Equity})
	}

	res := &Result{
		RunID:  runID,
		Trades: pm.Trades(),
		Events: pm.Events(),
		Equity: curve,
	}
	for _, p := range pm.Positions() {
		res.Open = append(res.Open, *p)
	}
	res.Summary = ComputeSummary(policy, bars, curve, res.Trades, initial)

	log.Info("run finished",
		"trades", res.Summary.TotalTrades,
		"final_equity", res.Summary.FinalEquity,
		"return_pct", res.Summary.TotalReturn,
		"open_positions", len(res.Open),
	)
	return res, nil
}

// step evaluates one bar: exits for positions filled on earlier bars, then,
// if nothing exited, entries.
func (bt *Backtester) step(
	ctx context.Context,
	policy Policy,
	pm *engine.PositionManager,
	ledger broker.Ledger,
	frame *indicator.Frame,
	bars []domain.Bar,
	i int,
	required []string,
	multi bool,
) error {
	bar := bars[i]
	if name, ok := frame.At(i).Defined(required...); !ok {
		pm.Skip(i, bar, domain.ReasonIndicatorUndefined)
		bt.logger.Debug("indicator undefined", "index", i, "indicator", name)
		return nil
	}

	acct, err := ledger.GetAccount(ctx)
	if err != nil {
		return fmt.Errorf("reading account at bar %d: %w", i, err)
	}
	st := &State{
		Index:   i,
		Bar:     bar,
		Ind:     frame.At(i),
		PrevInd: frame.At(i - 1),
		Account: *acct,
	}
	if i > 0 {
		st.Prev = bars[i-1]
		st.HasPrev = true
	}

	exited := false
	for _, p := range pm.OpenPositions() {
		if p.EntryIndex >= i {
			continue
		}
		sig, ok := policy.OnBarExit(st, p)
		if !ok {
			continue
		}
		if err := pm.Exit(ctx, i, bar, p, sig); err != nil {
			return err
		}
		exited = true
	}
	if exited {
		return nil
	}
	if !multi && pm.State() != engine.StateFlat {
		return nil
	}

	intent := policy.OnBarEntry(st)
	if !intent.Active() {
		return nil
	}
	return pm.Enter(ctx, i, bar, intent, st.Account)
}
