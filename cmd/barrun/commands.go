package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"barrun/internal/broker"
	"barrun/internal/config"
	"barrun/internal/domain"
	"barrun/internal/feed"
	"barrun/internal/funding"
	"barrun/internal/metrics"
	"barrun/internal/store"
	"barrun/internal/strategy"
	"barrun/internal/strategy/builtins"
)

type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

// ---------------------------------------------------------------------------
// Shared wiring
// ---------------------------------------------------------------------------

func (a *app) backtester(m *metrics.Metrics) (*strategy.Backtester, *store.ParquetStore) {
	pstore := store.NewParquetStore(a.cfg.Storage.DataDir)
	return strategy.NewBacktester(pstore, builtins.NewRegistry(), a.logger, m), pstore
}

func (a *app) fundingClient() *funding.Client {
	timeout := time.Duration(a.cfg.Funding.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return funding.NewClient(a.cfg.Funding.BaseURL, a.logger,
		funding.WithHTTPClient(&http.Client{Timeout: timeout}),
		funding.WithRateLimit(a.cfg.Funding.RateLimitPerMin, a.cfg.Funding.RateLimitBurst),
		funding.WithPageLimit(a.cfg.Funding.PageLimit),
	)
}

func (a *app) runStore() (*store.SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(a.cfg.Storage.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	return store.NewSQLiteStore(a.cfg.Storage.SQLitePath)
}

func (a *app) saveRun(ctx context.Context, rs store.RunStore, res *strategy.Result) error {
	run := &store.Run{
		ID:        res.RunID,
		CreatedAt: time.Now().UTC(),
		Summary:   res.Summary,
		Trades:    res.Trades,
		Events:    res.Events,
	}
	if err := rs.SaveRun(ctx, run); err != nil {
		return err
	}
	a.logger.Info("run saved", "run", res.RunID, "path", a.cfg.Storage.SQLitePath)
	return nil
}

// window parses optional start/end flags.
func window(start, end string) (time.Time, time.Time, error) {
	var s, e time.Time
	var err error
	if start != "" {
		if s, err = feed.ParseTime(start); err != nil {
			return s, e, fmt.Errorf("start: %w", err)
		}
	}
	if end != "" {
		if e, err = feed.ParseTime(end); err != nil {
			return s, e, fmt.Errorf("end: %w", err)
		}
	}
	return s, e, nil
}

func clip(bars []domain.Bar, start, end time.Time) []domain.Bar {
	out := bars[:0:0]
	for _, b := range bars {
		if (!start.IsZero() && b.Timestamp.Before(start)) || (!end.IsZero() && b.Timestamp.After(end)) {
			continue
		}
		out = append(out, b)
	}
	return out
}

func writeMetrics(path string, reg *prometheus.Registry) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// strategies
// ---------------------------------------------------------------------------

func (a *app) strategies(args []string) error {
	fs := flag.NewFlagSet("strategies", flag.ExitOnError)
	fs.Parse(args)

	reg := builtins.NewRegistry()
	for _, name := range reg.List() {
		p, err := reg.New(name, a.cfg.StrategyParams(name))
		if err != nil {
			return err
		}
		fmt.Println(name)
		for _, param := range p.Params() {
			fmt.Printf("  %-18s %v\n", param.Name, param.Value)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// ingest
// ---------------------------------------------------------------------------

func (a *app) ingest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	csvPath := fs.String("csv", "", "CSV bar feed to import (required)")
	symbol := fs.String("symbol", "", "symbol the feed belongs to (required)")
	market := fs.String("market", a.cfg.Backtest.Market, "market directory")
	timeframe := fs.String("timeframe", a.cfg.Backtest.Timeframe, "timeframe of the feed")
	resample := fs.String("resample", "", "aggregate to this timeframe before storing (e.g. 4h, 1d)")
	fs.Parse(args)

	if *csvPath == "" || *symbol == "" {
		fs.Usage()
		return errors.New("-csv and -symbol are required")
	}

	bars, err := feed.ReadCSVFile(*csvPath, strings.ToUpper(*symbol))
	if err != nil {
		return err
	}
	if err := domain.ValidateBars(bars); err != nil {
		return err
	}
	tf := *timeframe
	if *resample != "" {
		d, err := feed.ParseTimeframe(*resample)
		if err != nil {
			return fmt.Errorf("resample: %w", err)
		}
		bars = feed.Resample(bars, d)
		tf = *resample
	}

	pstore := store.NewParquetStore(a.cfg.Storage.DataDir)
	if err := pstore.WriteBars(ctx, *market, tf, bars); err != nil {
		return err
	}
	a.logger.Info("bars ingested",
		"symbol", bars[0].Symbol,
		"market", *market,
		"timeframe", tf,
		"bars", len(bars),
		"start", bars[0].Timestamp,
		"end", bars[len(bars)-1].Timestamp,
	)
	return nil
}

// ---------------------------------------------------------------------------
// funding
// ---------------------------------------------------------------------------

func (a *app) funding(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("funding", flag.ExitOnError)
	symbol := fs.String("symbol", "", "perpetual symbol, e.g. BTCUSDT or BTC/USDT (required)")
	market := fs.String("market", a.cfg.Backtest.Market, "market directory")
	start := fs.String("start", "", "first settlement to fetch (default: 30 days ago)")
	end := fs.String("end", "", "last settlement to fetch (default: now)")
	fs.Parse(args)

	if *symbol == "" {
		fs.Usage()
		return errors.New("-symbol is required")
	}
	from, to, err := window(*start, *end)
	if err != nil {
		return err
	}
	if to.IsZero() {
		to = time.Now().UTC()
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -30)
	}

	rates, err := a.fundingClient().FetchHistory(ctx, *symbol, from, to)
	if err != nil {
		return err
	}
	pstore := store.NewParquetStore(a.cfg.Storage.DataDir)
	if err := pstore.WriteFunding(ctx, *market, rates); err != nil {
		return err
	}
	a.logger.Info("funding stored", "symbol", funding.NormalizeSymbol(*symbol), "rates", len(rates))
	return nil
}

// ---------------------------------------------------------------------------
// backtest
// ---------------------------------------------------------------------------

type runFlags struct {
	strategy   *string
	market     *string
	timeframe  *string
	start      *string
	end        *string
	cash       *float64
	commission *float64
	asJSON     *bool
	save       *bool
	metrics    *string
}

func (a *app) runFlagSet(name string) (*flag.FlagSet, *runFlags) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	return fs, &runFlags{
		strategy:   fs.String("strategy", "", "strategy name (see 'barrun strategies')"),
		market:     fs.String("market", a.cfg.Backtest.Market, "market directory"),
		timeframe:  fs.String("timeframe", a.cfg.Backtest.Timeframe, "stored timeframe"),
		start:      fs.String("start", "", "first bar time"),
		end:        fs.String("end", "", "last bar time"),
		cash:       fs.Float64("cash", a.cfg.Backtest.Cash, "starting capital"),
		commission: fs.Float64("commission", a.cfg.Backtest.Commission, "fee as a fraction of notional"),
		asJSON:     fs.Bool("json", false, "print JSON instead of text"),
		save:       fs.Bool("save", false, "persist the run to SQLite"),
		metrics:    fs.String("metrics", "", "write Prometheus metrics to this textfile"),
	}
}

func (a *app) backtest(ctx context.Context, args []string) error {
	fs, rf := a.runFlagSet("backtest")
	symbol := fs.String("symbol", "", "symbol to test (required)")
	csvPath := fs.String("csv", "", "read bars from this CSV instead of the store")
	fetchFunding := fs.Bool("fetch-funding", false, "download funding rates for the run window")
	showTrades := fs.Bool("trades", false, "list closed trades")
	fs.Parse(args)

	if *rf.strategy == "" || (*symbol == "" && *csvPath == "") {
		fs.Usage()
		return errors.New("-strategy and -symbol (or -csv) are required")
	}
	start, end, err := window(*rf.start, *rf.end)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	bt, _ := a.backtester(metrics.New(reg))
	policy, err := bt.Registry().New(*rf.strategy, a.cfg.StrategyParams(*rf.strategy))
	if err != nil {
		return err
	}

	var bars []domain.Bar
	if *csvPath != "" {
		sym := strings.ToUpper(*symbol)
		if sym == "" {
			sym = strings.ToUpper(strings.TrimSuffix(filepath.Base(*csvPath), filepath.Ext(*csvPath)))
		}
		if bars, err = feed.ReadCSVFile(*csvPath, sym); err != nil {
			return err
		}
		bars = clip(bars, start, end)
	} else if bars, err = bt.LoadBars(ctx, *rf.market, *rf.timeframe, *symbol, start, end); err != nil {
		return err
	}

	if *fetchFunding && len(bars) > 0 {
		rates := a.fundingClient().Fetch(ctx, bars[0].Symbol, bars[0].Timestamp, bars[len(bars)-1].Timestamp)
		bars = funding.Merge(bars, rates)
	}

	res, err := bt.RunBars(ctx, policy, bars, strategy.Options{Capital: *rf.cash, Commission: *rf.commission})
	if err != nil {
		return err
	}

	if err := printResult(res, *rf.asJSON, *showTrades); err != nil {
		return err
	}
	if *rf.save {
		rs, err := a.runStore()
		if err != nil {
			return err
		}
		defer rs.Close()
		if err := a.saveRun(ctx, rs, res); err != nil {
			return err
		}
	}
	return writeMetrics(*rf.metrics, reg)
}

type resultJSON struct {
	RunID   string            `json:"run_id"`
	Summary domain.Summary    `json:"summary"`
	Trades  []domain.Trade    `json:"trades,omitempty"`
	Open    []domain.Position `json:"open_positions,omitempty"`
}

func printResult(res *strategy.Result, asJSON, showTrades bool) error {
	if asJSON {
		out := resultJSON{RunID: res.RunID, Summary: res.Summary, Open: res.Open}
		if showTrades {
			out.Trades = res.Trades
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if err := res.Summary.WriteText(os.Stdout); err != nil {
		return err
	}
	if len(res.Open) > 0 {
		fmt.Printf("%-18s %d (marked to market)\n", "Open Positions", len(res.Open))
	}
	if !showTrades || len(res.Trades) == 0 {
		return nil
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tSIDE\tQTY\tENTRY\tEXIT\tENTRY TIME\tEXIT TIME\tPNL\tREASON")
	for i, t := range res.Trades {
		fmt.Fprintf(w, "%d\t%s\t%g\t%.4f\t%.4f\t%s\t%s\t%.2f\t%s\n",
			i+1, t.Side, t.Qty, t.EntryPrice, t.ExitPrice,
			t.EntryTime.Format(time.RFC3339), t.ExitTime.Format(time.RFC3339), t.PnL, t.ExitReason)
	}
	return w.Flush()
}

// ---------------------------------------------------------------------------
// batch
// ---------------------------------------------------------------------------

func (a *app) batch(ctx context.Context, args []string) error {
	fs, rf := a.runFlagSet("batch")
	symbols := fs.String("symbols", "", "comma-separated symbols (default: every stored symbol)")
	workers := fs.Int("workers", a.cfg.Batch.Workers, "parallel runs (0 = GOMAXPROCS)")
	fs.Parse(args)

	if *rf.strategy == "" {
		fs.Usage()
		return errors.New("-strategy is required")
	}
	start, end, err := window(*rf.start, *rf.end)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	bt, pstore := a.backtester(metrics.New(reg))

	var syms []string
	if *symbols != "" {
		for _, s := range strings.Split(*symbols, ",") {
			if s = strings.TrimSpace(s); s != "" {
				syms = append(syms, strings.ToUpper(s))
			}
		}
	} else if syms, err = pstore.ListSymbols(ctx, *rf.market, *rf.timeframe); err != nil {
		return err
	}
	if len(syms) == 0 {
		return fmt.Errorf("no symbols stored under %s/%s", *rf.market, *rf.timeframe)
	}

	reqs := make([]strategy.Request, 0, len(syms))
	for _, s := range syms {
		reqs = append(reqs, strategy.Request{
			Strategy:  *rf.strategy,
			Params:    a.cfg.StrategyParams(*rf.strategy),
			Market:    *rf.market,
			Timeframe: *rf.timeframe,
			Symbol:    s,
			Start:     start,
			End:       end,
			Options:   strategy.Options{Capital: *rf.cash, Commission: *rf.commission},
		})
	}

	results, err := strategy.NewBatch(bt, *workers).Run(ctx, reqs)
	if err != nil {
		return err
	}

	var rs *store.SQLiteStore
	if *rf.save {
		if rs, err = a.runStore(); err != nil {
			return err
		}
		defer rs.Close()
	}

	if *rf.asJSON {
		var out []resultJSON
		for _, r := range results {
			if r.Err == nil {
				out = append(out, resultJSON{RunID: r.Result.RunID, Summary: r.Result.Summary})
			}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}
	} else {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SYMBOL\tBARS\tTRADES\tRETURN %\tMAX DD %\tWIN %\tSHARPE\tERROR")
		for _, r := range results {
			if r.Err != nil {
				fmt.Fprintf(w, "%s\t-\t-\t-\t-\t-\t-\t%v\n", r.Request.Symbol, r.Err)
				continue
			}
			s := r.Result.Summary
			fmt.Fprintf(w, "%s\t%d\t%d\t%.2f\t%.2f\t%.1f\t%.2f\t\n",
				s.Symbol, s.Bars, s.TotalTrades, s.TotalReturn, s.MaxDrawdown, s.WinRate, s.SharpeRatio)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	if rs != nil {
		for _, r := range results {
			if r.Err != nil {
				continue
			}
			if err := a.saveRun(ctx, rs, r.Result); err != nil {
				return err
			}
		}
	}
	return writeMetrics(*rf.metrics, reg)
}

// ---------------------------------------------------------------------------
// runs
// ---------------------------------------------------------------------------

func (a *app) runs(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	limit := fs.Int("limit", 20, "number of runs to list")
	trades := fs.String("trades", "", "print the trades of this run ID")
	events := fs.String("events", "", "print the journal of this run ID")
	fs.Parse(args)

	rs, err := a.runStore()
	if err != nil {
		return err
	}
	defer rs.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	switch {
	case *trades != "":
		ts, err := rs.RunTrades(ctx, *trades)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "SIDE\tQTY\tENTRY\tEXIT\tBARS\tPNL\tREASON")
		for _, t := range ts {
			fmt.Fprintf(w, "%s\t%g\t%.4f\t%.4f\t%d\t%.2f\t%s\n",
				t.Side, t.Qty, t.EntryPrice, t.ExitPrice, t.ExitIndex-t.EntryIndex, t.PnL, t.ExitReason)
		}
	case *events != "":
		es, err := rs.RunEvents(ctx, *events)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "BAR\tTIME\tKIND\tREASON\tSIDE\tPRICE\tQTY")
		for _, e := range es {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%.4f\t%g\n",
				e.Index, e.Time.Format(time.RFC3339), e.Kind, e.Reason, e.Side, e.Price, e.Qty)
		}
	default:
		list, err := rs.ListRuns(ctx, *limit)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "ID\tCREATED\tSTRATEGY\tSYMBOL\tTRADES\tRETURN %\tMAX DD %")
		for _, r := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%.2f\t%.2f\n",
				r.ID, r.CreatedAt.Format(time.RFC3339), r.Summary.Strategy, r.Summary.Symbol,
				r.Summary.TotalTrades, r.Summary.TotalReturn, r.Summary.MaxDrawdown)
		}
	}
	return w.Flush()
}

// ---------------------------------------------------------------------------
// signal
// ---------------------------------------------------------------------------

func (a *app) signal(ctx context.Context, args []string) error {
	fs, rf := a.runFlagSet("signal")
	symbol := fs.String("symbol", "", "symbol to trade (required)")
	since := fs.String("since", "", "route orders stamped at or after this time (default: last bar)")
	fs.Parse(args)

	if *rf.strategy == "" || *symbol == "" {
		fs.Usage()
		return errors.New("-strategy and -symbol are required")
	}
	if a.cfg.Alpaca.APIKey == "" || a.cfg.Alpaca.APISecret == "" {
		return errors.New("alpaca credentials are not configured (APCA_API_KEY_ID, APCA_API_SECRET_KEY)")
	}
	start, end, err := window(*rf.start, *rf.end)
	if err != nil {
		return err
	}

	bt, _ := a.backtester(nil)
	policy, err := bt.Registry().New(*rf.strategy, a.cfg.StrategyParams(*rf.strategy))
	if err != nil {
		return err
	}
	bars, err := bt.LoadBars(ctx, *rf.market, *rf.timeframe, *symbol, start, end)
	if err != nil {
		return err
	}
	if len(bars) == 0 {
		return fmt.Errorf("%w: no bars for %s", domain.ErrMalformedFeed, *symbol)
	}

	cutoff := bars[len(bars)-1].Timestamp
	if *since != "" {
		if cutoff, err = feed.ParseTime(*since); err != nil {
			return fmt.Errorf("since: %w", err)
		}
	}

	live := broker.NewAlpacaBroker(a.cfg.Alpaca.APIKey, a.cfg.Alpaca.APISecret, a.cfg.Alpaca.BaseURL, a.cfg.Alpaca.TimeInForce)
	mirror := broker.NewMirrorBroker(broker.NewSimulatorBroker(*rf.cash, *rf.commission), live, cutoff, a.logger)

	res, err := bt.Execute(ctx, policy, bars, mirror)
	if err != nil {
		return err
	}

	routed := mirror.Routed()
	a.logger.Info("signal run finished",
		"strategy", policy.Name(),
		"symbol", bars[0].Symbol,
		"since", cutoff,
		"routed", len(routed),
		"open_positions", len(res.Open),
	)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSYMBOL\tSIDE\tTYPE\tQTY\tLIMIT\tSTATUS\tREASON")
	for _, o := range routed {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%g\t%g\t%s\t%s\n",
			o.ID, o.Symbol, o.Side, o.Type, o.Qty, o.LimitPrice, o.Status, o.Reason)
	}
	return w.Flush()
}
