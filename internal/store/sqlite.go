package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"barrun/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ RunStore = (*SQLiteStore)(nil)

// SQLiteStore implements RunStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStoreFromDB wraps an already opened database. The schema is not
// applied; call Migrate when needed.
func NewSQLiteStoreFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Schema
// ---------------------------------------------------------------------------

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id             TEXT PRIMARY KEY,
		created_at     INTEGER NOT NULL,
		strategy       TEXT NOT NULL,
		symbol         TEXT NOT NULL,
		start_time     INTEGER NOT NULL,
		end_time       INTEGER NOT NULL,
		bars           INTEGER NOT NULL,
		initial_equity REAL NOT NULL,
		final_equity   REAL NOT NULL,
		total_return   REAL NOT NULL,
		max_drawdown   REAL NOT NULL,
		total_trades   INTEGER NOT NULL,
		win_rate       REAL NOT NULL,
		profit_factor  REAL NOT NULL,
		sharpe_ratio   REAL NOT NULL,
		params         TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS trades (
		run_id      TEXT NOT NULL REFERENCES runs(id),
		seq         INTEGER NOT NULL,
		position_id TEXT NOT NULL,
		setup_id    TEXT NOT NULL,
		symbol      TEXT NOT NULL,
		side        TEXT NOT NULL,
		qty         REAL NOT NULL,
		entry_price REAL NOT NULL,
		exit_price  REAL NOT NULL,
		entry_index INTEGER NOT NULL,
		exit_index  INTEGER NOT NULL,
		entry_time  INTEGER NOT NULL,
		exit_time   INTEGER NOT NULL,
		pnl         REAL NOT NULL,
		fees        REAL NOT NULL,
		exit_reason TEXT NOT NULL,
		PRIMARY KEY (run_id, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		run_id      TEXT NOT NULL REFERENCES runs(id),
		seq         INTEGER NOT NULL,
		bar_index   INTEGER NOT NULL,
		time        INTEGER NOT NULL,
		kind        TEXT NOT NULL,
		reason      TEXT NOT NULL,
		position_id TEXT NOT NULL,
		side        TEXT NOT NULL,
		price       REAL NOT NULL,
		qty         REAL NOT NULL,
		PRIMARY KEY (run_id, seq)
	)`,
	`CREATE INDEX IF NOT EXISTS runs_created_at ON runs(created_at)`,
}

// Migrate creates the tables if they do not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrating schema: %w", err)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// RunStore implementation
// ---------------------------------------------------------------------------

// SaveRun inserts the run, its trades and its events in one transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *Run) error {
	params, err := json.Marshal(run.Summary.Params)
	if err != nil {
		return fmt.Errorf("encoding params: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning run %s: %w", run.ID, err)
	}
	defer tx.Rollback() //nolint:errcheck

	sum := run.Summary
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, created_at, strategy, symbol, start_time, end_time, bars,
			initial_equity, final_equity, total_return, max_drawdown, total_trades,
			win_rate, profit_factor, sharpe_ratio, params)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.CreatedAt.UnixNano(), sum.Strategy, sum.Symbol,
		sum.Start.UnixNano(), sum.End.UnixNano(), sum.Bars,
		sum.InitialEquity, sum.FinalEquity, sum.TotalReturn, sum.MaxDrawdown, sum.TotalTrades,
		sum.WinRate, sum.ProfitFactor, sum.SharpeRatio, string(params),
	); err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}

	for i, t := range run.Trades {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO trades (run_id, seq, position_id, setup_id, symbol, side, qty,
				entry_price, exit_price, entry_index, exit_index, entry_time, exit_time,
				pnl, fees, exit_reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, i, t.PositionID, t.SetupID, t.Symbol, string(t.Side), t.Qty,
			t.EntryPrice, t.ExitPrice, t.EntryIndex, t.ExitIndex,
			t.EntryTime.UnixNano(), t.ExitTime.UnixNano(),
			t.PnL, t.Fees, string(t.ExitReason),
		); err != nil {
			return fmt.Errorf("inserting trade %d of run %s: %w", i, run.ID, err)
		}
	}

	for i, e := range run.Events {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO events (run_id, seq, bar_index, time, kind, reason, position_id, side, price, qty)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, i, e.Index, e.Time.UnixNano(), string(e.Kind), e.Reason,
			e.PositionID, string(e.Side), e.Price, e.Qty,
		); err != nil {
			return fmt.Errorf("inserting event %d of run %s: %w", i, run.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing run %s: %w", run.ID, err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, strategy, symbol, start_time, end_time, bars,
			initial_equity, final_equity, total_return, max_drawdown, total_trades,
			win_rate, profit_factor, sharpe_ratio, params
		FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r                   Run
			created, start, end int64
			params              string
		)
		sum := &r.Summary
		if err := rows.Scan(&r.ID, &created, &sum.Strategy, &sum.Symbol, &start, &end, &sum.Bars,
			&sum.InitialEquity, &sum.FinalEquity, &sum.TotalReturn, &sum.MaxDrawdown, &sum.TotalTrades,
			&sum.WinRate, &sum.ProfitFactor, &sum.SharpeRatio, &params); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.CreatedAt = fromNanos(created)
		sum.Start = fromNanos(start)
		sum.End = fromNanos(end)
		if err := json.Unmarshal([]byte(params), &sum.Params); err != nil {
			return nil, fmt.Errorf("decoding params of run %s: %w", r.ID, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RunTrades returns the trades of a run in close order.
func (s *SQLiteStore) RunTrades(ctx context.Context, runID string) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT position_id, setup_id, symbol, side, qty, entry_price, exit_price,
			entry_index, exit_index, entry_time, exit_time, pnl, fees, exit_reason
		FROM trades WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying trades of run %s: %w", runID, err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var (
			t               domain.Trade
			side, reason    string
			entryAt, exitAt int64
		)
		if err := rows.Scan(&t.PositionID, &t.SetupID, &t.Symbol, &side, &t.Qty, &t.EntryPrice, &t.ExitPrice,
			&t.EntryIndex, &t.ExitIndex, &entryAt, &exitAt, &t.PnL, &t.Fees, &reason); err != nil {
			return nil, fmt.Errorf("scanning trade: %w", err)
		}
		t.Side = domain.Side(side)
		t.ExitReason = domain.ExitReason(reason)
		t.EntryTime = fromNanos(entryAt)
		t.ExitTime = fromNanos(exitAt)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// RunEvents returns the journal of a run in emission order.
func (s *SQLiteStore) RunEvents(ctx context.Context, runID string) ([]domain.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT bar_index, time, kind, reason, position_id, side, price, qty
		FROM events WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying events of run %s: %w", runID, err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var (
			e          domain.Event
			at         int64
			kind, side string
		)
		if err := rows.Scan(&e.Index, &at, &kind, &e.Reason, &e.PositionID, &side, &e.Price, &e.Qty); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.Time = fromNanos(at)
		e.Kind = domain.EventKind(kind)
		e.Side = domain.Side(side)
		events = append(events, e)
	}
	return events, rows.Err()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
