// Package store defines storage interfaces for persisting and retrieving
// bar data, funding rates and completed backtest runs.
package store

import (
	"context"
	"time"

	"barrun/internal/domain"
)

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars under market and timeframe.
	WriteBars(ctx context.Context, market, timeframe string, bars []domain.Bar) error

	// ReadBars returns bars for symbol within [start, end], oldest first.
	// A zero start or end leaves that side unbounded.
	ReadBars(ctx context.Context, market, timeframe, symbol string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols stored for market and
	// timeframe.
	ListSymbols(ctx context.Context, market, timeframe string) ([]string, error)
}

// FundingStore persists and retrieves funding rate history.
type FundingStore interface {
	// WriteFunding persists a batch of funding rates under market.
	WriteFunding(ctx context.Context, market string, rates []domain.FundingRate) error

	// ReadFunding returns rates for symbol within [start, end], oldest
	// first. A zero start or end leaves that side unbounded.
	ReadFunding(ctx context.Context, market, symbol string, start, end time.Time) ([]domain.FundingRate, error)
}

// Run is a completed backtest as persisted.
type Run struct {
	ID        string
	CreatedAt time.Time
	Summary   domain.Summary
	Trades    []domain.Trade
	Events    []domain.Event
}

// RunStore persists completed backtest runs.
type RunStore interface {
	// SaveRun stores the summary, trades and events of a run atomically.
	SaveRun(ctx context.Context, run *Run) error

	// ListRuns returns the most recent runs, newest first, up to limit.
	// Trades and events are not loaded.
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	// RunTrades returns the trades of a run in close order.
	RunTrades(ctx context.Context, runID string) ([]domain.Trade, error)

	// RunEvents returns the journal of a run in emission order.
	RunEvents(ctx context.Context, runID string) ([]domain.Event, error)
}

func inRange(ts, start, end time.Time) bool {
	if !start.IsZero() && ts.Before(start) {
		return false
	}
	if !end.IsZero() && ts.After(end) {
		return false
	}
	return true
}
