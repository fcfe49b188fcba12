// Package broker defines the Broker interface the engine emits orders to and
// provides the backtest ledger, a live Alpaca adapter and a mirror that
// replays history in the ledger while routing fresh orders live.
package broker

import (
	"context"

	"barrun/internal/domain"
)

// Broker abstracts order routing and account access.
type Broker interface {
	// Name returns the broker identifier (e.g. "alpaca", "simulator").
	Name() string

	// SubmitOrder sends an order for execution and returns the broker's view
	// of it, including any immediate fill.
	SubmitOrder(ctx context.Context, order *domain.Order) (*domain.Order, error)

	// CancelOrder requests cancellation of a resting order by its ID.
	CancelOrder(ctx context.Context, orderID string) error

	// GetAccount returns the current cash and equity.
	GetAccount(ctx context.Context) (*domain.EquityState, error)
}

// Ledger is a Broker that also simulates the passage of bars. The backtest
// loop drives it one bar at a time.
type Ledger interface {
	Broker

	// Advance moves the ledger to bar index, fills resting orders the bar
	// touches and marks holdings to the bar close.
	Advance(ctx context.Context, index int, bar domain.Bar) ([]domain.Fill, error)

	// Fills drains the fills produced by SubmitOrder since the last call.
	Fills() []domain.Fill
}
