// Package engine owns the position lifecycle of a run: it sizes entries,
// emits orders to a broker ledger, applies fills and records the journal.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"barrun/internal/broker"
	"barrun/internal/domain"
	"barrun/internal/metrics"
)

// State is the aggregate lifecycle state of the manager.
type State string

const (
	StateFlat            State = "flat"
	StateEnteringPending State = "entering_pending"
	StateOpen            State = "open"
)

// Config parameterises a PositionManager.
type Config struct {
	Strategy string
	Symbol   string
	Sizer    RiskSizer

	// InitialCapital is the equity at run start, used by BasisInitial.
	InitialCapital float64

	// MaxActive caps concurrently active setups. A setup is active while any
	// of its legs is pending or open. Values below 1 mean 1.
	MaxActive int

	// OrderTTL cancels resting entry orders this many bars after they were
	// placed. Zero keeps them until filled.
	OrderTTL int
}

// PositionManager is the Flat / EnteringPending / Open state machine for
// one run. It is not safe for concurrent use.
type PositionManager struct {
	cfg     Config
	ledger  broker.Ledger
	logger  *slog.Logger
	metrics *metrics.Metrics

	active     []*domain.Position
	exitReason map[string]domain.ExitReason
	trades     []domain.Trade
	events     []domain.Event
}

// NewPositionManager creates a manager emitting orders to ledger.
func NewPositionManager(cfg Config, ledger broker.Ledger, logger *slog.Logger, m *metrics.Metrics) *PositionManager {
	if cfg.MaxActive < 1 {
		cfg.MaxActive = 1
	}
	return &PositionManager{
		cfg:        cfg,
		ledger:     ledger,
		logger:     logger.With("component", "engine", "strategy", cfg.Strategy),
		metrics:    m,
		exitReason: make(map[string]domain.ExitReason),
	}
}

// State derives the aggregate state from the active positions.
func (pm *PositionManager) State() State {
	state := StateFlat
	for _, p := range pm.active {
		if p.IsOpen() {
			return StateOpen
		}
		state = StateEnteringPending
	}
	return state
}

// Positions returns the active (pending or open) positions.
func (pm *PositionManager) Positions() []*domain.Position {
	return pm.active
}

// OpenPositions returns the filled positions in entry order.
func (pm *PositionManager) OpenPositions() []*domain.Position {
	var out []*domain.Position
	for _, p := range pm.active {
		if p.IsOpen() {
			out = append(out, p)
		}
	}
	return out
}

// ActiveSetups counts distinct setups with at least one active leg.
func (pm *PositionManager) ActiveSetups() int {
	seen := make(map[string]struct{}, len(pm.active))
	for _, p := range pm.active {
		seen[p.SetupID] = struct{}{}
	}
	return len(seen)
}

// CanEnter reports whether another setup fits under the cap.
func (pm *PositionManager) CanEnter() bool {
	return pm.ActiveSetups() < pm.cfg.MaxActive
}

// Trades returns closed round trips in close order.
func (pm *PositionManager) Trades() []domain.Trade { return pm.trades }

// Events returns the journal.
func (pm *PositionManager) Events() []domain.Event { return pm.events }

// Skip journals a bar on which nothing was done.
func (pm *PositionManager) Skip(index int, bar domain.Bar, reason string) {
	pm.record(domain.Event{Index: index, Time: bar.Timestamp, Kind: domain.EventSkip, Reason: reason})
	pm.metrics.Skip(pm.cfg.Strategy, reason)
	pm.logger.Debug("bar skipped", "index", index, "reason", reason)
}

// Refuse journals a qualifying entry that was not placed.
func (pm *PositionManager) Refuse(index int, bar domain.Bar, reason string) {
	pm.record(domain.Event{Index: index, Time: bar.Timestamp, Kind: domain.EventRefused, Reason: reason})
	pm.metrics.Refusal(pm.cfg.Strategy, reason)
	pm.logger.Info("entry refused", "index", index, "reason", reason, "active_setups", pm.ActiveSetups())
}

// ApplyFills moves pending legs to open and closes positions whose exit
// orders filled.
func (pm *PositionManager) ApplyFills(fills []domain.Fill) {
	for _, f := range fills {
		p := pm.find(f.PositionID)
		if p == nil {
			pm.logger.Warn("fill for unknown position", "position", f.PositionID, "order", f.OrderID)
			continue
		}
		switch f.Purpose {
		case domain.PurposeEntry:
			pm.open(p, f)
		case domain.PurposeExit:
			pm.close(p, f)
		}
	}
}

// Enter sizes intent against acct and emits the entry order(s). A size
// that rounds to nothing is journaled as a skip and is not an error.
func (pm *PositionManager) Enter(ctx context.Context, index int, bar domain.Bar, intent domain.Intent, acct domain.EquityState) error {
	if !intent.Active() {
		return nil
	}
	if !pm.CanEnter() {
		pm.Refuse(index, bar, domain.ReasonConcurrencyLimit)
		return nil
	}

	basis := pm.cfg.Sizer.BasisValue(acct, pm.cfg.InitialCapital)
	qty, ok := pm.cfg.Sizer.Size(basis, intent.StopDistance, bar.Close)
	if !ok {
		pm.record(domain.Event{Index: index, Time: bar.Timestamp, Kind: domain.EventSkip, Reason: domain.ReasonNonPositiveSize})
		pm.metrics.Skip(pm.cfg.Strategy, domain.ReasonNonPositiveSize)
		pm.logger.Info("entry skipped", "index", index, "reason", domain.ReasonNonPositiveSize,
			"basis", basis, "stop_distance", intent.StopDistance)
		return nil
	}

	setupID := uuid.NewString()
	switch intent.Kind {
	case domain.IntentEnterLong:
		return pm.submitEntry(ctx, index, bar, pm.newPosition(setupID, domain.SideLong, qty, index, intent), intent, domain.OrderTypeMarket)
	case domain.IntentEnterShort:
		return pm.submitEntry(ctx, index, bar, pm.newPosition(setupID, domain.SideShort, qty, index, intent), intent, domain.OrderTypeMarket)
	case domain.IntentMakerPair:
		bid := pm.newPosition(setupID, domain.SideLong, qty, index, intent)
		bid.LimitPrice = bar.Close - intent.LimitOffset
		bid.StopLoss = domain.Some(bid.LimitPrice - intent.StopOffset)
		bid.TakeProfit = domain.Some(bid.LimitPrice + intent.TargetOffset)

		ask := pm.newPosition(setupID, domain.SideShort, qty, index, intent)
		ask.LimitPrice = bar.Close + intent.LimitOffset
		ask.StopLoss = domain.Some(ask.LimitPrice + intent.StopOffset)
		ask.TakeProfit = domain.Some(ask.LimitPrice - intent.TargetOffset)

		if bid.LimitPrice <= 0 {
			pm.record(domain.Event{Index: index, Time: bar.Timestamp, Kind: domain.EventSkip, Reason: domain.ReasonNonPositivePrice})
			pm.metrics.Skip(pm.cfg.Strategy, domain.ReasonNonPositivePrice)
			pm.logger.Info("entry skipped", "index", index, "reason", domain.ReasonNonPositivePrice,
				"bid", bid.LimitPrice)
			return nil
		}
		if err := pm.submitEntry(ctx, index, bar, bid, intent, domain.OrderTypeLimit); err != nil {
			return err
		}
		return pm.submitEntry(ctx, index, bar, ask, intent, domain.OrderTypeLimit)
	default:
		return fmt.Errorf("unsupported intent %q", intent.Kind)
	}
}

// Exit emits the closing order for an open position. With a price the exit
// is a stop or limit at that level, otherwise a market order at the bar
// close.
func (pm *PositionManager) Exit(ctx context.Context, index int, bar domain.Bar, p *domain.Position, sig domain.ExitSignal) error {
	order := &domain.Order{
		ID:         uuid.NewString(),
		PositionID: p.ID,
		SetupID:    p.SetupID,
		Symbol:     p.Symbol,
		Side:       p.ExitSide(),
		Type:       domain.OrderTypeMarket,
		Purpose:    domain.PurposeExit,
		Qty:        p.Qty,
		Reason:     string(sig.Reason),
	}
	if level, ok := sig.Price.Get(); ok {
		if sig.Stop {
			order.Type = domain.OrderTypeStop
			order.StopPrice = level
		} else {
			order.Type = domain.OrderTypeLimit
			order.LimitPrice = level
		}
	}
	placed, err := pm.ledger.SubmitOrder(ctx, order)
	if err != nil {
		return fmt.Errorf("submitting %s exit for %s: %w", sig.Reason, p.ID, err)
	}

	price := bar.Close
	switch {
	case placed != nil && placed.Status == domain.OrderStatusFilled:
		price = placed.FilledAvgPrice
	case order.Type == domain.OrderTypeLimit:
		price = order.LimitPrice
	case order.Type == domain.OrderTypeStop:
		price = order.StopPrice
	}
	pm.record(domain.Event{
		Index: index, Time: bar.Timestamp, Kind: domain.EventExit, Reason: string(sig.Reason),
		PositionID: p.ID, Side: p.Side, Price: price, Qty: p.Qty,
	})
	pm.metrics.Exit(pm.cfg.Strategy, string(sig.Reason))
	pm.logger.Info("exit",
		"index", index,
		"reason", sig.Reason,
		"side", p.Side,
		"entry", p.EntryPrice,
		"price", price,
		"bars_held", index-p.EntryIndex,
	)

	pm.exitReason[p.ID] = sig.Reason
	pm.ApplyFills(pm.ledger.Fills())
	return nil
}

// Expire cancels resting entry orders older than the configured TTL.
func (pm *PositionManager) Expire(ctx context.Context, index int, bar domain.Bar) error {
	if pm.cfg.OrderTTL <= 0 {
		return nil
	}
	for _, p := range append([]*domain.Position(nil), pm.active...) {
		if !p.IsPending() || index-p.CreatedIndex < pm.cfg.OrderTTL {
			continue
		}
		if err := pm.ledger.CancelOrder(ctx, p.EntryOrderID); err != nil {
			return fmt.Errorf("expiring order %s: %w", p.EntryOrderID, err)
		}
		pm.remove(p.ID)
		pm.record(domain.Event{
			Index: index, Time: bar.Timestamp, Kind: domain.EventExpired, Reason: domain.ReasonOrderTTL,
			PositionID: p.ID, Side: p.Side, Price: p.LimitPrice, Qty: p.Qty,
		})
		pm.logger.Info("order expired", "index", index, "position", p.ID, "limit", p.LimitPrice)
	}
	return nil
}

func (pm *PositionManager) newPosition(setupID string, side domain.Side, qty float64, index int, intent domain.Intent) *domain.Position {
	return &domain.Position{
		ID:              uuid.NewString(),
		SetupID:         setupID,
		Symbol:          pm.cfg.Symbol,
		Side:            side,
		State:           domain.PositionPending,
		Qty:             qty,
		CreatedIndex:    index,
		StopLoss:        intent.StopLoss,
		TakeProfit:      intent.TakeProfit,
		EntryVolatility: intent.Volatility,
		SwingLow:        intent.SwingLow,
	}
}

func (pm *PositionManager) submitEntry(ctx context.Context, index int, bar domain.Bar, p *domain.Position, intent domain.Intent, typ domain.OrderType) error {
	order := &domain.Order{
		ID:         uuid.NewString(),
		PositionID: p.ID,
		SetupID:    p.SetupID,
		Symbol:     p.Symbol,
		Side:       p.EntrySide(),
		Type:       typ,
		Purpose:    domain.PurposeEntry,
		Qty:        p.Qty,
		LimitPrice: p.LimitPrice,
		StopLoss:   p.StopLoss,
		TakeProfit: p.TakeProfit,
		Reason:     intent.Reason,
	}
	p.EntryOrderID = order.ID
	if _, err := pm.ledger.SubmitOrder(ctx, order); err != nil {
		return fmt.Errorf("submitting %s entry: %w", p.Side, err)
	}
	pm.active = append(pm.active, p)

	price := bar.Close
	if typ == domain.OrderTypeLimit {
		price = p.LimitPrice
	}
	pm.record(domain.Event{
		Index: index, Time: bar.Timestamp, Kind: domain.EventEntry, Reason: intent.Reason,
		PositionID: p.ID, Side: p.Side, Price: price, Qty: p.Qty,
	})
	pm.metrics.Entry(pm.cfg.Strategy, string(p.Side))
	pm.logger.Info("entry",
		"index", index,
		"side", p.Side,
		"type", typ,
		"price", price,
		"qty", p.Qty,
		"reason", intent.Reason,
	)

	pm.ApplyFills(pm.ledger.Fills())
	return nil
}

func (pm *PositionManager) open(p *domain.Position, f domain.Fill) {
	p.State = domain.PositionOpen
	p.EntryPrice = f.Price
	p.EntryIndex = f.BarIndex
	p.EntryTime = f.Time
	p.Fees += f.Fee
	p.MaxHigh = domain.Some(f.Price)
	p.BarsHeld = 1
	pm.record(domain.Event{
		Index: f.BarIndex, Time: f.Time, Kind: domain.EventFill, Reason: string(domain.PurposeEntry),
		PositionID: p.ID, Side: p.Side, Price: f.Price, Qty: f.Qty,
	})
}

func (pm *PositionManager) close(p *domain.Position, f domain.Fill) {
	p.State = domain.PositionClosed
	p.Fees += f.Fee
	reason := pm.exitReason[p.ID]
	delete(pm.exitReason, p.ID)
	pm.trades = append(pm.trades, domain.Trade{
		PositionID: p.ID,
		SetupID:    p.SetupID,
		Symbol:     p.Symbol,
		Side:       p.Side,
		Qty:        p.Qty,
		EntryPrice: p.EntryPrice,
		ExitPrice:  f.Price,
		EntryIndex: p.EntryIndex,
		ExitIndex:  f.BarIndex,
		EntryTime:  p.EntryTime,
		ExitTime:   f.Time,
		PnL:        p.UnrealizedPnL(f.Price) - p.Fees,
		Fees:       p.Fees,
		ExitReason: reason,
	})
	pm.remove(p.ID)
}

func (pm *PositionManager) find(id string) *domain.Position {
	for _, p := range pm.active {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (pm *PositionManager) remove(id string) {
	for i, p := range pm.active {
		if p.ID == id {
			pm.active = append(pm.active[:i], pm.active[i+1:]...)
			return
		}
	}
}

func (pm *PositionManager) record(ev domain.Event) {
	pm.events = append(pm.events, ev)
}
