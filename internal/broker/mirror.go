package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"barrun/internal/domain"
)

// Compile-time interface check.
var _ Ledger = (*MirrorBroker)(nil)

// MirrorBroker replays history through a SimulatorBroker and forwards every
// order created at or after a cut-off time to a live broker. Positions and
// equity are always the simulator's.
type MirrorBroker struct {
	sim    *SimulatorBroker
	live   Broker
	since  time.Time
	logger *slog.Logger

	mu     sync.Mutex
	liveID map[string]string
	routed []domain.Order
}

// NewMirrorBroker creates a MirrorBroker forwarding orders stamped at or
// after since.
func NewMirrorBroker(sim *SimulatorBroker, live Broker, since time.Time, logger *slog.Logger) *MirrorBroker {
	return &MirrorBroker{
		sim:    sim,
		live:   live,
		since:  since,
		logger: logger.With("component", "mirror"),
		liveID: make(map[string]string),
	}
}

// Name returns "mirror/<live broker name>".
func (m *MirrorBroker) Name() string {
	return "mirror/" + m.live.Name()
}

// SubmitOrder books the order in the simulator and, when recent enough,
// routes a copy to the live broker.
func (m *MirrorBroker) SubmitOrder(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	o, err := m.sim.SubmitOrder(ctx, order)
	if err != nil {
		return nil, err
	}
	if o.CreatedAt.Before(m.since) {
		return o, nil
	}

	fwd := *order
	fwd.ClientOrderID = o.ID
	res, err := m.live.SubmitOrder(ctx, &fwd)
	if err != nil {
		return nil, fmt.Errorf("routing order %s to %s: %w", o.ID, m.live.Name(), err)
	}

	m.mu.Lock()
	m.liveID[o.ID] = res.ID
	m.routed = append(m.routed, *res)
	m.mu.Unlock()

	m.logger.Info("order routed",
		"broker", m.live.Name(),
		"id", res.ID,
		"symbol", res.Symbol,
		"side", res.Side,
		"type", res.Type,
		"qty", res.Qty,
	)
	return o, nil
}

// CancelOrder cancels in the simulator and, if the order was routed, live.
func (m *MirrorBroker) CancelOrder(ctx context.Context, orderID string) error {
	if err := m.sim.CancelOrder(ctx, orderID); err != nil {
		return err
	}
	m.mu.Lock()
	id, ok := m.liveID[orderID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return m.live.CancelOrder(ctx, id)
}

// GetAccount returns the simulator's account.
func (m *MirrorBroker) GetAccount(ctx context.Context) (*domain.EquityState, error) {
	return m.sim.GetAccount(ctx)
}

// Advance delegates to the simulator.
func (m *MirrorBroker) Advance(ctx context.Context, index int, bar domain.Bar) ([]domain.Fill, error) {
	return m.sim.Advance(ctx, index, bar)
}

// Fills delegates to the simulator.
func (m *MirrorBroker) Fills() []domain.Fill {
	return m.sim.Fills()
}

// Routed returns the live broker's view of every forwarded order.
func (m *MirrorBroker) Routed() []domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Order(nil), m.routed...)
}
