package broker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"

	"barrun/internal/domain"
)

// Compile-time interface check.
var _ Ledger = (*SimulatorBroker)(nil)

// ErrNoMarket is returned when a market order arrives before any bar.
var ErrNoMarket = errors.New("simulator has no market price yet")

// SimulatorBroker is the in-memory ledger used for backtests.
//
// Fill model: market orders fill at the current bar close. Exits fill on
// submission: a stop at its level, or at the open when the bar gapped
// through it; a limit at its level clamped to the bar's range. Entry limits
// rest and fill on the first later bar whose range touches them, at the
// limit or at the open if the bar gaps through it. A commission rate is charged on every fill's
// notional. There is no buying-power check.
type SimulatorBroker struct {
	mu         sync.Mutex
	commission float64
	cash       float64
	holdings   map[string]float64
	marks      map[string]float64

	index  int
	bar    domain.Bar
	hasBar bool

	orders  map[string]*domain.Order
	resting []string
	fills   []domain.Fill
}

// NewSimulatorBroker creates a ledger holding cash and charging commission
// (a fraction of notional, e.g. 0.002) per fill.
func NewSimulatorBroker(cash, commission float64) *SimulatorBroker {
	return &SimulatorBroker{
		commission: commission,
		cash:       cash,
		holdings:   make(map[string]float64),
		marks:      make(map[string]float64),
		orders:     make(map[string]*domain.Order),
	}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// SubmitOrder records the order and fills it according to the fill model.
func (b *SimulatorBroker) SubmitOrder(_ context.Context, order *domain.Order) (*domain.Order, error) {
	if order == nil {
		return nil, fmt.Errorf("%w: nil order", domain.ErrInvalidOrder)
	}
	if math.IsNaN(order.Qty) || order.Qty <= 0 {
		return nil, fmt.Errorf("%w: quantity %v", domain.ErrInvalidOrder, order.Qty)
	}
	if order.Type == domain.OrderTypeLimit && !(order.LimitPrice > 0) {
		return nil, fmt.Errorf("%w: limit price %v", domain.ErrInvalidOrder, order.LimitPrice)
	}
	if order.Type == domain.OrderTypeStop {
		if !(order.StopPrice > 0) {
			return nil, fmt.Errorf("%w: stop price %v", domain.ErrInvalidOrder, order.StopPrice)
		}
		if order.Purpose != domain.PurposeExit {
			return nil, fmt.Errorf("%w: stop entries are not supported", domain.ErrInvalidOrder)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.hasBar {
		return nil, ErrNoMarket
	}

	o := *order
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.Status = domain.OrderStatusNew
	o.BarIndex = b.index
	o.CreatedAt = b.bar.Timestamp
	o.UpdatedAt = b.bar.Timestamp
	b.orders[o.ID] = &o

	switch {
	case o.Type == domain.OrderTypeMarket:
		b.fills = append(b.fills, b.fill(&o, b.bar.Close))
	case o.Type == domain.OrderTypeStop:
		b.fills = append(b.fills, b.fill(&o, stopFill(&o, b.bar)))
	case o.Purpose == domain.PurposeExit:
		b.fills = append(b.fills, b.fill(&o, clamp(o.LimitPrice, b.bar.Low, b.bar.High)))
	default:
		b.resting = append(b.resting, o.ID)
	}

	out := o
	return &out, nil
}

// CancelOrder cancels a resting order.
func (b *SimulatorBroker) CancelOrder(_ context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}
	if o.Status != domain.OrderStatusNew {
		return fmt.Errorf("%w: order %s is %s", domain.ErrInvalidOrder, orderID, o.Status)
	}
	o.Status = domain.OrderStatusCancelled
	o.UpdatedAt = b.bar.Timestamp
	b.removeResting(orderID)
	return nil
}

// GetAccount returns cash and mark-to-market equity.
func (b *SimulatorBroker) GetAccount(_ context.Context) (*domain.EquityState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &domain.EquityState{Cash: b.cash, Equity: b.equity()}, nil
}

// Advance moves the ledger to bar and fills touched resting orders in
// submission order.
func (b *SimulatorBroker) Advance(ctx context.Context, index int, bar domain.Bar) ([]domain.Fill, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.index = index
	b.bar = bar
	b.hasBar = true

	var fills []domain.Fill
	remaining := b.resting[:0]
	for _, id := range b.resting {
		o := b.orders[id]
		price, ok := touch(o, bar)
		if !ok {
			remaining = append(remaining, id)
			continue
		}
		fills = append(fills, b.fill(o, price))
	}
	b.resting = remaining
	b.marks[bar.Symbol] = bar.Close
	return fills, nil
}

// Fills drains fills produced by SubmitOrder.
func (b *SimulatorBroker) Fills() []domain.Fill {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.fills
	b.fills = nil
	return out
}

// Order returns a copy of a known order.
func (b *SimulatorBroker) Order(id string) (domain.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[id]
	if !ok {
		return domain.Order{}, false
	}
	return *o, true
}

// Holding returns the signed quantity held in symbol.
func (b *SimulatorBroker) Holding(symbol string) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.holdings[symbol]
}

// touch reports whether bar trades through a resting limit and the price
// it fills at.
func touch(o *domain.Order, bar domain.Bar) (float64, bool) {
	if o.Symbol != "" && bar.Symbol != "" && o.Symbol != bar.Symbol {
		return 0, false
	}
	switch o.Side {
	case domain.OrderSideBuy:
		if bar.Low <= o.LimitPrice {
			return math.Min(bar.Open, o.LimitPrice), true
		}
	case domain.OrderSideSell:
		if bar.High >= o.LimitPrice {
			return math.Max(bar.Open, o.LimitPrice), true
		}
	}
	return 0, false
}

// stopFill prices a triggered stop. A sell stop fills no better than the
// open and a buy stop no lower than the open, then within the bar's range.
func stopFill(o *domain.Order, bar domain.Bar) float64 {
	price := o.StopPrice
	switch o.Side {
	case domain.OrderSideSell:
		price = math.Min(bar.Open, price)
	case domain.OrderSideBuy:
		price = math.Max(bar.Open, price)
	}
	return clamp(price, bar.Low, bar.High)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// fill settles o at price. Callers hold b.mu.
func (b *SimulatorBroker) fill(o *domain.Order, price float64) domain.Fill {
	sign := o.Side.Sign()
	fee := math.Abs(o.Qty*price) * b.commission
	b.cash -= sign*o.Qty*price + fee
	b.holdings[o.Symbol] += sign * o.Qty
	if _, ok := b.marks[o.Symbol]; !ok {
		b.marks[o.Symbol] = price
	}

	o.Status = domain.OrderStatusFilled
	o.FilledQty = o.Qty
	o.FilledAvgPrice = price
	o.UpdatedAt = b.bar.Timestamp

	return domain.Fill{
		OrderID:    o.ID,
		PositionID: o.PositionID,
		Purpose:    o.Purpose,
		Side:       o.Side,
		Price:      price,
		Qty:        o.Qty,
		Fee:        fee,
		BarIndex:   b.index,
		Time:       b.bar.Timestamp,
	}
}

func (b *SimulatorBroker) equity() float64 {
	eq := b.cash
	for sym, qty := range b.holdings {
		eq += qty * b.marks[sym]
	}
	return eq
}

func (b *SimulatorBroker) removeResting(id string) {
	for i, r := range b.resting {
		if r == id {
			b.resting = append(b.resting[:i], b.resting[i+1:]...)
			return
		}
	}
}
