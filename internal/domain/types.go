// Package domain defines the core data types shared across barrun: bars,
// orders, fills, positions, strategy intents and the run journal.
package domain

import (
	"time"
)

// ---------------------------------------------------------------------------
// Enumerations
// ---------------------------------------------------------------------------

// Market identifies the venue family a dataset belongs to. It is used as the
// top-level directory of the bar store.
type Market string

const (
	MarketCrypto Market = "crypto"
	MarketUS     Market = "us"
)

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Sign returns +1 for long and -1 for short.
func (s Side) Sign() float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Sign returns +1 for buy and -1 for sell.
func (s OrderSide) Sign() float64 {
	if s == OrderSideSell {
		return -1
	}
	return 1
}

// OrderType distinguishes market, limit and stop orders.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
	OrderTypeStop   OrderType = "stop"
)

// OrderStatus tracks an order through its lifecycle.
type OrderStatus string

const (
	OrderStatusNew       OrderStatus = "new"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// OrderPurpose says whether an order opens or closes a position.
type OrderPurpose string

const (
	PurposeEntry OrderPurpose = "entry"
	PurposeExit  OrderPurpose = "exit"
)

// PositionState is the lifecycle state of a single position.
type PositionState string

const (
	PositionPending PositionState = "pending"
	PositionOpen    PositionState = "open"
	PositionClosed  PositionState = "closed"
)

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// Bar is a single OHLCV bar with an optional funding rate. Bars are immutable
// once produced by a feed.
type Bar struct {
	Symbol      string    `json:"symbol"`
	Timestamp   time.Time `json:"timestamp"`
	Open        float64   `json:"open"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	Close       float64   `json:"close"`
	Volume      float64   `json:"volume"`
	FundingRate float64   `json:"funding_rate"`
	HasFunding  bool      `json:"has_funding"`
}

// FundingRate is one settlement of a perpetual-futures funding rate.
type FundingRate struct {
	Symbol string    `json:"symbol"`
	Time   time.Time `json:"time"`
	Rate   float64   `json:"rate"`
}

// ---------------------------------------------------------------------------
// Optional values
// ---------------------------------------------------------------------------

// OptionalFloat is a float64 that may be absent. The zero value is absent.
type OptionalFloat struct {
	Value float64 `json:"value"`
	Valid bool    `json:"valid"`
}

// Some returns a present OptionalFloat holding v.
func Some(v float64) OptionalFloat {
	return OptionalFloat{Value: v, Valid: true}
}

// Get returns the value and whether it is present.
func (o OptionalFloat) Get() (float64, bool) {
	return o.Value, o.Valid
}

// SwingPoint is a (price, volume-flow) pair used for divergence tracking.
// The zero value is unset.
type SwingPoint struct {
	Price float64 `json:"price"`
	Flow  float64 `json:"flow"`
	Set   bool    `json:"set"`
}

// Lower reports whether price is a new low relative to the point. An unset
// point is beaten by any price.
func (p SwingPoint) Lower(price float64) bool {
	return !p.Set || price < p.Price
}

// ---------------------------------------------------------------------------
// Orders and fills
// ---------------------------------------------------------------------------

// Order is an instruction emitted to a broker.
type Order struct {
	ID             string        `json:"id"`
	ClientOrderID  string        `json:"client_order_id,omitempty"`
	PositionID     string        `json:"position_id"`
	SetupID        string        `json:"setup_id"`
	Symbol         string        `json:"symbol"`
	Side           OrderSide     `json:"side"`
	Type           OrderType     `json:"type"`
	Purpose        OrderPurpose  `json:"purpose"`
	Qty            float64       `json:"qty"`
	LimitPrice     float64       `json:"limit_price,omitempty"`
	StopPrice      float64       `json:"stop_price,omitempty"`
	StopLoss       OptionalFloat `json:"stop_loss"`
	TakeProfit     OptionalFloat `json:"take_profit"`
	Status         OrderStatus   `json:"status"`
	FilledQty      float64       `json:"filled_qty"`
	FilledAvgPrice float64       `json:"filled_avg_price"`
	BarIndex       int           `json:"bar_index"`
	Reason         string        `json:"reason,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Fill is an execution reported by a broker ledger.
type Fill struct {
	OrderID    string       `json:"order_id"`
	PositionID string       `json:"position_id"`
	Purpose    OrderPurpose `json:"purpose"`
	Side       OrderSide    `json:"side"`
	Price      float64      `json:"price"`
	Qty        float64      `json:"qty"`
	Fee        float64      `json:"fee"`
	BarIndex   int          `json:"bar_index"`
	Time       time.Time    `json:"time"`
}

// EquityState is the account view the risk sizer reads. Equity is cash plus
// the mark-to-market value of open holdings.
type EquityState struct {
	Cash   float64 `json:"cash"`
	Equity float64 `json:"equity"`
}

// ---------------------------------------------------------------------------
// Positions
// ---------------------------------------------------------------------------

// Position is one leg of exposure managed by the engine. Maker setups own two
// positions sharing a SetupID.
type Position struct {
	ID           string        `json:"id"`
	SetupID      string        `json:"setup_id"`
	Symbol       string        `json:"symbol"`
	Side         Side          `json:"side"`
	State        PositionState `json:"state"`
	Qty          float64       `json:"qty"`
	EntryOrderID string        `json:"entry_order_id"`
	LimitPrice   float64       `json:"limit_price,omitempty"`
	EntryPrice   float64       `json:"entry_price"`
	EntryIndex   int           `json:"entry_index"`
	EntryTime    time.Time     `json:"entry_time"`
	CreatedIndex int           `json:"created_index"`
	StopLoss     OptionalFloat `json:"stop_loss"`
	TakeProfit   OptionalFloat `json:"take_profit"`
	Fees         float64       `json:"fees"`

	// Auxiliary state owned by the policy that opened the position.
	MaxHigh         OptionalFloat `json:"max_high"`
	EntryVolatility OptionalFloat `json:"entry_volatility"`
	BarsHeld        int           `json:"bars_held"`
	SwingLow        SwingPoint    `json:"swing_low"`
	BreakevenArmed  bool          `json:"breakeven_armed"`
}

// IsOpen reports whether the position has been filled and not yet closed.
func (p *Position) IsOpen() bool { return p.State == PositionOpen }

// IsPending reports whether the position's entry order is still resting.
func (p *Position) IsPending() bool { return p.State == PositionPending }

// EntrySide returns the order side that opens the position.
func (p *Position) EntrySide() OrderSide {
	if p.Side == SideShort {
		return OrderSideSell
	}
	return OrderSideBuy
}

// ExitSide returns the order side that closes the position.
func (p *Position) ExitSide() OrderSide {
	if p.Side == SideShort {
		return OrderSideBuy
	}
	return OrderSideSell
}

// UnrealizedPnL returns the gross profit of the position marked at price.
func (p *Position) UnrealizedPnL(price float64) float64 {
	return p.Side.Sign() * (price - p.EntryPrice) * p.Qty
}

// Trade is a closed round trip.
type Trade struct {
	PositionID string     `json:"position_id"`
	SetupID    string     `json:"setup_id"`
	Symbol     string     `json:"symbol"`
	Side       Side       `json:"side"`
	Qty        float64    `json:"qty"`
	EntryPrice float64    `json:"entry_price"`
	ExitPrice  float64    `json:"exit_price"`
	EntryIndex int        `json:"entry_index"`
	ExitIndex  int        `json:"exit_index"`
	EntryTime  time.Time  `json:"entry_time"`
	ExitTime   time.Time  `json:"exit_time"`
	PnL        float64    `json:"pnl"`
	Fees       float64    `json:"fees"`
	ExitReason ExitReason `json:"exit_reason"`
}

// ---------------------------------------------------------------------------
// Strategy decisions
// ---------------------------------------------------------------------------

// IntentKind classifies the entry decision of a policy for one bar.
type IntentKind string

const (
	IntentNone       IntentKind = ""
	IntentEnterLong  IntentKind = "enter_long"
	IntentEnterShort IntentKind = "enter_short"
	IntentMakerPair  IntentKind = "maker_pair"
)

// Intent is the entry decision of a policy. StopDistance is the per-unit risk
// the sizer divides by. For market entries StopLoss and TakeProfit are
// absolute levels; for maker pairs each leg derives its own levels from
// LimitOffset, StopOffset and TargetOffset around its limit price.
type Intent struct {
	Kind         IntentKind
	StopDistance float64
	StopLoss     OptionalFloat
	TakeProfit   OptionalFloat
	LimitOffset  float64
	StopOffset   float64
	TargetOffset float64
	Volatility   OptionalFloat
	SwingLow     SwingPoint
	Reason       string
}

// Active reports whether the intent asks for an entry.
func (i Intent) Active() bool { return i.Kind != IntentNone }

// ExitReason names the exit path that closed a position.
type ExitReason string

const (
	ExitTrailingStop     ExitReason = "trailing_stop"
	ExitTakeProfit       ExitReason = "take_profit"
	ExitFundingEmergency ExitReason = "funding_emergency"
	ExitTimeLimit        ExitReason = "time_limit"
	ExitBreakevenStop    ExitReason = "breakeven_stop"
	ExitStopLoss         ExitReason = "stop_loss"
	ExitVolumeDivergence ExitReason = "volume_divergence"
	ExitMeanReversion    ExitReason = "mean_reversion"
	ExitOverbought       ExitReason = "overbought"
	ExitZStop            ExitReason = "z_stop"
	ExitZReversion       ExitReason = "z_reversion"
)

// ExitSignal is a policy's decision to close a position. When Price is set
// the exit is routed at that level: as a stop order when Stop is true,
// otherwise as a limit (a target). Without a price it is a market exit at
// the bar close.
type ExitSignal struct {
	Reason ExitReason
	Price  OptionalFloat
	Stop   bool
}

// ---------------------------------------------------------------------------
// Journal
// ---------------------------------------------------------------------------

// EventKind classifies journal events.
type EventKind string

const (
	EventEntry   EventKind = "entry"
	EventFill    EventKind = "fill"
	EventExit    EventKind = "exit"
	EventSkip    EventKind = "skip"
	EventRefused EventKind = "refused"
	EventExpired EventKind = "expired"
)

// Skip and refusal reason codes.
const (
	ReasonIndicatorUndefined = "indicator_undefined"
	ReasonNonPositiveSize    = "non_positive_size"
	ReasonNonPositivePrice   = "non_positive_price"
	ReasonConcurrencyLimit   = "concurrency_limit"
	ReasonOrderTTL           = "order_ttl"
)

// Event is one structured record of what the engine did on a bar.
type Event struct {
	Index      int       `json:"index"`
	Time       time.Time `json:"time"`
	Kind       EventKind `json:"kind"`
	Reason     string    `json:"reason"`
	PositionID string    `json:"position_id,omitempty"`
	Side       Side      `json:"side,omitempty"`
	Price      float64   `json:"price,omitempty"`
	Qty        float64   `json:"qty,omitempty"`
}

// EquityPoint is the account equity after a bar has been processed.
type EquityPoint struct {
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
}
