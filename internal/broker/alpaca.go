package broker

import (
	"context"
	"fmt"
	"strings"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"barrun/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*AlpacaBroker)(nil)

// orderClient is the subset of *alpaca.Client the broker uses.
type orderClient interface {
	PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error)
	CancelOrder(orderID string) error
	GetAccount() (*alpaca.Account, error)
}

// AlpacaBroker routes orders to the Alpaca brokerage API. Orders carrying
// both a stop-loss and a take-profit are sent as bracket orders; orders
// carrying one of them are sent as one-triggers-other.
type AlpacaBroker struct {
	client      orderClient
	timeInForce alpaca.TimeInForce
}

// NewAlpacaBroker creates a new AlpacaBroker configured with the given
// credentials and API endpoint. timeInForce defaults to "gtc".
func NewAlpacaBroker(apiKey, apiSecret, baseURL, timeInForce string) *AlpacaBroker {
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})
	return newAlpacaBroker(client, timeInForce)
}

func newAlpacaBroker(client orderClient, timeInForce string) *AlpacaBroker {
	tif := alpaca.GTC
	if timeInForce != "" {
		tif = alpaca.TimeInForce(strings.ToLower(timeInForce))
	}
	return &AlpacaBroker{client: client, timeInForce: tif}
}

// Name returns "alpaca".
func (b *AlpacaBroker) Name() string {
	return "alpaca"
}

// SubmitOrder sends an order to the Alpaca API.
func (b *AlpacaBroker) SubmitOrder(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	req, err := b.placeOrderRequest(order)
	if err != nil {
		return nil, err
	}
	res, err := b.client.PlaceOrder(req)
	if err != nil {
		return nil, fmt.Errorf("PlaceOrder %s %s: %w", order.Side, order.Symbol, err)
	}

	out := *order
	out.ID = res.ID
	out.ClientOrderID = res.ClientOrderID
	out.Status = orderStatus(res.Status)
	return &out, nil
}

// CancelOrder requests cancellation of an open order via the Alpaca API.
func (b *AlpacaBroker) CancelOrder(ctx context.Context, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.client.CancelOrder(orderID); err != nil {
		return fmt.Errorf("CancelOrder %s: %w", orderID, err)
	}
	return nil
}

// GetAccount returns the current account cash and equity.
func (b *AlpacaBroker) GetAccount(ctx context.Context) (*domain.EquityState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	acct, err := b.client.GetAccount()
	if err != nil {
		return nil, fmt.Errorf("GetAccount: %w", err)
	}
	return &domain.EquityState{
		Cash:   acct.Cash.InexactFloat64(),
		Equity: acct.Equity.InexactFloat64(),
	}, nil
}

func (b *AlpacaBroker) placeOrderRequest(order *domain.Order) (alpaca.PlaceOrderRequest, error) {
	if order == nil || order.Qty <= 0 {
		return alpaca.PlaceOrderRequest{}, fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidOrder)
	}

	req := alpaca.PlaceOrderRequest{
		Symbol:        order.Symbol,
		Qty:           decimalPtr(order.Qty),
		TimeInForce:   b.timeInForce,
		ClientOrderID: order.ClientOrderID,
		OrderClass:    alpaca.Simple,
	}
	if req.ClientOrderID == "" {
		req.ClientOrderID = order.ID
	}

	switch order.Side {
	case domain.OrderSideBuy:
		req.Side = alpaca.Buy
	case domain.OrderSideSell:
		req.Side = alpaca.Sell
	default:
		return alpaca.PlaceOrderRequest{}, fmt.Errorf("%w: side %q", domain.ErrInvalidOrder, order.Side)
	}

	switch order.Type {
	case domain.OrderTypeMarket:
		req.Type = alpaca.Market
	case domain.OrderTypeLimit:
		req.Type = alpaca.Limit
		req.LimitPrice = decimalPtr(order.LimitPrice)
	case domain.OrderTypeStop:
		req.Type = alpaca.Stop
		req.StopPrice = decimalPtr(order.StopPrice)
	default:
		return alpaca.PlaceOrderRequest{}, fmt.Errorf("%w: type %q", domain.ErrInvalidOrder, order.Type)
	}

	sl, hasSL := order.StopLoss.Get()
	tp, hasTP := order.TakeProfit.Get()
	if order.Purpose == domain.PurposeEntry && (hasSL || hasTP) {
		req.OrderClass = alpaca.OTO
		if hasSL && hasTP {
			req.OrderClass = alpaca.Bracket
		}
		if hasSL {
			req.StopLoss = &alpaca.StopLoss{StopPrice: decimalPtr(sl)}
		}
		if hasTP {
			req.TakeProfit = &alpaca.TakeProfit{LimitPrice: decimalPtr(tp)}
		}
	}
	return req, nil
}

func orderStatus(s string) domain.OrderStatus {
	switch s {
	case "filled":
		return domain.OrderStatusFilled
	case "canceled", "cancelled", "expired":
		return domain.OrderStatusCancelled
	case "rejected":
		return domain.OrderStatusRejected
	default:
		return domain.OrderStatusNew
	}
}

func decimalPtr(v float64) *decimal.Decimal {
	d := decimal.NewFromFloat(v)
	return &d
}
