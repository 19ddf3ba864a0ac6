package exchange

import (
	"context"

	"github.com/mselser95/polymarket-bot/pkg/types"
)

// OrderArgs describes one order to submit.
type OrderArgs struct {
	MarketID   string
	TokenID    string
	Side       string // types.SideBuy / types.SideSell
	Price      float64
	SizeShares float64
	Type       string // types.OrderTypeGTC / FOK / IOC
}

// PlaceResult is the immediate outcome of an order submission.
type PlaceResult struct {
	ExchangeOrderID string
	Status          string // raw exchange status: live, matched, delayed, unmatched
	ErrorMsg        string
}

// OrderStatus is the queried state of a previously submitted order.
type OrderStatus struct {
	ExchangeOrderID string
	Status          string // live, matched, cancelled, unmatched
	SizeShares      float64
	FilledShares    float64
	AvgFillPrice    float64
	FeePaid         float64
}

// OpenOrder is one resting order as reported by the exchange.
type OpenOrder struct {
	ExchangeOrderID string
	MarketID        string
	TokenID         string
	Side            string
	Price           float64
	SizeShares      float64
	FilledShares    float64
}

// WalletPosition is one holding of an arbitrary wallet, as reported by the
// Data API. Used for whale tracking and for reconciling our own inventory.
type WalletPosition struct {
	MarketID     string
	TokenID      string
	Outcome      string
	Shares       float64
	AvgPrice     float64
	CurrentValue float64
	CurPrice     float64
}

// Exchange is the surface the trading pipeline depends on. Adapter is the
// production implementation; tests substitute in-memory fakes.
type Exchange interface {
	Place(ctx context.Context, args *OrderArgs) (*PlaceResult, error)
	Cancel(ctx context.Context, exchangeOrderID string) error
	CancelAll(ctx context.Context, marketID string) error
	OpenOrders(ctx context.Context) ([]*OpenOrder, error)
	GetOrder(ctx context.Context, exchangeOrderID string) (*OrderStatus, error)
	OrderFills(ctx context.Context, exchangeOrderID string) ([]*types.Fill, error)
	Price(ctx context.Context, tokenID string) (float64, error)
	Orderbook(ctx context.Context, tokenID string) (*types.Orderbook, error)
	GetMarket(ctx context.Context, marketID string) (*types.Market, error)
	ActiveMarkets(ctx context.Context, limit int) ([]*types.Market, error)
	WalletPositions(ctx context.Context, addr string) ([]*WalletPosition, error)
	Connected() bool
}

// MapExchangeStatus translates a raw CLOB order status into the internal
// order state machine.
func MapExchangeStatus(raw string, filled, size float64) string {
	switch raw {
	case "matched":
		return types.OrderStatusFilled
	case "live", "delayed":
		if filled > 0 && filled < size {
			return types.OrderStatusPartial
		}
		return types.OrderStatusSubmitted
	case "cancelled", "canceled":
		if filled > 0 {
			return types.OrderStatusPartial
		}
		return types.OrderStatusCancelled
	case "unmatched":
		return types.OrderStatusRejected
	}
	return types.OrderStatusSubmitted
}
