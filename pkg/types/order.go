package types

import "time"

// Order lifecycle states. Transitions:
// pending → submitted → {filled | partial → (filled|cancelled) | cancelled | rejected | failed}.
const (
	OrderStatusPending   = "pending"
	OrderStatusSubmitted = "submitted"
	OrderStatusFilled    = "filled"
	OrderStatusPartial   = "partial"
	OrderStatusCancelled = "cancelled"
	OrderStatusRejected  = "rejected"
	OrderStatusFailed    = "failed"
)

// Order is the persisted record of a single CLOB order. SizeShares is in
// outcome tokens; the USD notional lives on the originating Signal.
type Order struct {
	ID              int64
	ExchangeOrderID string // empty until submitted
	SignalID        string
	Strategy        string
	MarketID        string
	TokenID         string
	Side            string
	SizeShares      float64
	Price           float64
	Type            string
	Status          string
	FilledShares    float64
	AvgFillPrice    float64
	FeePaid         float64
	RejectReason    string // exchange-supplied reason on rejection
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsTerminal reports whether the order has reached a final state.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusFailed:
		return true
	}
	return false
}

// Fill is one exchange-reported trade execution against an order. Fills are
// append-only; re-delivery of the same exchange trade ID is ignored.
type Fill struct {
	ExchangeTradeID string
	ExchangeOrderID string
	MarketID        string
	TokenID         string
	Side            string
	Price           float64
	Shares          float64
	Fee             float64
	Timestamp       time.Time
}
