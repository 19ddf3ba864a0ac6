package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mselser95/polymarket-bot/pkg/types"
)

// Paper is an in-process exchange simulation used in paper trading mode and
// in tests. Marketable orders fill instantly at their limit price; GTC
// orders away from the market rest until the simulated price crosses them.
type Paper struct {
	logger *zap.Logger

	mu      sync.Mutex
	prices  map[string]float64            // tokenID -> last price
	books   map[string]*types.Orderbook   // tokenID -> injected book
	markets map[string]*types.Market      // conditionID -> market
	resting map[string]*paperOrder      // exchangeOrderID -> resting order
	filled  map[string]*paperOrder      // exchangeOrderID -> terminal order
}

type paperOrder struct {
	id       string
	marketID string
	tokenID  string
	side     string
	price    float64
	shares   float64
	filled   float64
	avgPrice float64
	status   string // live, matched, cancelled, unmatched
}

// NewPaper creates an empty simulated exchange.
func NewPaper(logger *zap.Logger) *Paper {
	return &Paper{
		logger:  logger,
		prices:  make(map[string]float64),
		books:   make(map[string]*types.Orderbook),
		markets: make(map[string]*types.Market),
		resting: make(map[string]*paperOrder),
		filled:  make(map[string]*paperOrder),
	}
}

// SetPrice injects the simulated last price for a token and fills any
// resting orders the new price crosses.
func (p *Paper) SetPrice(tokenID string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.prices[tokenID] = price

	for id, o := range p.resting {
		if o.tokenID != tokenID {
			continue
		}
		crossed := (o.side == types.SideBuy && price <= o.price) ||
			(o.side == types.SideSell && price >= o.price)
		if crossed {
			o.status = "matched"
			o.filled = o.shares
			o.avgPrice = o.price
			p.filled[id] = o
			delete(p.resting, id)
		}
	}
}

// SetBook injects a simulated orderbook for a token.
func (p *Paper) SetBook(tokenID string, book *types.Orderbook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.books[tokenID] = book
}

// SetMarket injects market metadata.
func (p *Paper) SetMarket(m *types.Market) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.markets[m.ConditionID] = m
}

// PlaceOrder simulates submission. FOK/IOC orders fill completely when
// marketable and are rejected otherwise; GTC orders rest when away from the
// market.
func (p *Paper) PlaceOrder(_ context.Context, args *OrderArgs) (*PlaceResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	last, hasPrice := p.prices[args.TokenID]

	o := &paperOrder{
		id:       uuid.NewString(),
		marketID: args.MarketID,
		tokenID:  args.TokenID,
		side:     args.Side,
		price:    args.Price,
		shares:   args.SizeShares,
	}

	// Marketable when the limit reaches the simulated last price. With no
	// price known, immediate order types trade at their limit while GTC
	// rests until a price arrives.
	marketable := (hasPrice &&
		((args.Side == types.SideBuy && args.Price >= last) ||
			(args.Side == types.SideSell && args.Price <= last))) ||
		(!hasPrice && args.Type != types.OrderTypeGTC)

	switch {
	case marketable:
		o.status = "matched"
		o.filled = o.shares
		o.avgPrice = o.price
		p.filled[o.id] = o
	case args.Type == types.OrderTypeFOK || args.Type == types.OrderTypeIOC:
		o.status = "unmatched"
		p.filled[o.id] = o
		return &PlaceResult{
			ExchangeOrderID: o.id,
			Status:          "unmatched",
			ErrorMsg:        types.ErrCodeFOKNotFilled,
		}, nil
	default:
		o.status = "live"
		p.resting[o.id] = o
	}

	p.logger.Debug("paper-order-placed",
		zap.String("exchange-order-id", o.id),
		zap.String("status", o.status),
		zap.String("side", o.side),
		zap.Float64("price", o.price),
		zap.Float64("shares", o.shares))

	return &PlaceResult{ExchangeOrderID: o.id, Status: o.status}, nil
}

// CancelOrder cancels one resting order.
func (p *Paper) CancelOrder(_ context.Context, exchangeOrderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.resting[exchangeOrderID]
	if !ok {
		return nil // already terminal, cancel is a no-op
	}
	o.status = "cancelled"
	p.filled[exchangeOrderID] = o
	delete(p.resting, exchangeOrderID)
	return nil
}

// CancelAll cancels every resting order, or only one market's.
func (p *Paper) CancelAll(_ context.Context, marketID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, o := range p.resting {
		if marketID != "" && o.marketID != marketID {
			continue
		}
		o.status = "cancelled"
		p.filled[id] = o
		delete(p.resting, id)
	}
	return nil
}

// OpenOrders lists resting orders.
func (p *Paper) OpenOrders(_ context.Context) ([]*OpenOrder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*OpenOrder, 0, len(p.resting))
	for _, o := range p.resting {
		out = append(out, &OpenOrder{
			ExchangeOrderID: o.id,
			MarketID:        o.marketID,
			TokenID:         o.tokenID,
			Side:            o.side,
			Price:           o.price,
			SizeShares:      o.shares,
			FilledShares:    o.filled,
		})
	}
	return out, nil
}

// GetOrder queries one order's state.
func (p *Paper) GetOrder(_ context.Context, exchangeOrderID string) (*OrderStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.resting[exchangeOrderID]
	if !ok {
		o, ok = p.filled[exchangeOrderID]
	}
	if !ok {
		return nil, fmt.Errorf("order %s not found", exchangeOrderID)
	}

	return &OrderStatus{
		ExchangeOrderID: o.id,
		Status:          o.status,
		SizeShares:      o.shares,
		FilledShares:    o.filled,
		AvgFillPrice:    o.avgPrice,
	}, nil
}

// OrderFills synthesizes one fill for a matched order.
func (p *Paper) OrderFills(_ context.Context, exchangeOrderID string) ([]*types.Fill, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.filled[exchangeOrderID]
	if !ok || o.status != "matched" {
		return nil, nil
	}

	// Deterministic trade ID: re-querying the same order re-delivers the
	// same fill, which downstream dedup must tolerate.
	return []*types.Fill{{
		ExchangeTradeID: "paper-trade-" + o.id,
		ExchangeOrderID: o.id,
		MarketID:        o.marketID,
		TokenID:         o.tokenID,
		Side:            o.side,
		Price:           o.avgPrice,
		Shares:          o.filled,
		Timestamp:       time.Now(),
	}}, nil
}

// Price returns the injected last price.
func (p *Paper) Price(_ context.Context, tokenID string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	price, ok := p.prices[tokenID]
	if !ok {
		return 0, fmt.Errorf("no price for token %s", tokenID)
	}
	return price, nil
}

// Orderbook returns the injected book, or a synthetic one-level book around
// the last price.
func (p *Paper) Orderbook(_ context.Context, tokenID string) (*types.Orderbook, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if book, ok := p.books[tokenID]; ok {
		book.FetchedAt = time.Now()
		return book, nil
	}

	last, ok := p.prices[tokenID]
	if !ok {
		return nil, fmt.Errorf("no book for token %s", tokenID)
	}

	return &types.Orderbook{
		TokenID:   tokenID,
		Bids:      []types.PriceLevel{{Price: formatPrice(last - 0.01), Size: "1000"}},
		Asks:      []types.PriceLevel{{Price: formatPrice(last + 0.01), Size: "1000"}},
		FetchedAt: time.Now(),
	}, nil
}

// GetMarket returns injected market metadata.
func (p *Paper) GetMarket(_ context.Context, conditionID string) (*types.Market, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	m, ok := p.markets[conditionID]
	if !ok {
		return nil, fmt.Errorf("market %s not found", conditionID)
	}
	return m, nil
}

// ActiveMarkets lists injected markets that are still open.
func (p *Paper) ActiveMarkets(_ context.Context, limit int) ([]*types.Market, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*types.Market, 0, len(p.markets))
	for _, m := range p.markets {
		if m.Closed {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// WalletPositions returns nothing; paper mode tracks no external wallets.
func (p *Paper) WalletPositions(_ context.Context, _ string) ([]*WalletPosition, error) {
	return nil, nil
}

func formatPrice(p float64) string {
	if p < 0.001 {
		p = 0.001
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.3f", p), "0"), ".")
}
