package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/mselser95/polymarket-bot/internal/exchange"
	"github.com/mselser95/polymarket-bot/pkg/types"
)

// MockExchange is a configurable in-memory Exchange for strategy tests.
// Every field can be seeded directly; call recording is concurrency safe.
type MockExchange struct {
	mu sync.Mutex

	Prices     map[string]float64
	Books      map[string]*types.Orderbook
	Markets    map[string]*types.Market
	Wallets    map[string][]*exchange.WalletPosition
	Open       []*exchange.OpenOrder
	Statuses   map[string]*exchange.OrderStatus
	PlaceErr   error
	PlaceCalls []*exchange.OrderArgs
	Placed     []*exchange.PlaceResult
	Cancelled  []string
	CancelAlls []string
}

// NewMockExchange creates an empty mock.
func NewMockExchange() *MockExchange {
	return &MockExchange{
		Prices:   make(map[string]float64),
		Books:    make(map[string]*types.Orderbook),
		Markets:  make(map[string]*types.Market),
		Wallets:  make(map[string][]*exchange.WalletPosition),
		Statuses: make(map[string]*exchange.OrderStatus),
	}
}

func (m *MockExchange) Place(_ context.Context, args *exchange.OrderArgs) (*exchange.PlaceResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PlaceErr != nil {
		return nil, m.PlaceErr
	}
	m.PlaceCalls = append(m.PlaceCalls, args)
	res := &exchange.PlaceResult{
		ExchangeOrderID: "mock-order",
		Status:          "matched",
	}
	m.Placed = append(m.Placed, res)
	return res, nil
}

func (m *MockExchange) Cancel(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Cancelled = append(m.Cancelled, id)
	return nil
}

func (m *MockExchange) CancelAll(_ context.Context, marketID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CancelAlls = append(m.CancelAlls, marketID)
	return nil
}

func (m *MockExchange) OpenOrders(context.Context) ([]*exchange.OpenOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*exchange.OpenOrder, len(m.Open))
	copy(out, m.Open)
	return out, nil
}

func (m *MockExchange) GetOrder(_ context.Context, id string) (*exchange.OrderStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if status, ok := m.Statuses[id]; ok {
		return status, nil
	}
	return &exchange.OrderStatus{ExchangeOrderID: id, Status: "cancelled"}, nil
}

func (m *MockExchange) OrderFills(context.Context, string) ([]*types.Fill, error) {
	return nil, nil
}

func (m *MockExchange) Price(_ context.Context, tokenID string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if price, ok := m.Prices[tokenID]; ok {
		return price, nil
	}
	return 0, &types.OrderError{Code: "NO_PRICE", Message: "no price for " + tokenID}
}

func (m *MockExchange) Orderbook(_ context.Context, tokenID string) (*types.Orderbook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if book, ok := m.Books[tokenID]; ok {
		return book, nil
	}
	return nil, &types.OrderError{Code: "NO_BOOK", Message: "no book for " + tokenID}
}

func (m *MockExchange) GetMarket(_ context.Context, id string) (*types.Market, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if market, ok := m.Markets[id]; ok {
		return market, nil
	}
	return nil, &types.OrderError{Code: "NO_MARKET", Message: "no market " + id}
}

func (m *MockExchange) ActiveMarkets(context.Context, int) ([]*types.Market, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.Market, 0, len(m.Markets))
	for _, market := range m.Markets {
		if !market.Closed {
			out = append(out, market)
		}
	}
	return out, nil
}

func (m *MockExchange) WalletPositions(_ context.Context, addr string) ([]*exchange.WalletPosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Wallets[addr], nil
}

func (m *MockExchange) Connected() bool { return true }

// SignalRecorder captures submitted signals.
type SignalRecorder struct {
	mu      sync.Mutex
	Signals []*types.Signal
	Err     error
}

// Submit records a signal, returning the configured error.
func (r *SignalRecorder) Submit(sig *types.Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Signals = append(r.Signals, sig)
	return nil
}

// All returns a copy of recorded signals.
func (r *SignalRecorder) All() []*types.Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*types.Signal, len(r.Signals))
	copy(out, r.Signals)
	return out
}

// FixedSnapshot is a static portfolio snapshot source.
type FixedSnapshot struct {
	Snap types.PortfolioSnapshot
}

// Snapshot returns the fixed snapshot with a fresh timestamp.
func (f *FixedSnapshot) Snapshot() types.PortfolioSnapshot {
	snap := f.Snap
	snap.TakenAt = time.Now()
	return snap
}
