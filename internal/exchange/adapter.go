package exchange

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mselser95/polymarket-bot/pkg/cache"
	"github.com/mselser95/polymarket-bot/pkg/ratelimit"
	"github.com/mselser95/polymarket-bot/pkg/types"
)

// Backend is the un-gated operation set the Adapter wraps. CLOB/Gamma/Data
// clients compose the live backend; Paper implements it in-process.
type Backend interface {
	PlaceOrder(ctx context.Context, args *OrderArgs) (*PlaceResult, error)
	CancelOrder(ctx context.Context, exchangeOrderID string) error
	CancelAll(ctx context.Context, marketID string) error
	OpenOrders(ctx context.Context) ([]*OpenOrder, error)
	GetOrder(ctx context.Context, exchangeOrderID string) (*OrderStatus, error)
	OrderFills(ctx context.Context, exchangeOrderID string) ([]*types.Fill, error)
	Price(ctx context.Context, tokenID string) (float64, error)
	Orderbook(ctx context.Context, tokenID string) (*types.Orderbook, error)
	GetMarket(ctx context.Context, conditionID string) (*types.Market, error)
	ActiveMarkets(ctx context.Context, limit int) ([]*types.Market, error)
	WalletPositions(ctx context.Context, addr string) ([]*WalletPosition, error)
}

// Adapter gates every exchange operation through the rate limiter and a
// per-call timeout, caches market metadata, and tracks connectivity for the
// health probe. All blocking I/O happens inside the called goroutine; the
// adapter itself holds no locks across calls.
type Adapter struct {
	backend   Backend
	limiter   *ratelimit.Limiter
	cache     cache.Cache
	timeout   time.Duration
	logger    *zap.Logger
	connected atomic.Bool
}

// AdapterConfig holds adapter configuration.
type AdapterConfig struct {
	Backend     Backend
	RateLimiter *ratelimit.Limiter
	Cache       cache.Cache
	CallTimeout time.Duration
	Logger      *zap.Logger
}

const marketCacheTTL = 30 * time.Second

// NewAdapter wraps a backend.
func NewAdapter(cfg *AdapterConfig) *Adapter {
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	a := &Adapter{
		backend: cfg.Backend,
		limiter: cfg.RateLimiter,
		cache:   cfg.Cache,
		timeout: timeout,
		logger:  cfg.Logger,
	}
	a.connected.Store(true)
	return a
}

// call runs op with rate limiting, timeout, throttle accounting and
// connectivity tracking.
func call[T any](ctx context.Context, a *Adapter, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if err := a.limiter.Acquire(ctx); err != nil {
		return zero, err
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	out, err := op(callCtx)
	CallDurationSeconds.WithLabelValues(name).Observe(time.Since(start).Seconds())

	if err != nil {
		CallErrorsTotal.WithLabelValues(name).Inc()
		if types.IsThrottle(err) {
			a.limiter.RecordThrottle()
		} else {
			a.connected.Store(false)
		}
		return zero, err
	}

	a.limiter.RecordSuccess()
	a.connected.Store(true)
	return out, nil
}

// Place submits one order.
func (a *Adapter) Place(ctx context.Context, args *OrderArgs) (*PlaceResult, error) {
	return call(ctx, a, "place", func(ctx context.Context) (*PlaceResult, error) {
		return a.backend.PlaceOrder(ctx, args)
	})
}

// Cancel cancels one order.
func (a *Adapter) Cancel(ctx context.Context, exchangeOrderID string) error {
	_, err := call(ctx, a, "cancel", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.backend.CancelOrder(ctx, exchangeOrderID)
	})
	return err
}

// CancelAll cancels all resting orders, optionally scoped to one market.
func (a *Adapter) CancelAll(ctx context.Context, marketID string) error {
	_, err := call(ctx, a, "cancel_all", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.backend.CancelAll(ctx, marketID)
	})
	return err
}

// OpenOrders lists resting orders.
func (a *Adapter) OpenOrders(ctx context.Context) ([]*OpenOrder, error) {
	return call(ctx, a, "open_orders", func(ctx context.Context) ([]*OpenOrder, error) {
		return a.backend.OpenOrders(ctx)
	})
}

// GetOrder queries one order's state.
func (a *Adapter) GetOrder(ctx context.Context, exchangeOrderID string) (*OrderStatus, error) {
	return call(ctx, a, "get_order", func(ctx context.Context) (*OrderStatus, error) {
		return a.backend.GetOrder(ctx, exchangeOrderID)
	})
}

// OrderFills lists the trades executed against one order.
func (a *Adapter) OrderFills(ctx context.Context, exchangeOrderID string) ([]*types.Fill, error) {
	return call(ctx, a, "order_fills", func(ctx context.Context) ([]*types.Fill, error) {
		return a.backend.OrderFills(ctx, exchangeOrderID)
	})
}

// Price returns the current midpoint for a token.
func (a *Adapter) Price(ctx context.Context, tokenID string) (float64, error) {
	return call(ctx, a, "price", func(ctx context.Context) (float64, error) {
		return a.backend.Price(ctx, tokenID)
	})
}

// Orderbook returns the live book for a token. Never cached: callers that
// ask for the book want executable prices, not aggregates.
func (a *Adapter) Orderbook(ctx context.Context, tokenID string) (*types.Orderbook, error) {
	return call(ctx, a, "orderbook", func(ctx context.Context) (*types.Orderbook, error) {
		return a.backend.Orderbook(ctx, tokenID)
	})
}

// GetMarket returns metadata for one market, cached briefly.
func (a *Adapter) GetMarket(ctx context.Context, conditionID string) (*types.Market, error) {
	if a.cache != nil {
		if v, ok := a.cache.Get("market:" + conditionID); ok {
			if m, ok := v.(*types.Market); ok {
				return m, nil
			}
		}
	}

	m, err := call(ctx, a, "get_market", func(ctx context.Context) (*types.Market, error) {
		return a.backend.GetMarket(ctx, conditionID)
	})
	if err != nil {
		return nil, err
	}

	if a.cache != nil {
		a.cache.Set("market:"+conditionID, m, marketCacheTTL)
	}
	return m, nil
}

// ActiveMarkets lists open markets by volume.
func (a *Adapter) ActiveMarkets(ctx context.Context, limit int) ([]*types.Market, error) {
	return call(ctx, a, "active_markets", func(ctx context.Context) ([]*types.Market, error) {
		return a.backend.ActiveMarkets(ctx, limit)
	})
}

// WalletPositions returns the holdings of an arbitrary address.
func (a *Adapter) WalletPositions(ctx context.Context, addr string) ([]*WalletPosition, error) {
	return call(ctx, a, "wallet_positions", func(ctx context.Context) ([]*WalletPosition, error) {
		return a.backend.WalletPositions(ctx, addr)
	})
}

// Connected reports whether the last exchange call succeeded.
func (a *Adapter) Connected() bool {
	return a.connected.Load()
}

// LiveBackend combines the CLOB, Gamma and Data clients into one backend.
type LiveBackend struct {
	*CLOBClient
	gamma *GammaClient
	data  *DataClient
}

// NewLiveBackend wires the three API clients together.
func NewLiveBackend(clob *CLOBClient, gamma *GammaClient, data *DataClient) *LiveBackend {
	return &LiveBackend{CLOBClient: clob, gamma: gamma, data: data}
}

// GetMarket delegates to the Gamma client.
func (b *LiveBackend) GetMarket(ctx context.Context, conditionID string) (*types.Market, error) {
	return b.gamma.Market(ctx, conditionID)
}

// ActiveMarkets delegates to the Gamma client.
func (b *LiveBackend) ActiveMarkets(ctx context.Context, limit int) ([]*types.Market, error) {
	return b.gamma.ActiveMarkets(ctx, limit)
}

// WalletPositions delegates to the Data client.
func (b *LiveBackend) WalletPositions(ctx context.Context, addr string) ([]*WalletPosition, error) {
	return b.data.WalletPositions(ctx, addr)
}
