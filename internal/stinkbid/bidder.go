package stinkbid

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mselser95/polymarket-bot/internal/exchange"
	"github.com/mselser95/polymarket-bot/internal/store"
	"github.com/mselser95/polymarket-bot/pkg/config"
	"github.com/mselser95/polymarket-bot/pkg/types"
)

// Stink bids never rest above this price: a bid at a deep discount that
// still costs real money is not a stink bid.
const maxStinkPrice = 0.10

// snapshotSource provides portfolio value for the allocation cap.
type snapshotSource interface {
	Snapshot() types.PortfolioSnapshot
}

// fillAdopter turns an externally filled resting order into a position
// through the normal entry accounting.
type fillAdopter interface {
	RecordExternalFill(ctx context.Context, sig *types.Signal, status *exchange.OrderStatus)
}

// Bidder keeps a bounded set of deep-discount GTC bids resting on liquid
// markets, hoping to catch fat-finger crosses. The stink_orders table is the
// source of truth: one row per (market, token), written at placement, which
// is what prevents duplicate bids. Each tick reconciles the table against
// the exchange's open orders.
type Bidder struct {
	exch      exchange.Exchange
	store     *store.Store
	submit    func(*types.Signal) error
	adopter   fillAdopter
	portfolio snapshotSource
	cfg       config.StinkBidConfig
	logger    *zap.Logger

	wg sync.WaitGroup
}

// Config holds bidder configuration.
type Config struct {
	Exchange  exchange.Exchange
	Store     *store.Store
	Submit    func(*types.Signal) error
	Adopter   fillAdopter
	Portfolio snapshotSource
	Strategy  config.StinkBidConfig
	Logger    *zap.Logger
}

// New creates a Bidder.
func New(cfg *Config) *Bidder {
	return &Bidder{
		exch:      cfg.Exchange,
		store:     cfg.Store,
		submit:    cfg.Submit,
		adopter:   cfg.Adopter,
		portfolio: cfg.Portfolio,
		cfg:       cfg.Strategy,
		logger:    cfg.Logger,
	}
}

// Run reconciles and replenishes on the configured interval.
func (b *Bidder) Run(ctx context.Context) {
	interval := b.cfg.RefreshInterval.Std()
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				b.logger.Info("stink-bidder-stopping")
				return
			case <-ticker.C:
				b.Tick(ctx)
			}
		}
	}()
}

// Close waits for the loop to stop.
func (b *Bidder) Close() {
	b.wg.Wait()
}

// Tick reconciles tracked bids against the exchange and places new ones up
// to the bid and allocation limits.
func (b *Bidder) Tick(ctx context.Context) {
	active, err := b.Reconcile(ctx)
	if err != nil {
		b.logger.Error("stink-reconcile-failed", zap.Error(err))
		return
	}

	slots := b.cfg.MaxActiveBids - active
	if slots <= 0 {
		b.logger.Debug("stink-bidder-at-capacity", zap.Int("active", active))
		return
	}

	b.placeBids(ctx, slots)
}

// Reconcile drops table rows whose orders are gone from the exchange
// (filled, cancelled or expired) and adopts fills into positions. Returns
// the number of bids still resting.
func (b *Bidder) Reconcile(ctx context.Context) (int, error) {
	tracked, err := b.store.StinkOrders(ctx)
	if err != nil {
		return 0, fmt.Errorf("load stink orders: %w", err)
	}
	if len(tracked) == 0 {
		return 0, nil
	}

	open, err := b.exch.OpenOrders(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch open orders: %w", err)
	}
	openIDs := make(map[string]bool, len(open))
	for _, o := range open {
		openIDs[o.ExchangeOrderID] = true
	}

	resting := 0
	for _, row := range tracked {
		if openIDs[row.ExchangeOrderID] {
			resting++
			continue
		}

		// The order left the book. Find out why before dropping the row.
		status, err := b.exch.GetOrder(ctx, row.ExchangeOrderID)
		if err != nil {
			b.logger.Warn("stink-order-status-query-failed",
				zap.String("exchange-order-id", row.ExchangeOrderID),
				zap.Error(err))
			// Keep the row; next tick retries the lookup.
			resting++
			continue
		}

		mapped := exchange.MapExchangeStatus(status.Status, status.FilledShares, status.SizeShares)
		if mapped == types.OrderStatusFilled || (mapped == types.OrderStatusPartial && status.FilledShares > 0) {
			b.adoptFill(ctx, row, status)
		}

		if err := b.store.DeleteStinkOrder(ctx, row.MarketID, row.TokenID); err != nil {
			b.logger.Error("stink-order-delete-failed", zap.Error(err))
			continue
		}

		RefreshesTotal.WithLabelValues(mapped).Inc()
		b.logger.Info("stink-bid-left-book",
			zap.String("market-id", row.MarketID),
			zap.String("token-id", row.TokenID),
			zap.String("status", mapped))
	}

	return resting, nil
}

// adoptFill routes a crossed stink bid through the normal entry pipeline so
// it becomes a managed position with the exit ladder attached.
func (b *Bidder) adoptFill(ctx context.Context, row *types.StinkOrder, status *exchange.OrderStatus) {
	if b.adopter == nil {
		return
	}

	status.Status = types.OrderStatusFilled
	if status.AvgFillPrice <= 0 {
		status.AvgFillPrice = row.Price
	}

	sig := &types.Signal{
		ID:         uuid.NewString(),
		Strategy:   types.StrategyStinkBid,
		MarketID:   row.MarketID,
		TokenID:    row.TokenID,
		Side:       types.SideBuy,
		SizeUSD:    row.SizeUSD,
		LimitPrice: row.Price,
		OrderType:  types.OrderTypeGTC,
		Reasoning:  fmt.Sprintf("stink bid crossed at %.3f", status.AvgFillPrice),
		Meta:       types.SignalMeta{StinkBid: true},
	}

	b.adopter.RecordExternalFill(ctx, sig, status)
	FillsTotal.Inc()

	b.logger.Info("stink-bid-filled",
		zap.String("market-id", row.MarketID),
		zap.Float64("price", status.AvgFillPrice),
		zap.Float64("shares", status.FilledShares))
}

// placeBids emits up to `slots` new bid signals on liquid, unresolved
// markets the strategy has no bid on yet.
func (b *Bidder) placeBids(ctx context.Context, slots int) {
	snap := b.portfolio.Snapshot()
	if !snap.Valid {
		b.logger.Warn("stink-skip-unknown-portfolio")
		return
	}

	exposure, err := b.store.StinkExposure(ctx)
	if err != nil {
		b.logger.Error("stink-exposure-query-failed", zap.Error(err))
		return
	}
	maxExposure := snap.TotalUSD * b.cfg.AllocationPct / 100

	tracked, err := b.store.StinkOrders(ctx)
	if err != nil {
		b.logger.Error("stink-orders-query-failed", zap.Error(err))
		return
	}
	onMarket := make(map[string]bool, len(tracked))
	for _, row := range tracked {
		onMarket[row.MarketID] = true
	}

	markets, err := b.exch.ActiveMarkets(ctx, 0)
	if err != nil {
		b.logger.Error("stink-market-fetch-failed", zap.Error(err))
		return
	}

	// Shuffle so the same top-volume markets are not always picked first.
	rand.Shuffle(len(markets), func(i, j int) {
		markets[i], markets[j] = markets[j], markets[i]
	})

	placed := 0
	for _, market := range markets {
		if placed >= slots {
			break
		}
		if !market.IsBinary() || market.Closed || market.Resolved() {
			continue
		}
		if market.Volume < b.cfg.MinMarketVolumeUSD {
			continue
		}
		if onMarket[market.ConditionID] {
			continue
		}
		if exposure+b.cfg.BidSizeUSD > maxExposure {
			b.logger.Info("stink-allocation-reached",
				zap.Float64("exposure", exposure),
				zap.Float64("max", maxExposure))
			return
		}

		token, mid := b.pickTarget(ctx, market)
		if token == nil {
			continue
		}

		discount := b.cfg.MinDiscount + rand.Float64()*(b.cfg.MaxDiscount-b.cfg.MinDiscount)
		price := mid * (1 - discount)
		if price > maxStinkPrice {
			price = maxStinkPrice
		}
		if price < 0.01 {
			price = 0.01
		}
		price = float64(int(price*1000)) / 1000

		sig := &types.Signal{
			ID:         uuid.NewString(),
			Strategy:   types.StrategyStinkBid,
			MarketID:   market.ConditionID,
			TokenID:    token.TokenID,
			Side:       types.SideBuy,
			SizeUSD:    b.cfg.BidSizeUSD,
			LimitPrice: price,
			OrderType:  types.OrderTypeGTC,
			Reasoning: fmt.Sprintf("stink bid: %.0f%% discount on %s at %.3f",
				discount*100, token.Outcome, price),
			Meta: types.SignalMeta{
				StinkBid:    true,
				DiscountPct: discount * 100,
			},
		}

		if err := b.submit(sig); err != nil {
			b.logger.Error("stink-bid-submit-failed", zap.Error(err))
			continue
		}

		placed++
		exposure += b.cfg.BidSizeUSD
		onMarket[market.ConditionID] = true
		BidsPlacedTotal.Inc()

		b.logger.Info("stink-bid-placed",
			zap.String("market-id", market.ConditionID),
			zap.String("outcome", token.Outcome),
			zap.Float64("mid", mid),
			zap.Float64("price", price),
			zap.Float64("discount", discount))
	}
}

// pickTarget chooses the higher-priced outcome token (more room to crash)
// and returns it with its current mid price.
func (b *Bidder) pickTarget(ctx context.Context, market *types.Market) (*types.Token, float64) {
	yes := market.TokenByOutcome("Yes")
	no := market.TokenByOutcome("No")
	if yes == nil || no == nil {
		return nil, 0
	}

	target := yes
	if no.Price > yes.Price {
		target = no
	}

	book, err := b.exch.Orderbook(ctx, target.TokenID)
	if err != nil {
		b.logger.Debug("stink-book-fetch-failed",
			zap.String("token-id", target.TokenID), zap.Error(err))
		return nil, 0
	}
	mid, ok := book.Mid()
	if !ok || mid <= 0 || mid >= 1 {
		return nil, 0
	}
	return target, mid
}
