package copytrade

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mselser95/polymarket-bot/internal/exchange"
	"github.com/mselser95/polymarket-bot/internal/store"
	"github.com/mselser95/polymarket-bot/pkg/config"
	"github.com/mselser95/polymarket-bot/pkg/types"
)

// Whale position change thresholds. A >10% size increase reads as the whale
// adding; a >30% decrease (or full exit) triggers a proportional copy exit.
const (
	increaseThreshold = 1.10
	decreaseThreshold = 0.70
	minExitUSD        = 10.0
)

type whaleHolding struct {
	shares   float64
	avgPrice float64
}

type holdingKey struct {
	marketID string
	tokenID  string
}

// snapshotSource provides portfolio value for percentage sizing.
type snapshotSource interface {
	Snapshot() types.PortfolioSnapshot
}

// priceSource answers cached feed prices before falling back to REST.
type priceSource interface {
	LastPrice(tokenID string) (float64, bool)
}

// Tracker copies trades from tracked whale wallets. Every tick it pulls each
// wallet's current holdings, diffs them against the stored state, and emits
// BUY signals for new conviction and SELL signals mirroring whale exits.
type Tracker struct {
	exch      exchange.Exchange
	store     *store.Store
	submit    func(*types.Signal) error
	prices    priceSource
	portfolio snapshotSource
	subscribe func(tokenIDs []string)
	cfg       config.CopyTradeConfig
	wallets   []config.TrackedWallet
	logger    *zap.Logger

	mu    sync.Mutex
	cache map[string]map[holdingKey]whaleHolding // wallet -> holdings

	wg sync.WaitGroup
}

// Config holds tracker configuration.
type Config struct {
	Exchange  exchange.Exchange
	Store     *store.Store
	Submit    func(*types.Signal) error
	Prices    priceSource
	Portfolio snapshotSource
	Subscribe func(tokenIDs []string)
	Strategy  config.CopyTradeConfig
	Wallets   []config.TrackedWallet
	Logger    *zap.Logger
}

// New creates a Tracker.
func New(cfg *Config) *Tracker {
	return &Tracker{
		exch:      cfg.Exchange,
		store:     cfg.Store,
		submit:    cfg.Submit,
		prices:    cfg.Prices,
		portfolio: cfg.Portfolio,
		subscribe: cfg.Subscribe,
		cfg:       cfg.Strategy,
		wallets:   cfg.Wallets,
		logger:    cfg.Logger,
		cache:     make(map[string]map[holdingKey]whaleHolding),
	}
}

// Initialize loads the persisted whale state so a restart does not re-copy
// positions the whale already held.
func (t *Tracker) Initialize(ctx context.Context) error {
	for _, w := range t.wallets {
		saved, err := t.store.WhalePositions(ctx, w.Address)
		if err != nil {
			return fmt.Errorf("load whale positions for %s: %w", w.Name, err)
		}

		holdings := make(map[holdingKey]whaleHolding, len(saved))
		for _, pos := range saved {
			holdings[holdingKey{pos.MarketID, pos.TokenID}] = whaleHolding{
				shares:   pos.Shares,
				avgPrice: pos.AvgPrice,
			}
		}

		t.mu.Lock()
		t.cache[w.Address] = holdings
		t.mu.Unlock()
	}

	t.logger.Info("copy-tracker-initialized",
		zap.Int("tracked-wallets", len(t.wallets)))
	return nil
}

// Run polls on the configured interval until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	interval := t.cfg.PollInterval.Std()
	if interval <= 0 {
		interval = time.Minute
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				t.logger.Info("copy-tracker-stopping")
				return
			case <-ticker.C:
				t.Tick(ctx)
			}
		}
	}()
}

// Close waits for the poll loop to stop.
func (t *Tracker) Close() {
	t.wg.Wait()
}

// Tick processes every tracked wallet once.
func (t *Tracker) Tick(ctx context.Context) {
	for _, w := range t.wallets {
		if err := t.processWallet(ctx, w); err != nil {
			t.logger.Error("copy-wallet-error",
				zap.String("wallet", w.Name),
				zap.Error(err))
		}
	}
}

func (t *Tracker) processWallet(ctx context.Context, w config.TrackedWallet) error {
	current, err := t.exch.WalletPositions(ctx, w.Address)
	if err != nil {
		return fmt.Errorf("fetch wallet positions: %w", err)
	}

	lookup := make(map[holdingKey]whaleHolding, len(current))
	curValues := make(map[holdingKey]*exchange.WalletPosition, len(current))
	for _, pos := range current {
		if pos.Shares <= 0 || pos.MarketID == "" || pos.TokenID == "" {
			continue
		}
		key := holdingKey{pos.MarketID, pos.TokenID}
		lookup[key] = whaleHolding{shares: pos.Shares, avgPrice: pos.AvgPrice}
		curValues[key] = pos
	}

	t.mu.Lock()
	prev := t.cache[w.Address]
	t.mu.Unlock()

	// Whale exits first: freeing capital beats adding exposure.
	t.detectExits(ctx, w, prev, lookup)
	t.detectEntries(ctx, w, prev, lookup, curValues)

	t.mu.Lock()
	t.cache[w.Address] = lookup
	t.mu.Unlock()

	t.persist(ctx, w.Address, prev, lookup)

	if t.subscribe != nil {
		tokens := make([]string, 0, len(lookup))
		for key := range lookup {
			tokens = append(tokens, key.tokenID)
		}
		t.subscribe(tokens)
	}

	return nil
}

// detectExits emits SELL signals for our copies of positions the whale
// reduced by more than the threshold or left entirely.
func (t *Tracker) detectExits(ctx context.Context, w config.TrackedWallet, prev, current map[holdingKey]whaleHolding) {
	for key, prevHolding := range prev {
		reductionPct := 0.0
		if cur, held := current[key]; held {
			if cur.shares >= prevHolding.shares*decreaseThreshold {
				continue
			}
			reductionPct = (prevHolding.shares - cur.shares) / prevHolding.shares * 100
		} else {
			reductionPct = 100
		}

		ours := t.matchingPosition(ctx, w.Address, key.tokenID)
		if ours == nil {
			continue // never copied this one
		}

		price, ok := t.currentPrice(ctx, key.tokenID)
		if !ok {
			t.logger.Warn("copy-exit-no-price",
				zap.String("wallet", w.Name),
				zap.String("token-id", key.tokenID))
			continue
		}

		exitUSD := ours.EntryPrice * ours.Shares * reductionPct / 100
		if exitUSD < minExitUSD {
			continue
		}

		sig := &types.Signal{
			ID:         uuid.NewString(),
			Strategy:   types.StrategyCopyTrade,
			MarketID:   key.marketID,
			TokenID:    key.tokenID,
			Side:       types.SideSell,
			SizeUSD:    exitUSD,
			LimitPrice: price,
			OrderType:  t.orderType(),
			Reasoning: fmt.Sprintf("whale %s reduced position %.0f%% (was %.1f shares)",
				w.Name, reductionPct, prevHolding.shares),
			Meta: types.SignalMeta{
				IsExit:           true,
				ParentPositionID: ours.ID,
				ExitReason:       "copy_exit",
				SourceWallet:     w.Address,
				SourceWalletName: w.Name,
			},
		}

		if err := t.submit(sig); err != nil {
			t.logger.Error("copy-exit-submit-failed", zap.Error(err))
			continue
		}

		ExitSignalsTotal.Inc()
		t.logger.Info("copy-exit-signal",
			zap.String("wallet", w.Name),
			zap.String("market-id", key.marketID),
			zap.Float64("reduction-pct", reductionPct),
			zap.Float64("exit-usd", exitUSD))
	}
}

// detectEntries emits BUY signals for new or meaningfully increased whale
// holdings that pass the conviction and slippage filters.
func (t *Tracker) detectEntries(ctx context.Context, w config.TrackedWallet, prev, current map[holdingKey]whaleHolding, values map[holdingKey]*exchange.WalletPosition) {
	for key, holding := range current {
		if prevHolding, existed := prev[key]; existed {
			if holding.shares <= prevHolding.shares*increaseThreshold {
				continue
			}
			t.logger.Info("whale-position-increased",
				zap.String("wallet", w.Name),
				zap.String("market-id", key.marketID),
				zap.Float64("prev-shares", prevHolding.shares),
				zap.Float64("new-shares", holding.shares))
		}

		price, ok := t.currentPrice(ctx, key.tokenID)
		if !ok {
			t.logger.Warn("copy-skip-no-price",
				zap.String("wallet", w.Name),
				zap.String("token-id", key.tokenID))
			continue
		}

		// Conviction uses the whale's current value at the live price, not
		// a stale cost basis.
		whaleValueUSD := holding.shares * price
		if v := values[key]; v != nil && v.CurrentValue > 0 {
			whaleValueUSD = v.CurrentValue
		}
		if whaleValueUSD < t.cfg.MinWhaleValueUSD {
			SkipsTotal.WithLabelValues("conviction").Inc()
			continue
		}

		// Slippage guard: paying meaningfully more than the whale did
		// destroys the edge of copying.
		if holding.avgPrice > 0 {
			slippagePct := (price - holding.avgPrice) / holding.avgPrice * 100
			if slippagePct > t.cfg.MaxSlippagePct {
				SkipsTotal.WithLabelValues("slippage").Inc()
				t.logger.Info("copy-skip-slippage",
					zap.String("wallet", w.Name),
					zap.String("market-id", key.marketID),
					zap.Float64("whale-entry", holding.avgPrice),
					zap.Float64("current-price", price),
					zap.Float64("slippage-pct", slippagePct))
				continue
			}
		}

		sizeUSD := t.tradeSize(whaleValueUSD)
		if sizeUSD <= 0 {
			continue
		}

		// Per-wallet allocation cap.
		exposure := t.walletExposure(ctx, w.Address)
		if w.MaxAllocationUSD > 0 && exposure+sizeUSD > w.MaxAllocationUSD {
			sizeUSD = w.MaxAllocationUSD - exposure
			if sizeUSD < minExitUSD {
				SkipsTotal.WithLabelValues("wallet_allocation").Inc()
				continue
			}
		}

		sig := &types.Signal{
			ID:         uuid.NewString(),
			Strategy:   types.StrategyCopyTrade,
			MarketID:   key.marketID,
			TokenID:    key.tokenID,
			Side:       types.SideBuy,
			SizeUSD:    sizeUSD,
			LimitPrice: price,
			OrderType:  t.orderType(),
			Reasoning: fmt.Sprintf("copy %s: whale holds $%.0f at entry %.3f, current %.3f",
				w.Name, whaleValueUSD, holding.avgPrice, price),
			Meta: types.SignalMeta{
				SourceWallet:     w.Address,
				SourceWalletName: w.Name,
				WhaleEntryPrice:  holding.avgPrice,
			},
		}

		if err := t.submit(sig); err != nil {
			t.logger.Error("copy-entry-submit-failed", zap.Error(err))
			continue
		}

		EntrySignalsTotal.Inc()
		t.logger.Info("copy-entry-signal",
			zap.String("wallet", w.Name),
			zap.String("market-id", key.marketID),
			zap.Float64("whale-value-usd", whaleValueUSD),
			zap.Float64("size-usd", sizeUSD),
			zap.Float64("price", price))
	}
}

// tradeSize applies the configured sizing method against the whale's
// current position value.
func (t *Tracker) tradeSize(whaleValueUSD float64) float64 {
	switch t.cfg.SizingMethod {
	case "portfolio_pct":
		snap := t.portfolio.Snapshot()
		if !snap.Valid {
			return 0
		}
		return snap.TotalUSD * t.cfg.PortfolioPct / 100
	case "whale_pct":
		return whaleValueUSD * t.cfg.WhalePct / 100
	default:
		return t.cfg.FixedSizeUSD
	}
}

func (t *Tracker) orderType() string {
	if t.cfg.OrderType != "" {
		return t.cfg.OrderType
	}
	return types.OrderTypeGTC
}

// currentPrice prefers the feed's cached price, falling back to REST.
func (t *Tracker) currentPrice(ctx context.Context, tokenID string) (float64, bool) {
	if t.prices != nil {
		if price, ok := t.prices.LastPrice(tokenID); ok {
			return price, true
		}
	}
	price, err := t.exch.Price(ctx, tokenID)
	if err != nil || price <= 0 {
		return 0, false
	}
	return price, true
}

// matchingPosition finds our open copy of a whale holding.
func (t *Tracker) matchingPosition(ctx context.Context, wallet, tokenID string) *types.Position {
	positions, err := t.store.PositionsBySourceWallet(ctx, wallet)
	if err != nil {
		t.logger.Error("source-wallet-positions-query-failed", zap.Error(err))
		return nil
	}
	for _, pos := range positions {
		if pos.TokenID == tokenID &&
			(pos.Status == types.PositionStatusOpen || pos.Status == types.PositionStatusClosing) {
			return pos
		}
	}
	return nil
}

// walletExposure sums the entry notional of open positions copied from one
// wallet.
func (t *Tracker) walletExposure(ctx context.Context, wallet string) float64 {
	positions, err := t.store.PositionsBySourceWallet(ctx, wallet)
	if err != nil {
		t.logger.Error("source-wallet-positions-query-failed", zap.Error(err))
		return 0
	}
	exposure := 0.0
	for _, pos := range positions {
		if pos.Status == types.PositionStatusOpen || pos.Status == types.PositionStatusClosing {
			exposure += pos.EntryPrice * pos.Shares
		}
	}
	return exposure
}

// persist mirrors the in-memory whale state into the store for restart
// recovery.
func (t *Tracker) persist(ctx context.Context, wallet string, prev, current map[holdingKey]whaleHolding) {
	for key := range prev {
		if _, held := current[key]; !held {
			if err := t.store.DeleteWhalePosition(ctx, wallet, key.marketID, key.tokenID); err != nil {
				t.logger.Error("whale-position-delete-failed", zap.Error(err))
			}
		}
	}
	for key, holding := range current {
		err := t.store.UpsertWhalePosition(ctx, &types.WhalePosition{
			WalletAddr: wallet,
			MarketID:   key.marketID,
			TokenID:    key.tokenID,
			Shares:     holding.shares,
			AvgPrice:   holding.avgPrice,
		})
		if err != nil {
			t.logger.Error("whale-position-upsert-failed", zap.Error(err))
		}
	}
}

// WalletPerformance summarizes realized results of copying one wallet.
type WalletPerformance struct {
	Wallet   string
	Name     string
	Trades   int
	Wins     int
	Losses   int
	WinRate  float64
	TotalPnL float64
	Exposure float64
}

// Performance reports per-wallet realized P&L for the status surface.
func (t *Tracker) Performance(ctx context.Context) []WalletPerformance {
	out := make([]WalletPerformance, 0, len(t.wallets))
	for _, w := range t.wallets {
		perf := WalletPerformance{Wallet: w.Address, Name: w.Name}

		positions, err := t.store.PositionsBySourceWallet(ctx, w.Address)
		if err != nil {
			t.logger.Error("source-wallet-positions-query-failed", zap.Error(err))
			continue
		}
		for _, pos := range positions {
			switch pos.Status {
			case types.PositionStatusClosed, types.PositionStatusResolved:
				perf.Trades++
				perf.TotalPnL += pos.RealizedPnL
				if pos.RealizedPnL > 0 {
					perf.Wins++
				} else if pos.RealizedPnL < 0 {
					perf.Losses++
				}
			case types.PositionStatusOpen, types.PositionStatusClosing:
				perf.Exposure += pos.EntryPrice * pos.Shares
			}
		}
		if decided := perf.Wins + perf.Losses; decided > 0 {
			perf.WinRate = float64(perf.Wins) / float64(decided) * 100
		}
		out = append(out, perf)
	}
	return out
}
