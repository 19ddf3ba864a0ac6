package portfolio

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mselser95/polymarket-bot/internal/store"
	"github.com/mselser95/polymarket-bot/pkg/types"
	"github.com/mselser95/polymarket-bot/pkg/wallet"
)

// BalanceSource reads the trading wallet's cash balance.
type BalanceSource interface {
	USDCBalance(ctx context.Context) (float64, error)
}

// PriceSource answers last-known prices for tokens, typically backed by the
// websocket feed's cache.
type PriceSource interface {
	LastPrice(tokenID string) (float64, bool)
}

// Snapshotter maintains a cached portfolio snapshot for the risk gate: cash,
// open position value at live prices, unrealized P&L and today's realized
// P&L. A snapshot whose balance read failed is marked invalid; the gate
// fails closed on it.
type Snapshotter struct {
	balance  BalanceSource
	store    *store.Store
	prices   PriceSource
	interval time.Duration
	logger   *zap.Logger

	mu   sync.RWMutex
	last types.PortfolioSnapshot

	wg sync.WaitGroup
}

// Config holds snapshotter configuration.
type Config struct {
	Balance  BalanceSource
	Store    *store.Store
	Prices   PriceSource
	Interval time.Duration
	Logger   *zap.Logger
}

// New creates a Snapshotter. The initial snapshot is invalid until the first
// refresh completes.
func New(cfg *Config) *Snapshotter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Second
	}
	return &Snapshotter{
		balance:  cfg.Balance,
		store:    cfg.Store,
		prices:   cfg.Prices,
		interval: interval,
		logger:   cfg.Logger,
	}
}

// Start refreshes once synchronously, then keeps refreshing in the
// background until ctx is cancelled.
func (s *Snapshotter) Start(ctx context.Context) {
	s.Refresh(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Refresh(ctx)
			}
		}
	}()
}

// Close waits for the refresh loop to stop.
func (s *Snapshotter) Close() {
	s.wg.Wait()
}

// Snapshot returns the latest cached snapshot.
func (s *Snapshotter) Snapshot() types.PortfolioSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Refresh rebuilds the snapshot now.
func (s *Snapshotter) Refresh(ctx context.Context) {
	snap := types.PortfolioSnapshot{TakenAt: time.Now()}

	cash, err := s.balance.USDCBalance(ctx)
	if err != nil {
		// An unknown balance poisons the whole snapshot. Risk fails closed
		// on invalid snapshots, so record it and move on.
		wallet.BalanceQueryErrorsTotal.Inc()
		s.logger.Warn("balance-query-failed", zap.Error(err))
		s.publish(snap)
		return
	}
	snap.CashUSD = cash
	wallet.USDCBalanceGauge.Set(cash)

	positions, err := s.store.OpenPositions(ctx, "")
	if err != nil {
		s.logger.Error("open-positions-query-failed", zap.Error(err))
		s.publish(snap)
		return
	}

	for _, p := range positions {
		price := p.EntryPrice
		if live, ok := s.prices.LastPrice(p.TokenID); ok {
			price = live
		} else if p.CurrentPrice > 0 {
			price = p.CurrentPrice
		}
		snap.PositionsValueUSD += price * p.Shares
		snap.UnrealizedPnLUSD += p.UnrealizedPnL(price)
	}
	snap.OpenPositions = len(positions)

	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	realized, err := s.store.RealizedPnLSince(ctx, midnight)
	if err != nil {
		s.logger.Error("realized-pnl-query-failed", zap.Error(err))
		s.publish(snap)
		return
	}
	snap.RealizedPnLTodayUSD = realized

	snap.TotalUSD = snap.CashUSD + snap.PositionsValueUSD
	snap.Valid = true
	s.publish(snap)

	PortfolioTotalUSD.Set(snap.TotalUSD)
	UnrealizedPnLUSD.Set(snap.UnrealizedPnLUSD)
	RealizedPnLTodayUSD.Set(snap.RealizedPnLTodayUSD)
}

func (s *Snapshotter) publish(snap types.PortfolioSnapshot) {
	s.mu.Lock()
	s.last = snap
	s.mu.Unlock()
}
