package position

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mselser95/polymarket-bot/internal/exchange"
	"github.com/mselser95/polymarket-bot/internal/store"
	"github.com/mselser95/polymarket-bot/pkg/types"
)

// EnqueueFunc feeds exit signals into the order manager's queue.
type EnqueueFunc func(*types.Signal) error

// Manager watches prices for open positions and enforces their exit rules:
// take-profit ladder, stop loss, trailing stop, and market resolution.
// Price events for one token are processed in arrival order by the single
// Run loop; the ClosingSet plus the persisted open->closing transition
// guarantee at most one in-flight exit per position however fast prices
// arrive.
type Manager struct {
	store   *store.Store
	exch    exchange.Exchange
	enqueue EnqueueFunc
	closing *ClosingSet
	logger  *zap.Logger
	events  chan types.PositionEvent

	resolutionFee      float64
	resolutionInterval time.Duration

	wg sync.WaitGroup
}

// Config holds position manager configuration.
type Config struct {
	Store              *store.Store
	Exchange           exchange.Exchange
	Enqueue            EnqueueFunc
	Closing            *ClosingSet
	ResolutionFeeRate  float64
	ResolutionInterval time.Duration
	Logger             *zap.Logger
}

// New creates a Manager.
func New(cfg *Config) *Manager {
	interval := cfg.ResolutionInterval
	if interval <= 0 {
		interval = time.Minute
	}
	return &Manager{
		store:              cfg.Store,
		exch:               cfg.Exchange,
		enqueue:            cfg.Enqueue,
		closing:            cfg.Closing,
		logger:             cfg.Logger,
		events:             make(chan types.PositionEvent, 32),
		resolutionFee:      cfg.ResolutionFeeRate,
		resolutionInterval: interval,
	}
}

// Events exposes resolution events (settled positions).
func (m *Manager) Events() <-chan types.PositionEvent {
	return m.events
}

// Run consumes price events until ctx is cancelled and keeps the resolution
// poller running alongside.
func (m *Manager) Run(ctx context.Context, prices <-chan types.PriceEvent) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.resolutionLoop(ctx)
	}()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.logger.Info("position-manager-started")
		for {
			select {
			case <-ctx.Done():
				m.logger.Info("position-manager-stopping")
				return
			case ev, ok := <-prices:
				if !ok {
					return
				}
				m.OnPriceEvent(ctx, ev)
			}
		}
	}()
}

// Close waits for the loops to stop.
func (m *Manager) Close() {
	m.wg.Wait()
	close(m.events)
}

// OnPriceEvent evaluates every open position holding the token against the
// new price.
func (m *Manager) OnPriceEvent(ctx context.Context, ev types.PriceEvent) {
	positions, err := m.store.OpenPositionsByToken(ctx, ev.TokenID)
	if err != nil {
		m.logger.Error("positions-by-token-query-failed",
			zap.String("token-id", ev.TokenID),
			zap.Error(err))
		return
	}

	for _, pos := range positions {
		m.evaluate(ctx, pos, ev.Price)
	}
}

// evaluate applies the exit rules to one position at one price.
func (m *Manager) evaluate(ctx context.Context, pos *types.Position, price float64) {
	if err := m.store.UpdatePositionPrice(ctx, pos.ID, price); err != nil {
		m.logger.Error("position-price-update-failed", zap.Error(err))
	}

	UnrealizedPnL.WithLabelValues(pos.Strategy).Set(pos.UnrealizedPnL(price))

	// A position with an in-flight exit gets no further rule evaluation.
	if pos.Status == types.PositionStatusClosing || m.closing.Contains(pos.ID) {
		return
	}

	// Stop loss: adverse cross closes everything.
	if pos.SLPrice > 0 && m.adverseCross(pos, price, pos.SLPrice) {
		m.emitFullClose(ctx, pos, price, "stop_loss")
		return
	}

	// Trailing stop, once armed: ratchet the anchor in the favorable
	// direction, close on a configured retrace against it.
	if pos.TrailPct > 0 && pos.TrailAnchor > 0 {
		if m.updateTrailAnchor(ctx, pos, price) {
			return // closed on retrace
		}
	}

	// Take-profit ladder: at most one tier fires per price event.
	m.evaluateTakeProfit(ctx, pos, price)
}

// adverseCross reports whether price crossed the threshold in the direction
// that hurts the position.
func (m *Manager) adverseCross(pos *types.Position, price, threshold float64) bool {
	if pos.Side == types.PositionShort {
		return price >= threshold
	}
	return price <= threshold
}

// updateTrailAnchor ratchets the anchor and closes on retrace. Returns true
// when a close was emitted.
func (m *Manager) updateTrailAnchor(ctx context.Context, pos *types.Position, price float64) bool {
	anchor := pos.TrailAnchor

	// Favorable for a long is up; for a short, down. The anchor only ever
	// moves in the favorable direction.
	if pos.Side == types.PositionShort {
		if price < anchor {
			anchor = price
		}
	} else if price > anchor {
		anchor = price
	}

	if anchor != pos.TrailAnchor {
		pos.TrailAnchor = anchor
		if err := m.store.UpdatePositionTrail(ctx, pos.ID, anchor); err != nil {
			m.logger.Error("trail-anchor-update-failed", zap.Error(err))
		}
	}

	retrace := anchor * (1 - pos.TrailPct/100)
	if pos.Side == types.PositionShort {
		retrace = anchor * (1 + pos.TrailPct/100)
	}

	if m.adverseCross(pos, price, retrace) {
		m.emitFullClose(ctx, pos, price, "trailing_stop")
		return true
	}
	return false
}

// evaluateTakeProfit fires the first reached unfired tier and arms the
// trailing stop.
func (m *Manager) evaluateTakeProfit(ctx context.Context, pos *types.Position, price float64) {
	for i := range pos.TPLevels {
		level := &pos.TPLevels[i]
		if level.Fired {
			continue
		}

		reached := price >= level.TriggerPrice
		if pos.Side == types.PositionShort {
			reached = price <= level.TriggerPrice
		}
		if !reached {
			return // ladder is ordered; nothing further can have triggered
		}

		sharesToSell := pos.Shares * level.FractionToSell
		if level.FractionToSell >= 1 {
			m.emitFullClose(ctx, pos, price, "take_profit")
			return
		}

		if !m.emitExit(ctx, pos, price, sharesToSell, "take_profit") {
			return
		}

		level.Fired = true
		if err := m.store.UpdatePositionTPLevels(ctx, pos.ID, pos.TPLevels); err != nil {
			m.logger.Error("tp-levels-update-failed", zap.Error(err))
		}

		// First tier arms the trailing stop at the current price.
		if pos.TrailPct > 0 && pos.TrailAnchor == 0 {
			pos.TrailAnchor = price
			if err := m.store.UpdatePositionTrail(ctx, pos.ID, price); err != nil {
				m.logger.Error("trail-anchor-update-failed", zap.Error(err))
			}
			m.logger.Info("trailing-stop-armed",
				zap.Int64("position-id", pos.ID),
				zap.Float64("anchor", price))
		}
		return
	}
}

func (m *Manager) emitFullClose(ctx context.Context, pos *types.Position, price float64, reason string) {
	m.emitExit(ctx, pos, price, pos.Shares, reason)
}

// emitExit queues one exit signal, guarded by the ClosingSet and the
// persisted closing transition. Returns true when the signal was emitted.
func (m *Manager) emitExit(ctx context.Context, pos *types.Position, price, shares float64, reason string) bool {
	if !m.closing.TryBegin(pos.ID) {
		return false
	}

	if err := m.store.SetPositionClosing(ctx, pos.ID, reason); err != nil {
		m.logger.Error("set-closing-failed", zap.Error(err))
		m.closing.Release(pos.ID)
		return false
	}

	side := types.SideSell
	if pos.Side == types.PositionShort {
		side = types.SideBuy
	}

	sig := &types.Signal{
		ID:         uuid.NewString(),
		Strategy:   pos.Strategy,
		MarketID:   pos.MarketID,
		TokenID:    pos.TokenID,
		Side:       side,
		SizeUSD:    shares * price,
		LimitPrice: price,
		OrderType:  types.OrderTypeFOK,
		Reasoning:  fmt.Sprintf("%s at %.4f", reason, price),
		Meta: types.SignalMeta{
			IsExit:           true,
			ParentPositionID: pos.ID,
			ExitReason:       reason,
		},
	}

	if err := m.enqueue(sig); err != nil {
		// The position stays in closing; startup recovery or the next
		// resolution pass picks it up.
		m.logger.Error("exit-enqueue-failed",
			zap.Int64("position-id", pos.ID),
			zap.Error(err))
		m.closing.Release(pos.ID)
		return false
	}

	ExitsEmittedTotal.WithLabelValues(reason).Inc()
	m.logger.Info("exit-emitted",
		zap.Int64("position-id", pos.ID),
		zap.String("reason", reason),
		zap.Float64("price", price),
		zap.Float64("shares", shares))
	return true
}

// ── Market resolution ────────────────────────────────────────────

func (m *Manager) resolutionLoop(ctx context.Context) {
	ticker := time.NewTicker(m.resolutionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckResolutions(ctx)
		}
	}
}

// CheckResolutions settles positions whose markets have resolved: the
// winning token pays 1.0, the loser 0.0, with the resolution fee applied to
// winnings.
func (m *Manager) CheckResolutions(ctx context.Context) {
	positions, err := m.store.OpenPositions(ctx, "")
	if err != nil {
		m.logger.Error("open-positions-query-failed", zap.Error(err))
		return
	}

	seen := make(map[string]*types.Market)
	for _, pos := range positions {
		market, ok := seen[pos.MarketID]
		if !ok {
			market, err = m.exch.GetMarket(ctx, pos.MarketID)
			if err != nil {
				m.logger.Warn("resolution-market-fetch-failed",
					zap.String("market-id", pos.MarketID),
					zap.Error(err))
				continue
			}
			seen[pos.MarketID] = market
		}

		if !market.Resolved() {
			continue
		}

		m.resolvePosition(ctx, pos, market.WinningOutcome())
	}
}

func (m *Manager) resolvePosition(ctx context.Context, pos *types.Position, winningOutcome string) {
	payout := 0.0
	if pos.Outcome != "" && pos.Outcome == winningOutcome {
		payout = 1.0
	}

	proportionalEntryFee := pos.EntryFee
	if pos.EntryShares > 0 {
		proportionalEntryFee = pos.EntryFee * pos.Shares / pos.EntryShares
	}
	fee := m.resolutionFee * payout * pos.Shares

	gross := (payout - pos.EntryPrice) * pos.Shares
	if pos.Side == types.PositionShort {
		gross = (pos.EntryPrice - payout) * pos.Shares
	}
	realized := gross - proportionalEntryFee - fee

	if err := m.store.ResolvePosition(ctx, pos.ID, payout, realized, fee); err != nil {
		m.logger.Error("resolve-position-failed",
			zap.Int64("position-id", pos.ID),
			zap.Error(err))
		return
	}

	// A pending exit for this position can never fill on a settled market;
	// the guard entry is released so nothing stays wedged.
	m.closing.Release(pos.ID)
	ResolutionsTotal.Inc()

	m.logger.Info("position-resolved",
		zap.Int64("position-id", pos.ID),
		zap.String("market-id", pos.MarketID),
		zap.String("winning-outcome", winningOutcome),
		zap.Float64("payout", payout),
		zap.Float64("realized-pnl", realized))

	pos.Status = types.PositionStatusResolved
	select {
	case m.events <- types.PositionEvent{
		Kind:        types.PositionEventResolved,
		PositionID:  pos.ID,
		Position:    pos,
		FillPrice:   payout,
		FillShares:  pos.Shares,
		RealizedPnL: realized,
		Reason:      "resolution",
		Timestamp:   time.Now(),
	}:
	default:
		m.logger.Warn("resolution-event-channel-full", zap.Int64("position-id", pos.ID))
	}
}

// RecoverClosing re-emits exits for positions left in closing by a previous
// run, using the latest available price. Called once at startup before the
// feeds start.
func (m *Manager) RecoverClosing(ctx context.Context) {
	positions, err := m.store.ClosingPositions(ctx)
	if err != nil {
		m.logger.Error("closing-positions-query-failed", zap.Error(err))
		return
	}

	for _, pos := range positions {
		price, err := m.exch.Price(ctx, pos.TokenID)
		if err != nil || price <= 0 {
			price = pos.CurrentPrice
		}
		if price <= 0 {
			price = pos.EntryPrice
		}

		if !m.closing.TryBegin(pos.ID) {
			continue
		}

		side := types.SideSell
		if pos.Side == types.PositionShort {
			side = types.SideBuy
		}

		sig := &types.Signal{
			ID:         uuid.NewString(),
			Strategy:   pos.Strategy,
			MarketID:   pos.MarketID,
			TokenID:    pos.TokenID,
			Side:       side,
			SizeUSD:    pos.Shares * price,
			LimitPrice: price,
			OrderType:  types.OrderTypeFOK,
			Reasoning:  "recovered in-flight exit after restart",
			Meta: types.SignalMeta{
				IsExit:           true,
				ParentPositionID: pos.ID,
				ExitReason:       "recovery",
			},
		}

		if err := m.enqueue(sig); err != nil {
			m.logger.Error("recovery-exit-enqueue-failed",
				zap.Int64("position-id", pos.ID),
				zap.Error(err))
			m.closing.Release(pos.ID)
			continue
		}

		m.logger.Warn("recovered-closing-position",
			zap.Int64("position-id", pos.ID),
			zap.Float64("shares", pos.Shares))
	}
}
