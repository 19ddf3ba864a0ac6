package order

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mselser95/polymarket-bot/internal/exchange"
	"github.com/mselser95/polymarket-bot/internal/risk"
	"github.com/mselser95/polymarket-bot/internal/store"
	"github.com/mselser95/polymarket-bot/pkg/config"
	"github.com/mselser95/polymarket-bot/pkg/types"
)

const (
	defaultConfirmInterval = 500 * time.Millisecond
	defaultConfirmTimeout  = 10 * time.Second

	// Exit retry policy: 1s, 2s, 4s, ... capped at 5 minutes, 8 attempts.
	// Arb unwinds are retried without an attempt limit.
	exitRetryBase     = time.Second
	exitRetryCap      = 5 * time.Minute
	exitRetryAttempts = 8

	// Shares round down to the exchange tick; orders below the minimum are
	// rejected before submission.
	shareTick = 0.01
	minShares = 5.0

	// Consecutive store failures that trip the kill switch.
	storeFailureLimit = 3
)

// snapshotSource provides the portfolio snapshot consumed by the risk gate.
type snapshotSource interface {
	Snapshot() types.PortfolioSnapshot
}

// exitTracker releases a position from the in-flight-exit guard once the
// exit's terminal outcome is persisted.
type exitTracker interface {
	Release(positionID int64)
}

// alertSink receives out-of-band operator alerts.
type alertSink interface {
	Critical(ctx context.Context, title, message string)
	Warn(ctx context.Context, title, message string)
}

// Manager owns the signal queue and runs the per-signal pipeline: risk check,
// USD-to-shares conversion at the live price, submission, fill confirmation,
// atomic persistence, and position event emission. One worker processes
// signals strictly in dequeue order, so per-strategy emission order is
// preserved and accounting races cannot happen.
type Manager struct {
	queue     *Queue
	gate      *risk.Gate
	exch      exchange.Exchange
	store     *store.Store
	portfolio snapshotSource
	closing   exitTracker
	alerts    alertSink
	exits     config.ExitConfig
	takerFee  float64
	logger    *zap.Logger

	confirmInterval time.Duration
	confirmTimeout  time.Duration

	events chan types.PositionEvent

	mu            sync.Mutex
	arbPairs      map[string]*arbPairState
	exitTries     map[int64]int // positionID -> retry attempts
	retryTimer    []*time.Timer
	storeFailures int

	wg sync.WaitGroup
}

// arbPairState tracks the first leg of a two-leg arbitrage so the second leg
// can be gated on its outcome and unwound on failure.
type arbPairState struct {
	leg1Filled bool
	positionID int64
	fillPrice  float64
	fillShares float64
	marketID   string
	tokenID    string
}

// Config holds manager configuration.
type Config struct {
	Queue           *Queue
	Gate            *risk.Gate
	Exchange        exchange.Exchange
	Store           *store.Store
	Portfolio       snapshotSource
	Closing         exitTracker
	Alerts          alertSink
	Exits           config.ExitConfig
	TakerFeeRate    float64
	ConfirmInterval time.Duration
	ConfirmTimeout  time.Duration
	Logger          *zap.Logger
}

// New creates a Manager.
func New(cfg *Config) *Manager {
	confirmInterval := cfg.ConfirmInterval
	if confirmInterval <= 0 {
		confirmInterval = defaultConfirmInterval
	}
	confirmTimeout := cfg.ConfirmTimeout
	if confirmTimeout <= 0 {
		confirmTimeout = defaultConfirmTimeout
	}

	return &Manager{
		queue:           cfg.Queue,
		gate:            cfg.Gate,
		exch:            cfg.Exchange,
		store:           cfg.Store,
		portfolio:       cfg.Portfolio,
		closing:         cfg.Closing,
		alerts:          cfg.Alerts,
		exits:           cfg.Exits,
		takerFee:        cfg.TakerFeeRate,
		logger:          cfg.Logger,
		confirmInterval: confirmInterval,
		confirmTimeout:  confirmTimeout,
		events:          make(chan types.PositionEvent, 64),
		arbPairs:        make(map[string]*arbPairState),
		exitTries:       make(map[int64]int),
	}
}

// Submit enqueues a signal for processing.
func (m *Manager) Submit(sig *types.Signal) error {
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = time.Now()
	}
	return m.queue.Enqueue(sig)
}

// Events exposes position lifecycle events produced by confirmed fills.
func (m *Manager) Events() <-chan types.PositionEvent {
	return m.events
}

// Start launches the single worker loop.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.logger.Info("order-manager-started")
		for {
			sig, err := m.queue.Dequeue(ctx)
			if err != nil {
				m.logger.Info("order-manager-stopping")
				return
			}

			start := time.Now()
			m.process(ctx, sig)
			PipelineDurationSeconds.Observe(time.Since(start).Seconds())
		}
	}()
}

// Close stops the worker and pending retry timers.
func (m *Manager) Close() {
	m.mu.Lock()
	for _, timer := range m.retryTimer {
		timer.Stop()
	}
	m.mu.Unlock()

	m.wg.Wait()
	close(m.events)
}

// process runs the full pipeline for one signal.
func (m *Manager) process(ctx context.Context, sig *types.Signal) {
	// Arbitrage leg 2 only runs once leg 1 actually filled.
	if sig.Meta.ArbLeg == 2 && !m.arbLeg1Filled(sig.Meta.ArbPairID) {
		m.logger.Warn("arb-leg2-skipped-leg1-not-filled",
			zap.String("pair-id", sig.Meta.ArbPairID),
			zap.String("signal-id", sig.ID))
		return
	}

	// 1. Risk check against a fresh snapshot.
	decision := m.gate.Approve(ctx, sig, m.portfolio.Snapshot())
	if !decision.Approved {
		if sig.IsExit() {
			// A rejected exit is retried: the position must not be stranded
			// in closing because the balance was momentarily unknown.
			m.scheduleExitRetry(ctx, sig, string(decision.Reason))
			return
		}
		if err := m.store.RecordRiskEvent(ctx, "signal_rejected", string(decision.Reason), decision.Detail); err != nil {
			m.logger.Error("risk-event-record-failed", zap.Error(err))
		}
		// Dropping leg 2 leaves leg 1 naked: unwind it.
		if sig.Meta.ArbLeg == 2 {
			m.emitArbUnwind(sig)
		}
		return
	}

	// 2. Size conversion at the live price. This is the only place USD
	// notional becomes shares.
	price, err := m.exch.Price(ctx, sig.TokenID)
	if err != nil || price <= 0 || price >= 1 {
		m.logger.Warn("live-price-unavailable",
			zap.String("signal-id", sig.ID),
			zap.String("token-id", sig.TokenID),
			zap.Float64("price", price),
			zap.Error(err))
		if sig.IsExit() {
			m.scheduleExitRetry(ctx, sig, "price unavailable")
		} else if sig.Meta.ArbLeg == 2 {
			m.emitArbUnwind(sig)
		}
		return
	}

	limitPrice := sig.LimitPrice
	if limitPrice <= 0 || limitPrice >= 1 {
		limitPrice = price
	}

	shares := math.Floor(sig.SizeUSD/price/shareTick) * shareTick

	var position *types.Position
	if sig.IsExit() {
		position, err = m.store.GetPosition(ctx, sig.Meta.ParentPositionID)
		if err != nil || position == nil {
			// An exit for a position the store does not know is a broken
			// invariant, not a transient: log, count, skip.
			InvariantViolationsTotal.Inc()
			m.logger.Error("exit-position-missing",
				zap.Int64("position-id", sig.Meta.ParentPositionID),
				zap.Error(err))
			m.releaseClosing(sig.Meta.ParentPositionID)
			return
		}
		// An exit sells inventory, never more than the position holds.
		if shares > position.Shares || position.Shares-shares < minShares {
			shares = position.Shares
		}
	}

	if shares < minShares {
		m.logger.Warn("size-below-minimum",
			zap.String("signal-id", sig.ID),
			zap.Float64("shares", shares),
			zap.Float64("min", minShares))
		if sig.IsExit() {
			m.scheduleExitRetry(ctx, sig, "size below minimum")
		} else if sig.Meta.ArbLeg == 2 {
			m.emitArbUnwind(sig)
		}
		return
	}

	// 3. Submit and persist.
	record := &types.Order{
		SignalID:   sig.ID,
		Strategy:   sig.Strategy,
		MarketID:   sig.MarketID,
		TokenID:    sig.TokenID,
		Side:       sig.Side,
		SizeShares: shares,
		Price:      limitPrice,
		Type:       sig.OrderType,
		Status:     types.OrderStatusPending,
	}
	record.ID, err = m.store.InsertOrder(ctx, record)
	if err != nil {
		m.logger.Error("order-persist-failed", zap.Error(err))
		m.recordStoreFailure(ctx)
		if sig.IsExit() {
			m.scheduleExitRetry(ctx, sig, "store failure")
		}
		return
	}
	m.recordStoreSuccess()

	result, err := m.exch.Place(ctx, &exchange.OrderArgs{
		MarketID:   sig.MarketID,
		TokenID:    sig.TokenID,
		Side:       sig.Side,
		Price:      limitPrice,
		SizeShares: shares,
		Type:       sig.OrderType,
	})
	if err != nil {
		record.Status = types.OrderStatusFailed
		record.RejectReason = err.Error()
		m.finishFailed(ctx, sig, record, position)
		return
	}

	OrdersSubmittedTotal.WithLabelValues(sig.Strategy, sig.Side).Inc()

	record.ExchangeOrderID = result.ExchangeOrderID
	if result.Status == "unmatched" {
		record.Status = types.OrderStatusRejected
		record.RejectReason = result.ErrorMsg
		m.logger.Warn("order-rejected-by-exchange",
			zap.String("signal-id", sig.ID),
			zap.String("reason", result.ErrorMsg))
		m.finishFailed(ctx, sig, record, position)
		return
	}

	record.Status = types.OrderStatusSubmitted
	if err := m.store.UpdateOrderStatus(ctx, record); err != nil {
		m.logger.Error("order-update-failed", zap.Error(err))
	}

	// A resting stink bid is its own success state: the reconciler picks up
	// the fill later, so there is nothing to confirm here.
	if sig.Meta.StinkBid && sig.OrderType == types.OrderTypeGTC {
		m.recordStinkPlacement(ctx, sig, record)
		return
	}

	// 4. Confirm the fill.
	status := m.confirmFill(ctx, record)

	// 5. Persist the terminal outcome and emit events.
	switch status.Status {
	case types.OrderStatusFilled, types.OrderStatusPartial:
		m.finishFilled(ctx, sig, record, position, status)
	default:
		record.Status = status.Status
		m.finishFailed(ctx, sig, record, position)
	}
}

// confirmFill polls the exchange until the order reaches a terminal state or
// the window closes, cancelling best-effort on timeout.
func (m *Manager) confirmFill(ctx context.Context, record *types.Order) *exchange.OrderStatus {
	deadline := time.Now().Add(m.confirmTimeout)
	ticker := time.NewTicker(m.confirmInterval)
	defer ticker.Stop()

	for {
		status, err := m.exch.GetOrder(ctx, record.ExchangeOrderID)
		if err == nil {
			switch mapped := exchange.MapExchangeStatus(status.Status, status.FilledShares, status.SizeShares); mapped {
			case types.OrderStatusFilled, types.OrderStatusRejected, types.OrderStatusCancelled:
				status.Status = mapped
				return status
			case types.OrderStatusPartial:
				if status.Status == "cancelled" || status.Status == "canceled" {
					// Partially filled then cancelled: terminal.
					status.Status = types.OrderStatusPartial
					return status
				}
			}
		} else {
			m.logger.Warn("order-status-query-failed",
				zap.String("exchange-order-id", record.ExchangeOrderID),
				zap.Error(err))
		}

		if time.Now().After(deadline) {
			// Give up: cancel what remains and treat the order as failed.
			if cancelErr := m.exch.Cancel(ctx, record.ExchangeOrderID); cancelErr != nil {
				m.logger.Warn("timeout-cancel-failed", zap.Error(cancelErr))
			}
			m.logger.Warn("fill-confirmation-timeout",
				zap.String("exchange-order-id", record.ExchangeOrderID),
				zap.Duration("timeout", m.confirmTimeout))
			return &exchange.OrderStatus{
				ExchangeOrderID: record.ExchangeOrderID,
				Status:          types.OrderStatusFailed,
			}
		}

		select {
		case <-ctx.Done():
			return &exchange.OrderStatus{
				ExchangeOrderID: record.ExchangeOrderID,
				Status:          types.OrderStatusFailed,
			}
		case <-ticker.C:
		}
	}
}

// finishFilled persists a confirmed fill atomically and emits the position
// event.
func (m *Manager) finishFilled(ctx context.Context, sig *types.Signal, record *types.Order, position *types.Position, status *exchange.OrderStatus) {
	record.FilledShares = status.FilledShares
	record.AvgFillPrice = status.AvgFillPrice
	if record.AvgFillPrice <= 0 {
		record.AvgFillPrice = record.Price
	}
	record.Status = status.Status

	fills, err := m.exch.OrderFills(ctx, record.ExchangeOrderID)
	if err != nil {
		m.logger.Warn("order-fills-query-failed", zap.Error(err))
	}
	fee := 0.0
	for _, f := range fills {
		fee += f.Fee
	}
	if fee == 0 {
		// Fallback estimate until the fills report the charged fee.
		fee = record.FilledShares * record.AvgFillPrice * m.takerFee
	}
	record.FeePaid = fee

	OrdersFilledTotal.WithLabelValues(sig.Strategy).Inc()

	if sig.IsExit() {
		m.finishExitFilled(ctx, sig, record, position, fills)
		return
	}
	m.finishEntryFilled(ctx, sig, record, fills)
}

// finishEntryFilled opens the position for a filled BUY entry.
func (m *Manager) finishEntryFilled(ctx context.Context, sig *types.Signal, record *types.Order, fills []*types.Fill) {
	outcome := m.lookupOutcome(ctx, sig.MarketID, sig.TokenID)

	position := &types.Position{
		MarketID:     sig.MarketID,
		TokenID:      sig.TokenID,
		Outcome:      outcome,
		Side:         types.PositionLong,
		EntryPrice:   record.AvgFillPrice,
		Shares:       record.FilledShares,
		EntryShares:  record.FilledShares,
		EntryFee:     record.FeePaid,
		Strategy:     sig.Strategy,
		SourceWallet: sig.Meta.SourceWallet,
	}
	if sig.Side == types.SideSell {
		position.Side = types.PositionShort
	}

	// Arbitrage positions are held to resolution; everything else gets the
	// configured exit ladder.
	if sig.Strategy != types.StrategyArb {
		m.attachExitRules(position)
	}

	positionID, err := m.store.FinalizeEntryFill(ctx, record, position, fills)
	if err != nil {
		m.logger.Error("entry-finalize-failed", zap.Error(err))
		return
	}
	position.ID = positionID

	if sig.Meta.ArbLeg > 0 {
		m.recordArbLegFill(sig, positionID, record)
	}

	m.logger.Info("position-opened",
		zap.Int64("position-id", positionID),
		zap.String("strategy", sig.Strategy),
		zap.String("market-id", sig.MarketID),
		zap.Float64("entry-price", record.AvgFillPrice),
		zap.Float64("shares", record.FilledShares),
		zap.Float64("fee", record.FeePaid))

	m.emit(types.PositionEvent{
		Kind:       types.PositionEventOpened,
		PositionID: positionID,
		Position:   position,
		FillPrice:  record.AvgFillPrice,
		FillShares: record.FilledShares,
		Reason:     sig.Reasoning,
		Timestamp:  time.Now(),
	})
}

// finishExitFilled closes (part of) the position for a filled exit.
func (m *Manager) finishExitFilled(ctx context.Context, sig *types.Signal, record *types.Order, position *types.Position, fills []*types.Fill) {
	sharesClosed := record.FilledShares
	proportionalEntryFee := 0.0
	if position.EntryShares > 0 {
		proportionalEntryFee = position.EntryFee * sharesClosed / position.EntryShares
	}

	gross := (record.AvgFillPrice - position.EntryPrice) * sharesClosed
	if position.Side == types.PositionShort {
		gross = (position.EntryPrice - record.AvgFillPrice) * sharesClosed
	}
	realized := gross - proportionalEntryFee - record.FeePaid

	err := m.store.FinalizeExitFill(ctx, record, position.ID, sharesClosed, realized, record.FeePaid, sig.Meta.ExitReason, fills)
	if err != nil {
		m.logger.Error("exit-finalize-failed", zap.Error(err))
		return
	}

	m.releaseClosing(position.ID)
	m.clearExitRetries(position.ID)

	kind := types.PositionEventClosed
	if sharesClosed < position.Shares-1e-9 {
		kind = types.PositionEventPartial
	}

	m.logger.Info("position-exit-filled",
		zap.Int64("position-id", position.ID),
		zap.String("kind", kind),
		zap.String("reason", sig.Meta.ExitReason),
		zap.Float64("shares-closed", sharesClosed),
		zap.Float64("exit-price", record.AvgFillPrice),
		zap.Float64("realized-pnl", realized))

	updated, err := m.store.GetPosition(ctx, position.ID)
	if err != nil {
		m.logger.Error("position-reload-failed", zap.Error(err))
		updated = position
	}

	m.emit(types.PositionEvent{
		Kind:        kind,
		PositionID:  position.ID,
		Position:    updated,
		FillPrice:   record.AvgFillPrice,
		FillShares:  sharesClosed,
		RealizedPnL: realized,
		Reason:      sig.Meta.ExitReason,
		Timestamp:   time.Now(),
	})
}

// finishFailed persists a terminal non-filled outcome and routes exits into
// the retry path. Entry failures are dropped, never retried.
func (m *Manager) finishFailed(ctx context.Context, sig *types.Signal, record *types.Order, position *types.Position) {
	OrdersFailedTotal.WithLabelValues(sig.Strategy, record.Status).Inc()

	m.logger.Warn("order-failed",
		zap.String("signal-id", sig.ID),
		zap.String("strategy", sig.Strategy),
		zap.String("status", record.Status),
		zap.String("reason", record.RejectReason))

	if err := m.store.UpdateOrderStatus(ctx, record); err != nil {
		m.logger.Error("order-update-failed", zap.Error(err))
	}

	if sig.IsExit() && position != nil {
		// The position stays in closing while retries run; if the budget is
		// spent it remains closing and startup recovery re-emits the exit.
		m.scheduleExitRetry(ctx, sig, record.Status)
		return
	}

	// Leg 2 of an arb failing after leg 1 filled leaves naked directional
	// exposure: unwind leg 1 immediately, at any price.
	if sig.Meta.ArbLeg == 2 {
		m.emitArbUnwind(sig)
	}
}

// scheduleExitRetry requeues a failed exit with exponential backoff. After
// the attempt budget is spent the position stays in closing and is
// re-emitted on next startup; the operator gets a critical alert. An arb
// unwind is never given up on.
func (m *Manager) scheduleExitRetry(ctx context.Context, sig *types.Signal, cause string) {
	positionID := sig.Meta.ParentPositionID

	m.mu.Lock()
	m.exitTries[positionID]++
	attempt := m.exitTries[positionID]
	m.mu.Unlock()

	// An arb unwind has no attempt budget: it is retried until it fills.
	if attempt > exitRetryAttempts && sig.Meta.ExitReason != "unwind" {
		m.logger.Error("exit-retries-exhausted",
			zap.Int64("position-id", positionID),
			zap.Int("attempts", attempt-1),
			zap.String("cause", cause))
		if m.alerts != nil {
			m.alerts.Critical(ctx, "Exit failed",
				fmt.Sprintf("Position %d exit failed after %d attempts (%s); will retry on restart",
					positionID, exitRetryAttempts, cause))
		}
		return
	}

	shift := attempt - 1
	if shift > 9 {
		shift = 9 // 512s is already past the cap; bounding the shift avoids overflow
	}
	backoff := exitRetryBase << shift
	if backoff > exitRetryCap {
		backoff = exitRetryCap
	}

	ExitRetriesTotal.Inc()
	m.logger.Warn("exit-retry-scheduled",
		zap.Int64("position-id", positionID),
		zap.Int("attempt", attempt),
		zap.Duration("backoff", backoff),
		zap.String("cause", cause))

	timer := time.AfterFunc(backoff, func() {
		if err := m.queue.Enqueue(sig); err != nil {
			m.logger.Error("exit-requeue-failed", zap.Error(err))
		}
	})

	m.mu.Lock()
	m.retryTimer = append(m.retryTimer, timer)
	m.mu.Unlock()
}

// recordStoreFailure counts consecutive store failures; persistence dying
// under the pipeline is grounds for a halt.
func (m *Manager) recordStoreFailure(ctx context.Context) {
	m.mu.Lock()
	m.storeFailures++
	failures := m.storeFailures
	m.mu.Unlock()

	if failures >= storeFailureLimit {
		m.logger.Error("persistent-store-failures-halting",
			zap.Int("consecutive", failures))
		if err := m.gate.Activate(ctx, "persistent store failures"); err != nil {
			m.logger.Error("store-failure-halt-failed", zap.Error(err))
		}
	}
}

func (m *Manager) recordStoreSuccess() {
	m.mu.Lock()
	m.storeFailures = 0
	m.mu.Unlock()
}

func (m *Manager) clearExitRetries(positionID int64) {
	m.mu.Lock()
	delete(m.exitTries, positionID)
	m.mu.Unlock()
}

func (m *Manager) releaseClosing(positionID int64) {
	if m.closing != nil && positionID > 0 {
		m.closing.Release(positionID)
	}
}

// attachExitRules applies the configured TP ladder, stop loss and trailing
// stop to a fresh long position (mirrored for shorts).
func (m *Manager) attachExitRules(p *types.Position) {
	for _, tier := range m.exits.TakeProfit {
		trigger := p.EntryPrice * (1 + tier.GainPct/100)
		if p.Side == types.PositionShort {
			trigger = p.EntryPrice * (1 - tier.GainPct/100)
		}
		p.TPLevels = append(p.TPLevels, types.TakeProfitLevel{
			TriggerPrice:   trigger,
			FractionToSell: tier.SellPct / 100,
		})
	}
	if m.exits.StopLossPct > 0 {
		if p.Side == types.PositionShort {
			p.SLPrice = p.EntryPrice * (1 + m.exits.StopLossPct/100)
		} else {
			p.SLPrice = p.EntryPrice * (1 - m.exits.StopLossPct/100)
		}
	}
	p.TrailPct = m.exits.TrailingStopPct
}

// lookupOutcome maps a token ID back to its outcome string via market
// metadata. Token identity is always the outcome string, never an index.
func (m *Manager) lookupOutcome(ctx context.Context, marketID, tokenID string) string {
	market, err := m.exch.GetMarket(ctx, marketID)
	if err != nil {
		m.logger.Warn("market-lookup-failed",
			zap.String("market-id", marketID),
			zap.Error(err))
		return ""
	}
	for i := range market.Tokens {
		if market.Tokens[i].TokenID == tokenID {
			return market.Tokens[i].Outcome
		}
	}
	return ""
}

// recordStinkPlacement writes the (market, token) -> exchange order mapping
// that deduplicates stink bids.
func (m *Manager) recordStinkPlacement(ctx context.Context, sig *types.Signal, record *types.Order) {
	err := m.store.PutStinkOrder(ctx, &types.StinkOrder{
		MarketID:        sig.MarketID,
		TokenID:         sig.TokenID,
		ExchangeOrderID: record.ExchangeOrderID,
		Price:           record.Price,
		SizeUSD:         sig.SizeUSD,
	})
	if err != nil {
		m.logger.Error("stink-order-persist-failed", zap.Error(err))
		return
	}
	m.logger.Info("stink-bid-resting",
		zap.String("market-id", sig.MarketID),
		zap.String("token-id", sig.TokenID),
		zap.Float64("price", record.Price),
		zap.String("exchange-order-id", record.ExchangeOrderID))
}

// ── Arbitrage pairing ────────────────────────────────────────────

func (m *Manager) arbLeg1Filled(pairID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.arbPairs[pairID]
	return ok && state.leg1Filled
}

func (m *Manager) recordArbLegFill(sig *types.Signal, positionID int64, record *types.Order) {
	if sig.Meta.ArbLeg != 1 {
		// Leg 2 filled: the pair completed, forget it.
		m.mu.Lock()
		delete(m.arbPairs, sig.Meta.ArbPairID)
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	m.arbPairs[sig.Meta.ArbPairID] = &arbPairState{
		leg1Filled: true,
		positionID: positionID,
		fillPrice:  record.AvgFillPrice,
		fillShares: record.FilledShares,
		marketID:   sig.MarketID,
		tokenID:    sig.TokenID,
	}
	m.mu.Unlock()
}

// emitArbUnwind queues the SELL that flattens leg 1 after leg 2 failed.
// Classed as an exit so it has reserved queue capacity and the retry policy;
// the unwind accepts whatever loss the market demands.
func (m *Manager) emitArbUnwind(sig *types.Signal) {
	m.mu.Lock()
	state, ok := m.arbPairs[sig.Meta.ArbPairID]
	if ok {
		delete(m.arbPairs, sig.Meta.ArbPairID)
	}
	m.mu.Unlock()

	if !ok || !state.leg1Filled {
		return
	}

	unwind := &types.Signal{
		ID:         uuid.NewString(),
		Strategy:   types.StrategyArb,
		MarketID:   state.marketID,
		TokenID:    state.tokenID,
		Side:       types.SideSell,
		SizeUSD:    state.fillShares * state.fillPrice,
		OrderType:  types.OrderTypeFOK,
		Reasoning:  fmt.Sprintf("unwind leg 1 of %s after leg 2 failure", sig.Meta.ArbPairID),
		Meta: types.SignalMeta{
			IsExit:           true,
			ParentPositionID: state.positionID,
			ExitReason:       "unwind",
			ArbPairID:        sig.Meta.ArbPairID,
		},
	}

	m.logger.Warn("arb-unwind-emitted",
		zap.String("pair-id", sig.Meta.ArbPairID),
		zap.Int64("position-id", state.positionID),
		zap.Float64("shares", state.fillShares))

	if m.alerts != nil {
		m.alerts.Warn(context.Background(), "Arbitrage unwind",
			fmt.Sprintf("Leg 2 of %s failed; unwinding %0.2f shares of leg 1", sig.Meta.ArbPairID, state.fillShares))
	}

	if err := m.queue.Enqueue(unwind); err != nil {
		m.logger.Error("unwind-enqueue-failed", zap.Error(err))
	}
}

// RecordExternalFill adopts a fill that happened outside the live pipeline
// (a resting stink bid crossed). The order row written at placement is
// reused when it exists; the position opens and the event emits exactly
// like a confirmed entry.
func (m *Manager) RecordExternalFill(ctx context.Context, sig *types.Signal, status *exchange.OrderStatus) {
	record, err := m.store.GetOrderByExchangeID(ctx, status.ExchangeOrderID)
	if err != nil {
		m.logger.Error("external-fill-lookup-failed", zap.Error(err))
		return
	}

	if record == nil {
		record = &types.Order{
			SignalID:        sig.ID,
			Strategy:        sig.Strategy,
			MarketID:        sig.MarketID,
			TokenID:         sig.TokenID,
			Side:            sig.Side,
			SizeShares:      status.SizeShares,
			Price:           status.AvgFillPrice,
			Type:            types.OrderTypeGTC,
			Status:          types.OrderStatusPending,
			ExchangeOrderID: status.ExchangeOrderID,
		}
		record.ID, err = m.store.InsertOrder(ctx, record)
		if err != nil {
			m.logger.Error("external-fill-persist-failed", zap.Error(err))
			return
		}
	}

	m.finishFilled(ctx, sig, record, nil, status)
}

func (m *Manager) emit(event types.PositionEvent) {
	select {
	case m.events <- event:
	default:
		m.logger.Warn("position-event-channel-full",
			zap.String("kind", event.Kind),
			zap.Int64("position-id", event.PositionID))
	}
}

// PendingCounts reports queue depth for status surfaces.
func (m *Manager) PendingCounts() (entries, exits int) {
	return m.queue.Len()
}
