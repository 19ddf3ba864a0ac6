package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mselser95/polymarket-bot/internal/store"
	"github.com/mselser95/polymarket-bot/pkg/config"
	"github.com/mselser95/polymarket-bot/pkg/types"
)

// Decision is the outcome of a risk check.
type Decision struct {
	Approved bool
	Reason   types.RejectReason
	Detail   string
}

// Inflight is the current trading state the checks run against.
type Inflight struct {
	OpenPositions    int
	MarketStrategies map[string]string  // marketID -> strategy holding or entering it
	StrategyExposure map[string]float64 // strategy -> deployed USD
}

// Gate enforces every trading limit. Each signal passes through Approve
// before any order is built; the checks short-circuit on the first failure
// and never fail open: an unknown balance or stale snapshot rejects.
//
// Exit signals pass the kill switch and strategy pauses so a halted bot can
// still get flat. They still need a valid, fresh, non-zero portfolio
// snapshot, and skip every check after that one.
type Gate struct {
	cfg    *config.Config
	store  *store.Store
	logger *zap.Logger

	mu         sync.Mutex
	killActive bool
	killReason string
	killAt     time.Time
	paused     map[string]bool

	drainer   QueueDrainer
	canceller OrderCanceller
	onKill    func(reason string)
}

// QueueDrainer removes pending non-exit signals from the order queue.
type QueueDrainer interface {
	DrainEntries() int
}

// OrderCanceller cancels resting exchange orders.
type OrderCanceller interface {
	CancelAll(ctx context.Context, marketID string) error
}

// Config holds gate configuration.
type Config struct {
	Config *config.Config
	Store  *store.Store
	Logger *zap.Logger
}

// New creates a Gate, restoring any persisted kill-switch state. An active
// switch survives restarts until an operator explicitly clears it.
func New(ctx context.Context, cfg *Config) (*Gate, error) {
	g := &Gate{
		cfg:    cfg.Config,
		store:  cfg.Store,
		logger: cfg.Logger,
		paused: make(map[string]bool),
	}

	state, err := cfg.Store.LoadRiskState(ctx)
	if err != nil {
		return nil, fmt.Errorf("load risk state: %w", err)
	}
	if state.KillSwitchActive {
		g.killActive = true
		g.killReason = state.Reason
		g.killAt = state.ActivatedAt
		cfg.Logger.Warn("kill-switch-restored",
			zap.String("reason", state.Reason),
			zap.Time("activated-at", state.ActivatedAt))
	}

	return g, nil
}

// SetQueueDrainer wires the order queue for kill-switch draining. Set after
// construction because the order manager itself depends on the gate.
func (g *Gate) SetQueueDrainer(d QueueDrainer) { g.drainer = d }

// SetCanceller wires the exchange adapter for kill-switch cancel-all.
func (g *Gate) SetCanceller(c OrderCanceller) { g.canceller = c }

// SetKillCallback registers an alert hook invoked after activation.
func (g *Gate) SetKillCallback(fn func(reason string)) { g.onKill = fn }

// Approve runs the full check sequence for a signal against a portfolio
// snapshot, gathering in-flight state from the store.
func (g *Gate) Approve(ctx context.Context, sig *types.Signal, snap types.PortfolioSnapshot) Decision {
	inflight, err := g.gatherInflight(ctx)
	if err != nil {
		g.logger.Error("inflight-state-query-failed", zap.Error(err))
		return g.reject(sig, types.RejectPortfolioUnknown, "in-flight state unavailable: "+err.Error())
	}
	return g.Check(sig, snap, inflight)
}

// Check is the pure decision function: no I/O, fully deterministic on its
// inputs.
func (g *Gate) Check(sig *types.Signal, snap types.PortfolioSnapshot, inflight *Inflight) Decision {
	// 1. Kill switch and per-strategy pause.
	g.mu.Lock()
	killActive := g.killActive
	pausedStrategy := g.paused[sig.Strategy]
	g.mu.Unlock()

	// The kill switch blocks new exposure only: exits must keep flowing so
	// a halted bot can still get flat.
	if killActive && !sig.IsExit() {
		return g.reject(sig, types.RejectKillSwitch, "kill switch active")
	}
	if pausedStrategy && !sig.IsExit() {
		return g.reject(sig, types.RejectStrategyPaused, "strategy paused by operator")
	}

	// 2. Portfolio known. Never fail open: an invalid or stale snapshot
	// blocks the trade.
	if !snap.Valid {
		return g.reject(sig, types.RejectBalanceUnknown, "balance query failed")
	}
	staleAfter := g.cfg.Risk.SnapshotStaleAfter.Std()
	if age := snap.Age(time.Now()); age > staleAfter {
		return g.reject(sig, types.RejectPortfolioUnknown,
			fmt.Sprintf("snapshot stale: %s > %s", age.Round(time.Millisecond), staleAfter))
	}
	if snap.TotalUSD <= 0 {
		return g.reject(sig, types.RejectPortfolioUnknown, "portfolio value is zero or unknown")
	}

	// Exits stop here: the remaining checks only constrain new exposure.
	if sig.IsExit() {
		return Decision{Approved: true}
	}

	// 3. Daily loss limit, unrealized losses included.
	dailyTotal := snap.RealizedPnLTodayUSD + snap.UnrealizedPnLUSD
	lossLimit := -g.cfg.Risk.DailyLossPct / 100 * snap.TotalUSD
	if dailyTotal <= lossLimit {
		return g.reject(sig, types.RejectDailyLossLimit,
			fmt.Sprintf("daily P&L %.2f breaches limit %.2f (realized=%.2f unrealized=%.2f)",
				dailyTotal, lossLimit, snap.RealizedPnLTodayUSD, snap.UnrealizedPnLUSD))
	}

	// 4. Cash reserve.
	minReserve := g.cfg.Risk.ReservePct / 100 * snap.TotalUSD
	if snap.CashUSD-sig.SizeUSD < minReserve {
		return g.reject(sig, types.RejectInsufficientCash,
			fmt.Sprintf("post-trade cash %.2f below reserve %.2f", snap.CashUSD-sig.SizeUSD, minReserve))
	}

	// 5. Position size.
	maxPosition := g.cfg.Risk.MaxPositionPct / 100 * snap.TotalUSD
	if sig.SizeUSD > maxPosition {
		return g.reject(sig, types.RejectPositionLimit,
			fmt.Sprintf("size %.2f exceeds max position %.2f", sig.SizeUSD, maxPosition))
	}

	// 6. Open position count.
	if inflight.OpenPositions >= g.cfg.Risk.MaxOpenPositions {
		return g.reject(sig, types.RejectTooManyPositions,
			fmt.Sprintf("%d/%d positions open", inflight.OpenPositions, g.cfg.Risk.MaxOpenPositions))
	}

	// 7. Per-strategy allocation.
	allocationPct := g.cfg.AllocationPct(sig.Strategy)
	if allocationPct > 0 {
		maxAllocation := allocationPct / 100 * snap.TotalUSD
		deployed := inflight.StrategyExposure[sig.Strategy]
		if deployed+sig.SizeUSD > maxAllocation {
			return g.reject(sig, types.RejectStrategyAllocation,
				fmt.Sprintf("%s would deploy %.2f > allocation %.2f", sig.Strategy, deployed+sig.SizeUSD, maxAllocation))
		}
	}

	// 8. Duplicate market: one position per market, across all strategies.
	// The second leg of a parity pair is the one sanctioned exception: it
	// deliberately completes the position its first leg opened.
	if holder, ok := inflight.MarketStrategies[sig.MarketID]; ok && sig.Meta.ArbLeg != 2 {
		return g.reject(sig, types.RejectDuplicateMarket,
			fmt.Sprintf("market already held by %s", holder))
	}

	// 9. Minimum edge for strategies that declare one.
	if sig.Meta.HasEdge && sig.Meta.EdgePct < g.cfg.Risk.MinEdgePct {
		return g.reject(sig, types.RejectBelowMinEdge,
			fmt.Sprintf("edge %.2f%% below minimum %.2f%%", sig.Meta.EdgePct, g.cfg.Risk.MinEdgePct))
	}

	ApprovalsTotal.WithLabelValues(sig.Strategy).Inc()
	g.logger.Info("signal-approved",
		zap.String("signal-id", sig.ID),
		zap.String("strategy", sig.Strategy),
		zap.String("side", sig.Side),
		zap.Float64("size-usd", sig.SizeUSD))

	return Decision{Approved: true}
}

func (g *Gate) reject(sig *types.Signal, reason types.RejectReason, detail string) Decision {
	RejectionsTotal.WithLabelValues(string(reason)).Inc()
	g.logger.Info("signal-rejected",
		zap.String("signal-id", sig.ID),
		zap.String("strategy", sig.Strategy),
		zap.String("reason", string(reason)),
		zap.String("detail", detail))
	return Decision{Approved: false, Reason: reason, Detail: detail}
}

func (g *Gate) gatherInflight(ctx context.Context) (*Inflight, error) {
	positions, err := g.store.OpenPositions(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("open positions: %w", err)
	}

	inflight := &Inflight{
		OpenPositions:    len(positions),
		MarketStrategies: make(map[string]string, len(positions)),
		StrategyExposure: make(map[string]float64),
	}

	for _, p := range positions {
		inflight.MarketStrategies[p.MarketID] = p.Strategy
		inflight.StrategyExposure[p.Strategy] += p.EntryPrice * p.Shares
	}

	pending, err := g.store.PendingEntryMarkets(ctx)
	if err != nil {
		return nil, fmt.Errorf("pending entries: %w", err)
	}
	for marketID := range pending {
		if _, ok := inflight.MarketStrategies[marketID]; !ok {
			inflight.MarketStrategies[marketID] = "pending"
		}
	}

	return inflight, nil
}

// PauseStrategy blocks new entries from one strategy.
func (g *Gate) PauseStrategy(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paused[name] = true
	g.logger.Info("strategy-paused", zap.String("strategy", name))
}

// ResumeStrategy lifts a pause.
func (g *Gate) ResumeStrategy(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.paused, name)
	g.logger.Info("strategy-resumed", zap.String("strategy", name))
}

// IsPaused reports whether a strategy is paused.
func (g *Gate) IsPaused(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused[name]
}
