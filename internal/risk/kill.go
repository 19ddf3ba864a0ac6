package risk

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mselser95/polymarket-bot/pkg/types"
)

// Activate trips the kill switch: persist first, then drain queued entries,
// cancel every resting exchange order, and alert. Safe to call concurrently;
// repeat activations are no-ops. The persisted state survives restarts and
// only Deactivate clears it.
func (g *Gate) Activate(ctx context.Context, reason string) error {
	g.mu.Lock()
	if g.killActive {
		g.mu.Unlock()
		g.logger.Info("kill-switch-already-active", zap.String("reason", reason))
		return nil
	}
	g.killActive = true
	g.killReason = reason
	g.killAt = time.Now()
	g.mu.Unlock()

	KillSwitchActive.Set(1)

	// Persist before side effects so a crash mid-activation still comes back
	// halted.
	if err := g.store.SaveRiskState(ctx, &types.RiskState{
		KillSwitchActive: true,
		ActivatedAt:      g.killAt,
		Reason:           reason,
	}); err != nil {
		g.logger.Error("kill-switch-persist-failed", zap.Error(err))
	}
	if err := g.store.RecordRiskEvent(ctx, "kill_switch_activated", reason, ""); err != nil {
		g.logger.Error("risk-event-record-failed", zap.Error(err))
	}

	drained := 0
	if g.drainer != nil {
		drained = g.drainer.DrainEntries()
	}

	if g.canceller != nil {
		if err := g.canceller.CancelAll(ctx, ""); err != nil {
			g.logger.Error("kill-switch-cancel-all-failed", zap.Error(err))
		}
	}

	g.logger.Warn("kill-switch-activated",
		zap.String("reason", reason),
		zap.Int("signals-drained", drained))

	if g.onKill != nil {
		g.onKill(reason)
	}

	return nil
}

// Deactivate clears the kill switch. Requires an explicit operator action;
// nothing in the pipeline calls this automatically.
func (g *Gate) Deactivate(ctx context.Context) error {
	g.mu.Lock()
	wasActive := g.killActive
	g.killActive = false
	g.killReason = ""
	g.killAt = time.Time{}
	g.mu.Unlock()

	if !wasActive {
		return nil
	}

	KillSwitchActive.Set(0)

	if err := g.store.SaveRiskState(ctx, &types.RiskState{}); err != nil {
		g.logger.Error("kill-switch-persist-failed", zap.Error(err))
		return err
	}
	if err := g.store.RecordRiskEvent(ctx, "kill_switch_deactivated", "operator", ""); err != nil {
		g.logger.Error("risk-event-record-failed", zap.Error(err))
	}

	g.logger.Info("kill-switch-deactivated")
	return nil
}

// WatchPersisted polls the stored kill-switch state so an out-of-process
// activation (the CLI writing directly to the store) halts a running bot
// within one interval.
func (g *Gate) WatchPersisted(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				state, err := g.store.LoadRiskState(ctx)
				if err != nil {
					g.logger.Error("risk-state-poll-failed", zap.Error(err))
					continue
				}
				if state.KillSwitchActive && !g.IsActive() {
					g.logger.Warn("kill-switch-activated-externally",
						zap.String("reason", state.Reason))
					if err := g.Activate(ctx, state.Reason); err != nil {
						g.logger.Error("external-kill-activation-failed", zap.Error(err))
					}
				}
			}
		}
	}()
}

// IsActive reports whether the kill switch is tripped.
func (g *Gate) IsActive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.killActive
}

// State returns the current kill-switch state.
func (g *Gate) State() types.RiskState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return types.RiskState{
		KillSwitchActive: g.killActive,
		ActivatedAt:      g.killAt,
		Reason:           g.killReason,
	}
}
