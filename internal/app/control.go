package app

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// The App itself is the notify.Controller: chat commands land here.

// StatusText renders the operator status report.
func (a *App) StatusText(ctx context.Context) string {
	snap := a.snapshotter.Snapshot()
	state := a.gate.State()
	entries, exits := a.orderManager.PendingCounts()

	var b strings.Builder
	fmt.Fprintf(&b, "Mode: %s\n", a.cfg.App.TradingMode)
	if state.KillSwitchActive {
		fmt.Fprintf(&b, "HALTED since %s (%s)\n",
			state.ActivatedAt.UTC().Format(time.RFC3339), state.Reason)
	}
	fmt.Fprintf(&b, "Portfolio: $%.2f (cash $%.2f, positions $%.2f)\n",
		snap.TotalUSD, snap.CashUSD, snap.PositionsValueUSD)
	fmt.Fprintf(&b, "Open positions: %d\n", snap.OpenPositions)
	fmt.Fprintf(&b, "Queue: %d entries, %d exits\n", entries, exits)
	fmt.Fprintf(&b, "Feed connected: %v, exchange connected: %v\n",
		a.wsManager.Connected(), a.adapter.Connected())

	for _, name := range []string{"copy_trade", "arb", "stink_bid"} {
		if a.gate.IsPaused(name) {
			fmt.Fprintf(&b, "Paused: %s\n", name)
		}
	}

	if a.copyTracker != nil {
		for _, perf := range a.copyTracker.Performance(ctx) {
			fmt.Fprintf(&b, "Whale %s: %d trades, %.0f%% win, $%+.2f, $%.2f deployed\n",
				perf.Name, perf.Trades, perf.WinRate, perf.TotalPnL, perf.Exposure)
		}
	}

	return b.String()
}

// PnLText renders the P&L report.
func (a *App) PnLText(ctx context.Context) string {
	snap := a.snapshotter.Snapshot()

	var b strings.Builder
	fmt.Fprintf(&b, "Portfolio: $%.2f\n", snap.TotalUSD)
	fmt.Fprintf(&b, "Realized today: $%+.2f\n", snap.RealizedPnLTodayUSD)
	fmt.Fprintf(&b, "Unrealized: $%+.2f\n", snap.UnrealizedPnLUSD)

	today := time.Now().UTC().Format("2006-01-02")
	if daily, err := a.store.GetDailyPnL(ctx, today); err == nil && daily != nil {
		fmt.Fprintf(&b, "Day start: $%.2f\n", daily.StartingBalance)
		if daily.StartingBalance > 0 {
			change := (snap.TotalUSD - daily.StartingBalance) / daily.StartingBalance * 100
			fmt.Fprintf(&b, "Day change: %+.2f%%\n", change)
		}
	}

	return b.String()
}

// Kill trips the kill switch from the control surface. Token validation
// happens in the command listener. The CLI kill subcommand does not come
// through here; it persists the halt in the store directly.
func (a *App) Kill(ctx context.Context) error {
	return a.gate.Activate(ctx, "operator")
}

// Pause blocks new entries from one strategy.
func (a *App) Pause(strategy string) {
	a.gate.PauseStrategy(strategy)
}

// Resume lifts a strategy pause.
func (a *App) Resume(strategy string) {
	a.gate.ResumeStrategy(strategy)
}
