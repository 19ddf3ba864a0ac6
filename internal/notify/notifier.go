// Package notify pushes operator alerts (position lifecycle, risk warnings,
// halts, daily summaries) through an out-of-band channel and accepts control
// commands back. Everything degrades to a no-op when unconfigured.
package notify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mselser95/polymarket-bot/pkg/types"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier formats and dispatches alerts, suppressing identical payloads
// inside the dedup window. Sends are fire-and-forget: a delivery failure is
// logged and never propagates into the trading pipeline.
type Notifier struct {
	sender      Sender
	dedupWindow time.Duration
	logger      *zap.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// Config holds notifier configuration.
type Config struct {
	Sender      Sender // nil disables all alerts
	DedupWindow time.Duration
	Logger      *zap.Logger
}

// New creates a Notifier.
func New(cfg *Config) *Notifier {
	window := cfg.DedupWindow
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Notifier{
		sender:      cfg.Sender,
		dedupWindow: window,
		logger:      cfg.Logger,
		lastSent:    make(map[string]time.Time),
	}
}

// Enabled reports whether a delivery channel is configured.
func (n *Notifier) Enabled() bool {
	return n.sender != nil
}

// send dispatches unless an identical payload went out recently.
func (n *Notifier) send(ctx context.Context, title, message string) {
	if n.sender == nil {
		return
	}

	digest := sha256.Sum256([]byte(title + "\x00" + message))
	key := hex.EncodeToString(digest[:8])

	n.mu.Lock()
	if last, ok := n.lastSent[key]; ok && time.Since(last) < n.dedupWindow {
		n.mu.Unlock()
		n.logger.Debug("alert-deduplicated", zap.String("title", title))
		return
	}
	n.lastSent[key] = time.Now()
	// Opportunistic cleanup of expired entries.
	for k, at := range n.lastSent {
		if time.Since(at) > n.dedupWindow {
			delete(n.lastSent, k)
		}
	}
	n.mu.Unlock()

	if err := n.sender.Send(ctx, title, message); err != nil {
		n.logger.Warn("alert-send-failed",
			zap.String("sender", n.sender.Name()),
			zap.String("title", title),
			zap.Error(err))
	}
}

// PositionEvent announces a fill-driven position change.
func (n *Notifier) PositionEvent(ctx context.Context, ev types.PositionEvent) {
	if ev.Position == nil {
		return
	}

	switch ev.Kind {
	case types.PositionEventOpened:
		n.send(ctx, "Position Opened", fmt.Sprintf(
			"Strategy: %s\nMarket: %s\nOutcome: %s\nEntry: $%.4f\nShares: %.2f",
			ev.Position.Strategy, ev.Position.MarketID, ev.Position.Outcome,
			ev.FillPrice, ev.FillShares))
	case types.PositionEventPartial:
		n.send(ctx, "Partial Close", fmt.Sprintf(
			"Strategy: %s\nMarket: %s\nReason: %s\nSold: %.2f @ $%.4f\nP&L: $%+.2f",
			ev.Position.Strategy, ev.Position.MarketID, ev.Reason,
			ev.FillShares, ev.FillPrice, ev.RealizedPnL))
	case types.PositionEventClosed, types.PositionEventResolved:
		n.send(ctx, "Position Closed", fmt.Sprintf(
			"Strategy: %s\nMarket: %s\nReason: %s\nExit: $%.4f\nP&L: $%+.2f",
			ev.Position.Strategy, ev.Position.MarketID, ev.Reason,
			ev.FillPrice, ev.RealizedPnL))
	}
}

// KillActivated announces a halt.
func (n *Notifier) KillActivated(ctx context.Context, reason string) {
	n.send(ctx, "Trading Halted", "Kill switch activated: "+reason)
}

// RiskWarning announces an approaching or breached limit.
func (n *Notifier) RiskWarning(ctx context.Context, message string) {
	n.send(ctx, "Risk Warning", message)
}

// HealthDegraded announces a failing component.
func (n *Notifier) HealthDegraded(ctx context.Context, component string) {
	n.send(ctx, "Health Degraded", "Component unhealthy: "+component)
}

// DailySummary pushes the end-of-day report.
func (n *Notifier) DailySummary(ctx context.Context, summary string) {
	n.send(ctx, "Daily Summary", summary)
}

// Critical pushes an alert that demands operator attention.
func (n *Notifier) Critical(ctx context.Context, title, message string) {
	n.send(ctx, "CRITICAL: "+title, message)
}

// Warn pushes a non-critical operational alert.
func (n *Notifier) Warn(ctx context.Context, title, message string) {
	n.send(ctx, title, message)
}
