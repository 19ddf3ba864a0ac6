package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mselser95/polymarket-bot/internal/store"
	"github.com/mselser95/polymarket-bot/pkg/types"
)

// Run starts every component and blocks until shutdown.
func (a *App) Run() error {
	a.logger.Info("application-starting",
		zap.String("mode", a.cfg.App.TradingMode),
		zap.String("log-level", a.cfg.App.LogLevel),
		zap.Bool("copy-trade", a.cfg.Strategies.CopyTrade.Enabled),
		zap.Bool("arb", a.cfg.Strategies.Arb.Enabled),
		zap.Bool("stink-bid", a.cfg.Strategies.StinkBid.Enabled))

	if err := a.startComponents(); err != nil {
		return err
	}

	a.healthChecker.SetReady(true)
	a.logger.Info("application-ready",
		zap.String("http-addr", ":"+a.cfg.App.HTTPPort))

	return a.waitForShutdown()
}

func (a *App) startComponents() error {
	// HTTP server first so health probes answer during startup.
	a.wg.Add(1)
	go a.runHTTPServer()

	// Portfolio snapshotter: the first snapshot happens synchronously so the
	// risk gate has real numbers before any signal flows.
	a.snapshotter.Start(a.ctx)

	// Today's P&L row.
	today := time.Now().UTC().Format("2006-01-02")
	snap := a.snapshotter.Snapshot()
	if err := a.store.InitDailyPnL(a.ctx, today, snap.TotalUSD); err != nil {
		a.logger.Error("daily-pnl-init-failed", zap.Error(err))
	}

	// Market feed, then subscribe to tokens of already-open positions.
	if err := a.wsManager.Start(); err != nil {
		// The feed reconnects on its own; startup proceeds on REST fallback.
		a.logger.Error("websocket-start-failed", zap.Error(err))
	}
	a.subscribeOpenPositions()

	// Order pipeline.
	a.orderManager.Start(a.ctx)

	// Startup recovery: positions stranded in closing re-emit their exits
	// before any new price event can race them.
	a.positionMgr.RecoverClosing(a.ctx)

	// Price fan-out: the feed drives the position manager and, in paper
	// mode, the fill simulation.
	priceChan := make(chan types.PriceEvent, 256)
	a.wg.Add(1)
	go a.fanOutPrices(priceChan)
	a.positionMgr.Run(a.ctx, priceChan)

	// Event plumbing to alerts and feed subscriptions.
	a.wg.Add(2)
	go a.consumeOrderEvents()
	go a.consumePositionEvents()

	// Strategies.
	if a.copyTracker != nil {
		if err := a.copyTracker.Initialize(a.ctx); err != nil {
			return err
		}
		a.copyTracker.Run(a.ctx)
	}
	if a.arbScanner != nil {
		a.arbScanner.Run(a.ctx)
	}
	if a.stinkBidder != nil {
		a.stinkBidder.Run(a.ctx)
	}

	// Watch for out-of-process kill activations (CLI writing the store).
	a.gate.WatchPersisted(a.ctx, 5*time.Second)

	// Control surface and the daily summary clock.
	if a.cmdListener != nil {
		a.cmdListener.Run(a.ctx)
	}
	a.wg.Add(1)
	go a.dailySummaryLoop()

	return nil
}

func (a *App) runHTTPServer() {
	defer a.wg.Done()
	if err := a.httpServer.Start(); err != nil {
		a.logger.Error("http-server-error", zap.Error(err))
	}
}

// fanOutPrices forwards feed events to the position manager's channel and
// mirrors them into the paper simulation.
func (a *App) fanOutPrices(out chan<- types.PriceEvent) {
	defer a.wg.Done()
	defer close(out)

	// REST fallback: while the feed is down, poll held tokens so exits can
	// still trigger.
	fallback := time.NewTicker(5 * time.Second)
	defer fallback.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case ev, ok := <-a.wsManager.PriceEvents():
			if !ok {
				return
			}
			if a.paper != nil {
				a.paper.SetPrice(ev.TokenID, ev.Price)
			}
			select {
			case out <- ev:
			default:
				a.logger.Warn("price-fanout-channel-full", zap.String("token-id", ev.TokenID))
			}
		case <-fallback.C:
			if a.wsManager.Connected() {
				continue
			}
			a.pollHeldTokenPrices(out)
		}
	}
}

// pollHeldTokenPrices fetches REST prices for tokens with open positions
// while the feed is disconnected.
func (a *App) pollHeldTokenPrices(out chan<- types.PriceEvent) {
	positions, err := a.store.OpenPositions(a.ctx, "")
	if err != nil {
		a.logger.Error("fallback-positions-query-failed", zap.Error(err))
		return
	}

	seen := make(map[string]bool, len(positions))
	for _, pos := range positions {
		if seen[pos.TokenID] {
			continue
		}
		seen[pos.TokenID] = true

		price, err := a.adapter.Price(a.ctx, pos.TokenID)
		if err != nil || price <= 0 {
			continue
		}
		if a.paper != nil {
			a.paper.SetPrice(pos.TokenID, price)
		}
		select {
		case out <- types.PriceEvent{TokenID: pos.TokenID, Price: price, Timestamp: time.Now()}:
		default:
		}
	}
}

// consumeOrderEvents routes fill-driven position events to alerts and
// subscribes new positions' tokens to the feed.
func (a *App) consumeOrderEvents() {
	defer a.wg.Done()

	for ev := range a.orderManager.Events() {
		a.notifier.PositionEvent(a.ctx, ev)

		if ev.Kind == types.PositionEventOpened && ev.Position != nil {
			if err := a.wsManager.Subscribe([]string{ev.Position.TokenID}); err != nil {
				a.logger.Warn("position-token-subscribe-failed", zap.Error(err))
			}
		}
	}
}

// consumePositionEvents routes resolution events to alerts.
func (a *App) consumePositionEvents() {
	defer a.wg.Done()

	for ev := range a.positionMgr.Events() {
		a.notifier.PositionEvent(a.ctx, ev)
	}
}

// subscribeOpenPositions re-subscribes tokens held across a restart.
func (a *App) subscribeOpenPositions() {
	positions, err := a.store.OpenPositions(a.ctx, "")
	if err != nil {
		a.logger.Error("open-positions-query-failed", zap.Error(err))
		return
	}
	if len(positions) == 0 {
		return
	}

	tokens := make([]string, 0, len(positions))
	for _, pos := range positions {
		tokens = append(tokens, pos.TokenID)
	}
	if err := a.wsManager.Subscribe(tokens); err != nil {
		a.logger.Warn("restart-subscribe-failed", zap.Error(err))
	}
	a.logger.Info("resubscribed-open-positions", zap.Int("count", len(tokens)))
}

// dailySummaryLoop fires the summary at the configured UTC hour and
// finalizes the day's P&L row.
func (a *App) dailySummaryLoop() {
	defer a.wg.Done()

	for {
		next := nextSummaryTime(time.Now().UTC(), a.cfg.Telegram.DailySummaryUTCHour)
		timer := time.NewTimer(time.Until(next))

		select {
		case <-a.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			a.sendDailySummary()
		}
	}
}

func nextSummaryTime(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}

func (a *App) sendDailySummary() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	summary := a.PnLText(ctx)
	a.notifier.DailySummary(ctx, summary)

	snap := a.snapshotter.Snapshot()
	today := time.Now().UTC().Format("2006-01-02")
	closed, err := a.store.ClosedPositions(ctx, "", 500)
	if err != nil {
		a.logger.Error("closed-positions-query-failed", zap.Error(err))
		return
	}

	daily := &store.DailyPnL{
		Date:          today,
		EndingBalance: snap.TotalUSD,
		RealizedPnL:   snap.RealizedPnLTodayUSD,
		UnrealizedPnL: snap.UnrealizedPnLUSD,
	}
	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	for _, pos := range closed {
		if pos.ClosedAt.Before(midnight) {
			continue
		}
		daily.TradesCount++
		daily.FeesPaid += pos.EntryFee + pos.ExitFee
		if pos.RealizedPnL > 0 {
			daily.Wins++
		} else if pos.RealizedPnL < 0 {
			daily.Losses++
		}
	}

	if err := a.store.FinalizeDailyPnL(ctx, daily); err != nil {
		a.logger.Error("daily-pnl-finalize-failed", zap.Error(err))
	}
}

func (a *App) waitForShutdown() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		a.logger.Info("shutdown-signal-received", zap.String("signal", sig.String()))
	case <-a.ctx.Done():
		a.logger.Info("context-cancelled")
	}

	return a.Shutdown()
}
