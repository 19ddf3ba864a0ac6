package app

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Graceful shutdown budget for in-flight exits.
const exitGracePeriod = 30 * time.Second

// Shutdown stops intake, cancels resting exchange orders, waits out
// in-flight exits, and closes every component in dependency order. The
// store must end consistent: any position still mid-exit stays in closing
// and is recovered at next startup.
func (a *App) Shutdown() error {
	a.logger.Info("application-shutting-down")

	a.healthChecker.SetReady(false)

	// Stop accepting new work: pending entries are dropped while queued
	// exits keep processing through the still-running worker.
	drained := a.queue.DrainEntries()
	if drained > 0 {
		a.logger.Info("shutdown-drained-entries", zap.Int("count", drained))
	}

	// Give in-flight exits a bounded window to confirm while the pipeline
	// is still alive.
	a.awaitInflightExits()

	// Cancel resting exchange orders before we lose the ability to.
	cancelCtx, cancelOrders := context.WithTimeout(context.Background(), 10*time.Second)
	if err := a.adapter.CancelAll(cancelCtx, ""); err != nil {
		a.logger.Error("shutdown-cancel-all-failed", zap.Error(err))
	}
	cancelOrders()

	// Now stop everything.
	a.cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http-server-shutdown-error", zap.Error(err))
	}

	if a.copyTracker != nil {
		a.copyTracker.Close()
	}
	if a.arbScanner != nil {
		a.arbScanner.Close()
	}
	if a.stinkBidder != nil {
		a.stinkBidder.Close()
	}
	if a.cmdListener != nil {
		a.cmdListener.Close()
	}

	a.orderManager.Close()
	a.positionMgr.Close()
	a.snapshotter.Close()

	if err := a.wsManager.Close(); err != nil {
		a.logger.Error("websocket-close-error", zap.Error(err))
	}

	a.wg.Wait()

	if err := a.store.Close(); err != nil {
		a.logger.Error("store-close-error", zap.Error(err))
	}

	a.logger.Info("application-shutdown-complete")
	return nil
}

// awaitInflightExits polls the closing-set until it drains or the grace
// period lapses.
func (a *App) awaitInflightExits() {
	if a.closingSet.Len() == 0 {
		return
	}

	a.logger.Info("awaiting-inflight-exits",
		zap.Int("count", a.closingSet.Len()),
		zap.Duration("grace", exitGracePeriod))

	deadline := time.Now().Add(exitGracePeriod)
	for time.Now().Before(deadline) {
		if a.closingSet.Len() == 0 {
			return
		}
		time.Sleep(250 * time.Millisecond)
	}

	a.logger.Warn("inflight-exits-remaining-at-shutdown",
		zap.Int("count", a.closingSet.Len()))
}
