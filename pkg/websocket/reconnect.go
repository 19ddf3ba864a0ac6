package websocket

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ReconnectConfig tunes the exponential backoff between connection
// attempts.
type ReconnectConfig struct {
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	JitterPercent     float64 // 0.2 = up to +20% on each delay
}

// ReconnectManager retries a connect function with exponential backoff and
// jitter until it succeeds or the context is cancelled.
type ReconnectManager struct {
	config         ReconnectConfig
	logger         *zap.Logger
	mu             sync.Mutex
	currentBackoff time.Duration
}

// NewReconnectManager creates a reconnection manager.
func NewReconnectManager(cfg ReconnectConfig, logger *zap.Logger) *ReconnectManager {
	return &ReconnectManager{
		config:         cfg,
		logger:         logger,
		currentBackoff: cfg.InitialDelay,
	}
}

// Reconnect keeps calling connectFunc until it returns nil. Each failure
// widens the delay up to the configured cap; success resets it.
func (rm *ReconnectManager) Reconnect(ctx context.Context, connectFunc func(context.Context) error) error {
	for {
		backoff := rm.nextBackoff()

		rm.logger.Info("attempting-reconnection", zap.Duration("backoff", backoff))
		ReconnectAttemptsTotal.Inc()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		err := connectFunc(ctx)
		if err == nil {
			rm.Reset()
			rm.logger.Info("reconnection-successful")
			return nil
		}

		rm.logger.Warn("reconnection-failed", zap.Error(err))
		ReconnectFailuresTotal.Inc()
		rm.incrementBackoff()
	}
}

// Reset restores the initial delay.
func (rm *ReconnectManager) Reset() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.currentBackoff = rm.config.InitialDelay
}

// nextBackoff returns the current delay with jitter applied so a herd of
// clients does not reconnect in lockstep.
func (rm *ReconnectManager) nextBackoff() time.Duration {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	jitter := 1.0 + rand.Float64()*rm.config.JitterPercent
	return time.Duration(float64(rm.currentBackoff) * jitter)
}

// incrementBackoff widens the delay by the multiplier, capped at MaxDelay.
func (rm *ReconnectManager) incrementBackoff() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	next := time.Duration(float64(rm.currentBackoff) * rm.config.BackoffMultiplier)
	if next > rm.config.MaxDelay {
		next = rm.config.MaxDelay
	}
	rm.currentBackoff = next
}
