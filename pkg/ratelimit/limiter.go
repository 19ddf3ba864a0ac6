package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Limiter is a sliding-window token bucket gating outbound exchange calls.
//
// Acquire blocks until a request slot is free. Throttle responses from the
// exchange apply exponential backoff (base 1s, cap 60s, jitter ±20%); the
// backoff multiplier only resets after a run of consecutive successes, so a
// single lucky call does not cancel an ongoing squeeze. The internal mutex is
// never held across a sleep.
type Limiter struct {
	maxRequests int
	window      time.Duration
	logger      *zap.Logger

	mu                   sync.Mutex
	timestamps           []time.Time
	backoffUntil         time.Time
	consecutiveThrottles int
	consecutiveSuccesses int

	// test hooks
	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

const (
	backoffBase      = time.Second
	backoffCap       = 60 * time.Second
	jitterPct        = 0.2
	successesToReset = 3
)

// Config holds limiter configuration.
type Config struct {
	OpsPerMinute int
	Logger       *zap.Logger
}

// New creates a Limiter allowing cfg.OpsPerMinute calls per minute.
func New(cfg Config) *Limiter {
	max := cfg.OpsPerMinute
	if max <= 0 {
		max = 60
	}

	return &Limiter{
		maxRequests: max,
		window:      time.Minute,
		logger:      cfg.Logger,
		now:         time.Now,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Acquire blocks until a request slot is available or ctx is cancelled.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()

		now := l.now()

		// Respect an active throttle backoff first.
		if wait := l.backoffUntil.Sub(now); wait > 0 {
			l.mu.Unlock()
			ThrottleWaitSeconds.Observe(wait.Seconds())
			l.logger.Warn("rate-limit-backoff", zap.Duration("wait", wait))
			if err := l.sleep(ctx, wait); err != nil {
				return err
			}
			continue
		}

		l.prune(now)

		if len(l.timestamps) < l.maxRequests {
			l.timestamps = append(l.timestamps, now)
			l.mu.Unlock()
			AcquiredTotal.Inc()
			return nil
		}

		// Window full: wait for the oldest call to expire. Sleep without
		// holding the mutex.
		wait := l.timestamps[0].Add(l.window).Sub(now)
		l.mu.Unlock()

		if wait <= 0 {
			continue
		}

		WindowWaitSeconds.Observe(wait.Seconds())
		l.logger.Debug("rate-limit-window-full", zap.Duration("wait", wait))
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// RecordThrottle registers an exchange throttle response (HTTP 429) and arms
// exponential backoff for subsequent acquires.
func (l *Limiter) RecordThrottle() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.consecutiveSuccesses = 0
	l.consecutiveThrottles++

	backoff := backoffBase << (l.consecutiveThrottles - 1)
	if backoff > backoffCap || backoff <= 0 {
		backoff = backoffCap
	}

	// Jitter ±20% so a fleet of callers does not resynchronize.
	jitter := 1 + jitterPct*(2*rand.Float64()-1)
	backoff = time.Duration(float64(backoff) * jitter)

	l.backoffUntil = l.now().Add(backoff)
	ThrottlesTotal.Inc()

	l.logger.Warn("rate-limit-throttled",
		zap.Int("consecutive", l.consecutiveThrottles),
		zap.Duration("backoff", backoff))
}

// RecordSuccess registers a successful exchange call. The throttle counter
// only resets after several consecutive successes, not the first.
func (l *Limiter) RecordSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.consecutiveThrottles == 0 {
		return
	}

	l.consecutiveSuccesses++
	if l.consecutiveSuccesses >= successesToReset {
		l.logger.Info("rate-limit-backoff-reset",
			zap.Int("after-successes", l.consecutiveSuccesses))
		l.consecutiveThrottles = 0
		l.consecutiveSuccesses = 0
	}
}

// Usage returns the number of calls made inside the current window.
func (l *Limiter) Usage() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune(l.now())
	return len(l.timestamps)
}

// Remaining returns how many calls are left in the current window.
func (l *Limiter) Remaining() int {
	r := l.maxRequests - l.Usage()
	if r < 0 {
		return 0
	}
	return r
}

// prune drops timestamps at or before the window start. Callers hold l.mu.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.timestamps) && !l.timestamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.timestamps = append(l.timestamps[:0], l.timestamps[i:]...)
	}
}
