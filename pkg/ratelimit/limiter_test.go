package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeClock drives the limiter deterministically: sleeps advance the clock
// instead of blocking.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return nil
}

func newTestLimiter(t *testing.T, opsPerMinute int) (*Limiter, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	l := New(Config{OpsPerMinute: opsPerMinute, Logger: zaptest.NewLogger(t)})
	l.now = clock.Now
	l.sleep = clock.Sleep
	return l, clock
}

func TestAcquire_UnderLimit(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(t, 5)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Acquire(ctx))
	}
	assert.Equal(t, 5, l.Usage())
	assert.Equal(t, 0, l.Remaining())
}

func TestAcquire_BlocksUntilWindowFrees(t *testing.T) {
	t.Parallel()

	l, clock := newTestLimiter(t, 2)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx))
	require.NoError(t, l.Acquire(ctx))

	start := clock.Now()
	require.NoError(t, l.Acquire(ctx))

	// The third acquire had to wait for the first slot to expire.
	waited := clock.Now().Sub(start)
	assert.GreaterOrEqual(t, waited, 59*time.Second)
	assert.Equal(t, 1, l.Usage())
}

func TestAcquire_ContextCancelled(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(t, 1)
	l.sleep = sleepCtx // real sleep so cancellation matters

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, l.Acquire(ctx))

	cancel()
	err := l.Acquire(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestThrottle_ExponentialBackoff(t *testing.T) {
	t.Parallel()

	l, clock := newTestLimiter(t, 100)
	ctx := context.Background()

	l.RecordThrottle()
	start := clock.Now()
	require.NoError(t, l.Acquire(ctx))
	first := clock.Now().Sub(start)
	// Base 1s with ±20% jitter.
	assert.GreaterOrEqual(t, first, 800*time.Millisecond)
	assert.LessOrEqual(t, first, 1200*time.Millisecond)

	l.RecordThrottle()
	l.RecordThrottle()
	start = clock.Now()
	require.NoError(t, l.Acquire(ctx))
	third := clock.Now().Sub(start)
	// Third consecutive throttle: 4s nominal.
	assert.GreaterOrEqual(t, third, 3200*time.Millisecond)
	assert.LessOrEqual(t, third, 4800*time.Millisecond)
}

func TestThrottle_BackoffCapped(t *testing.T) {
	t.Parallel()

	l, clock := newTestLimiter(t, 1000)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		l.RecordThrottle()
	}

	start := clock.Now()
	require.NoError(t, l.Acquire(ctx))
	waited := clock.Now().Sub(start)
	assert.LessOrEqual(t, waited, 72*time.Second) // 60s cap + 20% jitter
}

func TestThrottle_ResetRequiresConsecutiveSuccesses(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(t, 100)

	l.RecordThrottle()
	l.RecordThrottle()

	// Two successes are not enough to reset the multiplier.
	l.RecordSuccess()
	l.RecordSuccess()

	l.mu.Lock()
	assert.Equal(t, 2, l.consecutiveThrottles)
	l.mu.Unlock()

	// The third consecutive success resets it.
	l.RecordSuccess()

	l.mu.Lock()
	assert.Equal(t, 0, l.consecutiveThrottles)
	l.mu.Unlock()
}

func TestThrottle_SuccessRunBrokenByThrottle(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(t, 100)

	l.RecordThrottle()
	l.RecordSuccess()
	l.RecordSuccess()
	l.RecordThrottle() // breaks the success run

	l.mu.Lock()
	assert.Equal(t, 2, l.consecutiveThrottles)
	assert.Equal(t, 0, l.consecutiveSuccesses)
	l.mu.Unlock()
}

func TestAcquire_ConcurrentCallers(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(t, 50)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Acquire(ctx))
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, l.Usage())
}
