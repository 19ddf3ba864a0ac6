package risk

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mselser95/polymarket-bot/internal/store"
	"github.com/mselser95/polymarket-bot/pkg/config"
	"github.com/mselser95/polymarket-bot/pkg/types"
)

func newTestGate(t *testing.T) (*Gate, *store.Store) {
	t.Helper()

	logger := zaptest.NewLogger(t)
	s, err := store.Open(&store.Config{
		Path:   filepath.Join(t.TempDir(), "risk.db"),
		Logger: logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	cfg, err := config.Load("")
	require.NoError(t, err)

	g, err := New(context.Background(), &Config{Config: cfg, Store: s, Logger: logger})
	require.NoError(t, err)
	return g, s
}

func validSnapshot() types.PortfolioSnapshot {
	return types.PortfolioSnapshot{
		CashUSD:             800,
		PositionsValueUSD:   200,
		TotalUSD:            1000,
		UnrealizedPnLUSD:    0,
		RealizedPnLTodayUSD: 0,
		Valid:               true,
		TakenAt:             time.Now(),
	}
}

func entrySignal() *types.Signal {
	return &types.Signal{
		ID:         "sig-1",
		Strategy:   types.StrategyCopyTrade,
		MarketID:   "m1",
		TokenID:    "tokYes",
		Side:       types.SideBuy,
		SizeUSD:    100,
		LimitPrice: 0.40,
		OrderType:  types.OrderTypeGTC,
	}
}

func exitSignal() *types.Signal {
	s := entrySignal()
	s.Side = types.SideSell
	s.Meta.IsExit = true
	s.Meta.ParentPositionID = 1
	return s
}

func emptyInflight() *Inflight {
	return &Inflight{
		MarketStrategies: map[string]string{},
		StrategyExposure: map[string]float64{},
	}
}

func TestCheck_ApprovesCleanEntry(t *testing.T) {
	t.Parallel()

	g, _ := newTestGate(t)
	d := g.Check(entrySignal(), validSnapshot(), emptyInflight())
	assert.True(t, d.Approved)
}

func TestCheck_FailClosed(t *testing.T) {
	t.Parallel()

	g, _ := newTestGate(t)

	t.Run("invalid-snapshot-rejects-balance-unknown", func(t *testing.T) {
		snap := validSnapshot()
		snap.Valid = false
		d := g.Check(entrySignal(), snap, emptyInflight())
		require.False(t, d.Approved)
		assert.Equal(t, types.RejectBalanceUnknown, d.Reason)
	})

	t.Run("stale-snapshot-rejects-portfolio-unknown", func(t *testing.T) {
		snap := validSnapshot()
		snap.TakenAt = time.Now().Add(-time.Minute)
		d := g.Check(entrySignal(), snap, emptyInflight())
		require.False(t, d.Approved)
		assert.Equal(t, types.RejectPortfolioUnknown, d.Reason)
	})

	t.Run("zero-portfolio-rejects", func(t *testing.T) {
		snap := validSnapshot()
		snap.CashUSD = 0
		snap.PositionsValueUSD = 0
		snap.TotalUSD = 0
		d := g.Check(entrySignal(), snap, emptyInflight())
		require.False(t, d.Approved)
		assert.Equal(t, types.RejectPortfolioUnknown, d.Reason)
	})

	t.Run("exits-also-require-known-balance", func(t *testing.T) {
		snap := validSnapshot()
		snap.Valid = false
		d := g.Check(exitSignal(), snap, emptyInflight())
		require.False(t, d.Approved)
		assert.Equal(t, types.RejectBalanceUnknown, d.Reason)
	})
}

func TestCheck_DailyLossIncludesUnrealized(t *testing.T) {
	t.Parallel()

	g, _ := newTestGate(t)

	// Default daily loss limit is 5% of a $1000 portfolio = $50.
	snap := validSnapshot()
	snap.RealizedPnLTodayUSD = -30
	snap.UnrealizedPnLUSD = -25 // combined -55 breaches the limit

	d := g.Check(entrySignal(), snap, emptyInflight())
	require.False(t, d.Approved)
	assert.Equal(t, types.RejectDailyLossLimit, d.Reason)

	// Realized alone would pass; unrealized must be included.
	snap.UnrealizedPnLUSD = 0
	d = g.Check(entrySignal(), snap, emptyInflight())
	assert.True(t, d.Approved)

	// Exits are still allowed while the loss limit is breached.
	snap.UnrealizedPnLUSD = -25
	d = g.Check(exitSignal(), snap, emptyInflight())
	assert.True(t, d.Approved)
}

func TestCheck_CashReserve(t *testing.T) {
	t.Parallel()

	g, _ := newTestGate(t)

	// Reserve 20% of $1000 = $200. Cash 250, size 100 -> post-trade 150 < 200.
	snap := validSnapshot()
	snap.CashUSD = 250
	snap.PositionsValueUSD = 750

	d := g.Check(entrySignal(), snap, emptyInflight())
	require.False(t, d.Approved)
	assert.Equal(t, types.RejectInsufficientCash, d.Reason)
}

func TestCheck_PositionSizeLimit(t *testing.T) {
	t.Parallel()

	g, _ := newTestGate(t)

	sig := entrySignal()
	sig.SizeUSD = 150 // max position 10% of $1000 = $100

	d := g.Check(sig, validSnapshot(), emptyInflight())
	require.False(t, d.Approved)
	assert.Equal(t, types.RejectPositionLimit, d.Reason)
}

func TestCheck_TooManyPositions(t *testing.T) {
	t.Parallel()

	g, _ := newTestGate(t)

	inflight := emptyInflight()
	inflight.OpenPositions = 10 // default max

	d := g.Check(entrySignal(), validSnapshot(), inflight)
	require.False(t, d.Approved)
	assert.Equal(t, types.RejectTooManyPositions, d.Reason)
}

func TestCheck_StrategyAllocation(t *testing.T) {
	t.Parallel()

	g, _ := newTestGate(t)

	// copy_trade allocation defaults to 30% of $1000 = $300.
	inflight := emptyInflight()
	inflight.StrategyExposure[types.StrategyCopyTrade] = 250

	d := g.Check(entrySignal(), validSnapshot(), inflight) // 250 + 100 > 300
	require.False(t, d.Approved)
	assert.Equal(t, types.RejectStrategyAllocation, d.Reason)
}

func TestCheck_DuplicateMarket(t *testing.T) {
	t.Parallel()

	g, _ := newTestGate(t)

	inflight := emptyInflight()
	inflight.MarketStrategies["m1"] = types.StrategyArb

	d := g.Check(entrySignal(), validSnapshot(), inflight)
	require.False(t, d.Approved)
	assert.Equal(t, types.RejectDuplicateMarket, d.Reason)

	// Exits on the same market are exempt.
	d = g.Check(exitSignal(), validSnapshot(), inflight)
	assert.True(t, d.Approved)

	// So is the second leg of a parity pair, which completes the position
	// its first leg opened.
	leg2 := entrySignal()
	leg2.Strategy = types.StrategyArb
	leg2.Meta.ArbPairID = "pair-1"
	leg2.Meta.ArbLeg = 2
	d = g.Check(leg2, validSnapshot(), inflight)
	assert.True(t, d.Approved)
}

func TestCheck_MinimumEdge(t *testing.T) {
	t.Parallel()

	g, _ := newTestGate(t)

	sig := entrySignal()
	sig.Meta.HasEdge = true
	sig.Meta.EdgePct = 3 // below the default 5%

	d := g.Check(sig, validSnapshot(), emptyInflight())
	require.False(t, d.Approved)
	assert.Equal(t, types.RejectBelowMinEdge, d.Reason)

	sig.Meta.EdgePct = 7
	d = g.Check(sig, validSnapshot(), emptyInflight())
	assert.True(t, d.Approved)
}

func TestCheck_PauseResume(t *testing.T) {
	t.Parallel()

	g, _ := newTestGate(t)

	g.PauseStrategy(types.StrategyCopyTrade)
	d := g.Check(entrySignal(), validSnapshot(), emptyInflight())
	require.False(t, d.Approved)
	assert.Equal(t, types.RejectStrategyPaused, d.Reason)

	// Exits still flow while paused.
	d = g.Check(exitSignal(), validSnapshot(), emptyInflight())
	assert.True(t, d.Approved)

	g.ResumeStrategy(types.StrategyCopyTrade)
	d = g.Check(entrySignal(), validSnapshot(), emptyInflight())
	assert.True(t, d.Approved)
}

// drainerFunc counts drain invocations.
type drainerFunc struct {
	mu    sync.Mutex
	calls int
}

func (d *drainerFunc) DrainEntries() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return 5
}

// cancellerFunc counts cancel-all invocations.
type cancellerFunc struct {
	mu    sync.Mutex
	calls int
}

func (c *cancellerFunc) CancelAll(context.Context, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return nil
}

func TestKillSwitch_ActivateIdempotentAndConcurrent(t *testing.T) {
	t.Parallel()

	g, _ := newTestGate(t)
	ctx := context.Background()

	drainer := &drainerFunc{}
	canceller := &cancellerFunc{}
	g.SetQueueDrainer(drainer)
	g.SetCanceller(canceller)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, g.Activate(ctx, "operator"))
		}()
	}
	wg.Wait()

	assert.True(t, g.IsActive())
	// Exactly one activation ran the side effects.
	assert.Equal(t, 1, canceller.calls)
	assert.Equal(t, 1, drainer.calls)

	// Entries reject, exits pass.
	d := g.Check(entrySignal(), validSnapshot(), emptyInflight())
	require.False(t, d.Approved)
	assert.Equal(t, types.RejectKillSwitch, d.Reason)

	d = g.Check(exitSignal(), validSnapshot(), emptyInflight())
	assert.True(t, d.Approved, "exits still process while halted")
}

func TestKillSwitch_PersistsAcrossRestart(t *testing.T) {
	t.Parallel()

	logger := zaptest.NewLogger(t)
	path := filepath.Join(t.TempDir(), "risk.db")
	s, err := store.Open(&store.Config{Path: path, Logger: logger})
	require.NoError(t, err)

	cfg, err := config.Load("")
	require.NoError(t, err)

	ctx := context.Background()
	g, err := New(ctx, &Config{Config: cfg, Store: s, Logger: logger})
	require.NoError(t, err)
	require.NoError(t, g.Activate(ctx, "daily loss"))
	require.NoError(t, s.Close())

	// New process: the switch must come back active.
	s2, err := store.Open(&store.Config{Path: path, Logger: logger})
	require.NoError(t, err)
	defer s2.Close()

	g2, err := New(ctx, &Config{Config: cfg, Store: s2, Logger: logger})
	require.NoError(t, err)
	assert.True(t, g2.IsActive())
	assert.Equal(t, "daily loss", g2.State().Reason)

	// Only an explicit deactivation clears it.
	require.NoError(t, g2.Deactivate(ctx))
	assert.False(t, g2.IsActive())
}

func TestApprove_GathersInflightFromStore(t *testing.T) {
	t.Parallel()

	g, s := newTestGate(t)
	ctx := context.Background()

	_, err := s.OpenPosition(ctx, &types.Position{
		MarketID:    "m1",
		TokenID:     "tokYes",
		Outcome:     "Yes",
		Side:        types.PositionLong,
		EntryPrice:  0.40,
		Shares:      100,
		EntryShares: 100,
		Strategy:    types.StrategyArb,
	})
	require.NoError(t, err)

	d := g.Approve(ctx, entrySignal(), validSnapshot())
	require.False(t, d.Approved)
	assert.Equal(t, types.RejectDuplicateMarket, d.Reason)
}
