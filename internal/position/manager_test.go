package position

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mselser95/polymarket-bot/internal/exchange"
	"github.com/mselser95/polymarket-bot/internal/store"
	"github.com/mselser95/polymarket-bot/pkg/ratelimit"
	"github.com/mselser95/polymarket-bot/pkg/types"
)

// captureQueue records enqueued signals in order.
type captureQueue struct {
	mu      sync.Mutex
	signals []*types.Signal
}

func (c *captureQueue) enqueue(sig *types.Signal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signals = append(c.signals, sig)
	return nil
}

func (c *captureQueue) all() []*types.Signal {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*types.Signal, len(c.signals))
	copy(out, c.signals)
	return out
}

type pmFixture struct {
	manager *Manager
	store   *store.Store
	paper   *exchange.Paper
	queue   *captureQueue
	closing *ClosingSet
}

func newPMFixture(t *testing.T) *pmFixture {
	t.Helper()

	logger := zaptest.NewLogger(t)
	s, err := store.Open(&store.Config{
		Path:   filepath.Join(t.TempDir(), "positions.db"),
		Logger: logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	paper := exchange.NewPaper(logger)
	queue := &captureQueue{}
	closing := NewClosingSet()

	m := New(&Config{
		Store:             s,
		Exchange:          paperAdapter(t, paper),
		Enqueue:           queue.enqueue,
		Closing:           closing,
		ResolutionFeeRate: 0.02,
		Logger:            logger,
	})

	return &pmFixture{manager: m, store: s, paper: paper, queue: queue, closing: closing}
}

func paperAdapter(t *testing.T, paper *exchange.Paper) exchange.Exchange {
	t.Helper()
	return exchange.NewAdapter(&exchange.AdapterConfig{
		Backend:     paper,
		RateLimiter: ratelimit.New(ratelimit.Config{OpsPerMinute: 6000, Logger: zaptest.NewLogger(t)}),
		Logger:      zaptest.NewLogger(t),
	})
}

func openLong(t *testing.T, s *store.Store, tp []types.TakeProfitLevel, sl, trailPct float64) int64 {
	t.Helper()
	id, err := s.OpenPosition(context.Background(), &types.Position{
		MarketID:    "m1",
		TokenID:     "tokYes",
		Outcome:     "Yes",
		Side:        types.PositionLong,
		EntryPrice:  0.40,
		Shares:      100,
		EntryShares: 100,
		EntryFee:    0.2,
		Strategy:    types.StrategyCopyTrade,
		TPLevels:    tp,
		SLPrice:     sl,
		TrailPct:    trailPct,
	})
	require.NoError(t, err)
	return id
}

func TestDuplicateExitRace(t *testing.T) {
	t.Parallel()

	f := newPMFixture(t)
	ctx := context.Background()

	// TP at 0.60 sells 50%.
	posID := openLong(t, f.store,
		[]types.TakeProfitLevel{{TriggerPrice: 0.60, FractionToSell: 0.5}}, 0, 10)

	// Two price events arrive back-to-back above the trigger.
	f.manager.OnPriceEvent(ctx, types.PriceEvent{TokenID: "tokYes", Price: 0.605, Timestamp: time.Now()})
	f.manager.OnPriceEvent(ctx, types.PriceEvent{TokenID: "tokYes", Price: 0.610, Timestamp: time.Now()})

	signals := f.queue.all()
	require.Len(t, signals, 1, "exactly one exit for the tier, however many ticks arrive")
	assert.True(t, signals[0].IsExit())
	assert.InDelta(t, 50*0.605, signals[0].SizeUSD, 1e-6)
	assert.True(t, f.closing.Contains(posID), "guard held until the fill persists")

	pos, err := f.store.GetPosition(ctx, posID)
	require.NoError(t, err)
	assert.Equal(t, types.PositionStatusClosing, pos.Status)
}

func TestDuplicateExitRace_Concurrent(t *testing.T) {
	t.Parallel()

	f := newPMFixture(t)
	ctx := context.Background()

	openLong(t, f.store,
		[]types.TakeProfitLevel{{TriggerPrice: 0.60, FractionToSell: 1.0}}, 0, 0)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			f.manager.OnPriceEvent(ctx, types.PriceEvent{
				TokenID: "tokYes", Price: 0.61 + float64(n)*0.001, Timestamp: time.Now(),
			})
		}(i)
	}
	wg.Wait()

	assert.Len(t, f.queue.all(), 1, "parallel ticks still produce a single exit")
}

func TestStopLoss_AdverseCrossOnly(t *testing.T) {
	t.Parallel()

	f := newPMFixture(t)
	ctx := context.Background()

	openLong(t, f.store, nil, 0.34, 0)

	// Price above the stop: nothing happens.
	f.manager.OnPriceEvent(ctx, types.PriceEvent{TokenID: "tokYes", Price: 0.36, Timestamp: time.Now()})
	assert.Empty(t, f.queue.all())

	// Adverse cross closes everything.
	f.manager.OnPriceEvent(ctx, types.PriceEvent{TokenID: "tokYes", Price: 0.33, Timestamp: time.Now()})
	signals := f.queue.all()
	require.Len(t, signals, 1)
	assert.Equal(t, "stop_loss", signals[0].Meta.ExitReason)
	assert.InDelta(t, 100*0.33, signals[0].SizeUSD, 1e-6)
}

func TestTakeProfit_ArmsTrailingStop(t *testing.T) {
	t.Parallel()

	f := newPMFixture(t)
	ctx := context.Background()

	posID := openLong(t, f.store,
		[]types.TakeProfitLevel{
			{TriggerPrice: 0.48, FractionToSell: 0.5},
			{TriggerPrice: 0.60, FractionToSell: 1.0},
		}, 0.34, 10)

	f.manager.OnPriceEvent(ctx, types.PriceEvent{TokenID: "tokYes", Price: 0.50, Timestamp: time.Now()})

	signals := f.queue.all()
	require.Len(t, signals, 1)
	assert.Equal(t, "take_profit", signals[0].Meta.ExitReason)

	pos, err := f.store.GetPosition(ctx, posID)
	require.NoError(t, err)
	require.Len(t, pos.TPLevels, 2)
	assert.True(t, pos.TPLevels[0].Fired)
	assert.False(t, pos.TPLevels[1].Fired)
	assert.InDelta(t, 0.50, pos.TrailAnchor, 1e-9, "trailing stop armed at the current price")
}

func TestTrailingStop_LongRatchetsUpTriggersOnRetrace(t *testing.T) {
	t.Parallel()

	f := newPMFixture(t)
	ctx := context.Background()

	posID, err := f.store.OpenPosition(ctx, &types.Position{
		MarketID: "m1", TokenID: "tokYes", Outcome: "Yes",
		Side: types.PositionLong, EntryPrice: 0.40,
		Shares: 100, EntryShares: 100,
		Strategy: types.StrategyCopyTrade,
		TrailPct: 10, TrailAnchor: 0.50,
	})
	require.NoError(t, err)

	// Rising prices ratchet the anchor and never trigger.
	f.manager.OnPriceEvent(ctx, types.PriceEvent{TokenID: "tokYes", Price: 0.55, Timestamp: time.Now()})
	f.manager.OnPriceEvent(ctx, types.PriceEvent{TokenID: "tokYes", Price: 0.60, Timestamp: time.Now()})
	assert.Empty(t, f.queue.all())

	pos, err := f.store.GetPosition(ctx, posID)
	require.NoError(t, err)
	assert.InDelta(t, 0.60, pos.TrailAnchor, 1e-9)

	// A 10% retrace from the 0.60 anchor (0.54) triggers the close.
	f.manager.OnPriceEvent(ctx, types.PriceEvent{TokenID: "tokYes", Price: 0.53, Timestamp: time.Now()})
	signals := f.queue.all()
	require.Len(t, signals, 1)
	assert.Equal(t, "trailing_stop", signals[0].Meta.ExitReason)
}

func TestTrailingStop_ShortDirection(t *testing.T) {
	t.Parallel()

	f := newPMFixture(t)
	ctx := context.Background()

	_, err := f.store.OpenPosition(ctx, &types.Position{
		MarketID: "m1", TokenID: "tokYes", Outcome: "Yes",
		Side: types.PositionShort, EntryPrice: 0.60,
		Shares: 100, EntryShares: 100,
		Strategy: types.StrategyCopyTrade,
		TrailPct: 10, TrailAnchor: 0.50,
	})
	require.NoError(t, err)

	// Monotonically decreasing prices are favorable for a short: the stop
	// must never fire.
	for _, price := range []float64{0.48, 0.45, 0.40, 0.35, 0.30} {
		f.manager.OnPriceEvent(ctx, types.PriceEvent{TokenID: "tokYes", Price: price, Timestamp: time.Now()})
	}
	assert.Empty(t, f.queue.all(), "favorable moves never trigger a short's trailing stop")

	// Adverse retrace above anchor*(1+10%) = 0.33 triggers, and the exit is
	// a BUY to cover.
	f.manager.OnPriceEvent(ctx, types.PriceEvent{TokenID: "tokYes", Price: 0.34, Timestamp: time.Now()})
	signals := f.queue.all()
	require.Len(t, signals, 1)
	assert.Equal(t, types.SideBuy, signals[0].Side)
	assert.Equal(t, "trailing_stop", signals[0].Meta.ExitReason)
}

func TestResolution_WinnerAndLoser(t *testing.T) {
	t.Parallel()

	f := newPMFixture(t)
	ctx := context.Background()

	winnerID, err := f.store.OpenPosition(ctx, &types.Position{
		MarketID: "m1", TokenID: "tokYes", Outcome: "Yes",
		Side: types.PositionLong, EntryPrice: 0.40,
		Shares: 100, EntryShares: 100, EntryFee: 0.5,
		Strategy: types.StrategyArb,
	})
	require.NoError(t, err)

	loserID, err := f.store.OpenPosition(ctx, &types.Position{
		MarketID: "m1", TokenID: "tokNo", Outcome: "No",
		Side: types.PositionLong, EntryPrice: 0.49,
		Shares: 100, EntryShares: 100, EntryFee: 0.5,
		Strategy: types.StrategyArb,
	})
	require.NoError(t, err)

	f.paper.SetMarket(&types.Market{
		ConditionID: "m1",
		Closed:      true,
		Tokens: []types.Token{
			{TokenID: "tokYes", Outcome: "Yes", Price: 1.0},
			{TokenID: "tokNo", Outcome: "No", Price: 0.0},
		},
	})

	f.manager.CheckResolutions(ctx)

	winner, err := f.store.GetPosition(ctx, winnerID)
	require.NoError(t, err)
	assert.Equal(t, types.PositionStatusResolved, winner.Status)
	// (1.0 - 0.40) * 100 - 0.5 entry fee - 2% of $100 winnings.
	assert.InDelta(t, 60-0.5-2.0, winner.RealizedPnL, 1e-9)

	loser, err := f.store.GetPosition(ctx, loserID)
	require.NoError(t, err)
	assert.Equal(t, types.PositionStatusResolved, loser.Status)
	// (0.0 - 0.49) * 100 - 0.5 entry fee, no fee on zero winnings.
	assert.InDelta(t, -49-0.5, loser.RealizedPnL, 1e-9)
}

func TestRecoverClosing_ReemitsExit(t *testing.T) {
	t.Parallel()

	f := newPMFixture(t)
	ctx := context.Background()

	posID := openLong(t, f.store, nil, 0, 0)
	require.NoError(t, f.store.SetPositionClosing(ctx, posID, "stop_loss"))
	f.paper.SetPrice("tokYes", 0.35)

	f.manager.RecoverClosing(ctx)

	signals := f.queue.all()
	require.Len(t, signals, 1)
	assert.True(t, signals[0].IsExit())
	assert.Equal(t, posID, signals[0].Meta.ParentPositionID)
	assert.Equal(t, "recovery", signals[0].Meta.ExitReason)
	assert.InDelta(t, 100*0.35, signals[0].SizeUSD, 1e-6)
	assert.True(t, f.closing.Contains(posID))
}

func TestClosingSet(t *testing.T) {
	t.Parallel()

	set := NewClosingSet()
	assert.True(t, set.TryBegin(1))
	assert.False(t, set.TryBegin(1))
	assert.True(t, set.Contains(1))
	assert.Equal(t, 1, set.Len())

	set.Release(1)
	assert.False(t, set.Contains(1))
	assert.True(t, set.TryBegin(1))
}
