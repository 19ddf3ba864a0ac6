package copytrade

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mselser95/polymarket-bot/internal/exchange"
	"github.com/mselser95/polymarket-bot/internal/store"
	"github.com/mselser95/polymarket-bot/internal/testutil"
	"github.com/mselser95/polymarket-bot/pkg/config"
	"github.com/mselser95/polymarket-bot/pkg/types"
)

type trackerFixture struct {
	tracker  *Tracker
	exch     *testutil.MockExchange
	store    *store.Store
	recorder *testutil.SignalRecorder
}

func newTrackerFixture(t *testing.T, strategyCfg config.CopyTradeConfig) *trackerFixture {
	t.Helper()

	logger := zaptest.NewLogger(t)
	s, err := store.Open(&store.Config{
		Path:   filepath.Join(t.TempDir(), "copy.db"),
		Logger: logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	mock := testutil.NewMockExchange()
	recorder := &testutil.SignalRecorder{}

	tracker := New(&Config{
		Exchange: mock,
		Store:    s,
		Submit:   recorder.Submit,
		Portfolio: &testutil.FixedSnapshot{Snap: types.PortfolioSnapshot{
			CashUSD: 800, TotalUSD: 1000, Valid: true,
		}},
		Strategy: strategyCfg,
		Wallets: []config.TrackedWallet{
			{Address: "0xwhale", Name: "whale-one", MaxAllocationUSD: 300, Enabled: true},
		},
		Logger: logger,
	})

	return &trackerFixture{tracker: tracker, exch: mock, store: s, recorder: recorder}
}

func defaultCopyCfg() config.CopyTradeConfig {
	return config.CopyTradeConfig{
		SizingMethod:     "fixed",
		FixedSizeUSD:     100,
		MinWhaleValueUSD: 500,
		MaxSlippagePct:   5,
		OrderType:        types.OrderTypeGTC,
	}
}

func whaleHoldingOf(shares, avgPrice float64) []*exchange.WalletPosition {
	return []*exchange.WalletPosition{{
		MarketID: "m1", TokenID: "tokYes", Outcome: "Yes",
		Shares: shares, AvgPrice: avgPrice, CurrentValue: 0,
	}}
}

// New whale holding of 2000 shares at 0.40, trading at 0.40 ($800, above the
// $500 conviction floor): one BUY for the configured fixed size.
func TestTick_NewWhaleHoldingEmitsBuy(t *testing.T) {
	t.Parallel()

	f := newTrackerFixture(t, defaultCopyCfg())
	ctx := context.Background()
	require.NoError(t, f.tracker.Initialize(ctx))

	f.exch.Prices["tokYes"] = 0.40
	f.exch.Wallets["0xwhale"] = whaleHoldingOf(2000, 0.40)

	f.tracker.Tick(ctx)

	signals := f.recorder.All()
	require.Len(t, signals, 1)
	sig := signals[0]
	assert.Equal(t, types.SideBuy, sig.Side)
	assert.Equal(t, types.StrategyCopyTrade, sig.Strategy)
	assert.InDelta(t, 100, sig.SizeUSD, 1e-9)
	assert.Equal(t, "0xwhale", sig.Meta.SourceWallet)
	assert.InDelta(t, 0.40, sig.Meta.WhaleEntryPrice, 1e-9)

	// State persisted: a second tick with identical holdings emits nothing.
	f.tracker.Tick(ctx)
	assert.Len(t, f.recorder.All(), 1)
}

func TestTick_ConvictionFilterUsesLiveValue(t *testing.T) {
	t.Parallel()

	f := newTrackerFixture(t, defaultCopyCfg())
	ctx := context.Background()
	require.NoError(t, f.tracker.Initialize(ctx))

	// 1000 shares at cost basis 0.60 ($600) but now trading at 0.30: the
	// live value $300 is below the $500 conviction floor.
	f.exch.Prices["tokYes"] = 0.30
	f.exch.Wallets["0xwhale"] = whaleHoldingOf(1000, 0.60)

	f.tracker.Tick(ctx)
	assert.Empty(t, f.recorder.All())
}

func TestTick_SlippageGuardSkipsAdverseMove(t *testing.T) {
	t.Parallel()

	f := newTrackerFixture(t, defaultCopyCfg())
	ctx := context.Background()
	require.NoError(t, f.tracker.Initialize(ctx))

	// Whale entered at 0.40; price already ran to 0.45 (+12.5%).
	f.exch.Prices["tokYes"] = 0.45
	f.exch.Wallets["0xwhale"] = whaleHoldingOf(2000, 0.40)

	f.tracker.Tick(ctx)
	assert.Empty(t, f.recorder.All())

	// A favorable price (cheaper than the whale paid) is not slippage.
	f2 := newTrackerFixture(t, defaultCopyCfg())
	require.NoError(t, f2.tracker.Initialize(ctx))
	f2.exch.Prices["tokYes"] = 0.35
	f2.exch.Wallets["0xwhale"] = whaleHoldingOf(2000, 0.40)
	f2.tracker.Tick(ctx)
	assert.Len(t, f2.recorder.All(), 1)
}

func TestTick_SmallIncreaseIgnored(t *testing.T) {
	t.Parallel()

	f := newTrackerFixture(t, defaultCopyCfg())
	ctx := context.Background()
	require.NoError(t, f.tracker.Initialize(ctx))

	f.exch.Prices["tokYes"] = 0.40
	f.exch.Wallets["0xwhale"] = whaleHoldingOf(2000, 0.40)
	f.tracker.Tick(ctx)
	require.Len(t, f.recorder.All(), 1)

	// +5% is below the add threshold.
	f.exch.Wallets["0xwhale"] = whaleHoldingOf(2100, 0.40)
	f.tracker.Tick(ctx)
	assert.Len(t, f.recorder.All(), 1)

	// +20% reads as the whale adding conviction.
	f.exch.Wallets["0xwhale"] = whaleHoldingOf(2520, 0.40)
	f.tracker.Tick(ctx)
	assert.Len(t, f.recorder.All(), 2)
}

func TestTick_WhaleExitEmitsProportionalSell(t *testing.T) {
	t.Parallel()

	f := newTrackerFixture(t, defaultCopyCfg())
	ctx := context.Background()

	// We hold a copied position from this whale.
	posID, err := f.store.OpenPosition(ctx, &types.Position{
		MarketID: "m1", TokenID: "tokYes", Outcome: "Yes",
		Side: types.PositionLong, EntryPrice: 0.40,
		Shares: 250, EntryShares: 250,
		Strategy: types.StrategyCopyTrade, SourceWallet: "0xwhale",
	})
	require.NoError(t, err)

	// Stored whale state says 1000 shares.
	require.NoError(t, f.store.UpsertWhalePosition(ctx, &types.WhalePosition{
		WalletAddr: "0xwhale", MarketID: "m1", TokenID: "tokYes",
		Shares: 1000, AvgPrice: 0.40,
	}))
	require.NoError(t, f.tracker.Initialize(ctx))

	// Whale halved the position (> 30% reduction).
	f.exch.Prices["tokYes"] = 0.42
	f.exch.Wallets["0xwhale"] = whaleHoldingOf(500, 0.40)

	f.tracker.Tick(ctx)

	signals := f.recorder.All()
	require.Len(t, signals, 1)
	sig := signals[0]
	assert.Equal(t, types.SideSell, sig.Side)
	assert.True(t, sig.IsExit())
	assert.Equal(t, posID, sig.Meta.ParentPositionID)
	// Our $100 entry notional, halved like the whale's.
	assert.InDelta(t, 50, sig.SizeUSD, 1e-6)
}

func TestTick_WhaleFullExitSellsEverything(t *testing.T) {
	t.Parallel()

	f := newTrackerFixture(t, defaultCopyCfg())
	ctx := context.Background()

	_, err := f.store.OpenPosition(ctx, &types.Position{
		MarketID: "m1", TokenID: "tokYes", Outcome: "Yes",
		Side: types.PositionLong, EntryPrice: 0.40,
		Shares: 250, EntryShares: 250,
		Strategy: types.StrategyCopyTrade, SourceWallet: "0xwhale",
	})
	require.NoError(t, err)

	require.NoError(t, f.store.UpsertWhalePosition(ctx, &types.WhalePosition{
		WalletAddr: "0xwhale", MarketID: "m1", TokenID: "tokYes",
		Shares: 1000, AvgPrice: 0.40,
	}))
	require.NoError(t, f.tracker.Initialize(ctx))

	f.exch.Prices["tokYes"] = 0.42
	f.exch.Wallets["0xwhale"] = nil // gone entirely

	f.tracker.Tick(ctx)

	signals := f.recorder.All()
	require.Len(t, signals, 1)
	assert.InDelta(t, 100, signals[0].SizeUSD, 1e-6)

	// The stored whale state row was removed.
	saved, err := f.store.WhalePositions(ctx, "0xwhale")
	require.NoError(t, err)
	assert.Empty(t, saved)
}

func TestTick_PerWalletAllocationCap(t *testing.T) {
	t.Parallel()

	f := newTrackerFixture(t, defaultCopyCfg())
	ctx := context.Background()

	// Existing exposure of $280 against the $300 wallet cap leaves only $20,
	// above the minimum but below the fixed $100 size.
	_, err := f.store.OpenPosition(ctx, &types.Position{
		MarketID: "m0", TokenID: "tokOther", Outcome: "Yes",
		Side: types.PositionLong, EntryPrice: 0.70,
		Shares: 400, EntryShares: 400,
		Strategy: types.StrategyCopyTrade, SourceWallet: "0xwhale",
	})
	require.NoError(t, err)
	require.NoError(t, f.tracker.Initialize(ctx))

	f.exch.Prices["tokYes"] = 0.40
	f.exch.Wallets["0xwhale"] = whaleHoldingOf(2000, 0.40)

	f.tracker.Tick(ctx)

	signals := f.recorder.All()
	require.Len(t, signals, 1)
	assert.InDelta(t, 20, signals[0].SizeUSD, 1e-6, "size shrinks to the remaining wallet allocation")
}

func TestTick_WhalePctSizing(t *testing.T) {
	t.Parallel()

	cfg := defaultCopyCfg()
	cfg.SizingMethod = "whale_pct"
	cfg.WhalePct = 10

	f := newTrackerFixture(t, cfg)
	ctx := context.Background()
	require.NoError(t, f.tracker.Initialize(ctx))

	f.exch.Prices["tokYes"] = 0.50
	f.exch.Wallets["0xwhale"] = whaleHoldingOf(2000, 0.50) // $1000 live value

	f.tracker.Tick(ctx)

	signals := f.recorder.All()
	require.Len(t, signals, 1)
	assert.InDelta(t, 100, signals[0].SizeUSD, 1e-6)
}

func TestPerformance_PerWallet(t *testing.T) {
	t.Parallel()

	f := newTrackerFixture(t, defaultCopyCfg())
	ctx := context.Background()

	for _, pnl := range []float64{25, -10} {
		posID, err := f.store.OpenPosition(ctx, &types.Position{
			MarketID: "m-" + uuidLite(pnl), TokenID: "tok", Outcome: "Yes",
			Side: types.PositionLong, EntryPrice: 0.40,
			Shares: 100, EntryShares: 100,
			Strategy: types.StrategyCopyTrade, SourceWallet: "0xwhale",
		})
		require.NoError(t, err)
		require.NoError(t, f.store.SetPositionClosing(ctx, posID, "copy_exit"))
		order := &types.Order{
			SignalID: "s", Strategy: types.StrategyCopyTrade, MarketID: "m",
			TokenID: "tok", Side: types.SideSell, Status: types.OrderStatusFilled,
		}
		order.ID, err = f.store.InsertOrder(ctx, order)
		require.NoError(t, err)
		require.NoError(t, f.store.FinalizeExitFill(ctx, order, posID, 100, pnl, 0, "copy_exit", nil))
	}

	perf := f.tracker.Performance(ctx)
	require.Len(t, perf, 1)
	assert.Equal(t, 2, perf[0].Trades)
	assert.Equal(t, 1, perf[0].Wins)
	assert.Equal(t, 1, perf[0].Losses)
	assert.InDelta(t, 50, perf[0].WinRate, 1e-9)
	assert.InDelta(t, 15, perf[0].TotalPnL, 1e-9)
}

func uuidLite(v float64) string {
	if v > 0 {
		return "win"
	}
	return "loss"
}
