package arb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mselser95/polymarket-bot/internal/testutil"
	"github.com/mselser95/polymarket-bot/pkg/config"
	"github.com/mselser95/polymarket-bot/pkg/types"
)

func newScannerFixture(t *testing.T) (*Scanner, *testutil.MockExchange, *testutil.SignalRecorder) {
	t.Helper()

	mock := testutil.NewMockExchange()
	recorder := &testutil.SignalRecorder{}
	scanner := New(&Config{
		Exchange: mock,
		Submit:   recorder.Submit,
		Strategy: config.ArbConfig{
			Margin:        0.05,
			TakerFeeRate:  0.01,
			SizePerLegUSD: 50,
			MarketLimit:   50,
		},
		Logger: zaptest.NewLogger(t),
	})
	return scanner, mock, recorder
}

func seedBinaryMarket(mock *testutil.MockExchange, yesAsk, noAsk string) {
	mock.Markets["0xcond1"] = &types.Market{
		ConditionID: "0xcond1",
		Question:    "Will it rain tomorrow?",
		Tokens: []types.Token{
			{TokenID: "tokYes", Outcome: "Yes"},
			{TokenID: "tokNo", Outcome: "No"},
		},
	}
	mock.Books["tokYes"] = &types.Orderbook{
		TokenID:   "tokYes",
		Bids:      []types.PriceLevel{{Price: "0.40", Size: "500"}},
		Asks:      []types.PriceLevel{{Price: yesAsk, Size: "500"}},
		FetchedAt: time.Now(),
	}
	mock.Books["tokNo"] = &types.Orderbook{
		TokenID:   "tokNo",
		Bids:      []types.PriceLevel{{Price: "0.40", Size: "500"}},
		Asks:      []types.PriceLevel{{Price: noAsk, Size: "500"}},
		FetchedAt: time.Now(),
	}
}

// ask_yes 0.48 + ask_no 0.49 = 0.97: a real gap, but the all-in cost with a
// 1% taker fee (0.9797) does not clear the 0.05 margin. It must be logged
// yet not executed.
func TestScan_DetectsButSkipsThinGap(t *testing.T) {
	t.Parallel()

	scanner, mock, recorder := newScannerFixture(t)
	seedBinaryMarket(mock, "0.48", "0.49")

	scanner.Scan(context.Background())

	// Detected and logged, but not executed: 0.9797 >= 0.95.
	recent := scanner.Recent()
	require.Len(t, recent, 1)
	assert.False(t, recent[0].Executable)
	assert.Contains(t, recent[0].SkipReason, "margin")
	assert.Empty(t, recorder.All())
}

func TestScan_ExecutesWideGapAsTwoFOKLegs(t *testing.T) {
	t.Parallel()

	scanner, mock, recorder := newScannerFixture(t)
	seedBinaryMarket(mock, "0.45", "0.46") // 0.91 * 1.01 = 0.9191 < 0.95

	scanner.Scan(context.Background())

	recent := scanner.Recent()
	require.Len(t, recent, 1)
	opp := recent[0]
	assert.True(t, opp.Executable)
	assert.InDelta(t, 0.9191, opp.TotalCost, 1e-6)
	assert.InDelta(t, 1-0.9191, opp.Gap, 1e-6)

	signals := recorder.All()
	require.Len(t, signals, 2)

	leg1, leg2 := signals[0], signals[1]
	assert.Equal(t, 1, leg1.Meta.ArbLeg)
	assert.Equal(t, "tokYes", leg1.TokenID)
	assert.Equal(t, types.OrderTypeFOK, leg1.OrderType)
	assert.InDelta(t, 50, leg1.SizeUSD, 1e-9)
	assert.True(t, leg1.Meta.HasEdge)

	assert.Equal(t, 2, leg2.Meta.ArbLeg)
	assert.Equal(t, "tokNo", leg2.TokenID)
	assert.Equal(t, leg1.Meta.ArbPairID, leg2.Meta.ArbPairID, "legs share a pair ID")
	assert.Equal(t, "tokYes", leg2.Meta.UnwindTokenID, "leg 2 carries the unwind target")
	assert.InDelta(t, 0.45, leg2.Meta.UnwindLimitPrice, 1e-9)
}

func TestScan_PerLegFeeNotCompounded(t *testing.T) {
	t.Parallel()

	scanner, mock, _ := newScannerFixture(t)
	seedBinaryMarket(mock, "0.45", "0.46")

	scanner.Scan(context.Background())

	recent := scanner.Recent()
	require.Len(t, recent, 1)

	// fee = (0.45 + 0.46) * 1% per unit, applied to each leg's notional —
	// exactly one gross-up, not a percentage of a percentage.
	wantCost := (0.45 + 0.46) * 1.01
	assert.InDelta(t, wantCost, recent[0].TotalCost, 1e-9)
}

func TestScan_IgnoresNoGapAndThinBooks(t *testing.T) {
	t.Parallel()

	t.Run("sum-above-one", func(t *testing.T) {
		t.Parallel()
		scanner, mock, recorder := newScannerFixture(t)
		seedBinaryMarket(mock, "0.55", "0.50")

		scanner.Scan(context.Background())
		assert.Empty(t, scanner.Recent(), "no gap, nothing to log")
		assert.Empty(t, recorder.All())
	})

	t.Run("thin-book", func(t *testing.T) {
		t.Parallel()
		scanner, mock, recorder := newScannerFixture(t)
		seedBinaryMarket(mock, "0.45", "0.46")
		mock.Books["tokNo"].Asks[0].Size = "10" // $4.60 available vs $50 wanted

		scanner.Scan(context.Background())

		recent := scanner.Recent()
		require.Len(t, recent, 1)
		assert.False(t, recent[0].Executable)
		assert.Contains(t, recent[0].SkipReason, "thin")
		assert.Empty(t, recorder.All())
	})

	t.Run("closed-market", func(t *testing.T) {
		t.Parallel()
		scanner, mock, recorder := newScannerFixture(t)
		seedBinaryMarket(mock, "0.45", "0.46")
		mock.Markets["0xcond1"].Closed = true

		scanner.Scan(context.Background())
		assert.Empty(t, recorder.All())
	})
}
