package stinkbid

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
	"github.com/mselser95/polymarket-bot/internal/testutil"
	"github.com/mselser95/polymarket-bot/pkg/config"
	"github.com/mselser95/polymarket-bot/pkg/types"
)

type adoptRecorder struct {
	mu      sync.Mutex
	adopted []*types.Signal
}

func (a *adoptRecorder) RecordExternalFill(_ context.Context, sig *types.Signal, _ *exchange.OrderStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.adopted = append(a.adopted, sig)
}

type bidderFixture struct {
	bidder   *Bidder
	exch     *testutil.MockExchange
	store    *store.Store
	recorder *testutil.SignalRecorder
	adopter  *adoptRecorder
}

func newBidderFixture(t *testing.T) *bidderFixture {
	t.Helper()

	logger := zaptest.NewLogger(t)
	s, err := store.Open(&store.Config{
		Path:   filepath.Join(t.TempDir(), "stink.db"),
		Logger: logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	mock := testutil.NewMockExchange()
	recorder := &testutil.SignalRecorder{}
	adopter := &adoptRecorder{}

	bidder := New(&Config{
		Exchange: mock,
		Store:    s,
		Submit:   recorder.Submit,
		Adopter:  adopter,
		Portfolio: &testutil.FixedSnapshot{Snap: types.PortfolioSnapshot{
			CashUSD: 800, TotalUSD: 1000, Valid: true,
		}},
		Strategy: config.StinkBidConfig{
			AllocationPct:      20, // $200 on a $1000 book
			MaxActiveBids:      3,
			MinDiscount:        0.70,
			MaxDiscount:        0.90,
			MinMarketVolumeUSD: 10000,
			BidSizeUSD:         50,
		},
		Logger: logger,
	})

	return &bidderFixture{bidder: bidder, exch: mock, store: s, recorder: recorder, adopter: adopter}
}

func (f *bidderFixture) seedMarket(conditionID string, volume float64) {
	yesTok := "tokYes-" + conditionID
	noTok := "tokNo-" + conditionID
	f.exch.Markets[conditionID] = &types.Market{
		ConditionID: conditionID,
		Question:    "market " + conditionID,
		Volume:      volume,
		Tokens: []types.Token{
			{TokenID: yesTok, Outcome: "Yes", Price: 0.60},
			{TokenID: noTok, Outcome: "No", Price: 0.40},
		},
	}
	f.exch.Books[yesTok] = &types.Orderbook{
		TokenID:   yesTok,
		Bids:      []types.PriceLevel{{Price: "0.59", Size: "1000"}},
		Asks:      []types.PriceLevel{{Price: "0.61", Size: "1000"}},
		FetchedAt: time.Now(),
	}
}

func TestTick_PlacesDiscountedBids(t *testing.T) {
	t.Parallel()

	f := newBidderFixture(t)
	f.seedMarket("0xcond1", 50000)
	f.seedMarket("0xcond2", 50000)

	f.bidder.Tick(context.Background())

	signals := f.recorder.All()
	require.Len(t, signals, 2)
	for _, sig := range signals {
		assert.Equal(t, types.StrategyStinkBid, sig.Strategy)
		assert.Equal(t, types.SideBuy, sig.Side)
		assert.Equal(t, types.OrderTypeGTC, sig.OrderType)
		assert.True(t, sig.Meta.StinkBid)
		// 70-90% off a 0.60 mid, clamped to the 0.10 ceiling.
		assert.LessOrEqual(t, sig.LimitPrice, 0.10+1e-9)
		assert.GreaterOrEqual(t, sig.LimitPrice, 0.01-1e-9)
		assert.GreaterOrEqual(t, sig.Meta.DiscountPct, 70.0)
		assert.LessOrEqual(t, sig.Meta.DiscountPct, 90.0)
	}
}

func TestTick_SkipsLowVolumeAndResolved(t *testing.T) {
	t.Parallel()

	f := newBidderFixture(t)
	f.seedMarket("0xthin", 500) // below the $10k floor

	f.seedMarket("0xdone", 50000)
	done := f.exch.Markets["0xdone"]
	done.Closed = true
	done.Tokens[0].Price = 1.0

	f.bidder.Tick(context.Background())
	assert.Empty(t, f.recorder.All())
}

func TestTick_OneBidPerMarket(t *testing.T) {
	t.Parallel()

	f := newBidderFixture(t)
	f.seedMarket("0xcond1", 50000)
	ctx := context.Background()

	// An existing tracked bid on the market blocks another.
	require.NoError(t, f.store.PutStinkOrder(ctx, &types.StinkOrder{
		MarketID: "0xcond1", TokenID: "tokYes-0xcond1",
		ExchangeOrderID: "ex-1", Price: 0.08, SizeUSD: 50,
	}))
	f.exch.Open = []*exchange.OpenOrder{{
		ExchangeOrderID: "ex-1", MarketID: "0xcond1", TokenID: "tokYes-0xcond1",
		Side: types.SideBuy, Price: 0.08, SizeShares: 625,
	}}

	f.bidder.Tick(ctx)
	assert.Empty(t, f.recorder.All())
}

func TestReconcile_DropsMissingAndAdoptsFills(t *testing.T) {
	t.Parallel()

	f := newBidderFixture(t)
	ctx := context.Background()

	// Two tracked bids; neither is on the exchange's book anymore.
	require.NoError(t, f.store.PutStinkOrder(ctx, &types.StinkOrder{
		MarketID: "0xcond1", TokenID: "tokFilled",
		ExchangeOrderID: "ex-filled", Price: 0.08, SizeUSD: 50,
	}))
	require.NoError(t, f.store.PutStinkOrder(ctx, &types.StinkOrder{
		MarketID: "0xcond2", TokenID: "tokCancelled",
		ExchangeOrderID: "ex-cancelled", Price: 0.07, SizeUSD: 50,
	}))

	f.exch.Statuses["ex-filled"] = &exchange.OrderStatus{
		ExchangeOrderID: "ex-filled", Status: "matched",
		SizeShares: 625, FilledShares: 625, AvgFillPrice: 0.08,
	}
	f.exch.Statuses["ex-cancelled"] = &exchange.OrderStatus{
		ExchangeOrderID: "ex-cancelled", Status: "cancelled",
	}

	resting, err := f.bidder.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, resting)

	// Both rows removed.
	rows, err := f.store.StinkOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)

	// Only the filled one became a position intake.
	f.adopter.mu.Lock()
	defer f.adopter.mu.Unlock()
	require.Len(t, f.adopter.adopted, 1)
	assert.Equal(t, "tokFilled", f.adopter.adopted[0].TokenID)
	assert.True(t, f.adopter.adopted[0].Meta.StinkBid)
}

func TestTick_AllocationCap(t *testing.T) {
	t.Parallel()

	f := newBidderFixture(t)
	ctx := context.Background()

	// $180 already committed against the $200 cap; a $50 bid would breach.
	require.NoError(t, f.store.PutStinkOrder(ctx, &types.StinkOrder{
		MarketID: "0xheld", TokenID: "tokHeld",
		ExchangeOrderID: "ex-held", Price: 0.05, SizeUSD: 180,
	}))
	f.exch.Open = []*exchange.OpenOrder{{
		ExchangeOrderID: "ex-held", MarketID: "0xheld", TokenID: "tokHeld",
		Side: types.SideBuy, Price: 0.05, SizeShares: 3600,
	}}

	f.seedMarket("0xcond1", 50000)

	f.bidder.Tick(ctx)
	assert.Empty(t, f.recorder.All())
}
