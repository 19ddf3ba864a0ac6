package exchange

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mselser95/polymarket-bot/pkg/types"
)

func TestPaper_MarketableBuyFills(t *testing.T) {
	t.Parallel()

	p := NewPaper(zaptest.NewLogger(t))
	p.SetPrice("tok1", 0.40)
	ctx := context.Background()

	res, err := p.PlaceOrder(ctx, &OrderArgs{
		MarketID: "m1", TokenID: "tok1",
		Side: types.SideBuy, Price: 0.41, SizeShares: 100, Type: types.OrderTypeGTC,
	})
	require.NoError(t, err)
	assert.Equal(t, "matched", res.Status)

	status, err := p.GetOrder(ctx, res.ExchangeOrderID)
	require.NoError(t, err)
	assert.InDelta(t, 100, status.FilledShares, 1e-9)
	assert.InDelta(t, 0.41, status.AvgFillPrice, 1e-9)

	fills, err := p.OrderFills(ctx, res.ExchangeOrderID)
	require.NoError(t, err)
	require.Len(t, fills, 1)

	// Re-querying delivers the same trade ID.
	again, err := p.OrderFills(ctx, res.ExchangeOrderID)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, fills[0].ExchangeTradeID, again[0].ExchangeTradeID)
}

func TestPaper_FOKAwayFromMarketRejects(t *testing.T) {
	t.Parallel()

	p := NewPaper(zaptest.NewLogger(t))
	p.SetPrice("tok1", 0.50)
	ctx := context.Background()

	res, err := p.PlaceOrder(ctx, &OrderArgs{
		MarketID: "m1", TokenID: "tok1",
		Side: types.SideBuy, Price: 0.30, SizeShares: 100, Type: types.OrderTypeFOK,
	})
	require.NoError(t, err)
	assert.Equal(t, "unmatched", res.Status)
	assert.Equal(t, types.ErrCodeFOKNotFilled, res.ErrorMsg)
}

func TestPaper_GTCRestsAndFillsOnCross(t *testing.T) {
	t.Parallel()

	p := NewPaper(zaptest.NewLogger(t))
	p.SetPrice("tok1", 0.50)
	ctx := context.Background()

	res, err := p.PlaceOrder(ctx, &OrderArgs{
		MarketID: "m1", TokenID: "tok1",
		Side: types.SideBuy, Price: 0.10, SizeShares: 200, Type: types.OrderTypeGTC,
	})
	require.NoError(t, err)
	assert.Equal(t, "live", res.Status)

	open, err := p.OpenOrders(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)

	// Price crashes through the resting bid.
	p.SetPrice("tok1", 0.08)

	open, err = p.OpenOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	status, err := p.GetOrder(ctx, res.ExchangeOrderID)
	require.NoError(t, err)
	assert.Equal(t, "matched", status.Status)
	assert.InDelta(t, 0.10, status.AvgFillPrice, 1e-9)
}

func TestPaper_CancelAllScopedByMarket(t *testing.T) {
	t.Parallel()

	p := NewPaper(zaptest.NewLogger(t))
	p.SetPrice("tok1", 0.50)
	p.SetPrice("tok2", 0.50)
	ctx := context.Background()

	_, err := p.PlaceOrder(ctx, &OrderArgs{MarketID: "m1", TokenID: "tok1", Side: types.SideBuy, Price: 0.10, SizeShares: 10, Type: types.OrderTypeGTC})
	require.NoError(t, err)
	_, err = p.PlaceOrder(ctx, &OrderArgs{MarketID: "m2", TokenID: "tok2", Side: types.SideBuy, Price: 0.10, SizeShares: 10, Type: types.OrderTypeGTC})
	require.NoError(t, err)

	require.NoError(t, p.CancelAll(ctx, "m1"))
	open, err := p.OpenOrders(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "m2", open[0].MarketID)

	require.NoError(t, p.CancelAll(ctx, ""))
	open, err = p.OpenOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestMapExchangeStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		raw    string
		filled float64
		size   float64
		want   string
	}{
		{"matched-is-filled", "matched", 100, 100, types.OrderStatusFilled},
		{"live-no-fills", "live", 0, 100, types.OrderStatusSubmitted},
		{"live-partial", "live", 40, 100, types.OrderStatusPartial},
		{"cancelled-clean", "cancelled", 0, 100, types.OrderStatusCancelled},
		{"cancelled-after-partial", "cancelled", 40, 100, types.OrderStatusPartial},
		{"unmatched-rejected", "unmatched", 0, 100, types.OrderStatusRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MapExchangeStatus(tt.raw, tt.filled, tt.size))
		})
	}
}
