package exchange

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mselser95/polymarket-bot/pkg/ratelimit"
	"github.com/mselser95/polymarket-bot/pkg/types"
)

// flakyBackend wraps Paper and fails the next Price call once with priceErr.
type flakyBackend struct {
	*Paper
	priceErr error
}

func (f *flakyBackend) Price(ctx context.Context, tokenID string) (float64, error) {
	if f.priceErr != nil {
		err := f.priceErr
		f.priceErr = nil
		return 0, err
	}
	return f.Paper.Price(ctx, tokenID)
}

func newTestAdapter(t *testing.T, b Backend) *Adapter {
	t.Helper()
	return NewAdapter(&AdapterConfig{
		Backend:     b,
		RateLimiter: ratelimit.New(ratelimit.Config{OpsPerMinute: 600, Logger: zaptest.NewLogger(t)}),
		Logger:      zaptest.NewLogger(t),
	})
}

func TestAdapter_ConnectivityTracking(t *testing.T) {
	t.Parallel()

	paper := NewPaper(zaptest.NewLogger(t))
	paper.SetPrice("tok1", 0.5)
	flaky := &flakyBackend{Paper: paper, priceErr: errors.New("connection refused")}
	a := newTestAdapter(t, flaky)

	assert.True(t, a.Connected())

	_, err := a.Price(context.Background(), "tok1")
	require.Error(t, err)
	assert.False(t, a.Connected())

	// Next successful call restores connectivity.
	price, err := a.Price(context.Background(), "tok1")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, price, 1e-9)
	assert.True(t, a.Connected())
}

func TestAdapter_ThrottleDoesNotMarkDisconnected(t *testing.T) {
	t.Parallel()

	paper := NewPaper(zaptest.NewLogger(t))
	paper.SetPrice("tok1", 0.5)
	flaky := &flakyBackend{Paper: paper, priceErr: errors.New("rate limited (429)")}
	a := newTestAdapter(t, flaky)

	_, err := a.Price(context.Background(), "tok1")
	require.Error(t, err)
	// A throttle is not a connectivity loss.
	assert.True(t, a.Connected())
}

func TestAdapter_PlaceThroughPaper(t *testing.T) {
	t.Parallel()

	paper := NewPaper(zaptest.NewLogger(t))
	paper.SetPrice("tok1", 0.40)
	a := newTestAdapter(t, paper)

	res, err := a.Place(context.Background(), &OrderArgs{
		MarketID: "m1", TokenID: "tok1",
		Side: types.SideBuy, Price: 0.40, SizeShares: 250, Type: types.OrderTypeFOK,
	})
	require.NoError(t, err)
	assert.Equal(t, "matched", res.Status)
	assert.NotEmpty(t, res.ExchangeOrderID)
}
