package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const gammaMarketJSON = `[{
	"id": "500123",
	"conditionId": "0xcond1",
	"question": "Will it rain tomorrow?",
	"slug": "will-it-rain-tomorrow",
	"closed": false,
	"active": true,
	"volumeNum": 125000.5,
	"outcomes": "[\"Yes\", \"No\"]",
	"clobTokenIds": "[\"tokYes\", \"tokNo\"]",
	"outcomePrices": "[\"0.52\", \"0.48\"]"
}]`

func TestGammaClient_ActiveMarkets(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/markets", r.URL.Path)
		assert.Equal(t, "false", r.URL.Query().Get("closed"))
		assert.Equal(t, "true", r.URL.Query().Get("active"))
		assert.Equal(t, "25", r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(gammaMarketJSON))
	}))
	defer srv.Close()

	client := NewGammaClient(srv.URL, zaptest.NewLogger(t))
	markets, err := client.ActiveMarkets(context.Background(), 25)
	require.NoError(t, err)
	require.Len(t, markets, 1)

	m := markets[0]
	assert.Equal(t, "0xcond1", m.ConditionID)
	require.Len(t, m.Tokens, 2)
	yes := m.TokenByOutcome("Yes")
	require.NotNil(t, yes)
	assert.Equal(t, "tokYes", yes.TokenID)
	assert.InDelta(t, 0.52, yes.Price, 1e-9)
	assert.False(t, m.Resolved())
}

func TestGammaClient_MarketNotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	client := NewGammaClient(srv.URL, zaptest.NewLogger(t))
	_, err := client.Market(context.Background(), "0xmissing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestGammaClient_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewGammaClient(srv.URL, zaptest.NewLogger(t))
	_, err := client.ActiveMarkets(context.Background(), 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestDataClient_WalletPositions(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/positions", r.URL.Path)
		assert.Equal(t, "0xwhale", r.URL.Query().Get("user"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"asset": "tokYes", "conditionId": "0xcond1", "size": 1000, "avgPrice": 0.40,
			 "currentValue": 450, "curPrice": 0.45, "outcome": "Yes"},
			{"asset": "tokNo", "conditionId": "0xcond2", "size": 0, "avgPrice": 0.6,
			 "currentValue": 0, "curPrice": 0.5, "outcome": "No"}
		]`))
	}))
	defer srv.Close()

	client := NewDataClient(srv.URL, zaptest.NewLogger(t))
	positions, err := client.WalletPositions(context.Background(), "0xwhale")
	require.NoError(t, err)

	// Zero-size rows are dropped.
	require.Len(t, positions, 1)
	assert.Equal(t, "tokYes", positions[0].TokenID)
	assert.InDelta(t, 1000, positions[0].Shares, 1e-9)
	assert.InDelta(t, 0.45, positions[0].CurPrice, 1e-9)
}
