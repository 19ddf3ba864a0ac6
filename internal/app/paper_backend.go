package app

import (
	"context"

	"github.com/mselser95/polymarket-bot/internal/exchange"
	"github.com/mselser95/polymarket-bot/pkg/types"
)

// paperBackend is the paper-trading backend: orders and fills are simulated
// in-process while market data (prices, books, markets, wallet holdings)
// comes from the real public APIs. The feed loop mirrors live prices into
// the simulation so resting orders cross realistically.
type paperBackend struct {
	*exchange.Paper
	clob  *exchange.CLOBClient
	gamma *exchange.GammaClient
	data  *exchange.DataClient
}

// Price prefers the mirrored feed price, falling back to the public
// midpoint endpoint.
func (b *paperBackend) Price(ctx context.Context, tokenID string) (float64, error) {
	if price, err := b.Paper.Price(ctx, tokenID); err == nil {
		return price, nil
	}
	return b.clob.Price(ctx, tokenID)
}

// Orderbook reads the real public book.
func (b *paperBackend) Orderbook(ctx context.Context, tokenID string) (*types.Orderbook, error) {
	return b.clob.Orderbook(ctx, tokenID)
}

// GetMarket reads real market metadata.
func (b *paperBackend) GetMarket(ctx context.Context, conditionID string) (*types.Market, error) {
	return b.gamma.Market(ctx, conditionID)
}

// ActiveMarkets reads real market listings.
func (b *paperBackend) ActiveMarkets(ctx context.Context, limit int) ([]*types.Market, error) {
	return b.gamma.ActiveMarkets(ctx, limit)
}

// WalletPositions reads real wallet holdings (whale tracking works the same
// in paper mode).
func (b *paperBackend) WalletPositions(ctx context.Context, addr string) ([]*exchange.WalletPosition, error) {
	return b.data.WalletPositions(ctx, addr)
}
