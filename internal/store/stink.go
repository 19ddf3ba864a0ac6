package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mselser95/polymarket-bot/pkg/types"
)

// PutStinkOrder records a resting stink bid. The (market, token) uniqueness
// constraint is the dedup guard: at most one stink bid per outcome.
func (s *Store) PutStinkOrder(ctx context.Context, o *types.StinkOrder) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stink_orders (market_id, token_id, exchange_order_id, price, size_usd, placed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(market_id, token_id) DO UPDATE SET
			exchange_order_id = excluded.exchange_order_id,
			price = excluded.price,
			size_usd = excluded.size_usd,
			placed_at = excluded.placed_at`,
		o.MarketID, o.TokenID, o.ExchangeOrderID, o.Price, o.SizeUSD,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("put stink order: %w", err)
	}
	return nil
}

// StinkOrders returns all tracked stink bids.
func (s *Store) StinkOrders(ctx context.Context) ([]*types.StinkOrder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT market_id, token_id, exchange_order_id, price, size_usd, placed_at
		FROM stink_orders ORDER BY placed_at`)
	if err != nil {
		return nil, fmt.Errorf("query stink orders: %w", err)
	}
	defer rows.Close()

	var out []*types.StinkOrder
	for rows.Next() {
		var o types.StinkOrder
		var placedAt sql.NullString
		if err := rows.Scan(&o.MarketID, &o.TokenID, &o.ExchangeOrderID,
			&o.Price, &o.SizeUSD, &placedAt); err != nil {
			return nil, err
		}
		o.PlacedAt = parseTime(placedAt)
		out = append(out, &o)
	}
	return out, rows.Err()
}

// DeleteStinkOrder removes a tracked stink bid after it fills, cancels or
// expires on the exchange.
func (s *Store) DeleteStinkOrder(ctx context.Context, marketID, tokenID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM stink_orders WHERE market_id = ? AND token_id = ?`,
		marketID, tokenID)
	if err != nil {
		return fmt.Errorf("delete stink order: %w", err)
	}
	return nil
}

// StinkExposure sums the USD committed to resting stink bids.
func (s *Store) StinkExposure(ctx context.Context) (float64, error) {
	var total sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(size_usd), 0) FROM stink_orders`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum stink exposure: %w", err)
	}
	return total.Float64, nil
}
