package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mselser95/polymarket-bot/pkg/types"
)

// UpsertWhalePosition records the latest observed holding of a tracked
// wallet.
func (s *Store) UpsertWhalePosition(ctx context.Context, w *types.WhalePosition) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO whale_positions (wallet_address, market_id, token_id, shares, avg_price, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(wallet_address, market_id, token_id) DO UPDATE SET
			shares = excluded.shares,
			avg_price = excluded.avg_price,
			last_seen_at = excluded.last_seen_at`,
		w.WalletAddr, w.MarketID, w.TokenID, w.Shares, w.AvgPrice,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert whale position: %w", err)
	}
	return nil
}

// WhalePositions returns the stored holdings of one wallet.
func (s *Store) WhalePositions(ctx context.Context, walletAddr string) ([]*types.WhalePosition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT wallet_address, market_id, token_id, shares, avg_price, last_seen_at
		FROM whale_positions WHERE wallet_address = ?`, walletAddr)
	if err != nil {
		return nil, fmt.Errorf("query whale positions: %w", err)
	}
	defer rows.Close()

	var out []*types.WhalePosition
	for rows.Next() {
		var w types.WhalePosition
		var lastSeen sql.NullString
		if err := rows.Scan(&w.WalletAddr, &w.MarketID, &w.TokenID, &w.Shares,
			&w.AvgPrice, &lastSeen); err != nil {
			return nil, err
		}
		w.LastSeenAt = parseTime(lastSeen)
		out = append(out, &w)
	}
	return out, rows.Err()
}

// DeleteWhalePosition removes one stored holding (whale fully exited).
func (s *Store) DeleteWhalePosition(ctx context.Context, walletAddr, marketID, tokenID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM whale_positions
		WHERE wallet_address = ? AND market_id = ? AND token_id = ?`,
		walletAddr, marketID, tokenID)
	if err != nil {
		return fmt.Errorf("delete whale position: %w", err)
	}
	return nil
}
