package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mselser95/polymarket-bot/pkg/types"
)

// InsertOrder persists a new order row and returns its ID.
func (s *Store) InsertOrder(ctx context.Context, o *types.Order) (int64, error) {
	return insertOrder(ctx, s.db, o)
}

func insertOrder(ctx context.Context, q querier, o *types.Order) (int64, error) {
	now := utcNow()
	res, err := q.ExecContext(ctx, `
		INSERT INTO orders (exchange_order_id, signal_id, strategy, market_id, token_id,
			side, size_shares, price, type, status, filled_shares, avg_fill_price,
			fee_paid, reject_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullIfEmpty(o.ExchangeOrderID), o.SignalID, o.Strategy, o.MarketID, o.TokenID,
		o.Side, o.SizeShares, o.Price, o.Type, o.Status, o.FilledShares, o.AvgFillPrice,
		o.FeePaid, nullIfEmpty(o.RejectReason), now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("insert order: %w", err)
	}
	return res.LastInsertId()
}

// UpdateOrderStatus updates an order's status and fill accounting.
func (s *Store) UpdateOrderStatus(ctx context.Context, o *types.Order) error {
	return updateOrderStatus(ctx, s.db, o)
}

func updateOrderStatus(ctx context.Context, q querier, o *types.Order) error {
	_, err := q.ExecContext(ctx, `
		UPDATE orders
		SET exchange_order_id = COALESCE(?, exchange_order_id),
			status = ?, filled_shares = ?, avg_fill_price = ?, fee_paid = ?,
			reject_reason = COALESCE(?, reject_reason), updated_at = ?
		WHERE id = ?`,
		nullIfEmpty(o.ExchangeOrderID), o.Status, o.FilledShares, o.AvgFillPrice,
		o.FeePaid, nullIfEmpty(o.RejectReason), utcNow(), o.ID,
	)
	if err != nil {
		return fmt.Errorf("update order %d: %w", o.ID, err)
	}
	return nil
}

// GetOrder fetches one order by internal ID.
func (s *Store) GetOrder(ctx context.Context, id int64) (*types.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, exchange_order_id, signal_id, strategy, market_id, token_id, side,
			size_shares, price, type, status, filled_shares, avg_fill_price, fee_paid,
			reject_reason, created_at, updated_at
		FROM orders WHERE id = ?`, id)
	return scanOrder(row)
}

// GetOrderByExchangeID fetches one order by its exchange-assigned ID, or
// nil when no such order exists.
func (s *Store) GetOrderByExchangeID(ctx context.Context, exchangeOrderID string) (*types.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, exchange_order_id, signal_id, strategy, market_id, token_id, side,
			size_shares, price, type, status, filled_shares, avg_fill_price, fee_paid,
			reject_reason, created_at, updated_at
		FROM orders WHERE exchange_order_id = ?`, exchangeOrderID)
	return scanOrder(row)
}

// OpenOrdersByStrategy returns non-terminal orders for a strategy.
func (s *Store) OpenOrdersByStrategy(ctx context.Context, strategy string) ([]*types.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, exchange_order_id, signal_id, strategy, market_id, token_id, side,
			size_shares, price, type, status, filled_shares, avg_fill_price, fee_paid,
			reject_reason, created_at, updated_at
		FROM orders
		WHERE strategy = ? AND status IN ('pending', 'submitted', 'partial')
		ORDER BY created_at`, strategy)
	if err != nil {
		return nil, fmt.Errorf("query open orders: %w", err)
	}
	defer rows.Close()

	var out []*types.Order
	for rows.Next() {
		o, err := scanOrderRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// PendingEntryMarkets returns market IDs with non-terminal BUY orders, used
// by the duplicate-market risk check.
func (s *Store) PendingEntryMarkets(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT market_id FROM orders
		WHERE status IN ('pending', 'submitted', 'partial') AND side = 'BUY'`)
	if err != nil {
		return nil, fmt.Errorf("query pending entry markets: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row *sql.Row) (*types.Order, error) {
	o, err := scanOrderRows(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return o, err
}

func scanOrderRows(r rowScanner) (*types.Order, error) {
	var o types.Order
	var exchangeID, rejectReason sql.NullString
	var createdAt, updatedAt sql.NullString

	err := r.Scan(&o.ID, &exchangeID, &o.SignalID, &o.Strategy, &o.MarketID, &o.TokenID,
		&o.Side, &o.SizeShares, &o.Price, &o.Type, &o.Status, &o.FilledShares,
		&o.AvgFillPrice, &o.FeePaid, &rejectReason, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	o.ExchangeOrderID = exchangeID.String
	o.RejectReason = rejectReason.String
	o.CreatedAt = parseTime(createdAt)
	o.UpdatedAt = parseTime(updatedAt)
	return &o, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
