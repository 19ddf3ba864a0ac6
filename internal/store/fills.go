package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mselser95/polymarket-bot/pkg/types"
)

// InsertFill appends one exchange fill. Re-delivery of the same exchange
// trade ID is ignored, never overwritten.
func (s *Store) InsertFill(ctx context.Context, f *types.Fill) error {
	return insertFill(ctx, s.db, f)
}

func insertFill(ctx context.Context, q querier, f *types.Fill) error {
	_, err := q.ExecContext(ctx, `
		INSERT OR IGNORE INTO trade_fills (exchange_trade_id, exchange_order_id,
			market_id, token_id, side, price, shares, fee, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ExchangeTradeID, f.ExchangeOrderID, f.MarketID, f.TokenID, f.Side,
		f.Price, f.Shares, f.Fee, f.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert fill %s: %w", f.ExchangeTradeID, err)
	}
	return nil
}

// FillsByOrder returns all fills recorded for an exchange order.
func (s *Store) FillsByOrder(ctx context.Context, exchangeOrderID string) ([]*types.Fill, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT exchange_trade_id, exchange_order_id, market_id, token_id, side,
			price, shares, fee, ts
		FROM trade_fills WHERE exchange_order_id = ? ORDER BY ts`, exchangeOrderID)
	if err != nil {
		return nil, fmt.Errorf("query fills: %w", err)
	}
	defer rows.Close()

	var out []*types.Fill
	for rows.Next() {
		var f types.Fill
		var ts sql.NullString
		if err := rows.Scan(&f.ExchangeTradeID, &f.ExchangeOrderID, &f.MarketID,
			&f.TokenID, &f.Side, &f.Price, &f.Shares, &f.Fee, &ts); err != nil {
			return nil, err
		}
		f.Timestamp = parseTime(ts)
		out = append(out, &f)
	}
	return out, rows.Err()
}

// RecordRiskEvent appends one risk event (rejection class, kill switch
// transition, limit warning).
func (s *Store) RecordRiskEvent(ctx context.Context, kind, reason, detail string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO risk_events (kind, reason, detail, created_at)
		VALUES (?, ?, ?, ?)`, kind, reason, detail, utcNow())
	if err != nil {
		return fmt.Errorf("record risk event: %w", err)
	}
	return nil
}

// DailyPnL is one row of the daily_pnl table.
type DailyPnL struct {
	Date            string
	StartingBalance float64
	EndingBalance   float64
	RealizedPnL     float64
	UnrealizedPnL   float64
	TradesCount     int
	Wins            int
	Losses          int
	FeesPaid        float64
}

// InitDailyPnL creates today's row if absent; the starting balance of an
// existing row is never overwritten.
func (s *Store) InitDailyPnL(ctx context.Context, date string, startingBalance float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO daily_pnl (date, starting_balance) VALUES (?, ?)`,
		date, startingBalance)
	if err != nil {
		return fmt.Errorf("init daily pnl: %w", err)
	}
	return nil
}

// FinalizeDailyPnL writes the end-of-day summary for a date.
func (s *Store) FinalizeDailyPnL(ctx context.Context, d *DailyPnL) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE daily_pnl
		SET ending_balance = ?, realized_pnl = ?, unrealized_pnl = ?,
			trades_count = ?, wins = ?, losses = ?, fees_paid = ?
		WHERE date = ?`,
		d.EndingBalance, d.RealizedPnL, d.UnrealizedPnL,
		d.TradesCount, d.Wins, d.Losses, d.FeesPaid, d.Date)
	if err != nil {
		return fmt.Errorf("finalize daily pnl: %w", err)
	}
	return nil
}

// GetDailyPnL returns the row for a date, or nil when absent.
func (s *Store) GetDailyPnL(ctx context.Context, date string) (*DailyPnL, error) {
	var d DailyPnL
	var ending sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT date, starting_balance, ending_balance, realized_pnl, unrealized_pnl,
			trades_count, wins, losses, fees_paid
		FROM daily_pnl WHERE date = ?`, date).Scan(
		&d.Date, &d.StartingBalance, &ending, &d.RealizedPnL, &d.UnrealizedPnL,
		&d.TradesCount, &d.Wins, &d.Losses, &d.FeesPaid)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get daily pnl: %w", err)
	}
	d.EndingBalance = ending.Float64
	return &d, nil
}
