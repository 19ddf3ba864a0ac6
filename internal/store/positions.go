package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/mselser95/polymarket-bot/pkg/types"
)

// OpenPosition persists a newly filled entry and returns the position ID.
func (s *Store) OpenPosition(ctx context.Context, p *types.Position) (int64, error) {
	return openPosition(ctx, s.db, p)
}

func openPosition(ctx context.Context, q querier, p *types.Position) (int64, error) {
	tpJSON, err := json.Marshal(p.TPLevels)
	if err != nil {
		return 0, fmt.Errorf("marshal tp levels: %w", err)
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO positions (market_id, token_id, outcome, side, entry_price, shares,
			entry_shares, entry_fee, status, strategy, source_wallet, tp_levels,
			sl_price, trail_pct, trail_anchor, current_price, opened_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'open', ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.MarketID, p.TokenID, p.Outcome, p.Side, p.EntryPrice, p.Shares,
		p.EntryShares, p.EntryFee, p.Strategy, nullIfEmpty(p.SourceWallet),
		string(tpJSON), p.SLPrice, p.TrailPct, p.TrailAnchor, p.EntryPrice, utcNow(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert position: %w", err)
	}
	return res.LastInsertId()
}

// GetPosition fetches one position by ID.
func (s *Store) GetPosition(ctx context.Context, id int64) (*types.Position, error) {
	row := s.db.QueryRowContext(ctx, selectPositions+` WHERE id = ?`, id)
	p, err := scanPosition(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// OpenPositions returns positions in open or closing state, optionally
// filtered by strategy. Closing positions still need price monitoring and
// count against risk limits.
func (s *Store) OpenPositions(ctx context.Context, strategy string) ([]*types.Position, error) {
	query := selectPositions + ` WHERE status IN ('open', 'closing')`
	args := []any{}
	if strategy != "" {
		query += ` AND strategy = ?`
		args = append(args, strategy)
	}
	query += ` ORDER BY opened_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query open positions: %w", err)
	}
	defer rows.Close()

	return collectPositions(rows)
}

// OpenPositionsByToken returns open/closing positions holding a token.
func (s *Store) OpenPositionsByToken(ctx context.Context, tokenID string) ([]*types.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		selectPositions+` WHERE status IN ('open', 'closing') AND token_id = ?`, tokenID)
	if err != nil {
		return nil, fmt.Errorf("query positions by token: %w", err)
	}
	defer rows.Close()

	return collectPositions(rows)
}

// CountOpenPositions counts open/closing positions.
func (s *Store) CountOpenPositions(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM positions WHERE status IN ('open', 'closing')`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count open positions: %w", err)
	}
	return n, nil
}

// ClosedPositions returns closed/resolved positions, newest first.
func (s *Store) ClosedPositions(ctx context.Context, strategy string, limit int) ([]*types.Position, error) {
	query := selectPositions + ` WHERE status IN ('closed', 'resolved')`
	args := []any{}
	if strategy != "" {
		query += ` AND strategy = ?`
		args = append(args, strategy)
	}
	query += ` ORDER BY closed_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query closed positions: %w", err)
	}
	defer rows.Close()

	return collectPositions(rows)
}

// PositionsBySourceWallet returns positions opened by copying a wallet.
// Uses a structured column rather than substring matching on metadata.
func (s *Store) PositionsBySourceWallet(ctx context.Context, wallet string) ([]*types.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		selectPositions+` WHERE source_wallet = ? ORDER BY opened_at DESC`, wallet)
	if err != nil {
		return nil, fmt.Errorf("query positions by source wallet: %w", err)
	}
	defer rows.Close()

	return collectPositions(rows)
}

// SetPositionClosing marks a position as closing (exit emitted, fill
// pending). Only an open position transitions; the guard makes the call
// idempotent under races.
func (s *Store) SetPositionClosing(ctx context.Context, id int64, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE positions SET status = 'closing', close_reason = ?
		WHERE id = ? AND status = 'open'`, reason, id)
	if err != nil {
		return fmt.Errorf("set position %d closing: %w", id, err)
	}
	return nil
}

// ClosingPositions returns positions stuck in closing state, used by startup
// recovery to re-emit their exits.
func (s *Store) ClosingPositions(ctx context.Context) ([]*types.Position, error) {
	rows, err := s.db.QueryContext(ctx, selectPositions+` WHERE status = 'closing'`)
	if err != nil {
		return nil, fmt.Errorf("query closing positions: %w", err)
	}
	defer rows.Close()

	return collectPositions(rows)
}

// UpdatePositionPrice updates the cached current price.
func (s *Store) UpdatePositionPrice(ctx context.Context, id int64, price float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE positions SET current_price = ? WHERE id = ?`, price, id)
	if err != nil {
		return fmt.Errorf("update position %d price: %w", id, err)
	}
	return nil
}

// UpdatePositionTrail persists trailing-stop state.
func (s *Store) UpdatePositionTrail(ctx context.Context, id int64, anchor float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE positions SET trail_anchor = ? WHERE id = ?`, anchor, id)
	if err != nil {
		return fmt.Errorf("update position %d trail: %w", id, err)
	}
	return nil
}

// UpdatePositionTPLevels persists the take-profit ladder (fired flags).
func (s *Store) UpdatePositionTPLevels(ctx context.Context, id int64, levels []types.TakeProfitLevel) error {
	tpJSON, err := json.Marshal(levels)
	if err != nil {
		return fmt.Errorf("marshal tp levels: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE positions SET tp_levels = ? WHERE id = ?`, string(tpJSON), id)
	if err != nil {
		return fmt.Errorf("update position %d tp levels: %w", id, err)
	}
	return nil
}

// RealizedPnLSince sums realized P&L of positions closed at or after the
// given instant (UTC midnight for the daily loss check).
func (s *Store) RealizedPnLSince(ctx context.Context, since time.Time) (float64, error) {
	var total sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(realized_pnl), 0) FROM positions
		WHERE status IN ('closed', 'resolved') AND closed_at >= ?`,
		since.UTC().Format(time.RFC3339Nano)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum realized pnl: %w", err)
	}
	return total.Float64, nil
}

// StrategyExposure sums the entry notional (entry price x remaining shares)
// deployed by a strategy across open/closing positions.
func (s *Store) StrategyExposure(ctx context.Context, strategy string) (float64, error) {
	var total sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(entry_price * shares), 0) FROM positions
		WHERE status IN ('open', 'closing') AND strategy = ?`, strategy).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum strategy exposure: %w", err)
	}
	return total.Float64, nil
}

const selectPositions = `
	SELECT id, market_id, token_id, outcome, side, entry_price, shares, entry_shares,
		entry_fee, exit_fee, realized_pnl, status, strategy, source_wallet, tp_levels,
		sl_price, trail_pct, trail_anchor, current_price, opened_at, closed_at
	FROM positions`

func collectPositions(rows *sql.Rows) ([]*types.Position, error) {
	var out []*types.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPosition(r rowScanner) (*types.Position, error) {
	var p types.Position
	var sourceWallet, tpJSON sql.NullString
	var openedAt, closedAt sql.NullString

	err := r.Scan(&p.ID, &p.MarketID, &p.TokenID, &p.Outcome, &p.Side, &p.EntryPrice,
		&p.Shares, &p.EntryShares, &p.EntryFee, &p.ExitFee, &p.RealizedPnL, &p.Status,
		&p.Strategy, &sourceWallet, &tpJSON, &p.SLPrice, &p.TrailPct, &p.TrailAnchor,
		&p.CurrentPrice, &openedAt, &closedAt)
	if err != nil {
		return nil, err
	}

	p.SourceWallet = sourceWallet.String
	if tpJSON.Valid && tpJSON.String != "" {
		if err := json.Unmarshal([]byte(tpJSON.String), &p.TPLevels); err != nil {
			return nil, fmt.Errorf("unmarshal tp levels for position %d: %w", p.ID, err)
		}
	}
	p.OpenedAt = parseTime(openedAt)
	p.ClosedAt = parseTime(closedAt)
	return &p, nil
}
