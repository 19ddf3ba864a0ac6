package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mselser95/polymarket-bot/pkg/types"
)

// Transactional composites. Each method groups the statements that must land
// together: an order reaching a terminal state and the position bookkeeping
// it implies. A position may only read as closed once its exit fill is
// durable in the same transaction.

// FinalizeEntryFill records a filled entry order, its fills, and the opened
// position atomically. Returns the new position ID.
func (s *Store) FinalizeEntryFill(ctx context.Context, order *types.Order, position *types.Position, fills []*types.Fill) (int64, error) {
	var positionID int64

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		if err := updateOrderStatus(ctx, tx, order); err != nil {
			return err
		}
		for _, f := range fills {
			if err := insertFill(ctx, tx, f); err != nil {
				return err
			}
		}
		id, err := openPosition(ctx, tx, position)
		if err != nil {
			return err
		}
		positionID = id
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("finalize entry fill: %w", err)
	}

	return positionID, nil
}

// FinalizeExitFill records a filled exit order, its fills, and the position
// update (partial or full close) atomically. sharesClosed is the exit fill
// size; realizedPnL and exitFee are the increments from this exit.
func (s *Store) FinalizeExitFill(ctx context.Context, order *types.Order, positionID int64, sharesClosed, realizedPnL, exitFee float64, reason string, fills []*types.Fill) error {
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		if err := updateOrderStatus(ctx, tx, order); err != nil {
			return err
		}
		for _, f := range fills {
			if err := insertFill(ctx, tx, f); err != nil {
				return err
			}
		}
		return closePositionTx(ctx, tx, positionID, sharesClosed, realizedPnL, exitFee, reason)
	})
	if err != nil {
		return fmt.Errorf("finalize exit fill: %w", err)
	}
	return nil
}

func closePositionTx(ctx context.Context, tx *sql.Tx, positionID int64, sharesClosed, realizedPnL, exitFee float64, reason string) error {
	var shares float64
	var status string
	row := tx.QueryRowContext(ctx,
		`SELECT shares, status FROM positions WHERE id = ?`, positionID)
	if err := row.Scan(&shares, &status); err != nil {
		return fmt.Errorf("load position %d: %w", positionID, err)
	}
	if status != types.PositionStatusOpen && status != types.PositionStatusClosing {
		// Settled concurrently (e.g. market resolution won the race); the
		// realized P&L must not be double counted.
		return fmt.Errorf("position %d already %s", positionID, status)
	}

	remaining := shares - sharesClosed
	if remaining < 1e-9 {
		_, err := tx.ExecContext(ctx, `
			UPDATE positions
			SET shares = 0, status = 'closed',
				realized_pnl = realized_pnl + ?, exit_fee = exit_fee + ?,
				close_reason = ?, closed_at = ?
			WHERE id = ?`,
			realizedPnL, exitFee, reason, utcNow(), positionID)
		if err != nil {
			return fmt.Errorf("close position %d: %w", positionID, err)
		}
		return nil
	}

	// Partial close: position stays open with reduced size.
	_, err := tx.ExecContext(ctx, `
		UPDATE positions
		SET shares = ?, status = 'open',
			realized_pnl = realized_pnl + ?, exit_fee = exit_fee + ?
		WHERE id = ?`,
		remaining, realizedPnL, exitFee, positionID)
	if err != nil {
		return fmt.Errorf("partial close position %d: %w", positionID, err)
	}
	return nil
}

// ResolvePosition settles a position at the market's resolution payout
// (1.0 for the winning token, 0.0 for the loser) in one transaction: a
// synthetic fill is appended and the position moves to resolved.
func (s *Store) ResolvePosition(ctx context.Context, positionID int64, payout, realizedPnL, resolutionFee float64) error {
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		var marketID, tokenID string
		var shares float64
		row := tx.QueryRowContext(ctx,
			`SELECT market_id, token_id, shares FROM positions WHERE id = ? AND status IN ('open', 'closing')`,
			positionID)
		if err := row.Scan(&marketID, &tokenID, &shares); err != nil {
			return fmt.Errorf("load position %d: %w", positionID, err)
		}

		fill := &types.Fill{
			ExchangeTradeID: fmt.Sprintf("resolution-%d", positionID),
			ExchangeOrderID: fmt.Sprintf("resolution-%d", positionID),
			MarketID:        marketID,
			TokenID:         tokenID,
			Side:            types.SideSell,
			Price:           payout,
			Shares:          shares,
			Fee:             resolutionFee,
			Timestamp:       time.Now(),
		}
		if err := insertFill(ctx, tx, fill); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, `
			UPDATE positions
			SET shares = 0, status = 'resolved',
				realized_pnl = realized_pnl + ?, exit_fee = exit_fee + ?,
				close_reason = 'resolution', closed_at = ?
			WHERE id = ?`,
			realizedPnL, resolutionFee, utcNow(), positionID)
		if err != nil {
			return fmt.Errorf("resolve position %d: %w", positionID, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("resolve position: %w", err)
	}
	return nil
}
