package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mselser95/polymarket-bot/pkg/types"
)

// Metadata keys for the persisted kill-switch singleton.
const (
	metaKillSwitchActive = "kill_switch_active"
	metaKillSwitchReason = "kill_switch_reason"
	metaKillSwitchAt     = "kill_switch_activated_at"
)

// SetMetadata upserts one key in the metadata table.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bot_metadata (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, utcNow())
	if err != nil {
		return fmt.Errorf("set metadata %s: %w", key, err)
	}
	return nil
}

// GetMetadata returns the value for a key, or "" when absent.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM bot_metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get metadata %s: %w", key, err)
	}
	return value, nil
}

// SaveRiskState persists the kill-switch singleton. It is re-read on
// startup; a restart never clears an active kill switch.
func (s *Store) SaveRiskState(ctx context.Context, state *types.RiskState) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		now := utcNow()
		upsert := `
			INSERT INTO bot_metadata (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

		active := "0"
		if state.KillSwitchActive {
			active = "1"
		}
		if _, err := tx.ExecContext(ctx, upsert, metaKillSwitchActive, active, now); err != nil {
			return fmt.Errorf("save kill switch flag: %w", err)
		}
		if _, err := tx.ExecContext(ctx, upsert, metaKillSwitchReason, state.Reason, now); err != nil {
			return fmt.Errorf("save kill switch reason: %w", err)
		}
		at := ""
		if !state.ActivatedAt.IsZero() {
			at = state.ActivatedAt.UTC().Format(time.RFC3339Nano)
		}
		if _, err := tx.ExecContext(ctx, upsert, metaKillSwitchAt, at, now); err != nil {
			return fmt.Errorf("save kill switch timestamp: %w", err)
		}
		return nil
	})
}

// LoadRiskState reads the persisted kill-switch singleton. A missing record
// yields the zero state (switch inactive).
func (s *Store) LoadRiskState(ctx context.Context) (*types.RiskState, error) {
	state := &types.RiskState{}

	active, err := s.GetMetadata(ctx, metaKillSwitchActive)
	if err != nil {
		return nil, err
	}
	state.KillSwitchActive = active == "1"

	state.Reason, err = s.GetMetadata(ctx, metaKillSwitchReason)
	if err != nil {
		return nil, err
	}

	at, err := s.GetMetadata(ctx, metaKillSwitchAt)
	if err != nil {
		return nil, err
	}
	if at != "" {
		if t, perr := time.Parse(time.RFC3339Nano, at); perr == nil {
			state.ActivatedAt = t
		}
	}

	return state, nil
}
