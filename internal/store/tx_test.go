package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mselser95/polymarket-bot/pkg/types"
)

// Failure paths that are awkward to provoke against a real database file are
// driven through sqlmock instead.

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &Store{db: db, logger: zaptest.NewLogger(t)}, mock
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE positions").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(tx *sql.Tx) error {
		_, execErr := tx.ExecContext(context.Background(),
			"UPDATE positions SET status = 'closed' WHERE id = ?", 1)
		return execErr
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk I/O error")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE positions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.WithTx(context.Background(), func(tx *sql.Tx) error {
		_, execErr := tx.ExecContext(context.Background(),
			"UPDATE positions SET status = 'closed' WHERE id = ?", 1)
		return execErr
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertOrder_SurfacesStoreFailure(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO orders").WillReturnError(errors.New("database is locked"))

	_, err := s.InsertOrder(context.Background(), &types.Order{
		SignalID: "sig-1",
		Strategy: types.StrategyArb,
		MarketID: "m1",
		TokenID:  "tok",
		Side:     types.SideBuy,
		Status:   types.OrderStatusPending,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
	require.NoError(t, mock.ExpectationsWereMet())
}
