package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestTxManager_Finish(t *testing.T) {
	tests := []struct {
		name   string
		expect func(pgxmock.PgxPoolIface)
		finish func(*Tx, context.Context) error
	}{
		{
			name:   "commit",
			expect: func(p pgxmock.PgxPoolIface) { p.ExpectBegin(); p.ExpectCommit() },
			finish: (*Tx).Commit,
		},
		{
			name:   "rollback",
			expect: func(p pgxmock.PgxPoolIface) { p.ExpectBegin(); p.ExpectRollback() },
			finish: (*Tx).Rollback,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := newMockPool(t)
			tt.expect(pool)

			tx, err := newTxManagerWithPool(pool).Begin(context.Background())
			require.NoError(t, err)

			pgTx, ok := tx.(*Tx)
			require.True(t, ok, "expected *Tx, got %T", tx)
			require.NoError(t, tt.finish(pgTx, context.Background()))
			assertExpectations(t, pool)
		})
	}
}

func TestTxManager_BeginError(t *testing.T) {
	pool := newMockPool(t)
	beginErr := errors.New("too many connections")
	pool.ExpectBegin().WillReturnError(beginErr)

	tx, err := newTxManagerWithPool(pool).Begin(context.Background())
	assert.ErrorIs(t, err, beginErr)
	assert.Nil(t, tx)
}

type foreignTx struct{}

func (foreignTx) Commit(context.Context) error   { return nil }
func (foreignTx) Rollback(context.Context) error { return nil }

func TestPgxTx_RejectsForeignTransaction(t *testing.T) {
	_, err := pgxTx(foreignTx{})
	assert.Error(t, err)

	_, err = pgxTx((*Tx)(nil))
	assert.Error(t, err)
}

func assertExpectations(t *testing.T, pool pgxmock.PgxPoolIface) {
	t.Helper()
	assert.NoError(t, pool.ExpectationsWereMet())
}
