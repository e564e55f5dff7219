package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/goescrow/internal/domain"
	"github.com/iho/goescrow/internal/usecase"
)

func begin(t *testing.T, s *Store) usecase.Tx {
	t.Helper()
	tx, err := s.Begin(context.Background())
	require.NoError(t, err)
	return tx
}

func TestEnsureRollbackKeepsAccountCommittedByOtherTx(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	accounts := NewAccountRepo(s)
	now := time.Now()

	txA := begin(t, s)
	require.NoError(t, accounts.Ensure(ctx, txA, domain.NewUserAccount("u1", "PHP", now)))

	done := make(chan error, 1)
	go func() {
		txB, err := s.Begin(ctx)
		if err != nil {
			done <- err
			return
		}
		if err := accounts.Ensure(ctx, txB, domain.NewUserAccount("u1", "PHP", now)); err != nil {
			done <- err
			return
		}
		locked, err := accounts.GetByIDsForUpdate(ctx, txB, []string{"u1"})
		if err != nil {
			done <- err
			return
		}
		if len(locked) != 1 {
			done <- domain.ErrAccountNotFound
			return
		}
		acc := locked[0]
		acc.Balance = 100000
		if err := accounts.UpdateBalances(ctx, txB, acc); err != nil {
			done <- err
			return
		}
		done <- txB.Commit(ctx)
	}()

	require.NoError(t, txA.Rollback(ctx))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("second transaction never finished")
	}

	acc, err := accounts.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100000), acc.Balance)
}

func TestEnsureWaitsForInFlightInsert(t *testing.T) {
	s := NewStore()
	accounts := NewAccountRepo(s)

	txA := begin(t, s)
	require.NoError(t, accounts.Ensure(context.Background(), txA, domain.NewUserAccount("u1", "PHP", time.Now())))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	txB := begin(t, s)
	err := accounts.Ensure(ctx, txB, domain.NewUserAccount("u1", "PHP", time.Now()))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, txA.Commit(context.Background()))
	require.NoError(t, accounts.Ensure(context.Background(), txB, domain.NewUserAccount("u1", "PHP", time.Now())))
	require.NoError(t, txB.Commit(context.Background()))
}

func TestRollbackRemovesOnlyOwnRows(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	postings := NewPostingRepo(s)
	messages := NewMessageRepo(s)
	outbox := NewOutboxRepo(s)
	audit := NewAuditRepo(s)

	write := func(tx usecase.Tx, id string) {
		t.Helper()
		require.NoError(t, postings.Create(ctx, tx, []*domain.Posting{{ID: id, AccountID: "u1", ReferenceID: "ref"}}))
		require.NoError(t, messages.Create(ctx, tx, &domain.Message{ID: id, TransactionID: "tx-1", SenderID: "u1", ClientToken: id}))
		require.NoError(t, outbox.Create(ctx, tx, &domain.OutboxEvent{ID: id}))
		require.NoError(t, audit.CreateTx(ctx, tx, &domain.AuditLog{ID: id, UserID: "u1"}))
	}

	txA := begin(t, s)
	write(txA, "a")
	txB := begin(t, s)
	write(txB, "b")
	require.NoError(t, txB.Commit(ctx))
	require.NoError(t, txA.Rollback(ctx))

	gotPostings, err := postings.ListByReference(ctx, "", "ref")
	require.NoError(t, err)
	require.Len(t, gotPostings, 1)
	assert.Equal(t, "b", gotPostings[0].ID)

	gotMessages, err := messages.ListByTransaction(ctx, "tx-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, gotMessages, 1)
	assert.Equal(t, "b", gotMessages[0].ID)

	_, err = messages.GetByClientToken(ctx, "tx-1", "u1", "a")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	events, err := outbox.GetUnpublished(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "b", events[0].ID)

	logs, err := audit.List(ctx, domain.AuditFilter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "b", logs[0].ID)
}
