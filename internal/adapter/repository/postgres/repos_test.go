package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/iho/goescrow/internal/domain"
	"github.com/iho/goescrow/internal/usecase"
)

func beginMockTx(t *testing.T, pool pgxmock.PgxPoolIface) usecase.Tx {
	t.Helper()
	pool.ExpectBegin()
	tx, err := newTxManagerWithPool(pool).Begin(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	return tx
}

// anyArgs matches a statement with n bind parameters.
func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestRepositoriesRejectForeignTransactions(t *testing.T) {
	pool := newMockPool(t)
	err := NewHoldRepository(pool).Create(context.Background(), foreignTx{}, &domain.Hold{ID: "h1"})
	if err == nil {
		t.Fatal("expected error for a transaction from another store")
	}
}

func TestTransactionCreateDuplicateIdempotencyKey(t *testing.T) {
	pool := newMockPool(t)
	tx := beginMockTx(t, pool)

	pool.ExpectQuery("INSERT INTO transactions").
		WithArgs(anyArgs(11)...).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: transactionIdempotencyIndex})

	err := NewTransactionRepository(pool).Create(context.Background(), tx, &domain.Transaction{
		ID: "tx-1", BuyerID: "b", SellerID: "s", Amount: 100, IdempotencyKey: "k1",
	})
	if !errors.Is(err, domain.ErrDuplicateIdempotencyKey) {
		t.Fatalf("expected ErrDuplicateIdempotencyKey, got %v", err)
	}
	assertExpectations(t, pool)
}

func TestTransactionCreateAssignsSeq(t *testing.T) {
	pool := newMockPool(t)
	tx := beginMockTx(t, pool)

	pool.ExpectQuery("INSERT INTO transactions").
		WithArgs(anyArgs(11)...).
		WillReturnRows(pgxmock.NewRows([]string{"seq"}).AddRow(int64(42)))

	txn := &domain.Transaction{ID: "tx-1", BuyerID: "b", SellerID: "s", Amount: 100}
	if err := NewTransactionRepository(pool).Create(context.Background(), tx, txn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if txn.Seq != 42 {
		t.Fatalf("expected seq 42, got %d", txn.Seq)
	}
	assertExpectations(t, pool)
}

func TestTransactionGetNotFound(t *testing.T) {
	pool := newMockPool(t)
	pool.ExpectQuery("FROM transactions WHERE id = ").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := NewTransactionRepository(pool).GetByID(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTransactionUpdateMissingRow(t *testing.T) {
	pool := newMockPool(t)
	tx := beginMockTx(t, pool)

	pool.ExpectExec("UPDATE transactions SET").
		WithArgs(anyArgs(11)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := NewTransactionRepository(pool).Update(context.Background(), tx, &domain.Transaction{ID: "gone"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMessageNextSequence(t *testing.T) {
	pool := newMockPool(t)
	tx := beginMockTx(t, pool)

	pool.ExpectQuery("INSERT INTO message_sequences").
		WithArgs("tx-1").
		WillReturnRows(pgxmock.NewRows([]string{"last_seq"}).AddRow(int64(7)))

	seq, err := NewMessageRepository(pool).NextSequence(context.Background(), tx, "tx-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seq != 7 {
		t.Fatalf("expected 7, got %d", seq)
	}
	assertExpectations(t, pool)
}

func TestMessageCreateDuplicateToken(t *testing.T) {
	pool := newMockPool(t)
	tx := beginMockTx(t, pool)

	pool.ExpectExec("INSERT INTO messages").
		WithArgs(anyArgs(10)...).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: messageClientTokenIndex})

	err := NewMessageRepository(pool).Create(context.Background(), tx, &domain.Message{
		ID: "m1", TransactionID: "tx-1", SenderID: "b", ClientToken: "tok",
	})
	if !errors.Is(err, domain.ErrDuplicateMessage) {
		t.Fatalf("expected ErrDuplicateMessage, got %v", err)
	}
}

func TestMessageCreateOtherUniqueViolationPassesThrough(t *testing.T) {
	pool := newMockPool(t)
	tx := beginMockTx(t, pool)

	pgErr := &pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "messages_seq_unique"}
	pool.ExpectExec("INSERT INTO messages").WithArgs(anyArgs(10)...).WillReturnError(pgErr)

	err := NewMessageRepository(pool).Create(context.Background(), tx, &domain.Message{ID: "m1", TransactionID: "tx-1"})
	if errors.Is(err, domain.ErrDuplicateMessage) || !errors.Is(err, pgErr) {
		t.Fatalf("expected raw seq violation, got %v", err)
	}
}

func TestHoldUpdateStatusRequiresActive(t *testing.T) {
	pool := newMockPool(t)
	tx := beginMockTx(t, pool)

	pool.ExpectExec("UPDATE holds SET status").
		WithArgs("h1", domain.HoldStatusReleased, pgxmock.AnyArg(), domain.HoldStatusActive).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := NewHoldRepository(pool).UpdateStatus(context.Background(), tx, "h1", domain.HoldStatusReleased, time.Now())
	if !errors.Is(err, domain.ErrHoldNotActive) {
		t.Fatalf("expected ErrHoldNotActive, got %v", err)
	}
}

func TestAccountGetByIDNotFound(t *testing.T) {
	pool := newMockPool(t)
	pool.ExpectQuery("FROM accounts WHERE id = ").
		WithArgs("nobody").
		WillReturnError(pgx.ErrNoRows)

	_, err := NewAccountRepository(pool).GetByID(context.Background(), "nobody")
	if !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestAccountUpdateBalancesMissingRow(t *testing.T) {
	pool := newMockPool(t)
	tx := beginMockTx(t, pool)

	pool.ExpectExec("UPDATE accounts").
		WithArgs(anyArgs(5)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := NewAccountRepository(pool).UpdateBalances(context.Background(), tx, &domain.Account{ID: "a"})
	if !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestLedgerTotals(t *testing.T) {
	pool := newMockPool(t)
	pool.ExpectQuery("FROM postings").
		WillReturnRows(pgxmock.NewRows([]string{"posting_sum", "balance_sum"}).AddRow(int64(0), int64(-5)))

	postingSum, balanceSum, err := NewLedgerRepository(pool).Totals(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if postingSum != 0 || balanceSum != -5 {
		t.Fatalf("unexpected totals: %d %d", postingSum, balanceSum)
	}
}

func TestHoldSumActive(t *testing.T) {
	pool := newMockPool(t)
	pool.ExpectQuery("FROM holds").
		WithArgs("acc-1", domain.HoldStatusActive).
		WillReturnRows(pgxmock.NewRows([]string{"sum"}).AddRow(int64(2500)))

	sum, err := NewHoldRepository(pool).SumActiveByAccount(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum != 2500 {
		t.Fatalf("expected 2500, got %d", sum)
	}
}

func TestDepositUpdateMissingRow(t *testing.T) {
	pool := newMockPool(t)
	tx := beginMockTx(t, pool)

	pool.ExpectExec("UPDATE deposits").
		WithArgs(anyArgs(5)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := NewDepositRepository(pool).Update(context.Background(), tx, &domain.Deposit{ID: "d1"})
	if !errors.Is(err, domain.ErrDepositNotFound) {
		t.Fatalf("expected ErrDepositNotFound, got %v", err)
	}
}
