package postgres

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/iho/goescrow/internal/domain"
	"github.com/iho/goescrow/internal/usecase"
)

const transactionColumns = `id, seq, buyer_id, seller_id, listing_ref, amount, currency, status, hold_id,
	release_method, release_fee, dispute_reason, disputed_by, resolved_by, cancelled_by,
	idempotency_key, created_at, updated_at, completed_at`

const transactionIdempotencyIndex = "transactions_idempotency_key"

// TransactionRepository implements usecase.TransactionRepository.
type TransactionRepository struct {
	db DBTX
}

// NewTransactionRepository creates a new TransactionRepository.
func NewTransactionRepository(db DBTX) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Create inserts the transaction and assigns its sequence number. A second
// open by the same buyer with the same idempotency key fails with
// ErrDuplicateIdempotencyKey once the first one commits.
func (r *TransactionRepository) Create(ctx context.Context, tx usecase.Tx, t *domain.Transaction) error {
	q, err := pgxTx(tx)
	if err != nil {
		return err
	}

	err = q.QueryRow(ctx, `
		INSERT INTO transactions (id, buyer_id, seller_id, listing_ref, amount, currency, status,
			hold_id, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING seq`,
		t.ID,
		t.BuyerID,
		t.SellerID,
		t.ListingRef,
		t.Amount,
		t.Currency,
		t.Status,
		t.HoldID,
		nullString(t.IdempotencyKey),
		t.CreatedAt,
		t.UpdatedAt,
	).Scan(&t.Seq)
	if uniqueViolation(err, transactionIdempotencyIndex) {
		return domain.ErrDuplicateIdempotencyKey
	}
	return err
}

// GetByID retrieves a transaction by ID.
func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	return r.get(ctx, r.db, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
}

// GetByIDForUpdate retrieves a transaction and locks its row until tx ends.
func (r *TransactionRepository) GetByIDForUpdate(ctx context.Context, tx usecase.Tx, id string) (*domain.Transaction, error) {
	q, err := pgxTx(tx)
	if err != nil {
		return nil, err
	}
	return r.get(ctx, q, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id)
}

// GetByIdempotencyKey finds the transaction a buyer opened with key.
func (r *TransactionRepository) GetByIdempotencyKey(ctx context.Context, buyerID, key string) (*domain.Transaction, error) {
	return r.get(ctx, r.db, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE buyer_id = $1 AND idempotency_key = $2`, buyerID, key)
}

func (r *TransactionRepository) get(ctx context.Context, q DBTX, sql string, args ...any) (*domain.Transaction, error) {
	t, err := scanTransaction(q.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return t, err
}

// Update writes the mutable columns of a transaction.
func (r *TransactionRepository) Update(ctx context.Context, tx usecase.Tx, t *domain.Transaction) error {
	q, err := pgxTx(tx)
	if err != nil {
		return err
	}

	tag, err := q.Exec(ctx, `
		UPDATE transactions SET
			status = $2, hold_id = $3, release_method = $4, release_fee = $5,
			dispute_reason = $6, disputed_by = $7, resolved_by = $8, cancelled_by = $9,
			updated_at = $10, completed_at = $11
		WHERE id = $1`,
		t.ID,
		t.Status,
		t.HoldID,
		t.ReleaseMethod,
		t.ReleaseFee,
		t.DisputeReason,
		t.DisputedBy,
		t.ResolvedBy,
		t.CancelledBy,
		t.UpdatedAt,
		t.CompletedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// List returns the filtered transactions, newest first.
func (r *TransactionRepository) List(ctx context.Context, filter domain.TransactionFilter) ([]*domain.Transaction, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	switch filter.Role {
	case "buyer":
		where = append(where, "buyer_id = "+arg(filter.AccountID))
	case "seller":
		where = append(where, "seller_id = "+arg(filter.AccountID))
	default:
		if filter.AccountID != "" {
			p := arg(filter.AccountID)
			where = append(where, "(buyer_id = "+p+" OR seller_id = "+p+")")
		}
	}
	if filter.Status != "" {
		where = append(where, "status = "+arg(filter.Status))
	}

	sql := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	sql += ` ORDER BY seq DESC LIMIT ` + arg(limitOrAll(filter.Limit)) + ` OFFSET ` + arg(filter.Offset)

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

// ListPendingBefore returns the oldest pending transactions created before
// the cut-off, for the expiry sweeper.
func (r *TransactionRepository) ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]*domain.Transaction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at
		LIMIT $3`, domain.TransactionStatusPending, before, limitOrAll(limit))
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

func collectTransactions(rows pgx.Rows) ([]*domain.Transaction, error) {
	defer rows.Close()

	var out []*domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var (
		t   domain.Transaction
		key *string
	)
	err := row.Scan(
		&t.ID,
		&t.Seq,
		&t.BuyerID,
		&t.SellerID,
		&t.ListingRef,
		&t.Amount,
		&t.Currency,
		&t.Status,
		&t.HoldID,
		&t.ReleaseMethod,
		&t.ReleaseFee,
		&t.DisputeReason,
		&t.DisputedBy,
		&t.ResolvedBy,
		&t.CancelledBy,
		&key,
		&t.CreatedAt,
		&t.UpdatedAt,
		&t.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	t.IdempotencyKey = derefString(key)
	return &t, nil
}
