package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/iho/goescrow/internal/domain"
	"github.com/iho/goescrow/internal/usecase"
)

const holdColumns = `id, transaction_id, account_id, amount, currency, status, created_at, updated_at`

// HoldRepository implements usecase.HoldRepository.
type HoldRepository struct {
	db DBTX
}

// NewHoldRepository creates a new HoldRepository.
func NewHoldRepository(db DBTX) *HoldRepository {
	return &HoldRepository{db: db}
}

// Create creates a new hold.
func (r *HoldRepository) Create(ctx context.Context, tx usecase.Tx, hold *domain.Hold) error {
	q, err := pgxTx(tx)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx, `
		INSERT INTO holds (`+holdColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		hold.ID,
		hold.TransactionID,
		hold.AccountID,
		hold.Amount,
		hold.Currency,
		hold.Status,
		hold.CreatedAt,
		hold.UpdatedAt,
	)
	return err
}

// GetByID retrieves a hold by ID.
func (r *HoldRepository) GetByID(ctx context.Context, id string) (*domain.Hold, error) {
	return r.get(ctx, r.db, `SELECT `+holdColumns+` FROM holds WHERE id = $1`, id)
}

// GetByIDForUpdate retrieves a hold by ID with a FOR UPDATE lock.
func (r *HoldRepository) GetByIDForUpdate(ctx context.Context, tx usecase.Tx, id string) (*domain.Hold, error) {
	q, err := pgxTx(tx)
	if err != nil {
		return nil, err
	}
	return r.get(ctx, q, `SELECT `+holdColumns+` FROM holds WHERE id = $1 FOR UPDATE`, id)
}

func (r *HoldRepository) get(ctx context.Context, q DBTX, sql, id string) (*domain.Hold, error) {
	hold, err := scanHold(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrHoldNotFound
	}
	return hold, err
}

// UpdateStatus closes an active hold. Closing a hold that is no longer
// active fails with ErrHoldNotActive.
func (r *HoldRepository) UpdateStatus(ctx context.Context, tx usecase.Tx, id string, status domain.HoldStatus, updatedAt time.Time) error {
	q, err := pgxTx(tx)
	if err != nil {
		return err
	}

	tag, err := q.Exec(ctx, `
		UPDATE holds SET status = $2, updated_at = $3
		WHERE id = $1 AND status = $4`,
		id, status, updatedAt, domain.HoldStatusActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrHoldNotActive
	}
	return nil
}

// ListByAccount lists holds for an account, newest first.
func (r *HoldRepository) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*domain.Hold, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+holdColumns+` FROM holds
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, accountID, limitOrAll(limit), offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holds []*domain.Hold
	for rows.Next() {
		hold, err := scanHold(rows)
		if err != nil {
			return nil, err
		}
		holds = append(holds, hold)
	}

	return holds, rows.Err()
}

// SumActiveByAccount totals the account's active holds.
func (r *HoldRepository) SumActiveByAccount(ctx context.Context, accountID string) (int64, error) {
	var sum int64
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::BIGINT FROM holds
		WHERE account_id = $1 AND status = $2`,
		accountID, domain.HoldStatusActive).Scan(&sum)
	return sum, err
}

func scanHold(row pgx.Row) (*domain.Hold, error) {
	var h domain.Hold
	err := row.Scan(
		&h.ID,
		&h.TransactionID,
		&h.AccountID,
		&h.Amount,
		&h.Currency,
		&h.Status,
		&h.CreatedAt,
		&h.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &h, nil
}
