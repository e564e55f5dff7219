package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/iho/goescrow/internal/domain"
	"github.com/iho/goescrow/internal/usecase"
)

const depositColumns = `id, account_id, amount, fee, currency, method, status, checkout_url, gateway_ref,
	created_at, updated_at, confirmed_at`

// DepositRepository implements usecase.DepositRepository.
type DepositRepository struct {
	db DBTX
}

// NewDepositRepository creates a new DepositRepository.
func NewDepositRepository(db DBTX) *DepositRepository {
	return &DepositRepository{db: db}
}

// Create records a pending deposit outside any unit of work; it moves no money.
func (r *DepositRepository) Create(ctx context.Context, d *domain.Deposit) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO deposits (`+depositColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		d.ID,
		d.AccountID,
		d.Amount,
		d.Fee,
		d.Currency,
		d.Method,
		d.Status,
		d.CheckoutURL,
		d.GatewayRef,
		d.CreatedAt,
		d.UpdatedAt,
		d.ConfirmedAt,
	)
	return err
}

// GetByID retrieves a deposit by ID.
func (r *DepositRepository) GetByID(ctx context.Context, id string) (*domain.Deposit, error) {
	return r.get(ctx, r.db, `SELECT `+depositColumns+` FROM deposits WHERE id = $1`, id)
}

// GetByIDForUpdate locks the deposit row until tx ends.
func (r *DepositRepository) GetByIDForUpdate(ctx context.Context, tx usecase.Tx, id string) (*domain.Deposit, error) {
	q, err := pgxTx(tx)
	if err != nil {
		return nil, err
	}
	return r.get(ctx, q, `SELECT `+depositColumns+` FROM deposits WHERE id = $1 FOR UPDATE`, id)
}

func (r *DepositRepository) get(ctx context.Context, q DBTX, sql, id string) (*domain.Deposit, error) {
	d, err := scanDeposit(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrDepositNotFound
	}
	return d, err
}

// Update writes the deposit's status fields.
func (r *DepositRepository) Update(ctx context.Context, tx usecase.Tx, d *domain.Deposit) error {
	q, err := pgxTx(tx)
	if err != nil {
		return err
	}

	tag, err := q.Exec(ctx, `
		UPDATE deposits
		SET status = $2, gateway_ref = $3, updated_at = $4, confirmed_at = $5
		WHERE id = $1`,
		d.ID, d.Status, d.GatewayRef, d.UpdatedAt, d.ConfirmedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDepositNotFound
	}
	return nil
}

// ListByAccount lists an account's deposits, newest first.
func (r *DepositRepository) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*domain.Deposit, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+depositColumns+` FROM deposits
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, accountID, limitOrAll(limit), offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deposits []*domain.Deposit
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		deposits = append(deposits, d)
	}
	return deposits, rows.Err()
}

func scanDeposit(row pgx.Row) (*domain.Deposit, error) {
	var d domain.Deposit
	err := row.Scan(
		&d.ID,
		&d.AccountID,
		&d.Amount,
		&d.Fee,
		&d.Currency,
		&d.Method,
		&d.Status,
		&d.CheckoutURL,
		&d.GatewayRef,
		&d.CreatedAt,
		&d.UpdatedAt,
		&d.ConfirmedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
