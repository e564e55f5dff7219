package postgres

import (
	"context"
	"errors"
	"sort"

	"github.com/jackc/pgx/v5"

	"github.com/iho/goescrow/internal/domain"
	"github.com/iho/goescrow/internal/usecase"
)

const accountColumns = `id, kind, currency, balance, held, version, allow_negative_balance, created_at, updated_at`

// AccountRepository implements usecase.AccountRepository.
type AccountRepository struct {
	db DBTX
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db DBTX) *AccountRepository {
	return &AccountRepository{db: db}
}

// Ensure inserts the account unless a row with the same id exists.
func (r *AccountRepository) Ensure(ctx context.Context, tx usecase.Tx, account *domain.Account) error {
	q, err := pgxTx(tx)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		account.ID,
		account.Kind,
		account.Currency,
		account.Balance,
		account.Held,
		account.Version,
		account.AllowNegativeBalance,
		account.CreatedAt,
		account.UpdatedAt,
	)
	return err
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	return account, err
}

// GetByIDsForUpdate locks the accounts in ascending id order so concurrent
// callers touching overlapping sets cannot deadlock.
func (r *AccountRepository) GetByIDsForUpdate(ctx context.Context, tx usecase.Tx, ids []string) ([]*domain.Account, error) {
	q, err := pgxTx(tx)
	if err != nil {
		return nil, err
	}

	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	rows, err := q.Query(ctx, `
		SELECT `+accountColumns+` FROM accounts
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE`, sorted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := make([]*domain.Account, 0, len(ids))
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}

	return accounts, rows.Err()
}

// UpdateBalances writes the materialised balance, held and version.
func (r *AccountRepository) UpdateBalances(ctx context.Context, tx usecase.Tx, account *domain.Account) error {
	q, err := pgxTx(tx)
	if err != nil {
		return err
	}

	tag, err := q.Exec(ctx, `
		UPDATE accounts
		SET balance = $2, held = $3, version = $4, updated_at = $5
		WHERE id = $1`,
		account.ID,
		account.Balance,
		account.Held,
		account.Version,
		account.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// List lists accounts with pagination.
func (r *AccountRepository) List(ctx context.Context, limit, offset int) ([]*domain.Account, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+accountColumns+` FROM accounts
		ORDER BY id
		LIMIT $1 OFFSET $2`, limitOrAll(limit), offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*domain.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}

	return accounts, rows.Err()
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(
		&a.ID,
		&a.Kind,
		&a.Currency,
		&a.Balance,
		&a.Held,
		&a.Version,
		&a.AllowNegativeBalance,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
