package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/iho/goescrow/internal/domain"
	"github.com/iho/goescrow/internal/usecase"
)

const postingColumns = `id, account_id, bucket, direction, kind, amount, currency,
	reference_type, reference_id, hold_id, balance_after, account_version, created_at`

// PostingRepository implements usecase.PostingRepository. Postings are
// append-only; nothing here updates or deletes them.
type PostingRepository struct {
	db DBTX
}

// NewPostingRepository creates a new PostingRepository.
func NewPostingRepository(db DBTX) *PostingRepository {
	return &PostingRepository{db: db}
}

// Create inserts a journal's postings with a single batch round trip.
func (r *PostingRepository) Create(ctx context.Context, tx usecase.Tx, postings []*domain.Posting) error {
	q, err := pgxTx(tx)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, p := range postings {
		batch.Queue(`
			INSERT INTO postings (`+postingColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			p.ID,
			p.AccountID,
			p.Bucket,
			p.Direction,
			p.Kind,
			p.Amount,
			p.Currency,
			p.ReferenceType,
			p.ReferenceID,
			p.HoldID,
			p.BalanceAfter,
			p.AccountVersion,
			p.CreatedAt,
		)
	}

	return q.SendBatch(ctx, batch).Close()
}

// ListByAccount returns the account's postings, newest first.
func (r *PostingRepository) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*domain.Posting, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+postingColumns+` FROM postings
		WHERE account_id = $1
		ORDER BY account_version DESC, id DESC
		LIMIT $2 OFFSET $3`, accountID, limitOrAll(limit), offset)
	if err != nil {
		return nil, err
	}
	return collectPostings(rows)
}

// ListByReference returns every posting of one business operation.
func (r *PostingRepository) ListByReference(ctx context.Context, refType domain.ReferenceType, refID string) ([]*domain.Posting, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+postingColumns+` FROM postings
		WHERE reference_type = $1 AND reference_id = $2
		ORDER BY id`, refType, refID)
	if err != nil {
		return nil, err
	}
	return collectPostings(rows)
}

// SumByAccount folds the account's postings into balance and held totals.
func (r *PostingRepository) SumByAccount(ctx context.Context, accountID string) (balance, held int64, err error) {
	err = r.db.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN direction = 'credit' THEN amount ELSE -amount END), 0)::BIGINT,
			COALESCE(SUM(CASE WHEN bucket <> 'held' THEN 0
			                  WHEN direction = 'credit' THEN amount ELSE -amount END), 0)::BIGINT
		FROM postings
		WHERE account_id = $1`, accountID).Scan(&balance, &held)
	return balance, held, err
}

func collectPostings(rows pgx.Rows) ([]*domain.Posting, error) {
	defer rows.Close()

	var postings []*domain.Posting
	for rows.Next() {
		var p domain.Posting
		if err := rows.Scan(
			&p.ID,
			&p.AccountID,
			&p.Bucket,
			&p.Direction,
			&p.Kind,
			&p.Amount,
			&p.Currency,
			&p.ReferenceType,
			&p.ReferenceID,
			&p.HoldID,
			&p.BalanceAfter,
			&p.AccountVersion,
			&p.CreatedAt,
		); err != nil {
			return nil, err
		}
		postings = append(postings, &p)
	}

	return postings, rows.Err()
}
