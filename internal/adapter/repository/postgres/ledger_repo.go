package postgres

import (
	"context"
)

// LedgerRepository implements usecase.LedgerRepository.
type LedgerRepository struct {
	db DBTX
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(db DBTX) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Totals returns the signed sum of all postings and of all account balances.
// Both are zero on a consistent ledger.
func (r *LedgerRepository) Totals(ctx context.Context) (postingSum, balanceSum int64, err error) {
	err = r.db.QueryRow(ctx, `
		SELECT
			(SELECT COALESCE(SUM(CASE WHEN direction = 'credit' THEN amount ELSE -amount END), 0) FROM postings)::BIGINT,
			(SELECT COALESCE(SUM(balance), 0) FROM accounts)::BIGINT`).Scan(&postingSum, &balanceSum)
	return postingSum, balanceSum, err
}
