package usecase

import "time"

const (
	// DefaultTransactionTimeout is the maximum duration for a database transaction
	// This prevents long-running transactions from blocking tables
	DefaultTransactionTimeout = 10 * time.Second

	// IdempotencyKeyTTL is how long idempotency keys are cached
	IdempotencyKeyTTL = 24 * time.Hour

	// DefaultHistoryPageSize bounds a single history page.
	DefaultHistoryPageSize = 100
	MaxHistoryPageSize     = 500

	// fanoutTimeout bounds real-time publishing after commit.
	fanoutTimeout = 2 * time.Second
)
