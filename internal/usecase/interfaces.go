package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/iho/goescrow/internal/domain"
)

// AccountRepository defines data access for wallet accounts.
type AccountRepository interface {
	// Ensure inserts the account if it does not exist yet.
	Ensure(ctx context.Context, tx Tx, account *domain.Account) error
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	// GetByIDsForUpdate locks the accounts in ascending id order.
	GetByIDsForUpdate(ctx context.Context, tx Tx, ids []string) ([]*domain.Account, error)
	UpdateBalances(ctx context.Context, tx Tx, account *domain.Account) error
	List(ctx context.Context, limit, offset int) ([]*domain.Account, error)
}

// HoldRepository defines data access for escrow holds.
type HoldRepository interface {
	Create(ctx context.Context, tx Tx, hold *domain.Hold) error
	GetByID(ctx context.Context, id string) (*domain.Hold, error)
	GetByIDForUpdate(ctx context.Context, tx Tx, id string) (*domain.Hold, error)
	UpdateStatus(ctx context.Context, tx Tx, id string, status domain.HoldStatus, updatedAt time.Time) error
	ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*domain.Hold, error)
	SumActiveByAccount(ctx context.Context, accountID string) (int64, error)
}

// PostingRepository defines data access for immutable ledger postings.
type PostingRepository interface {
	Create(ctx context.Context, tx Tx, postings []*domain.Posting) error
	ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*domain.Posting, error)
	ListByReference(ctx context.Context, refType domain.ReferenceType, refID string) ([]*domain.Posting, error)
	// SumByAccount folds the account's postings into balance and held totals.
	SumByAccount(ctx context.Context, accountID string) (balance, held int64, err error)
}

// LedgerRepository defines data access for ledger-wide checks.
type LedgerRepository interface {
	// Totals returns the signed sum of all postings and of all materialised balances.
	Totals(ctx context.Context) (postingSum, balanceSum int64, err error)
}

// TransactionRepository defines data access for escrow transactions.
type TransactionRepository interface {
	Create(ctx context.Context, tx Tx, t *domain.Transaction) error
	GetByID(ctx context.Context, id string) (*domain.Transaction, error)
	GetByIDForUpdate(ctx context.Context, tx Tx, id string) (*domain.Transaction, error)
	GetByIdempotencyKey(ctx context.Context, buyerID, key string) (*domain.Transaction, error)
	Update(ctx context.Context, tx Tx, t *domain.Transaction) error
	List(ctx context.Context, filter domain.TransactionFilter) ([]*domain.Transaction, error)
	ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]*domain.Transaction, error)
}

// MessageRepository defines data access for transaction messages.
type MessageRepository interface {
	// NextSequence reserves the next message sequence number for a
	// transaction. Callers are serialised per transaction until tx ends.
	NextSequence(ctx context.Context, tx Tx, transactionID string) (int64, error)
	Create(ctx context.Context, tx Tx, msg *domain.Message) error
	GetByClientToken(ctx context.Context, transactionID, senderID, token string) (*domain.Message, error)
	ListByTransaction(ctx context.Context, transactionID string, afterSeq int64, limit int) ([]*domain.Message, error)
}

// DepositRepository defines data access for gateway top-ups.
type DepositRepository interface {
	Create(ctx context.Context, deposit *domain.Deposit) error
	GetByID(ctx context.Context, id string) (*domain.Deposit, error)
	GetByIDForUpdate(ctx context.Context, tx Tx, id string) (*domain.Deposit, error)
	Update(ctx context.Context, tx Tx, deposit *domain.Deposit) error
	ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*domain.Deposit, error)
}

// OutboxRepository defines data access for outbox events.
type OutboxRepository interface {
	Create(ctx context.Context, tx Tx, event *domain.OutboxEvent) error
	GetUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error)
	MarkPublished(ctx context.Context, id string, publishedAt time.Time) error
	DeletePublished(ctx context.Context, before time.Time) error
}

// AuditRepository defines data access for audit logs.
type AuditRepository interface {
	CreateTx(ctx context.Context, tx Tx, log *domain.AuditLog) error
	List(ctx context.Context, filter domain.AuditFilter) ([]*domain.AuditLog, error)
}

// Tx represents a database transaction.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TxManager handles database transaction lifecycle.
type TxManager interface {
	Begin(ctx context.Context) (Tx, error)
}

// Retrier re-runs a whole unit of work when the store aborted it for a
// transient reason (deadlock, serialization failure). The failed attempt
// must have been rolled back in full.
type Retrier interface {
	Retry(ctx context.Context, operation func() error) error
}

// IDGenerator generates unique IDs.
type IDGenerator interface {
	Generate() string
}

// ErrCacheMiss is returned by Cache.Get for absent or expired keys.
var ErrCacheMiss = errors.New("cache miss")

// Cache defines caching operations.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// IdempotencyPending is the value a claimed key holds until its first
// request completes.
const IdempotencyPending = "processing"

// IdempotencyStore handles idempotency key storage.
type IdempotencyStore interface {
	// CheckAndSet atomically checks if key exists, sets if not.
	// Returns (exists, existingValue, error).
	CheckAndSet(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error)
	// Update updates an existing key with the final response.
	Update(ctx context.Context, key string, response []byte, ttl time.Duration) error
	// Delete releases a key whose request did not complete.
	Delete(ctx context.Context, key string) error
}

// Clock returns the current time.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }
