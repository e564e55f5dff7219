package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/iho/goescrow/internal/domain"
	"github.com/iho/goescrow/internal/infrastructure/metrics"
)

// TransactionUseCase owns the escrow state machine. Every transition locks
// the transaction row first, then lets the ledger lock the hold and the
// accounts, so concurrent release and cancel calls serialise on the row.
type TransactionUseCase struct {
	txManager  TxManager
	retrier    Retrier
	txRepo     TransactionRepository
	outboxRepo OutboxRepository
	auditRepo  AuditRepository
	ledger     *LedgerUseCase
	messaging  *MessagingUseCase
	idGen      IDGenerator
	policy     EscrowPolicy
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	now        Clock
}

func NewTransactionUseCase(
	txManager TxManager,
	retrier Retrier,
	txRepo TransactionRepository,
	outboxRepo OutboxRepository,
	auditRepo AuditRepository,
	ledger *LedgerUseCase,
	messaging *MessagingUseCase,
	idGen IDGenerator,
	policy EscrowPolicy,
	metrics *metrics.Metrics,
	logger zerolog.Logger,
) *TransactionUseCase {
	return &TransactionUseCase{
		txManager:  txManager,
		retrier:    retrier,
		txRepo:     txRepo,
		outboxRepo: outboxRepo,
		auditRepo:  auditRepo,
		ledger:     ledger,
		messaging:  messaging,
		idGen:      idGen,
		policy:     policy,
		metrics:    metrics,
		logger:     logger.With().Str("component", "transactions").Logger(),
		now:        systemClock,
	}
}

// Policy returns the escrow policy in force.
func (uc *TransactionUseCase) Policy() EscrowPolicy { return uc.policy }

// OpenTransactionInput describes a buyer committing to a purchase.
type OpenTransactionInput struct {
	BuyerID    string
	SellerID   string
	ListingRef string
	Amount     int64
	// IdempotencyKey makes a retried checkout return the first result.
	IdempotencyKey string
}

// Open creates a pending transaction and holds the buyer's funds in one
// unit of work. If the hold fails no transaction exists.
func (uc *TransactionUseCase) Open(ctx context.Context, input OpenTransactionInput) (*domain.Transaction, error) {
	start := time.Now()
	defer uc.observeDuration("open", start)

	if input.BuyerID == input.SellerID {
		return nil, uc.fail("open", domain.ErrSelfTransaction)
	}
	if domain.IsSystemAccountID(input.BuyerID) || domain.IsSystemAccountID(input.SellerID) {
		return nil, uc.fail("open", domain.ErrReservedAccount)
	}
	if err := domain.ValidateAmount(input.Amount); err != nil {
		return nil, uc.fail("open", err)
	}

	if input.IdempotencyKey != "" {
		existing, err := uc.replay(ctx, input)
		if err != nil || existing != nil {
			return existing, err
		}
	}

	var (
		t      *domain.Transaction
		system *domain.Message
	)
	err := inTx(ctx, uc.txManager, uc.retrier, func(ctx context.Context, tx Tx) error {
		now := uc.now()
		t = &domain.Transaction{
			ID:             uuid.NewString(),
			BuyerID:        input.BuyerID,
			SellerID:       input.SellerID,
			ListingRef:     input.ListingRef,
			Amount:         input.Amount,
			Currency:       uc.ledger.Currency(),
			Status:         domain.TransactionStatusPending,
			IdempotencyKey: input.IdempotencyKey,
			CreatedAt:      now,
			UpdatedAt:      now,
		}

		// The transaction row goes first so the hold can reference it.
		if err := uc.txRepo.Create(ctx, tx, t); err != nil {
			return err
		}

		hold, err := uc.ledger.Hold(ctx, tx, t.ID, t.BuyerID, t.Amount)
		if err != nil {
			return err
		}
		t.HoldID = hold.ID
		if err := uc.txRepo.Update(ctx, tx, t); err != nil {
			return err
		}

		if err := uc.ledger.EnsureAccount(ctx, tx, t.SellerID); err != nil {
			return err
		}

		if err := uc.record(ctx, tx, t, domain.EventTypeTransactionOpened, domain.AuditActionTransactionOpen, now); err != nil {
			return err
		}
		if err := uc.outboxRepo.Create(ctx, tx, domain.NewOutboxEvent(uc.idGen.Generate(),
			domain.AggregateTypeHold, hold.ID, domain.EventTypeHoldCreated, map[string]any{
				"hold_id":        hold.ID,
				"transaction_id": t.ID,
				"account_id":     hold.AccountID,
				"amount":         hold.Amount,
				"currency":       hold.Currency,
			}, now)); err != nil {
			return err
		}

		system, err = uc.messaging.AppendSystem(ctx, tx, t.ID, systemNote(t, t.BuyerID, nil))
		return err
	})
	if errors.Is(err, domain.ErrDuplicateIdempotencyKey) {
		return uc.replay(ctx, input)
	}
	if err != nil {
		return nil, uc.fail("open", err)
	}

	if uc.metrics != nil {
		uc.metrics.TransactionsOpened.Inc()
		uc.metrics.HoldsCreated.Inc()
		uc.metrics.PostingsWritten.WithLabelValues(string(domain.PostingKindHold)).Add(2)
		uc.metrics.EscrowAmount.Observe(float64(t.Amount))
	}

	uc.logger.Info().
		Str("transaction_id", t.ID).
		Str("buyer_id", t.BuyerID).
		Str("seller_id", t.SellerID).
		Int64("amount", t.Amount).
		Msg("transaction opened")

	uc.messaging.Announce(ctx, t, system)

	return t, nil
}

// replay returns the transaction created earlier under the same key, or
// nil if there is none.
func (uc *TransactionUseCase) replay(ctx context.Context, input OpenTransactionInput) (*domain.Transaction, error) {
	existing, err := uc.txRepo.GetByIdempotencyKey(ctx, input.BuyerID, input.IdempotencyKey)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if existing.SellerID != input.SellerID || existing.ListingRef != input.ListingRef || existing.Amount != input.Amount {
		return nil, domain.ErrIdempotencyKeyReused
	}
	return existing, nil
}

// Release pays the held amount, net of the method's fee, to the seller.
// Only the buyer may release. A second release fails with ErrNotPending
// and writes nothing.
func (uc *TransactionUseCase) Release(ctx context.Context, transactionID, requesterID, method string) (*domain.Transaction, error) {
	start := time.Now()
	defer uc.observeDuration("release", start)

	releaseMethod, err := uc.policy.ReleaseMethod(method)
	if err != nil {
		return nil, uc.fail("release", err)
	}

	var (
		t          *domain.Transaction
		settlement *domain.Settlement
		system     *domain.Message
	)
	err = inTx(ctx, uc.txManager, uc.retrier, func(ctx context.Context, tx Tx) error {
		var err error
		t, err = uc.txRepo.GetByIDForUpdate(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		if err := t.AuthorizeRelease(requesterID); err != nil {
			return err
		}

		settlement, system, err = uc.settle(ctx, tx, t, requesterID, releaseMethod, domain.AuditActionTransactionRelease)
		return err
	})
	if err != nil {
		return nil, uc.fail("release", err)
	}

	uc.afterRelease(ctx, t, settlement, system)
	return t, nil
}

// Cancel voids the hold and returns the funds to the buyer. Either
// participant may cancel a pending transaction.
func (uc *TransactionUseCase) Cancel(ctx context.Context, transactionID, requesterID string) (*domain.Transaction, error) {
	start := time.Now()
	defer uc.observeDuration("cancel", start)

	var (
		t          *domain.Transaction
		settlement *domain.Settlement
		system     *domain.Message
	)
	err := inTx(ctx, uc.txManager, uc.retrier, func(ctx context.Context, tx Tx) error {
		var err error
		t, err = uc.txRepo.GetByIDForUpdate(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		if err := t.AuthorizeCancel(requesterID); err != nil {
			return err
		}

		settlement, system, err = uc.refund(ctx, tx, t, requesterID, domain.AuditActionTransactionCancel)
		return err
	})
	if err != nil {
		return nil, uc.fail("cancel", err)
	}

	uc.afterCancel(ctx, t, settlement, system, "participant")
	return t, nil
}

// Dispute freezes a pending transaction until an arbiter resolves it.
// Funds stay held.
func (uc *TransactionUseCase) Dispute(ctx context.Context, transactionID, requesterID, reason string) (*domain.Transaction, error) {
	start := time.Now()
	defer uc.observeDuration("dispute", start)

	var (
		t      *domain.Transaction
		system *domain.Message
	)
	err := inTx(ctx, uc.txManager, uc.retrier, func(ctx context.Context, tx Tx) error {
		var err error
		t, err = uc.txRepo.GetByIDForUpdate(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		if err := t.AuthorizeDispute(requesterID); err != nil {
			return err
		}

		now := uc.now()
		if err := t.MarkDisputed(requesterID, reason, now); err != nil {
			return err
		}
		if err := uc.txRepo.Update(ctx, tx, t); err != nil {
			return err
		}
		if err := uc.record(ctx, tx, t, domain.EventTypeTransactionDisputed, domain.AuditActionTransactionDispute, now); err != nil {
			return err
		}

		system, err = uc.messaging.AppendSystem(ctx, tx, t.ID, systemNote(t, requesterID, nil))
		return err
	})
	if err != nil {
		return nil, uc.fail("dispute", err)
	}

	if uc.metrics != nil {
		uc.metrics.TransactionsDisputed.Inc()
	}
	uc.logger.Info().
		Str("transaction_id", t.ID).
		Str("disputed_by", requesterID).
		Msg("transaction disputed")

	uc.messaging.Announce(ctx, t, system)
	return t, nil
}

// ResolveInput is an arbiter's decision on a disputed transaction.
type ResolveInput struct {
	TransactionID string
	ActorID       string
	ActorRole     domain.Role
	Outcome       domain.Outcome
	// Method applies to release outcomes; empty uses the policy default.
	Method string
}

// Resolve settles a disputed transaction either way. Only arbiters and
// admins may resolve; participants never can, whatever their role.
func (uc *TransactionUseCase) Resolve(ctx context.Context, input ResolveInput) (*domain.Transaction, error) {
	start := time.Now()
	defer uc.observeDuration("resolve", start)

	if !input.ActorRole.CanResolveDisputes() {
		return nil, uc.fail("resolve", domain.ErrUnauthorized)
	}
	if _, err := domain.ParseOutcome(string(input.Outcome)); err != nil {
		return nil, uc.fail("resolve", err)
	}

	var method domain.PaymentMethod
	if input.Outcome == domain.OutcomeRelease {
		var err error
		if method, err = uc.policy.ReleaseMethod(input.Method); err != nil {
			return nil, uc.fail("resolve", err)
		}
	}

	var (
		t          *domain.Transaction
		settlement *domain.Settlement
		system     *domain.Message
	)
	err := inTx(ctx, uc.txManager, uc.retrier, func(ctx context.Context, tx Tx) error {
		var err error
		t, err = uc.txRepo.GetByIDForUpdate(ctx, tx, input.TransactionID)
		if err != nil {
			return err
		}
		if t.IsParticipant(input.ActorID) {
			return domain.ErrUnauthorized
		}
		if t.Status != domain.TransactionStatusDisputed {
			return domain.ErrNotDisputed
		}

		t.ResolvedBy = input.ActorID
		if input.Outcome == domain.OutcomeRelease {
			settlement, system, err = uc.settle(ctx, tx, t, input.ActorID, method, domain.AuditActionTransactionResolve)
		} else {
			settlement, system, err = uc.refund(ctx, tx, t, input.ActorID, domain.AuditActionTransactionResolve)
		}
		return err
	})
	if err != nil {
		return nil, uc.fail("resolve", err)
	}

	uc.logger.Info().
		Str("transaction_id", t.ID).
		Str("resolved_by", input.ActorID).
		Str("outcome", string(input.Outcome)).
		Msg("dispute resolved")

	if input.Outcome == domain.OutcomeRelease {
		uc.afterRelease(ctx, t, settlement, system)
	} else {
		uc.afterCancel(ctx, t, settlement, system, "arbiter")
	}
	return t, nil
}

// Expire cancels a pending transaction older than the policy's PendingTTL
// on behalf of the system. It is a no-op error when expiry is disabled.
func (uc *TransactionUseCase) Expire(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	start := time.Now()
	defer uc.observeDuration("expire", start)

	var (
		t          *domain.Transaction
		settlement *domain.Settlement
		system     *domain.Message
	)
	err := inTx(ctx, uc.txManager, uc.retrier, func(ctx context.Context, tx Tx) error {
		var err error
		t, err = uc.txRepo.GetByIDForUpdate(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		if t.Status != domain.TransactionStatusPending || !olderThan(t, uc.policy.PendingTTL, uc.now()) {
			return domain.ErrNotPending
		}

		settlement, system, err = uc.refund(ctx, tx, t, domain.SystemActorID, domain.AuditActionTransactionExpire)
		return err
	})
	if err != nil {
		return nil, uc.fail("expire", err)
	}

	uc.afterCancel(ctx, t, settlement, system, "system")
	return t, nil
}

// ExpireStale expires up to limit stale pending transactions and returns
// how many were cancelled. Transactions that changed state concurrently are
// skipped.
func (uc *TransactionUseCase) ExpireStale(ctx context.Context, limit int) (int, error) {
	if uc.policy.PendingTTL <= 0 {
		return 0, nil
	}

	stale, err := uc.txRepo.ListPendingBefore(ctx, uc.now().Add(-uc.policy.PendingTTL), limit)
	if err != nil {
		return 0, fmt.Errorf("list stale transactions: %w", err)
	}

	expired := 0
	for _, t := range stale {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		if _, err := uc.Expire(ctx, t.ID); err != nil {
			if !errors.Is(err, domain.ErrNotPending) {
				uc.logger.Warn().Err(err).Str("transaction_id", t.ID).Msg("failed to expire transaction")
			}
			continue
		}
		expired++
	}
	return expired, nil
}

// Get returns a transaction without authorization. Internal callers only.
func (uc *TransactionUseCase) Get(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	return uc.txRepo.GetByID(ctx, transactionID)
}

// GetForParticipant returns the transaction if requesterID is a participant.
// Arbiters and admins may read any transaction.
func (uc *TransactionUseCase) GetForParticipant(ctx context.Context, transactionID, requesterID string, role domain.Role) (*domain.Transaction, error) {
	t, err := uc.txRepo.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if !t.IsParticipant(requesterID) && !role.CanResolveDisputes() {
		return nil, domain.ErrUnauthorized
	}
	return t, nil
}

// List returns the requester's transactions, newest first.
func (uc *TransactionUseCase) List(ctx context.Context, filter domain.TransactionFilter) ([]*domain.Transaction, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, fmt.Errorf("invalid status filter %q", filter.Status)
	}
	if filter.Role != "" && filter.Role != "buyer" && filter.Role != "seller" {
		return nil, fmt.Errorf("invalid role filter %q", filter.Role)
	}
	filter.Limit, filter.Offset, _ = domain.ValidatePagination(filter.Limit, filter.Offset)
	return uc.txRepo.List(ctx, filter)
}

// settle releases the hold to the seller and completes the transaction.
func (uc *TransactionUseCase) settle(ctx context.Context, tx Tx, t *domain.Transaction, actorID string, method domain.PaymentMethod, action domain.AuditAction) (*domain.Settlement, *domain.Message, error) {
	settlement, err := uc.ledger.Release(ctx, tx, t.HoldID, t.SellerID, method)
	if err != nil {
		return nil, nil, err
	}

	now := uc.now()
	if err := t.MarkReleased(method, settlement.Fee, now); err != nil {
		return nil, nil, err
	}
	if err := uc.txRepo.Update(ctx, tx, t); err != nil {
		return nil, nil, err
	}
	if err := uc.record(ctx, tx, t, domain.EventTypeTransactionReleased, action, now); err != nil {
		return nil, nil, err
	}
	if err := uc.holdEvent(ctx, tx, t, domain.EventTypeHoldReleased, settlement, now); err != nil {
		return nil, nil, err
	}

	system, err := uc.messaging.AppendSystem(ctx, tx, t.ID, systemNote(t, actorID, settlement))
	if err != nil {
		return nil, nil, err
	}
	return settlement, system, nil
}

// refund voids the hold and cancels the transaction.
func (uc *TransactionUseCase) refund(ctx context.Context, tx Tx, t *domain.Transaction, actorID string, action domain.AuditAction) (*domain.Settlement, *domain.Message, error) {
	settlement, err := uc.ledger.Void(ctx, tx, t.HoldID)
	if err != nil {
		return nil, nil, err
	}

	now := uc.now()
	if err := t.MarkCancelled(actorID, now); err != nil {
		return nil, nil, err
	}
	if err := uc.txRepo.Update(ctx, tx, t); err != nil {
		return nil, nil, err
	}
	if err := uc.record(ctx, tx, t, domain.EventTypeTransactionCancelled, action, now); err != nil {
		return nil, nil, err
	}
	if err := uc.holdEvent(ctx, tx, t, domain.EventTypeHoldVoided, settlement, now); err != nil {
		return nil, nil, err
	}

	system, err := uc.messaging.AppendSystem(ctx, tx, t.ID, systemNote(t, actorID, nil))
	if err != nil {
		return nil, nil, err
	}
	return settlement, system, nil
}

// record writes the transaction's outbox event and audit row.
func (uc *TransactionUseCase) record(ctx context.Context, tx Tx, t *domain.Transaction, eventType string, action domain.AuditAction, now time.Time) error {
	event := domain.NewOutboxEvent(uc.idGen.Generate(), domain.AggregateTypeTransaction, t.ID,
		eventType, domain.TransactionPayload(t), now)
	if err := uc.outboxRepo.Create(ctx, tx, event); err != nil {
		return err
	}
	return writeAudit(ctx, tx, uc.auditRepo, uc.idGen, action, domain.AggregateTypeTransaction, t.ID, t, now)
}

func (uc *TransactionUseCase) holdEvent(ctx context.Context, tx Tx, t *domain.Transaction, eventType string, s *domain.Settlement, now time.Time) error {
	return uc.outboxRepo.Create(ctx, tx, domain.NewOutboxEvent(uc.idGen.Generate(),
		domain.AggregateTypeHold, t.HoldID, eventType, map[string]any{
			"hold_id":        t.HoldID,
			"transaction_id": t.ID,
			"gross":          s.Gross,
			"fee":            s.Fee,
			"net":            s.Net,
			"currency":       t.Currency,
		}, now))
}

func (uc *TransactionUseCase) afterRelease(ctx context.Context, t *domain.Transaction, s *domain.Settlement, system *domain.Message) {
	uc.ledger.observe(s)
	if uc.metrics != nil {
		uc.metrics.TransactionsReleased.Inc()
		uc.metrics.HoldsReleased.Inc()
	}
	uc.logger.Info().
		Str("transaction_id", t.ID).
		Str("method", string(t.ReleaseMethod)).
		Int64("fee", t.ReleaseFee).
		Msg("transaction released")

	uc.messaging.Announce(ctx, t, system)
}

func (uc *TransactionUseCase) afterCancel(ctx context.Context, t *domain.Transaction, s *domain.Settlement, system *domain.Message, actor string) {
	uc.ledger.observe(s)
	if uc.metrics != nil {
		uc.metrics.TransactionsCancelled.WithLabelValues(actor).Inc()
		uc.metrics.HoldsVoided.Inc()
	}
	uc.logger.Info().
		Str("transaction_id", t.ID).
		Str("cancelled_by", t.CancelledBy).
		Msg("transaction cancelled")

	uc.messaging.Announce(ctx, t, system)
}

func (uc *TransactionUseCase) observeDuration(operation string, start time.Time) {
	if uc.metrics != nil {
		uc.metrics.TransactionDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}

// fail counts a failed operation by error class and passes err through.
func (uc *TransactionUseCase) fail(operation string, err error) error {
	if uc.metrics != nil {
		uc.metrics.TransactionErrors.WithLabelValues(operation, domain.ErrorCode(err)).Inc()
	}
	return err
}
