package usecase

import (
	"context"
	"fmt"
	"sort"

	"github.com/iho/goescrow/internal/domain"
	"github.com/iho/goescrow/internal/infrastructure/metrics"
)

// LedgerUseCase is the only writer of balances. Escrow operations (Hold,
// Release, Void, Deposit) run inside the caller's database transaction so
// they commit or roll back together with the caller's state change.
type LedgerUseCase struct {
	txManager   TxManager
	retrier     Retrier
	accountRepo AccountRepository
	holdRepo    HoldRepository
	postingRepo PostingRepository
	outboxRepo  OutboxRepository
	auditRepo   AuditRepository
	idGen       IDGenerator
	fees        domain.FeeSchedule
	currency    string
	metrics     *metrics.Metrics
	now         Clock
}

func NewLedgerUseCase(
	txManager TxManager,
	retrier Retrier,
	accountRepo AccountRepository,
	holdRepo HoldRepository,
	postingRepo PostingRepository,
	outboxRepo OutboxRepository,
	auditRepo AuditRepository,
	idGen IDGenerator,
	fees domain.FeeSchedule,
	currency string,
	metrics *metrics.Metrics,
) *LedgerUseCase {
	return &LedgerUseCase{
		txManager:   txManager,
		retrier:     retrier,
		accountRepo: accountRepo,
		holdRepo:    holdRepo,
		postingRepo: postingRepo,
		outboxRepo:  outboxRepo,
		auditRepo:   auditRepo,
		idGen:       idGen,
		fees:        fees,
		currency:    currency,
		metrics:     metrics,
		now:         systemClock,
	}
}

// Currency is the settlement currency of the ledger.
func (uc *LedgerUseCase) Currency() string { return uc.currency }

// Fees returns the fee policy in force.
func (uc *LedgerUseCase) Fees() domain.FeeSchedule { return uc.fees }

// Bootstrap creates the platform accounts if they are missing.
func (uc *LedgerUseCase) Bootstrap(ctx context.Context) error {
	return inTx(ctx, uc.txManager, uc.retrier, func(ctx context.Context, tx Tx) error {
		for _, acc := range domain.SystemAccounts(uc.currency, uc.now()) {
			if err := uc.accountRepo.Ensure(ctx, tx, acc); err != nil {
				return fmt.Errorf("ensure %s: %w", acc.ID, err)
			}
		}
		return nil
	})
}

// EnsureAccount creates an empty wallet for accountID if none exists.
func (uc *LedgerUseCase) EnsureAccount(ctx context.Context, tx Tx, accountID string) error {
	return uc.accountRepo.Ensure(ctx, tx, domain.NewUserAccount(accountID, uc.currency, uc.now()))
}

// Hold reserves amount of the account's available balance for a transaction.
func (uc *LedgerUseCase) Hold(ctx context.Context, tx Tx, transactionID, accountID string, amount int64) (*domain.Hold, error) {
	if err := domain.ValidateAmount(amount); err != nil {
		return nil, err
	}
	if err := uc.EnsureAccount(ctx, tx, accountID); err != nil {
		return nil, err
	}

	now := uc.now()
	hold := &domain.Hold{
		ID:            uc.idGen.Generate(),
		TransactionID: transactionID,
		AccountID:     accountID,
		Amount:        amount,
		Currency:      uc.currency,
		Status:        domain.HoldStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	journal := domain.NewJournal(domain.ReferenceTransaction, transactionID, uc.currency).
		Move(domain.PostingKindHold, accountID, domain.BucketAvailable, accountID, domain.BucketHeld, amount)
	journal.HoldID = hold.ID

	if _, err := uc.post(ctx, tx, journal, amount); err != nil {
		return nil, err
	}

	if err := uc.holdRepo.Create(ctx, tx, hold); err != nil {
		return nil, err
	}

	return hold, nil
}

// Release settles an active hold: the buyer's held funds are closed, the
// payee receives the amount net of the method's fee and the fee goes to
// the platform fee account.
func (uc *LedgerUseCase) Release(ctx context.Context, tx Tx, holdID, payeeID string, method domain.PaymentMethod) (*domain.Settlement, error) {
	hold, err := uc.lockActiveHold(ctx, tx, holdID)
	if err != nil {
		return nil, err
	}

	fee, err := uc.fees.ReleaseFee(hold.Amount, method)
	if err != nil {
		return nil, err
	}
	net := hold.Amount - fee

	if err := uc.EnsureAccount(ctx, tx, payeeID); err != nil {
		return nil, err
	}

	journal := domain.NewJournal(domain.ReferenceTransaction, hold.TransactionID, hold.Currency).
		Debit(domain.PostingKindSettlement, hold.AccountID, domain.BucketHeld, hold.Amount).
		Credit(domain.PostingKindSettlement, payeeID, domain.BucketAvailable, net).
		Credit(domain.PostingKindFee, domain.FeeAccountID, domain.BucketAvailable, fee)
	journal.HoldID = hold.ID

	postings, err := uc.post(ctx, tx, journal, 0)
	if err != nil {
		return nil, err
	}

	if err := uc.holdRepo.UpdateStatus(ctx, tx, hold.ID, domain.HoldStatusReleased, uc.now()); err != nil {
		return nil, err
	}

	return &domain.Settlement{
		ReferenceType: domain.ReferenceTransaction,
		ReferenceID:   hold.TransactionID,
		Gross:         hold.Amount,
		Fee:           fee,
		Net:           net,
		Postings:      postings,
	}, nil
}

// Void returns held funds to the buyer's available balance.
func (uc *LedgerUseCase) Void(ctx context.Context, tx Tx, holdID string) (*domain.Settlement, error) {
	hold, err := uc.lockActiveHold(ctx, tx, holdID)
	if err != nil {
		return nil, err
	}

	journal := domain.NewJournal(domain.ReferenceTransaction, hold.TransactionID, hold.Currency).
		Move(domain.PostingKindVoid, hold.AccountID, domain.BucketHeld, hold.AccountID, domain.BucketAvailable, hold.Amount)
	journal.HoldID = hold.ID

	postings, err := uc.post(ctx, tx, journal, 0)
	if err != nil {
		return nil, err
	}

	if err := uc.holdRepo.UpdateStatus(ctx, tx, hold.ID, domain.HoldStatusVoided, uc.now()); err != nil {
		return nil, err
	}

	return &domain.Settlement{
		ReferenceType: domain.ReferenceTransaction,
		ReferenceID:   hold.TransactionID,
		Gross:         hold.Amount,
		Net:           hold.Amount,
		Postings:      postings,
	}, nil
}

// Deposit credits a confirmed gateway payment. The gross amount and the
// deposit fee are written as separate lines.
func (uc *LedgerUseCase) Deposit(ctx context.Context, tx Tx, accountID string, amount int64, depositID string) (*domain.Settlement, error) {
	if err := domain.ValidateAmount(amount); err != nil {
		return nil, err
	}
	if err := uc.EnsureAccount(ctx, tx, accountID); err != nil {
		return nil, err
	}

	fee := uc.fees.DepositFee(amount)
	journal := domain.NewJournal(domain.ReferenceDeposit, depositID, uc.currency).
		Move(domain.PostingKindDeposit, domain.GatewayAccountID, domain.BucketAvailable, accountID, domain.BucketAvailable, amount).
		Move(domain.PostingKindFee, accountID, domain.BucketAvailable, domain.FeeAccountID, domain.BucketAvailable, fee)

	postings, err := uc.post(ctx, tx, journal, 0)
	if err != nil {
		return nil, err
	}

	return &domain.Settlement{
		ReferenceType: domain.ReferenceDeposit,
		ReferenceID:   depositID,
		Gross:         amount,
		Fee:           fee,
		Net:           amount - fee,
		Postings:      postings,
	}, nil
}

// Withdraw pays amount out to an external method. The withdrawal fee is
// charged on top, so available must cover amount plus fee.
func (uc *LedgerUseCase) Withdraw(ctx context.Context, accountID string, amount int64, method domain.PaymentMethod) (*domain.Settlement, error) {
	if err := domain.ValidateAmount(amount); err != nil {
		return nil, err
	}
	if method == domain.MethodWallet {
		return nil, fmt.Errorf("%w: cannot withdraw to wallet", domain.ErrInvalidMethod)
	}

	fee := uc.fees.WithdrawalFee(amount)
	withdrawalID := uc.idGen.Generate()

	var settlement *domain.Settlement
	err := inTx(ctx, uc.txManager, uc.retrier, func(ctx context.Context, tx Tx) error {
		journal := domain.NewJournal(domain.ReferenceWithdrawal, withdrawalID, uc.currency).
			Move(domain.PostingKindWithdrawal, accountID, domain.BucketAvailable, domain.GatewayAccountID, domain.BucketAvailable, amount).
			Move(domain.PostingKindFee, accountID, domain.BucketAvailable, domain.FeeAccountID, domain.BucketAvailable, fee)

		postings, err := uc.post(ctx, tx, journal, amount+fee)
		if err != nil {
			return err
		}

		settlement = &domain.Settlement{
			ReferenceType: domain.ReferenceWithdrawal,
			ReferenceID:   withdrawalID,
			Gross:         amount,
			Fee:           fee,
			Net:           amount,
			Postings:      postings,
		}

		now := uc.now()
		event := domain.NewOutboxEvent(uc.idGen.Generate(), domain.AggregateTypeWithdrawal, withdrawalID,
			domain.EventTypeWithdrawalCompleted, map[string]any{
				"withdrawal_id": withdrawalID,
				"account_id":    accountID,
				"amount":        amount,
				"fee":           fee,
				"method":        string(method),
				"currency":      uc.currency,
			}, now)
		if err := uc.outboxRepo.Create(ctx, tx, event); err != nil {
			return err
		}

		return writeAudit(ctx, tx, uc.auditRepo, uc.idGen, domain.AuditActionWithdraw, "withdrawal", withdrawalID, settlement, now)
	})
	if err != nil {
		return nil, err
	}

	uc.observe(settlement)
	if uc.metrics != nil {
		uc.metrics.WithdrawalsCompleted.Inc()
	}

	return settlement, nil
}

// GetAccount returns the wallet, or ErrAccountNotFound.
func (uc *LedgerUseCase) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	return uc.accountRepo.GetByID(ctx, accountID)
}

func (uc *LedgerUseCase) ListPostings(ctx context.Context, accountID string, limit, offset int) ([]*domain.Posting, error) {
	limit, offset, _ = domain.ValidatePagination(limit, offset)
	return uc.postingRepo.ListByAccount(ctx, accountID, limit, offset)
}

func (uc *LedgerUseCase) ListHolds(ctx context.Context, accountID string, limit, offset int) ([]*domain.Hold, error) {
	limit, offset, _ = domain.ValidatePagination(limit, offset)
	return uc.holdRepo.ListByAccount(ctx, accountID, limit, offset)
}

func (uc *LedgerUseCase) lockActiveHold(ctx context.Context, tx Tx, holdID string) (*domain.Hold, error) {
	hold, err := uc.holdRepo.GetByIDForUpdate(ctx, tx, holdID)
	if err != nil {
		return nil, err
	}
	if hold.Status != domain.HoldStatusActive {
		return nil, domain.ErrHoldNotActive
	}
	return hold, nil
}

// post locks every account touched by the journal in id order, applies the
// postings and persists both. When debit > 0 the first account of the
// journal must have that much available before anything is applied.
func (uc *LedgerUseCase) post(ctx context.Context, tx Tx, journal *domain.Journal, debit int64) ([]*domain.Posting, error) {
	if err := journal.Validate(); err != nil {
		return nil, err
	}

	ids := journal.AccountIDs()
	payer := ids[0]
	sort.Strings(ids)

	accounts, err := uc.accountRepo.GetByIDsForUpdate(ctx, tx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*domain.Account, len(accounts))
	for _, acc := range accounts {
		byID[acc.ID] = acc
	}
	for _, id := range ids {
		if byID[id] == nil {
			return nil, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, id)
		}
	}

	if debit > 0 {
		if err := byID[payer].ValidateDebit(debit); err != nil {
			return nil, err
		}
	}

	now := uc.now()
	for _, p := range journal.Postings {
		p.ID = uc.idGen.Generate()
		p.Currency = journal.Currency
		p.ReferenceType = journal.ReferenceType
		p.ReferenceID = journal.ReferenceID
		p.HoldID = journal.HoldID
		p.CreatedAt = now
		if err := byID[p.AccountID].Apply(p, now); err != nil {
			return nil, err
		}
	}

	for _, id := range ids {
		if err := uc.accountRepo.UpdateBalances(ctx, tx, byID[id]); err != nil {
			return nil, err
		}
	}

	if err := uc.postingRepo.Create(ctx, tx, journal.Postings); err != nil {
		return nil, err
	}

	return journal.Postings, nil
}

// observe records committed postings.
func (uc *LedgerUseCase) observe(s *domain.Settlement) {
	if uc.metrics == nil || s == nil {
		return
	}
	for _, p := range s.Postings {
		uc.metrics.PostingsWritten.WithLabelValues(string(p.Kind)).Inc()
	}
	if s.Fee > 0 {
		uc.metrics.FeesCollected.WithLabelValues(string(s.ReferenceType)).Add(float64(s.Fee))
	}
}
