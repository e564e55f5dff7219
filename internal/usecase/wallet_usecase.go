package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/iho/goescrow/internal/domain"
	"github.com/iho/goescrow/internal/infrastructure/metrics"
)

// WalletUseCase handles top-ups through the payment gateway and payouts.
// A deposit is credited only after the gateway confirms it.
type WalletUseCase struct {
	txManager   TxManager
	retrier     Retrier
	depositRepo DepositRepository
	outboxRepo  OutboxRepository
	auditRepo   AuditRepository
	ledger      *LedgerUseCase
	gateway     PaymentGateway
	idGen       IDGenerator
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	now         Clock
}

func NewWalletUseCase(
	txManager TxManager,
	retrier Retrier,
	depositRepo DepositRepository,
	outboxRepo OutboxRepository,
	auditRepo AuditRepository,
	ledger *LedgerUseCase,
	gateway PaymentGateway,
	idGen IDGenerator,
	metrics *metrics.Metrics,
	logger zerolog.Logger,
) *WalletUseCase {
	return &WalletUseCase{
		txManager:   txManager,
		retrier:     retrier,
		depositRepo: depositRepo,
		outboxRepo:  outboxRepo,
		auditRepo:   auditRepo,
		ledger:      ledger,
		gateway:     gateway,
		idGen:       idGen,
		metrics:     metrics,
		logger:      logger.With().Str("component", "wallet").Logger(),
		now:         systemClock,
	}
}

// AccountSummary is a wallet view for its owner.
type AccountSummary struct {
	Account   *domain.Account
	Available int64
}

// Summary returns the account with its spendable balance. Accounts that
// never received funds read as empty wallets.
func (uc *WalletUseCase) Summary(ctx context.Context, accountID string) (*AccountSummary, error) {
	account, err := uc.ledger.GetAccount(ctx, accountID)
	if errors.Is(err, domain.ErrAccountNotFound) {
		account = domain.NewUserAccount(accountID, uc.ledger.Currency(), uc.now())
	} else if err != nil {
		return nil, err
	}
	return &AccountSummary{Account: account, Available: account.Available()}, nil
}

// InitiateDeposit records a pending deposit and opens a hosted checkout.
// The gateway call runs outside any database transaction.
func (uc *WalletUseCase) InitiateDeposit(ctx context.Context, accountID string, amount int64, method domain.PaymentMethod) (*domain.Deposit, error) {
	if err := domain.ValidateAmount(amount); err != nil {
		return nil, err
	}
	if amount < domain.MinDepositAmount {
		return nil, fmt.Errorf("%w: minimum deposit is %s", domain.ErrAmountTooSmall, domain.FormatMinor(domain.MinDepositAmount))
	}
	if method == domain.MethodWallet {
		return nil, fmt.Errorf("%w: cannot top up from wallet", domain.ErrInvalidMethod)
	}
	if uc.gateway == nil {
		return nil, domain.ErrGatewayUnavailable
	}

	now := uc.now()
	deposit := &domain.Deposit{
		ID:        uc.idGen.Generate(),
		AccountID: accountID,
		Amount:    amount,
		Fee:       uc.ledger.Fees().DepositFee(amount),
		Currency:  uc.ledger.Currency(),
		Method:    method,
		Status:    domain.DepositStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	session, err := uc.gateway.CreateCheckoutSession(ctx, CheckoutSessionInput{
		ReferenceID: deposit.ID,
		Amount:      amount,
		Currency:    deposit.Currency,
		Description: "Wallet top-up",
		Method:      method,
	})
	if err != nil {
		uc.logger.Warn().Err(err).Str("deposit_id", deposit.ID).Msg("checkout session failed")
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	deposit.CheckoutURL = session.CheckoutURL
	deposit.GatewayRef = session.ID

	if err := uc.depositRepo.Create(ctx, deposit); err != nil {
		return nil, err
	}

	if uc.metrics != nil {
		uc.metrics.DepositsInitiated.Inc()
	}
	uc.logger.Info().
		Str("deposit_id", deposit.ID).
		Str("account_id", accountID).
		Int64("amount", amount).
		Msg("deposit initiated")

	return deposit, nil
}

// ConfirmDeposit credits a pending deposit once. Repeated confirmations
// return the deposit unchanged with ErrDepositNotPending.
func (uc *WalletUseCase) ConfirmDeposit(ctx context.Context, depositID, gatewayRef string) (*domain.Deposit, error) {
	var (
		deposit    *domain.Deposit
		settlement *domain.Settlement
	)
	err := inTx(ctx, uc.txManager, uc.retrier, func(ctx context.Context, tx Tx) error {
		var err error
		deposit, err = uc.depositRepo.GetByIDForUpdate(ctx, tx, depositID)
		if err != nil {
			return err
		}

		now := uc.now()
		if err := deposit.Confirm(gatewayRef, now); err != nil {
			return err
		}

		settlement, err = uc.ledger.Deposit(ctx, tx, deposit.AccountID, deposit.Amount, deposit.ID)
		if err != nil {
			return err
		}
		deposit.Fee = settlement.Fee

		if err := uc.depositRepo.Update(ctx, tx, deposit); err != nil {
			return err
		}

		if err := uc.outboxRepo.Create(ctx, tx, domain.NewOutboxEvent(uc.idGen.Generate(),
			domain.AggregateTypeDeposit, deposit.ID, domain.EventTypeDepositConfirmed, depositPayload(deposit), now)); err != nil {
			return err
		}

		return writeAudit(ctx, tx, uc.auditRepo, uc.idGen, domain.AuditActionDepositConfirm, domain.AggregateTypeDeposit, deposit.ID, deposit, now)
	})
	if err != nil {
		return deposit, err
	}

	uc.ledger.observe(settlement)
	if uc.metrics != nil {
		uc.metrics.DepositsConfirmed.Inc()
	}
	uc.logger.Info().
		Str("deposit_id", deposit.ID).
		Str("account_id", deposit.AccountID).
		Int64("amount", deposit.Amount).
		Int64("fee", deposit.Fee).
		Msg("deposit confirmed")

	return deposit, nil
}

// FailDeposit marks a pending deposit failed. Nothing is posted.
func (uc *WalletUseCase) FailDeposit(ctx context.Context, depositID string) (*domain.Deposit, error) {
	var deposit *domain.Deposit
	err := inTx(ctx, uc.txManager, uc.retrier, func(ctx context.Context, tx Tx) error {
		var err error
		deposit, err = uc.depositRepo.GetByIDForUpdate(ctx, tx, depositID)
		if err != nil {
			return err
		}

		now := uc.now()
		if err := deposit.Fail(now); err != nil {
			return err
		}
		if err := uc.depositRepo.Update(ctx, tx, deposit); err != nil {
			return err
		}

		return uc.outboxRepo.Create(ctx, tx, domain.NewOutboxEvent(uc.idGen.Generate(),
			domain.AggregateTypeDeposit, deposit.ID, domain.EventTypeDepositFailed, depositPayload(deposit), now))
	})
	if err != nil {
		return deposit, err
	}

	if uc.metrics != nil {
		uc.metrics.DepositsFailed.Inc()
	}
	return deposit, nil
}

// GetDeposit returns a deposit owned by accountID.
func (uc *WalletUseCase) GetDeposit(ctx context.Context, accountID, depositID string) (*domain.Deposit, error) {
	deposit, err := uc.depositRepo.GetByID(ctx, depositID)
	if err != nil {
		return nil, err
	}
	if deposit.AccountID != accountID {
		return nil, domain.ErrDepositNotFound
	}
	return deposit, nil
}

func (uc *WalletUseCase) ListDeposits(ctx context.Context, accountID string, limit, offset int) ([]*domain.Deposit, error) {
	limit, offset, _ = domain.ValidatePagination(limit, offset)
	return uc.depositRepo.ListByAccount(ctx, accountID, limit, offset)
}

// Withdraw pays out to an external method.
func (uc *WalletUseCase) Withdraw(ctx context.Context, accountID string, amount int64, method domain.PaymentMethod) (*domain.Settlement, error) {
	settlement, err := uc.ledger.Withdraw(ctx, accountID, amount, method)
	if err != nil {
		return nil, err
	}
	uc.logger.Info().
		Str("withdrawal_id", settlement.ReferenceID).
		Str("account_id", accountID).
		Int64("amount", amount).
		Int64("fee", settlement.Fee).
		Msg("withdrawal completed")
	return settlement, nil
}

// History lists the account's postings, newest first.
func (uc *WalletUseCase) History(ctx context.Context, accountID string, limit, offset int) ([]*domain.Posting, error) {
	return uc.ledger.ListPostings(ctx, accountID, limit, offset)
}

// Holds lists escrow holds placed on the account, newest first.
func (uc *WalletUseCase) Holds(ctx context.Context, accountID string, limit, offset int) ([]*domain.Hold, error) {
	return uc.ledger.ListHolds(ctx, accountID, limit, offset)
}

// Fees returns the fee policy, for display.
func (uc *WalletUseCase) Fees() domain.FeeSchedule {
	return uc.ledger.Fees()
}

func depositPayload(d *domain.Deposit) map[string]any {
	return map[string]any{
		"deposit_id":  d.ID,
		"account_id":  d.AccountID,
		"amount":      d.Amount,
		"fee":         d.Fee,
		"currency":    d.Currency,
		"method":      string(d.Method),
		"status":      string(d.Status),
		"gateway_ref": d.GatewayRef,
	}
}
