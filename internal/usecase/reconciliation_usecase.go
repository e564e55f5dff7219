package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrInconsistentLedger reports that postings or balances do not net out.
var ErrInconsistentLedger = errors.New("ledger inconsistency detected")

// ReconciliationUseCase rebuilds balances from postings and compares them
// with the materialised account rows.
type ReconciliationUseCase struct {
	accountRepo AccountRepository
	holdRepo    HoldRepository
	postingRepo PostingRepository
	ledgerRepo  LedgerRepository
	now         Clock
}

// NewReconciliationUseCase creates a new reconciliation use case
func NewReconciliationUseCase(
	accountRepo AccountRepository,
	holdRepo HoldRepository,
	postingRepo PostingRepository,
	ledgerRepo LedgerRepository,
) *ReconciliationUseCase {
	return &ReconciliationUseCase{
		accountRepo: accountRepo,
		holdRepo:    holdRepo,
		postingRepo: postingRepo,
		ledgerRepo:  ledgerRepo,
		now:         systemClock,
	}
}

// ReconciliationResult compares one account with its postings.
type ReconciliationResult struct {
	AccountID       string
	RecordedBalance int64
	PostedBalance   int64
	RecordedHeld    int64
	PostedHeld      int64
	ActiveHolds     int64
	IsReconciled    bool
	LastChecked     time.Time
}

// ReconcileAccount checks balance == Σ postings and held == Σ active holds
// for one account.
func (uc *ReconciliationUseCase) ReconcileAccount(ctx context.Context, accountID string) (*ReconciliationResult, error) {
	account, err := uc.accountRepo.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	balance, held, err := uc.postingRepo.SumByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("sum postings: %w", err)
	}

	activeHolds, err := uc.holdRepo.SumActiveByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("sum active holds: %w", err)
	}

	return &ReconciliationResult{
		AccountID:       accountID,
		RecordedBalance: account.Balance,
		PostedBalance:   balance,
		RecordedHeld:    account.Held,
		PostedHeld:      held,
		ActiveHolds:     activeHolds,
		IsReconciled:    account.Balance == balance && account.Held == held && held == activeHolds,
		LastChecked:     uc.now(),
	}, nil
}

// ReconcileAllAccounts reconciles every account, paging through the table.
func (uc *ReconciliationUseCase) ReconcileAllAccounts(ctx context.Context) ([]*ReconciliationResult, error) {
	const pageSize = 500

	var results []*ReconciliationResult
	for offset := 0; ; offset += pageSize {
		accounts, err := uc.accountRepo.List(ctx, pageSize, offset)
		if err != nil {
			return nil, err
		}

		for _, account := range accounts {
			result, err := uc.ReconcileAccount(ctx, account.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to reconcile account %s: %w", account.ID, err)
			}
			results = append(results, result)
		}

		if len(accounts) < pageSize {
			return results, nil
		}
	}
}

// CheckLedgerConsistency verifies that all postings sum to zero and that
// materialised balances sum to the same total.
func (uc *ReconciliationUseCase) CheckLedgerConsistency(ctx context.Context) error {
	postingSum, balanceSum, err := uc.ledgerRepo.Totals(ctx)
	if err != nil {
		return err
	}

	if postingSum != 0 {
		return fmt.Errorf("%w: postings sum to %d", ErrInconsistentLedger, postingSum)
	}
	if balanceSum != 0 {
		return fmt.Errorf("%w: balances sum to %d", ErrInconsistentLedger, balanceSum)
	}

	return nil
}

// ReconciliationReport represents a full reconciliation report
type ReconciliationReport struct {
	TotalAccounts      int
	ReconciledAccounts int
	Discrepancies      []*ReconciliationResult
	LedgerConsistent   bool
	LedgerError        string
	CheckedAt          time.Time
}

// GenerateReconciliationReport reconciles every account and the ledger totals.
func (uc *ReconciliationUseCase) GenerateReconciliationReport(ctx context.Context) (*ReconciliationReport, error) {
	results, err := uc.ReconcileAllAccounts(ctx)
	if err != nil {
		return nil, err
	}

	ledgerErr := uc.CheckLedgerConsistency(ctx)
	if ledgerErr != nil && !errors.Is(ledgerErr, ErrInconsistentLedger) {
		return nil, ledgerErr
	}

	report := &ReconciliationReport{
		TotalAccounts:    len(results),
		Discrepancies:    make([]*ReconciliationResult, 0),
		LedgerConsistent: ledgerErr == nil,
		CheckedAt:        uc.now(),
	}
	if ledgerErr != nil {
		report.LedgerError = ledgerErr.Error()
	}

	for _, result := range results {
		if result.IsReconciled {
			report.ReconciledAccounts++
		} else {
			report.Discrepancies = append(report.Discrepancies, result)
		}
	}

	return report, nil
}
