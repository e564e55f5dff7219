package usecase_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/iho/goescrow/internal/domain"
	"github.com/iho/goescrow/internal/usecase"
)

type stubLedgerRepository struct {
	totalsFn func(ctx context.Context) (int64, int64, error)
}

func (s *stubLedgerRepository) Totals(ctx context.Context) (int64, int64, error) {
	return s.totalsFn(ctx)
}

func TestReconciliationUseCase_CheckLedgerConsistency(t *testing.T) {
	tests := []struct {
		name       string
		postingSum int64
		balanceSum int64
		repoErr    error
		wantErr    string
	}{
		{name: "consistent"},
		{name: "postings do not net out", postingSum: 5, balanceSum: 5, wantErr: "postings sum to 5"},
		{name: "balances drifted", balanceSum: -3, wantErr: "balances sum to -3"},
		{name: "repository error", repoErr: errors.New("db down"), wantErr: "db down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &stubLedgerRepository{totalsFn: func(context.Context) (int64, int64, error) {
				return tt.postingSum, tt.balanceSum, tt.repoErr
			}}
			uc := usecase.NewReconciliationUseCase(nil, nil, nil, repo)

			err := uc.CheckLedgerConsistency(context.Background())
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestReconciliationUseCase_DetectsDrift(t *testing.T) {
	e := newEscrow(t, freeDeposits(), usecase.DefaultEscrowPolicy())
	e.fund(t, buyer, 5000)
	e.open(t, buyer, seller, 2000)
	ctx := context.Background()

	result, err := e.recon.ReconcileAccount(ctx, buyer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsReconciled {
		t.Fatalf("expected reconciled account, got %+v", result)
	}
	if result.PostedHeld != 2000 || result.ActiveHolds != 2000 {
		t.Errorf("expected 2000 held, got posted=%d active=%d", result.PostedHeld, result.ActiveHolds)
	}

	// Corrupt the materialised balance behind the ledger's back.
	tx, err := e.store.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	acc := e.account(t, buyer)
	acc.Balance += 1
	if err := e.accounts.UpdateBalances(ctx, tx, acc); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	report, err := e.recon.GenerateReconciliationReport(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.LedgerConsistent {
		t.Error("expected ledger to be inconsistent")
	}
	if len(report.Discrepancies) != 1 || report.Discrepancies[0].AccountID != buyer {
		t.Fatalf("expected one discrepancy for %s, got %+v", buyer, report.Discrepancies)
	}
	if report.TotalAccounts != report.ReconciledAccounts+1 {
		t.Errorf("expected all other accounts reconciled, got %d/%d", report.ReconciledAccounts, report.TotalAccounts)
	}
}

func TestReconciliationUseCase_UnknownAccount(t *testing.T) {
	e := newEscrow(t, freeDeposits(), usecase.DefaultEscrowPolicy())
	_, err := e.recon.ReconcileAccount(context.Background(), "acc-ghost")
	if !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}
