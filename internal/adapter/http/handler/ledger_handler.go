package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/iho/goescrow/internal/adapter/http/dto"
	"github.com/iho/goescrow/internal/usecase"
)

// Reconciler audits the ledger against its postings.
type Reconciler interface {
	CheckLedgerConsistency(ctx context.Context) error
	ReconcileAccount(ctx context.Context, accountID string) (*usecase.ReconciliationResult, error)
	GenerateReconciliationReport(ctx context.Context) (*usecase.ReconciliationReport, error)
}

// LedgerHandler handles ledger-wide operations. Admin only.
type LedgerHandler struct {
	reconciler Reconciler
	logger     zerolog.Logger
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(reconciler Reconciler, logger zerolog.Logger) *LedgerHandler {
	return &LedgerHandler{reconciler: reconciler, logger: logger}
}

// CheckConsistency checks if the ledger is consistent.
func (h *LedgerHandler) CheckConsistency(w http.ResponseWriter, r *http.Request) {
	err := h.reconciler.CheckLedgerConsistency(r.Context())
	if err != nil {
		if errors.Is(err, usecase.ErrInconsistentLedger) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"status":     "inconsistent",
				"consistent": false,
				"message":    err.Error(),
			})
			return
		}
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "consistent",
		"consistent": true,
	})
}

// ReconcileAccount compares one account's balances with its postings.
func (h *LedgerHandler) ReconcileAccount(w http.ResponseWriter, r *http.Request) {
	result, err := h.reconciler.ReconcileAccount(r.Context(), chi.URLParam(r, "accountId"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.ReconciliationFromResult(result))
}

type reconciliationReportResponse struct {
	TotalAccounts      int                           `json:"total_accounts"`
	ReconciledAccounts int                           `json:"reconciled_accounts"`
	Discrepancies      []*dto.ReconciliationResponse `json:"discrepancies"`
	LedgerConsistent   bool                          `json:"ledger_consistent"`
	LedgerError        string                        `json:"ledger_error,omitempty"`
	CheckedAt          time.Time                     `json:"checked_at"`
}

// Report reconciles every account.
func (h *LedgerHandler) Report(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconciler.GenerateReconciliationReport(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	resp := reconciliationReportResponse{
		TotalAccounts:      report.TotalAccounts,
		ReconciledAccounts: report.ReconciledAccounts,
		Discrepancies:      make([]*dto.ReconciliationResponse, 0, len(report.Discrepancies)),
		LedgerConsistent:   report.LedgerConsistent,
		LedgerError:        report.LedgerError,
		CheckedAt:          report.CheckedAt,
	}
	for _, d := range report.Discrepancies {
		resp.Discrepancies = append(resp.Discrepancies, dto.ReconciliationFromResult(d))
	}

	if !report.LedgerConsistent || len(report.Discrepancies) > 0 {
		h.logger.Warn().
			Int("discrepancies", len(report.Discrepancies)).
			Bool("ledger_consistent", report.LedgerConsistent).
			Msg("reconciliation found problems")
	}
	writeJSON(w, http.StatusOK, resp)
}
