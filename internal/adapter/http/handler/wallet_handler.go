package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/iho/goescrow/internal/adapter/http/dto"
	"github.com/iho/goescrow/internal/domain"
	"github.com/iho/goescrow/internal/usecase"
)

// WalletService covers balances, top-ups and payouts.
type WalletService interface {
	Summary(ctx context.Context, accountID string) (*usecase.AccountSummary, error)
	History(ctx context.Context, accountID string, limit, offset int) ([]*domain.Posting, error)
	Holds(ctx context.Context, accountID string, limit, offset int) ([]*domain.Hold, error)
	InitiateDeposit(ctx context.Context, accountID string, amount int64, method domain.PaymentMethod) (*domain.Deposit, error)
	GetDeposit(ctx context.Context, accountID, depositID string) (*domain.Deposit, error)
	ListDeposits(ctx context.Context, accountID string, limit, offset int) ([]*domain.Deposit, error)
	Withdraw(ctx context.Context, accountID string, amount int64, method domain.PaymentMethod) (*domain.Settlement, error)
	Fees() domain.FeeSchedule
}

// WalletHandler handles the authenticated user's wallet.
type WalletHandler struct {
	wallet WalletService
	logger zerolog.Logger
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(wallet WalletService, logger zerolog.Logger) *WalletHandler {
	return &WalletHandler{wallet: wallet, logger: logger}
}

// Get returns the balance, held and available amounts.
func (h *WalletHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	summary, err := h.wallet.Summary(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.WalletFromSummary(summary))
}

// Postings lists ledger postings on the wallet.
func (h *WalletHandler) Postings(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	postings, err := h.wallet.History(r.Context(), user.ID, parseIntQuery(r, "limit", 50), parseIntQuery(r, "offset", 0))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.PostingsFromDomain(postings))
}

// Holds lists escrow holds on the wallet.
func (h *WalletHandler) Holds(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	holds, err := h.wallet.Holds(r.Context(), user.ID, parseIntQuery(r, "limit", 50), parseIntQuery(r, "offset", 0))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.HoldsFromDomain(holds))
}

// Fees publishes the fee schedule.
func (h *WalletHandler) Fees(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, dto.FeeScheduleFromDomain(h.wallet.Fees()))
}

// CreateDeposit opens a hosted checkout for a top-up. The wallet is
// credited when the gateway webhook confirms payment.
func (h *WalletHandler) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req dto.WalletRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	amount, method, err := req.Parse()
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	deposit, err := h.wallet.InitiateDeposit(r.Context(), user.ID, amount, method)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, dto.DepositFromDomain(deposit))
}

// ListDeposits lists the user's deposits, newest first.
func (h *WalletHandler) ListDeposits(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	deposits, err := h.wallet.ListDeposits(r.Context(), user.ID, parseIntQuery(r, "limit", 20), parseIntQuery(r, "offset", 0))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.DepositsFromDomain(deposits))
}

// GetDeposit returns one of the user's deposits.
func (h *WalletHandler) GetDeposit(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	deposit, err := h.wallet.GetDeposit(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.DepositFromDomain(deposit))
}

// Withdraw pays out of the wallet. The fee is charged on top of amount.
func (h *WalletHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req dto.WalletRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	amount, method, err := req.Parse()
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	settlement, err := h.wallet.Withdraw(r.Context(), user.ID, amount, method)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, dto.WithdrawalFromSettlement(settlement, method))
}
