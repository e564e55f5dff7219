package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/iho/goescrow/internal/adapter/http/dto"
	"github.com/iho/goescrow/internal/adapter/http/middleware"
	"github.com/iho/goescrow/internal/domain"
	"github.com/iho/goescrow/internal/usecase"
)

// CheckoutService opens escrow transactions for listings.
type CheckoutService interface {
	Checkout(ctx context.Context, input usecase.CheckoutInput) (*domain.Transaction, error)
}

// TransactionService drives the escrow state machine.
type TransactionService interface {
	GetForParticipant(ctx context.Context, transactionID, requesterID string, role domain.Role) (*domain.Transaction, error)
	List(ctx context.Context, filter domain.TransactionFilter) ([]*domain.Transaction, error)
	Release(ctx context.Context, transactionID, requesterID, method string) (*domain.Transaction, error)
	Cancel(ctx context.Context, transactionID, requesterID string) (*domain.Transaction, error)
	Dispute(ctx context.Context, transactionID, requesterID, reason string) (*domain.Transaction, error)
	Resolve(ctx context.Context, input usecase.ResolveInput) (*domain.Transaction, error)
}

// TransactionHandler handles checkout and transaction lifecycle requests.
type TransactionHandler struct {
	checkout     CheckoutService
	transactions TransactionService
	logger       zerolog.Logger
}

// NewTransactionHandler creates a new TransactionHandler.
func NewTransactionHandler(checkout CheckoutService, transactions TransactionService, logger zerolog.Logger) *TransactionHandler {
	return &TransactionHandler{checkout: checkout, transactions: transactions, logger: logger}
}

// Checkout opens a transaction and holds the buyer's funds. The
// Idempotency-Key header doubles as the transaction's idempotency key.
func (h *TransactionHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req dto.CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	input, err := req.ToUseCaseInput(user.ID, middleware.IdempotencyKey(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	tx, err := h.checkout.Checkout(r.Context(), input)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, dto.CheckoutResponse{
		TransactionID: tx.ID,
		Transaction:   dto.TransactionFromDomain(tx),
	})
}

// List returns the requester's transactions filtered by role and status.
func (h *TransactionHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := domain.TransactionFilter{
		AccountID: user.ID,
		Role:      q.Get("role"),
		Status:    domain.TransactionStatus(q.Get("status")),
		Limit:     parseIntQuery(r, "limit", 20),
		Offset:    parseIntQuery(r, "offset", 0),
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		writeBadRequest(w, "unknown status filter")
		return
	}
	if filter.Role != "" && filter.Role != "buyer" && filter.Role != "seller" {
		writeBadRequest(w, "role must be buyer or seller")
		return
	}

	txs, err := h.transactions.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.TransactionsFromDomain(txs))
}

// Get returns one transaction to a participant or an arbiter.
func (h *TransactionHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	tx, err := h.transactions.GetForParticipant(r.Context(), chi.URLParam(r, "id"), user.ID, user.Role)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.TransactionFromDomain(tx))
}

// Release settles the escrow to the seller. Buyer only.
func (h *TransactionHandler) Release(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req dto.ReleaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	tx, err := h.transactions.Release(r.Context(), chi.URLParam(r, "id"), user.ID, req.Method)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.TransactionFromDomain(tx))
}

// Cancel voids the hold and refunds the buyer.
func (h *TransactionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	tx, err := h.transactions.Cancel(r.Context(), chi.URLParam(r, "id"), user.ID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.TransactionFromDomain(tx))
}

// Dispute freezes a pending transaction for an arbiter.
func (h *TransactionHandler) Dispute(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req dto.DisputeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	tx, err := h.transactions.Dispute(r.Context(), chi.URLParam(r, "id"), user.ID, req.Reason)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.TransactionFromDomain(tx))
}

// Resolve settles a disputed transaction either way.
func (h *TransactionHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req dto.ResolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	outcome, err := domain.ParseOutcome(req.Outcome)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	tx, err := h.transactions.Resolve(r.Context(), usecase.ResolveInput{
		TransactionID: chi.URLParam(r, "id"),
		ActorID:       user.ID,
		ActorRole:     user.Role,
		Outcome:       outcome,
		Method:        req.Method,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.TransactionFromDomain(tx))
}
