package handler

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/iho/goescrow/internal/adapter/http/dto"
	"github.com/iho/goescrow/internal/domain"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "X-Signature"

// DepositSettler finalises deposits from gateway callbacks.
type DepositSettler interface {
	ConfirmDeposit(ctx context.Context, depositID, gatewayRef string) (*domain.Deposit, error)
	FailDeposit(ctx context.Context, depositID string) (*domain.Deposit, error)
}

// WebhookHandler receives payment gateway callbacks.
type WebhookHandler struct {
	deposits DepositSettler
	secret   []byte
	logger   zerolog.Logger
}

// NewWebhookHandler creates a new WebhookHandler. An empty secret rejects
// every callback.
func NewWebhookHandler(deposits DepositSettler, secret string, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		deposits: deposits,
		secret:   []byte(secret),
		logger:   logger.With().Str("component", "payment_webhook").Logger(),
	}
}

// Payment applies a paid, failed or expired checkout outcome. Deliveries
// for deposits that are no longer pending are acknowledged without effect.
func (h *WebhookHandler) Payment(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeBadRequest(w, "unreadable body")
		return
	}
	if !h.verify(body, r.Header.Get(SignatureHeader)) {
		h.logger.Warn().Str("remote_addr", r.RemoteAddr).Msg("webhook signature rejected")
		writeJSON(w, http.StatusUnauthorized, dto.ErrorResponse{
			Code:  domain.CodeUnauthenticated,
			Error: "invalid signature",
		})
		return
	}

	var event dto.PaymentWebhook
	r.Body = io.NopCloser(bytes.NewReader(body))
	if err := decodeJSON(r, &event); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	var deposit *domain.Deposit
	switch event.Event {
	case dto.PaymentEventPaid:
		deposit, err = h.deposits.ConfirmDeposit(r.Context(), event.ReferenceID, event.PaymentID)
	default:
		deposit, err = h.deposits.FailDeposit(r.Context(), event.ReferenceID)
	}

	switch {
	case errors.Is(err, domain.ErrDepositNotPending):
		h.logger.Info().
			Str("deposit_id", event.ReferenceID).
			Str("event", event.Event).
			Msg("duplicate webhook ignored")
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
	case err != nil:
		writeError(w, r, h.logger, err)
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "processed",
			"deposit": dto.DepositFromDomain(deposit),
		})
	}
}

func (h *WebhookHandler) verify(body []byte, signature string) bool {
	if len(h.secret) == 0 || signature == "" {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(got, Sign(h.secret, body))
}

// Sign returns the HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}
