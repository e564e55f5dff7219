package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/iho/goescrow/internal/adapter/http/dto"
	"github.com/iho/goescrow/internal/domain"
	"github.com/iho/goescrow/internal/usecase"
)

// MessagingService is the transaction conversation.
type MessagingService interface {
	Send(ctx context.Context, input usecase.SendMessageInput) (*domain.Message, error)
	History(ctx context.Context, transactionID, requesterID string, afterSeq int64, limit int) ([]*domain.Message, error)
	SenderNames(ctx context.Context, msgs []*domain.Message) map[string]string
}

// MessageHandler handles message send and history requests.
type MessageHandler struct {
	messaging MessagingService
	logger    zerolog.Logger
}

// NewMessageHandler creates a new MessageHandler.
func NewMessageHandler(messaging MessagingService, logger zerolog.Logger) *MessageHandler {
	return &MessageHandler{messaging: messaging, logger: logger}
}

// Send persists a message. A retry with the same client_token returns the
// stored message.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req dto.SendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	input, err := req.ToUseCaseInput(user.ID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	msg, err := h.messaging.Send(r.Context(), input)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	msgs := []*domain.Message{msg}
	writeJSON(w, http.StatusCreated, dto.MessagesFromDomain(msgs, h.messaging.SenderNames(r.Context(), msgs))[0])
}

// History returns the conversation ordered by sequence. "after" resumes
// from the last sequence the client has seen.
func (h *MessageHandler) History(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var after int64
	if raw := r.URL.Query().Get("after"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			writeBadRequest(w, "after must be a non-negative sequence number")
			return
		}
		after = parsed
	}

	msgs, err := h.messaging.History(r.Context(), chi.URLParam(r, "transactionId"), user.ID, after, parseIntQuery(r, "limit", 0))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.MessagesFromDomain(msgs, h.messaging.SenderNames(r.Context(), msgs)))
}
