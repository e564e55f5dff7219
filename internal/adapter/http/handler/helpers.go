package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/iho/goescrow/internal/adapter/http/dto"
	"github.com/iho/goescrow/internal/domain"
)

// CodeInvalidRequest marks bodies or parameters that failed to decode or
// validate.
const CodeInvalidRequest = "INVALID_REQUEST"

const maxBodyBytes = 1 << 20

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeBadRequest reports a malformed or invalid request. The message is
// derived from client input only.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{
		Code:    CodeInvalidRequest,
		Error:   "invalid request",
		Message: message,
	})
}

// writeError maps err to its boundary code and status. Unknown errors are
// logged and answered with a generic body.
func writeError(w http.ResponseWriter, r *http.Request, logger zerolog.Logger, err error) {
	code := domain.ErrorCode(err)
	status := statusForCode(code)
	if status >= http.StatusInternalServerError {
		logger.Error().
			Err(err).
			Str("request_id", chimw.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	writeJSON(w, status, dto.ErrorResponse{
		Code:  code,
		Error: domain.PublicMessage(err),
	})
}

// statusForCode maps boundary error codes to HTTP status codes.
func statusForCode(code string) int {
	switch code {
	case domain.CodeInvalidAmount, domain.CodeInvalidCurrency, domain.CodeSelfTransaction, domain.CodeReservedAccount,
		domain.CodeInvalidMessage, domain.CodeInvalidMethod, domain.CodeInvalidOutcome:
		return http.StatusBadRequest
	case domain.CodeInsufficientFunds:
		return http.StatusUnprocessableEntity
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeNotPending, domain.CodeTransactionFrozen, domain.CodeNotDisputed,
		domain.CodeHoldNotActive, domain.CodeDepositNotPending, domain.CodeIdempotencyConflict,
		domain.CodeListingUnavailable:
		return http.StatusConflict
	case domain.CodeUnauthorized, domain.CodeSenderNotParticipant:
		return http.StatusForbidden
	case domain.CodeUnauthenticated:
		return http.StatusUnauthorized
	case domain.CodeGatewayUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON decodes a size-limited body into dst and runs its validation
// tags. An empty body decodes as the zero value.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("malformed JSON body: %w", err)
	}
	return dto.Validate(dst)
}

// currentUser returns the authenticated user or writes 401.
func currentUser(w http.ResponseWriter, r *http.Request) (*domain.User, bool) {
	user, ok := domain.UserFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, dto.ErrorResponse{
			Code:  domain.CodeUnauthenticated,
			Error: domain.PublicMessage(domain.ErrUnauthenticated),
		})
		return nil, false
	}
	return user, true
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultValue int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}
	return i
}
