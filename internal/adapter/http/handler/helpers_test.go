package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/iho/goescrow/internal/adapter/http/dto"
	"github.com/iho/goescrow/internal/domain"
)

func TestParseIntQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/transactions?limit=50", nil)
	if got := parseIntQuery(req, "limit", 10); got != 50 {
		t.Fatalf("expected limit=50, got %d", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/transactions?limit=invalid", nil)
	if got := parseIntQuery(req, "limit", 10); got != 10 {
		t.Fatalf("expected fallback to default, got %d", got)
	}

	req.URL = &url.URL{RawQuery: ""}
	if got := parseIntQuery(req, "limit", 25); got != 25 {
		t.Fatalf("expected default when missing, got %d", got)
	}
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", domain.ErrNotFound, http.StatusNotFound, domain.CodeNotFound},
		{"wrapped insufficient funds", fmt.Errorf("hold: %w", domain.ErrInsufficientFunds), http.StatusUnprocessableEntity, domain.CodeInsufficientFunds},
		{"frozen", domain.ErrTransactionFrozen, http.StatusConflict, domain.CodeTransactionFrozen},
		{"not participant", domain.ErrUnauthorized, http.StatusForbidden, domain.CodeUnauthorized},
		{"self purchase", domain.ErrSelfTransaction, http.StatusBadRequest, domain.CodeSelfTransaction},
		{"platform counterparty", domain.ErrReservedAccount, http.StatusBadRequest, domain.CodeReservedAccount},
		{"gateway down", domain.ErrGatewayUnavailable, http.StatusServiceUnavailable, domain.CodeGatewayUnavailable},
		{"unknown error", errors.New("pq: connection reset"), http.StatusInternalServerError, domain.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			rec := httptest.NewRecorder()
			writeError(rec, req, zerolog.Nop(), tt.err)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			var body dto.ErrorResponse
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Code != tt.wantCode {
				t.Fatalf("expected code %s, got %s", tt.wantCode, body.Code)
			}
			if strings.Contains(body.Error, "pq:") {
				t.Fatalf("internal detail leaked: %q", body.Error)
			}
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	var req dto.ResolveRequest
	r := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{"outcome":"refund"}`))
	if err := decodeJSON(r, &req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Outcome != "refund" {
		t.Fatalf("expected refund, got %q", req.Outcome)
	}

	r = httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{"outcome":"split"}`))
	if err := decodeJSON(r, &dto.ResolveRequest{}); err == nil {
		t.Fatal("expected validation error")
	}

	r = httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{not json`))
	if err := decodeJSON(r, &dto.ResolveRequest{}); err == nil {
		t.Fatal("expected decode error")
	}

	r = httptest.NewRequest(http.MethodPost, "/x", nil)
	if err := decodeJSON(r, &dto.DisputeRequest{}); err != nil {
		t.Fatalf("empty body should decode as zero value, got %v", err)
	}
}

func TestCurrentUser_Missing(t *testing.T) {
	rec := httptest.NewRecorder()
	if _, ok := currentUser(rec, httptest.NewRequest(http.MethodGet, "/x", nil)); ok {
		t.Fatal("expected no user")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
