package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/iho/goescrow/internal/domain"
	"github.com/iho/goescrow/internal/infrastructure/auth"
	"github.com/iho/goescrow/internal/infrastructure/metrics"
)

func TestAuthMiddleware(t *testing.T) {
	jwtManager := auth.NewJWTManager("secret", time.Minute)
	token, err := jwtManager.Generate(&domain.User{ID: "buyer", Role: domain.RoleUser})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantReason string
	}{
		{name: "valid token", header: "Bearer " + token, wantStatus: http.StatusOK},
		{name: "lowercase scheme", header: "bearer " + token, wantStatus: http.StatusOK},
		{name: "missing header", wantStatus: http.StatusUnauthorized, wantReason: "missing_token"},
		{name: "basic auth", header: "Basic Zm9vOmJhcg==", wantStatus: http.StatusUnauthorized, wantReason: "malformed_header"},
		{name: "forged token", header: "Bearer forged", wantStatus: http.StatusUnauthorized, wantReason: "invalid_token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metrics.New(prometheus.NewRegistry())
			var seen *domain.User
			h := AuthMiddleware(jwtManager, m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen, _ = GetUserFromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/wallet", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rr.Code)
			}
			if tt.wantReason == "" {
				if seen == nil || seen.ID != "buyer" {
					t.Fatalf("expected user in context, got %+v", seen)
				}
				return
			}
			if got := testutil.ToFloat64(m.AuthFailures.WithLabelValues(tt.wantReason)); got != 1 {
				t.Fatalf("expected auth failure %q to be counted, got %v", tt.wantReason, got)
			}
		})
	}
}

type authenticatorFunc func(string) (*domain.User, error)

func (f authenticatorFunc) Authenticate(token string) (*domain.User, error) { return f(token) }

func TestAuthMiddlewareRejectsPlatformSubject(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	authn := authenticatorFunc(func(string) (*domain.User, error) {
		return &domain.User{ID: domain.GatewayAccountID, Role: domain.RoleAdmin}, nil
	})
	called := false
	h := AuthMiddleware(authn, m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/wallet/withdraw", nil)
	req.Header.Set("Authorization", "Bearer anything")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized || called {
		t.Fatalf("expected 401 without reaching the handler, got %d (called=%v)", rr.Code, called)
	}
	if got := testutil.ToFloat64(m.AuthFailures.WithLabelValues("reserved_subject")); got != 1 {
		t.Fatalf("expected reserved_subject failure to be counted, got %v", got)
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name       string
		user       *domain.User
		wantStatus int
	}{
		{name: "admin", user: &domain.User{ID: "a", Role: domain.RoleAdmin}, wantStatus: http.StatusOK},
		{name: "arbiter", user: &domain.User{ID: "b", Role: domain.RoleArbiter}, wantStatus: http.StatusForbidden},
		{name: "anonymous", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
			req := httptest.NewRequest(http.MethodGet, "/api/v1/ledger/consistency", nil)
			if tt.user != nil {
				req = req.WithContext(domain.ContextWithUser(req.Context(), tt.user))
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rr.Code)
			}
		})
	}
}
