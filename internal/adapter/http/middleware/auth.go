package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/iho/goescrow/internal/domain"
	"github.com/iho/goescrow/internal/infrastructure/metrics"
)

// Authenticator turns a bearer token into a principal.
type Authenticator interface {
	Authenticate(token string) (*domain.User, error)
}

// AuthMiddleware requires a valid bearer token and stores the user in the
// request context.
func AuthMiddleware(authn Authenticator, m *metrics.Metrics) func(http.Handler) http.Handler {
	fail := func(w http.ResponseWriter, reason string, err error) {
		if m != nil {
			m.AuthFailures.WithLabelValues(reason).Inc()
		}
		writeError(w, http.StatusUnauthorized, domain.CodeUnauthenticated, domain.PublicMessage(err))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				fail(w, "missing_token", domain.ErrUnauthenticated)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				fail(w, "malformed_header", domain.ErrUnauthenticated)
				return
			}

			user, err := authn.Authenticate(strings.TrimSpace(parts[1]))
			if err != nil {
				reason := "invalid_token"
				if err == domain.ErrExpiredToken {
					reason = "expired_token"
				}
				fail(w, reason, err)
				return
			}
			if domain.IsSystemAccountID(user.ID) {
				fail(w, "reserved_subject", domain.ErrInvalidToken)
				return
			}

			ctx := domain.ContextWithUser(r.Context(), user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects users whose role does not satisfy allowed.
func RequireRole(allowed func(domain.Role) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := domain.UserFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, domain.CodeUnauthenticated, domain.PublicMessage(domain.ErrUnauthenticated))
				return
			}
			if !allowed(user.Role) {
				writeError(w, http.StatusForbidden, domain.CodeUnauthorized, domain.PublicMessage(domain.ErrInsufficientRole))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin allows ledger maintenance roles only.
func RequireAdmin(next http.Handler) http.Handler {
	return RequireRole(domain.Role.CanAdminister)(next)
}

// GetUserFromContext extracts the authenticated user from context
func GetUserFromContext(ctx context.Context) (*domain.User, bool) {
	return domain.UserFromContext(ctx)
}
