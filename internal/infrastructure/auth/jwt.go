package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iho/goescrow/internal/domain"
)

// Issuer is stamped into every token and required on verification.
const Issuer = "escrowd"

// Claims carries the principal behind a request or socket session. The
// subject is the account id.
type Claims struct {
	Email string      `json:"email,omitempty"`
	Name  string      `json:"name,omitempty"`
	Role  domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// User converts the claims into the domain principal.
func (c *Claims) User() *domain.User {
	return &domain.User{
		ID:    c.Subject,
		Email: c.Email,
		Name:  c.Name,
		Role:  c.Role,
	}
}

// JWTManager signs and verifies HS256 session tokens.
type JWTManager struct {
	secretKey     []byte
	tokenDuration time.Duration
	now           func() time.Time
}

// NewJWTManager creates a new JWT manager
func NewJWTManager(secretKey string, tokenDuration time.Duration) *JWTManager {
	return &JWTManager{
		secretKey:     []byte(secretKey),
		tokenDuration: tokenDuration,
		now:           time.Now,
	}
}

// Generate issues a token for user valid for the configured duration.
func (m *JWTManager) Generate(user *domain.User) (string, error) {
	return m.GenerateWithTTL(user, m.tokenDuration)
}

// GenerateWithTTL issues a token for user valid for ttl.
func (m *JWTManager) GenerateWithTTL(user *domain.User, ttl time.Duration) (string, error) {
	if user == nil || user.ID == "" {
		return "", fmt.Errorf("token subject is required")
	}
	if domain.IsSystemAccountID(user.ID) {
		return "", fmt.Errorf("%w: %s", domain.ErrReservedAccount, user.ID)
	}
	role := user.Role
	if role == "" {
		role = domain.RoleUser
	}
	if !role.IsValid() {
		return "", fmt.Errorf("unknown role %q", role)
	}

	now := m.now()
	claims := Claims{
		Email: user.Email,
		Name:  user.Name,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    Issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// Verify verifies a JWT token and returns the claims
func (m *JWTManager) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return m.secretKey, nil
		},
		jwt.WithIssuer(Issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrExpiredToken
		}
		return nil, domain.ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" || !claims.Role.IsValid() ||
		domain.IsSystemAccountID(claims.Subject) {
		return nil, domain.ErrInvalidToken
	}
	return claims, nil
}

// Authenticate verifies a raw token and returns the principal.
func (m *JWTManager) Authenticate(tokenString string) (*domain.User, error) {
	claims, err := m.Verify(tokenString)
	if err != nil {
		return nil, err
	}
	return claims.User(), nil
}
