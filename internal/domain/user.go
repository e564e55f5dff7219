package domain

import (
	"context"
	"errors"
)

// User is the authenticated principal behind a request or socket session.
// The user id doubles as the wallet account id.
type User struct {
	ID    string
	Email string
	Name  string
	Role  Role
}

// Role represents a user's access level
type Role string

const (
	// RoleUser buys, sells and chats on their own transactions
	RoleUser Role = "user"

	// RoleArbiter resolves disputed transactions
	RoleArbiter Role = "arbiter"

	// RoleAdmin runs ledger maintenance endpoints and may also arbitrate
	RoleAdmin Role = "admin"
)

var validRoles = map[Role]bool{
	RoleUser:    true,
	RoleArbiter: true,
	RoleAdmin:   true,
}

// IsValid checks if the role is a valid role
func (r Role) IsValid() bool {
	return validRoles[r]
}

// CanResolveDisputes reports whether the role may call resolve.
func (r Role) CanResolveDisputes() bool {
	return r == RoleArbiter || r == RoleAdmin
}

// CanAdminister reports whether the role may run ledger maintenance.
func (r Role) CanAdminister() bool {
	return r == RoleAdmin
}

// Authentication errors
var (
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInsufficientRole = errors.New("insufficient role for this operation")
)

type userKey struct{}

// ContextWithUser returns ctx carrying u.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFromContext extracts the authenticated user.
func UserFromContext(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(userKey{}).(*User)
	return u, ok && u != nil
}

// ActorID returns the authenticated user id or SystemActorID.
func ActorID(ctx context.Context) string {
	if u, ok := UserFromContext(ctx); ok {
		return u.ID
	}
	return SystemActorID
}
