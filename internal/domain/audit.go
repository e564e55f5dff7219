package domain

import (
	"context"
	"encoding/json"
	"time"
)

// AuditLog represents an audit trail entry for compliance and debugging
type AuditLog struct {
	ID           string
	UserID       string // Who performed the action
	Action       string // What action (transaction.release, wallet.deposit, etc.)
	ResourceType string // Type of resource (transaction, deposit, withdrawal)
	ResourceID   string
	RequestID    string
	BeforeState  JSON
	AfterState   JSON
	Status       string
	ErrorMessage string
	CreatedAt    time.Time
}

// JSON is a type alias for JSON data
type JSON map[string]any

type AuditAction string

const (
	AuditActionTransactionOpen    AuditAction = "transaction.open"
	AuditActionTransactionRelease AuditAction = "transaction.release"
	AuditActionTransactionCancel  AuditAction = "transaction.cancel"
	AuditActionTransactionDispute AuditAction = "transaction.dispute"
	AuditActionTransactionResolve AuditAction = "transaction.resolve"
	AuditActionTransactionExpire  AuditAction = "transaction.expire"
	AuditActionDepositConfirm     AuditAction = "wallet.deposit"
	AuditActionWithdraw           AuditAction = "wallet.withdraw"
)

type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusFailure AuditStatus = "failure"
)

// MarshalState converts a domain object to JSON for audit logging
func MarshalState(v any) JSON {
	if v == nil {
		return nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return JSON{"error": "failed to marshal state"}
	}

	var result JSON
	if err := json.Unmarshal(data, &result); err != nil {
		return JSON{"error": "failed to unmarshal state"}
	}

	return result
}

// AuditFilter defines filters for querying audit logs
type AuditFilter struct {
	UserID       string
	Action       string
	ResourceType string
	ResourceID   string
	Limit        int
	Offset       int
}

type requestIDKey struct{}

// ContextWithRequestID tags ctx with the inbound request id for audit rows.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
