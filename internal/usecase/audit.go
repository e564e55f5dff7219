package usecase

import (
	"context"
	"time"

	"github.com/iho/goescrow/internal/domain"
)

// writeAudit records a successful action inside the caller's transaction.
func writeAudit(ctx context.Context, tx Tx, repo AuditRepository, idGen IDGenerator, action domain.AuditAction, resourceType, resourceID string, after any, now time.Time) error {
	if repo == nil {
		return nil
	}

	return repo.CreateTx(ctx, tx, &domain.AuditLog{
		ID:           idGen.Generate(),
		UserID:       domain.ActorID(ctx),
		Action:       string(action),
		ResourceType: resourceType,
		ResourceID:   resourceID,
		RequestID:    domain.RequestIDFromContext(ctx),
		AfterState:   domain.MarshalState(after),
		Status:       string(domain.AuditStatusSuccess),
		CreatedAt:    now,
	})
}
