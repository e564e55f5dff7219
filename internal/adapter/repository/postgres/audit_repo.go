package postgres

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/iho/goescrow/internal/domain"
	"github.com/iho/goescrow/internal/usecase"
)

const auditColumns = `id, user_id, action, resource_type, resource_id, request_id,
	before_state, after_state, status, error_message, created_at`

// AuditRepository implements audit log persistence
type AuditRepository struct {
	db DBTX
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db DBTX) *AuditRepository {
	return &AuditRepository{db: db}
}

// CreateTx inserts an audit entry inside the caller's transaction, so the
// entry exists exactly when the audited change does.
func (r *AuditRepository) CreateTx(ctx context.Context, tx usecase.Tx, log *domain.AuditLog) error {
	q, err := pgxTx(tx)
	if err != nil {
		return err
	}

	before, err := marshalState(log.BeforeState)
	if err != nil {
		return err
	}
	after, err := marshalState(log.AfterState)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx, `
		INSERT INTO audit_logs (`+auditColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		log.ID,
		log.UserID,
		log.Action,
		log.ResourceType,
		log.ResourceID,
		log.RequestID,
		before,
		after,
		log.Status,
		log.ErrorMessage,
		log.CreatedAt,
	)
	return err
}

// List retrieves audit logs with filtering, newest first.
func (r *AuditRepository) List(ctx context.Context, filter domain.AuditFilter) ([]*domain.AuditLog, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_logs WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.UserID != "" {
		query += ` AND user_id = ` + arg(filter.UserID)
	}
	if filter.Action != "" {
		query += ` AND action = ` + arg(filter.Action)
	}
	if filter.ResourceType != "" {
		query += ` AND resource_type = ` + arg(filter.ResourceType)
	}
	if filter.ResourceID != "" {
		query += ` AND resource_id = ` + arg(filter.ResourceID)
	}

	query += ` ORDER BY created_at DESC, id DESC LIMIT ` + arg(limitOrAll(filter.Limit)) + ` OFFSET ` + arg(filter.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*domain.AuditLog
	for rows.Next() {
		var (
			log           domain.AuditLog
			before, after []byte
		)
		if err := rows.Scan(
			&log.ID,
			&log.UserID,
			&log.Action,
			&log.ResourceType,
			&log.ResourceID,
			&log.RequestID,
			&before,
			&after,
			&log.Status,
			&log.ErrorMessage,
			&log.CreatedAt,
		); err != nil {
			return nil, err
		}

		if before != nil {
			_ = json.Unmarshal(before, &log.BeforeState)
		}
		if after != nil {
			_ = json.Unmarshal(after, &log.AfterState)
		}

		logs = append(logs, &log)
	}

	return logs, rows.Err()
}

func marshalState(state domain.JSON) ([]byte, error) {
	if state == nil {
		return nil, nil
	}
	return json.Marshal(state)
}
