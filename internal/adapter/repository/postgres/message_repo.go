package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/iho/goescrow/internal/domain"
	"github.com/iho/goescrow/internal/usecase"
)

const messageColumns = `id, transaction_id, seq, sender_id, receiver_id, kind, content, images, client_token, created_at`

const messageClientTokenIndex = "messages_client_token"

// MessageRepository implements usecase.MessageRepository.
type MessageRepository struct {
	db DBTX
}

// NewMessageRepository creates a new MessageRepository.
func NewMessageRepository(db DBTX) *MessageRepository {
	return &MessageRepository{db: db}
}

// NextSequence bumps the transaction's message counter. The upsert locks
// the counter row, so concurrent senders queue behind each other until the
// holder commits or rolls back, and a rolled back number is reused.
func (r *MessageRepository) NextSequence(ctx context.Context, tx usecase.Tx, transactionID string) (int64, error) {
	q, err := pgxTx(tx)
	if err != nil {
		return 0, err
	}

	var seq int64
	err = q.QueryRow(ctx, `
		INSERT INTO message_sequences (transaction_id, last_seq) VALUES ($1, 1)
		ON CONFLICT (transaction_id) DO UPDATE SET last_seq = message_sequences.last_seq + 1
		RETURNING last_seq`, transactionID).Scan(&seq)
	return seq, err
}

// Create inserts a message. A repeated (transaction, sender, client token)
// fails with ErrDuplicateMessage.
func (r *MessageRepository) Create(ctx context.Context, tx usecase.Tx, msg *domain.Message) error {
	q, err := pgxTx(tx)
	if err != nil {
		return err
	}

	images := msg.Images
	if images == nil {
		images = []string{}
	}

	_, err = q.Exec(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		msg.ID,
		msg.TransactionID,
		msg.Seq,
		msg.SenderID,
		msg.ReceiverID,
		msg.Kind,
		msg.Content,
		images,
		nullString(msg.ClientToken),
		msg.CreatedAt,
	)
	if uniqueViolation(err, messageClientTokenIndex) {
		return domain.ErrDuplicateMessage
	}
	return err
}

// GetByClientToken finds a sender's message by its client token.
func (r *MessageRepository) GetByClientToken(ctx context.Context, transactionID, senderID, token string) (*domain.Message, error) {
	msg, err := scanMessage(r.db.QueryRow(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE transaction_id = $1 AND sender_id = $2 AND client_token = $3`,
		transactionID, senderID, token))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return msg, err
}

// ListByTransaction returns messages with seq > afterSeq in seq order.
func (r *MessageRepository) ListByTransaction(ctx context.Context, transactionID string, afterSeq int64, limit int) ([]*domain.Message, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE transaction_id = $1 AND seq > $2
		ORDER BY seq
		LIMIT $3`, transactionID, afterSeq, limitOrAll(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func scanMessage(row pgx.Row) (*domain.Message, error) {
	var (
		m     domain.Message
		token *string
	)
	err := row.Scan(
		&m.ID,
		&m.TransactionID,
		&m.Seq,
		&m.SenderID,
		&m.ReceiverID,
		&m.Kind,
		&m.Content,
		&m.Images,
		&token,
		&m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.ClientToken = derefString(token)
	return &m, nil
}
