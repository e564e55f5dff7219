package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/goescrow/internal/domain"
	"github.com/iho/goescrow/internal/infrastructure/metrics"
)

// MessagingUseCase owns the per-transaction message log and its real-time
// fan-out. Messages are durable before they are published.
type MessagingUseCase struct {
	txManager   TxManager
	retrier     Retrier
	txRepo      TransactionRepository
	messageRepo MessageRepository
	idGen       IDGenerator
	publisher   RoomPublisher
	directory   UserDirectory
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	now         Clock
}

func NewMessagingUseCase(
	txManager TxManager,
	retrier Retrier,
	txRepo TransactionRepository,
	messageRepo MessageRepository,
	idGen IDGenerator,
	publisher RoomPublisher,
	metrics *metrics.Metrics,
	logger zerolog.Logger,
) *MessagingUseCase {
	return &MessagingUseCase{
		txManager:   txManager,
		retrier:     retrier,
		txRepo:      txRepo,
		messageRepo: messageRepo,
		idGen:       idGen,
		publisher:   publisher,
		metrics:     metrics,
		logger:      logger.With().Str("component", "messaging").Logger(),
		now:         systemClock,
	}
}

// WithDirectory enables sender display names.
func (uc *MessagingUseCase) WithDirectory(directory UserDirectory) *MessagingUseCase {
	uc.directory = directory
	return uc
}

// SendMessageInput is a participant-authored message.
type SendMessageInput struct {
	TransactionID string
	SenderID      string
	ReceiverID    string
	Content       string
	Images        []string
	// ClientToken deduplicates retries of the same send.
	ClientToken string
}

// Send persists a message from a participant and publishes it to the room.
// Messaging stays open after the transaction completes. A retried send with
// the same client token returns the originally stored message.
func (uc *MessagingUseCase) Send(ctx context.Context, input SendMessageInput) (*domain.Message, error) {
	t, err := uc.txRepo.GetByID(ctx, input.TransactionID)
	if err != nil {
		return nil, err
	}
	if !t.IsParticipant(input.SenderID) {
		return nil, domain.ErrSenderNotParticipant
	}

	receiver := t.Counterparty(input.SenderID)
	if input.ReceiverID != "" && input.ReceiverID != receiver {
		return nil, domain.ErrReceiverMismatch
	}

	msg := &domain.Message{
		TransactionID: t.ID,
		SenderID:      input.SenderID,
		ReceiverID:    receiver,
		Kind:          domain.MessageKindUser,
		Content:       strings.TrimSpace(input.Content),
		Images:        input.Images,
		ClientToken:   input.ClientToken,
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	if existing, ok := uc.findByToken(ctx, msg); ok {
		return existing, nil
	}

	err = inTx(ctx, uc.txManager, uc.retrier, func(ctx context.Context, tx Tx) error {
		return uc.append(ctx, tx, msg)
	})
	if errors.Is(err, domain.ErrDuplicateMessage) {
		// Lost the race against a concurrent retry with the same token.
		if existing, ok := uc.findByToken(ctx, msg); ok {
			return existing, nil
		}
	}
	if err != nil {
		return nil, err
	}

	if uc.metrics != nil {
		uc.metrics.MessagesSent.WithLabelValues(string(domain.MessageKindUser)).Inc()
	}

	uc.Announce(ctx, nil, msg)

	return msg, nil
}

// History returns messages after afterSeq in ascending sequence order.
func (uc *MessagingUseCase) History(ctx context.Context, transactionID, requesterID string, afterSeq int64, limit int) ([]*domain.Message, error) {
	if err := uc.AuthorizeParticipant(ctx, transactionID, requesterID); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = DefaultHistoryPageSize
	}
	if limit > MaxHistoryPageSize {
		limit = MaxHistoryPageSize
	}
	if afterSeq < 0 {
		afterSeq = 0
	}

	return uc.messageRepo.ListByTransaction(ctx, transactionID, afterSeq, limit)
}

// SenderNames resolves display names for the senders of msgs. Lookup
// failures leave the name empty; names are never used for authorization.
func (uc *MessagingUseCase) SenderNames(ctx context.Context, msgs []*domain.Message) map[string]string {
	names := make(map[string]string)
	if uc.directory == nil {
		return names
	}
	for _, msg := range msgs {
		if msg.Kind == domain.MessageKindSystem {
			continue
		}
		if _, ok := names[msg.SenderID]; ok {
			continue
		}
		profile, err := uc.directory.Lookup(ctx, msg.SenderID)
		if err != nil {
			uc.logger.Debug().Err(err).Str("account_id", msg.SenderID).Msg("directory lookup failed")
			names[msg.SenderID] = ""
			continue
		}
		names[msg.SenderID] = profile.DisplayName
	}
	return names
}

// AuthorizeParticipant re-reads the transaction and checks membership. It
// guards history reads and every room join.
func (uc *MessagingUseCase) AuthorizeParticipant(ctx context.Context, transactionID, accountID string) error {
	t, err := uc.txRepo.GetByID(ctx, transactionID)
	if err != nil {
		return err
	}
	if !t.IsParticipant(accountID) {
		return domain.ErrUnauthorized
	}
	return nil
}

// AppendSystem writes a system message inside the caller's transaction so
// the note commits atomically with the state change it describes.
func (uc *MessagingUseCase) AppendSystem(ctx context.Context, tx Tx, transactionID, content string) (*domain.Message, error) {
	msg := &domain.Message{
		TransactionID: transactionID,
		SenderID:      domain.SystemActorID,
		Kind:          domain.MessageKindSystem,
		Content:       content,
	}
	if err := uc.append(ctx, tx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Announce publishes committed state to the transaction room: the updated
// transaction (if any) and the given messages. Failures are logged only;
// sessions catch up through History.
func (uc *MessagingUseCase) Announce(ctx context.Context, t *domain.Transaction, msgs ...*domain.Message) {
	if uc.publisher == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fanoutTimeout)
	defer cancel()

	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		if msg.Kind == domain.MessageKindSystem && uc.metrics != nil {
			uc.metrics.MessagesSent.WithLabelValues(string(domain.MessageKindSystem)).Inc()
		}
		uc.publish(ctx, domain.RoomEvent{
			Type:    domain.RoomEventNewMessage,
			Room:    domain.RoomName(msg.TransactionID),
			Message: msg,
		})
	}

	if t != nil {
		uc.publish(ctx, domain.RoomEvent{
			Type:        domain.RoomEventTransactionUpdated,
			Room:        t.Room(),
			Transaction: t,
		})
	}
}

func (uc *MessagingUseCase) publish(ctx context.Context, event domain.RoomEvent) {
	if err := uc.publisher.Publish(ctx, event); err != nil {
		if uc.metrics != nil {
			uc.metrics.FanoutFailures.Inc()
		}
		uc.logger.Warn().Err(err).
			Str("room", event.Room).
			Str("event", event.Type).
			Msg("room fan-out failed")
	}
}

func (uc *MessagingUseCase) append(ctx context.Context, tx Tx, msg *domain.Message) error {
	seq, err := uc.messageRepo.NextSequence(ctx, tx, msg.TransactionID)
	if err != nil {
		return fmt.Errorf("next message sequence: %w", err)
	}

	msg.ID = uc.idGen.Generate()
	msg.Seq = seq
	msg.CreatedAt = uc.now()

	return uc.messageRepo.Create(ctx, tx, msg)
}

func (uc *MessagingUseCase) findByToken(ctx context.Context, msg *domain.Message) (*domain.Message, bool) {
	if msg.ClientToken == "" {
		return nil, false
	}
	existing, err := uc.messageRepo.GetByClientToken(ctx, msg.TransactionID, msg.SenderID, msg.ClientToken)
	if err != nil || existing == nil {
		return nil, false
	}
	if uc.metrics != nil {
		uc.metrics.MessageDuplicates.Inc()
	}
	return existing, true
}

// systemNote formats the outcome messages written on state changes.
func systemNote(t *domain.Transaction, actorID string, settlement *domain.Settlement) string {
	amount := t.Currency + " " + domain.FormatMinor(t.Amount)
	switch t.Status {
	case domain.TransactionStatusPending:
		return fmt.Sprintf("Payment of %s is now held in escrow.", amount)
	case domain.TransactionStatusReleased:
		note := fmt.Sprintf("%s released to the seller", amount)
		if settlement != nil {
			note += fmt.Sprintf(" (fee %s %s via %s)", t.Currency, domain.FormatMinor(settlement.Fee), t.ReleaseMethod)
		}
		return note + "."
	case domain.TransactionStatusCancelled:
		return fmt.Sprintf("Transaction cancelled by %s. %s returned to the buyer.", actorRole(t, actorID), amount)
	case domain.TransactionStatusDisputed:
		note := fmt.Sprintf("Transaction disputed by %s. Funds stay in escrow until resolved.", actorRole(t, actorID))
		if t.DisputeReason != "" {
			note += " Reason: " + t.DisputeReason
		}
		return note
	}
	return "Transaction updated."
}

func actorRole(t *domain.Transaction, actorID string) string {
	switch actorID {
	case t.BuyerID:
		return "the buyer"
	case t.SellerID:
		return "the seller"
	case domain.SystemActorID:
		return "the system"
	}
	return "an arbiter"
}

// olderThan reports whether t was created before now-ttl.
func olderThan(t *domain.Transaction, ttl time.Duration, now time.Time) bool {
	return ttl > 0 && t.CreatedAt.Before(now.Add(-ttl))
}
