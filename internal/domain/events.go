package domain

import "time"

// Event types
const (
	EventTypeTransactionOpened    = "transaction.opened"
	EventTypeTransactionReleased  = "transaction.released"
	EventTypeTransactionCancelled = "transaction.cancelled"
	EventTypeTransactionDisputed  = "transaction.disputed"
	EventTypeHoldCreated          = "hold.created"
	EventTypeHoldReleased         = "hold.released"
	EventTypeHoldVoided           = "hold.voided"
	EventTypeDepositInitiated     = "deposit.initiated"
	EventTypeDepositConfirmed     = "deposit.confirmed"
	EventTypeDepositFailed        = "deposit.failed"
	EventTypeWithdrawalCompleted  = "withdrawal.completed"
)

// Aggregate types
const (
	AggregateTypeTransaction = "transaction"
	AggregateTypeHold        = "hold"
	AggregateTypeDeposit     = "deposit"
	AggregateTypeWithdrawal  = "withdrawal"
)

// OutboxEvent represents an event to be published
type OutboxEvent struct {
	ID            string
	AggregateID   string
	AggregateType string
	EventType     string
	Payload       map[string]any
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Published     bool
}

// NewOutboxEvent builds an unpublished event.
func NewOutboxEvent(id, aggregateType, aggregateID, eventType string, payload map[string]any, now time.Time) *OutboxEvent {
	return &OutboxEvent{
		ID:            id,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Payload:       payload,
		CreatedAt:     now,
	}
}

// TransactionPayload is the outbox payload shared by transaction events.
func TransactionPayload(t *Transaction) map[string]any {
	payload := map[string]any{
		"transaction_id": t.ID,
		"buyer_id":       t.BuyerID,
		"seller_id":      t.SellerID,
		"listing_ref":    t.ListingRef,
		"amount":         t.Amount,
		"currency":       t.Currency,
		"status":         string(t.Status),
	}
	if t.Status == TransactionStatusReleased {
		payload["release_method"] = string(t.ReleaseMethod)
		payload["release_fee"] = t.ReleaseFee
	}
	if t.DisputeReason != "" {
		payload["dispute_reason"] = t.DisputeReason
	}
	return payload
}
