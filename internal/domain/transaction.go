package domain

import "time"

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusReleased  TransactionStatus = "released"
	TransactionStatusCancelled TransactionStatus = "cancelled"
	TransactionStatusDisputed  TransactionStatus = "disputed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionStatusReleased || s == TransactionStatusCancelled
}

func (s TransactionStatus) IsValid() bool {
	switch s {
	case TransactionStatusPending, TransactionStatusReleased, TransactionStatusCancelled, TransactionStatusDisputed:
		return true
	}
	return false
}

var transitions = map[TransactionStatus][]TransactionStatus{
	TransactionStatusPending:  {TransactionStatusReleased, TransactionStatusCancelled, TransactionStatusDisputed},
	TransactionStatusDisputed: {TransactionStatusReleased, TransactionStatusCancelled},
}

// CanTransition reports whether from -> to is an edge of the escrow state machine.
func CanTransition(from, to TransactionStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Outcome is the decision of a dispute resolution.
type Outcome string

const (
	OutcomeRelease Outcome = "release"
	OutcomeRefund  Outcome = "refund"
)

func ParseOutcome(s string) (Outcome, error) {
	switch Outcome(s) {
	case OutcomeRelease, OutcomeRefund:
		return Outcome(s), nil
	}
	return "", ErrInvalidOutcome
}

// SystemActorID identifies transitions not requested by a participant.
const SystemActorID = "system"

// Transaction is an escrowed purchase between a buyer and a seller.
type Transaction struct {
	ID             string
	Seq            int64
	BuyerID        string
	SellerID       string
	ListingRef     string
	Amount         int64
	Currency       string
	Status         TransactionStatus
	HoldID         string
	ReleaseMethod  PaymentMethod
	ReleaseFee     int64
	DisputeReason  string
	DisputedBy     string
	ResolvedBy     string
	CancelledBy    string
	IdempotencyKey string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

// IsParticipant reports whether accountID is the buyer or the seller.
func (t *Transaction) IsParticipant(accountID string) bool {
	return accountID != "" && (accountID == t.BuyerID || accountID == t.SellerID)
}

// Counterparty returns the other participant.
func (t *Transaction) Counterparty(accountID string) string {
	if accountID == t.BuyerID {
		return t.SellerID
	}
	return t.BuyerID
}

// Room is the real-time channel key for this transaction.
func (t *Transaction) Room() string {
	return RoomName(t.ID)
}

// Validate checks the fields fixed at open time.
func (t *Transaction) Validate() error {
	if t.BuyerID == t.SellerID {
		return ErrSelfTransaction
	}
	if t.Amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// AuthorizeRelease checks the requester may release funds to the seller.
// Only the buyer funded the hold, so only the buyer may release it.
func (t *Transaction) AuthorizeRelease(requesterID string) error {
	if requesterID != t.BuyerID {
		return ErrUnauthorized
	}
	return t.requirePending()
}

// AuthorizeCancel checks the requester may cancel.
func (t *Transaction) AuthorizeCancel(requesterID string) error {
	if !t.IsParticipant(requesterID) {
		return ErrUnauthorized
	}
	return t.requirePending()
}

// AuthorizeDispute checks the requester may open a dispute.
func (t *Transaction) AuthorizeDispute(requesterID string) error {
	if !t.IsParticipant(requesterID) {
		return ErrUnauthorized
	}
	return t.requirePending()
}

func (t *Transaction) requirePending() error {
	switch t.Status {
	case TransactionStatusPending:
		return nil
	case TransactionStatusDisputed:
		return ErrTransactionFrozen
	default:
		return ErrNotPending
	}
}

// MarkReleased completes the transaction in the seller's favour.
func (t *Transaction) MarkReleased(method PaymentMethod, fee int64, now time.Time) error {
	if err := t.transition(TransactionStatusReleased, now); err != nil {
		return err
	}
	t.ReleaseMethod = method
	t.ReleaseFee = fee
	t.CompletedAt = &now
	return nil
}

// MarkCancelled completes the transaction in the buyer's favour.
func (t *Transaction) MarkCancelled(actorID string, now time.Time) error {
	if err := t.transition(TransactionStatusCancelled, now); err != nil {
		return err
	}
	t.CancelledBy = actorID
	t.CompletedAt = &now
	return nil
}

// MarkDisputed freezes the transaction until resolved.
func (t *Transaction) MarkDisputed(actorID, reason string, now time.Time) error {
	if err := t.transition(TransactionStatusDisputed, now); err != nil {
		return err
	}
	t.DisputedBy = actorID
	t.DisputeReason = reason
	return nil
}

func (t *Transaction) transition(to TransactionStatus, now time.Time) error {
	if !CanTransition(t.Status, to) {
		return ErrNotPending
	}
	t.Status = to
	t.UpdatedAt = now
	return nil
}

// TransactionFilter narrows a participant's transaction list.
type TransactionFilter struct {
	AccountID string
	Role      string // buyer, seller or empty for both
	Status    TransactionStatus
	Limit     int
	Offset    int
}
