package domain

import "time"

type HoldStatus string

const (
	HoldStatusActive   HoldStatus = "active"
	HoldStatusReleased HoldStatus = "released"
	HoldStatusVoided   HoldStatus = "voided"
)

// Hold reserves buyer funds for exactly one transaction.
type Hold struct {
	ID            string
	TransactionID string
	AccountID     string
	Amount        int64
	Currency      string
	Status        HoldStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Close moves an active hold to a final status.
func (h *Hold) Close(status HoldStatus, now time.Time) error {
	if h.Status != HoldStatusActive {
		return ErrHoldNotActive
	}
	h.Status = status
	h.UpdatedAt = now
	return nil
}
