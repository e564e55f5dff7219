package domain

import (
	"errors"
	"fmt"
)

var (
	// Ledger errors
	ErrAccountNotFound   = errors.New("account not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrCurrencyMismatch  = errors.New("currency mismatch")
	ErrHoldNotFound      = errors.New("hold not found")
	ErrHoldNotActive     = errors.New("hold is not active")
	ErrUnbalancedJournal = errors.New("journal postings do not sum to zero")
	ErrHeldUnderflow     = errors.New("held balance would go negative")

	// Transaction errors
	ErrNotFound          = errors.New("transaction not found")
	ErrSelfTransaction   = errors.New("buyer and seller must differ")
	ErrReservedAccount   = errors.New("account id is reserved for the platform")
	ErrNotPending        = errors.New("transaction is not pending")
	ErrUnauthorized      = errors.New("requester is not authorized for this transaction")
	ErrInvalidOutcome    = errors.New("invalid resolution outcome")
	ErrNotDisputed       = fmt.Errorf("%w: transaction is not disputed", ErrNotPending)
	ErrTransactionFrozen = fmt.Errorf("%w: transaction is under dispute", ErrNotPending)

	// Idempotency errors
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")
	ErrIdempotencyKeyReused    = errors.New("idempotency key reused with different parameters")

	// Messaging errors
	ErrSenderNotParticipant = errors.New("sender is not a participant of the transaction")
	ErrReceiverMismatch     = errors.New("receiver must be the other participant")
	ErrEmptyMessage         = errors.New("message has no content")
	ErrMessageTooLong       = errors.New("message content too long")
	ErrTooManyImages        = errors.New("too many image references")
	ErrDuplicateMessage     = errors.New("message with this client token already exists")

	// Payment errors
	ErrInvalidMethod      = errors.New("unsupported payment method")
	ErrDepositNotFound    = errors.New("deposit not found")
	ErrDepositNotPending  = errors.New("deposit is not pending")
	ErrListingUnavailable = errors.New("listing is not available")
	ErrListingMismatch    = errors.New("listing does not match checkout")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)
