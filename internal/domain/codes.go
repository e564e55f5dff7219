package domain

import "errors"

// Boundary error codes. They are stable across releases; clients switch on
// them.
const (
	CodeInsufficientFunds    = "INSUFFICIENT_FUNDS"
	CodeInvalidAmount        = "INVALID_AMOUNT"
	CodeInvalidCurrency      = "INVALID_CURRENCY"
	CodeSelfTransaction      = "SELF_TRANSACTION"
	CodeReservedAccount      = "RESERVED_ACCOUNT"
	CodeNotFound             = "NOT_FOUND"
	CodeNotPending           = "NOT_PENDING"
	CodeTransactionFrozen    = "TRANSACTION_DISPUTED"
	CodeNotDisputed          = "NOT_DISPUTED"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeUnauthenticated      = "UNAUTHENTICATED"
	CodeSenderNotParticipant = "SENDER_NOT_PARTICIPANT"
	CodeHoldNotActive        = "HOLD_NOT_ACTIVE"
	CodeInvalidMessage       = "INVALID_MESSAGE"
	CodeInvalidMethod        = "INVALID_METHOD"
	CodeInvalidOutcome       = "INVALID_OUTCOME"
	CodeListingUnavailable   = "LISTING_UNAVAILABLE"
	CodeIdempotencyConflict  = "IDEMPOTENCY_CONFLICT"
	CodeDepositNotPending    = "DEPOSIT_NOT_PENDING"
	CodeGatewayUnavailable   = "GATEWAY_UNAVAILABLE"
	CodeInternal             = "INTERNAL"
)

type errorClass struct {
	err     error
	code    string
	message string
}

// Ordered most specific first: ErrTransactionFrozen and ErrNotDisputed
// also match ErrNotPending.
var errorClasses = []errorClass{
	{ErrInsufficientFunds, CodeInsufficientFunds, "insufficient balance"},
	{ErrAmountTooSmall, CodeInvalidAmount, "amount is below the minimum"},
	{ErrAmountTooLarge, CodeInvalidAmount, "amount is above the maximum"},
	{ErrInvalidAmount, CodeInvalidAmount, "invalid amount"},
	{ErrInvalidCurrency, CodeInvalidCurrency, "unsupported currency"},
	{ErrCurrencyMismatch, CodeInvalidCurrency, "currency mismatch"},
	{ErrSelfTransaction, CodeSelfTransaction, "you cannot buy your own listing"},
	{ErrReservedAccount, CodeReservedAccount, "invalid counterparty"},
	{ErrNotFound, CodeNotFound, "transaction not found"},
	{ErrAccountNotFound, CodeNotFound, "account not found"},
	{ErrDepositNotFound, CodeNotFound, "deposit not found"},
	{ErrHoldNotFound, CodeNotFound, "hold not found"},
	{ErrTransactionFrozen, CodeTransactionFrozen, "transaction is under dispute"},
	{ErrNotDisputed, CodeNotDisputed, "transaction is not disputed"},
	{ErrNotPending, CodeNotPending, "transaction already completed"},
	{ErrUnauthorized, CodeUnauthorized, "not allowed for this transaction"},
	{ErrInsufficientRole, CodeUnauthorized, "not allowed"},
	{ErrUnauthenticated, CodeUnauthenticated, "authentication required"},
	{ErrInvalidToken, CodeUnauthenticated, "invalid credentials"},
	{ErrExpiredToken, CodeUnauthenticated, "session expired"},
	{ErrSenderNotParticipant, CodeSenderNotParticipant, "you are not part of this transaction"},
	{ErrReceiverMismatch, CodeInvalidMessage, "receiver must be the other participant"},
	{ErrHoldNotActive, CodeHoldNotActive, "transaction already completed"},
	{ErrEmptyMessage, CodeInvalidMessage, "message is empty"},
	{ErrMessageTooLong, CodeInvalidMessage, "message is too long"},
	{ErrTooManyImages, CodeInvalidMessage, "too many images"},
	{ErrInvalidMethod, CodeInvalidMethod, "unsupported payment method"},
	{ErrInvalidOutcome, CodeInvalidOutcome, "outcome must be release or refund"},
	{ErrListingUnavailable, CodeListingUnavailable, "listing is no longer available"},
	{ErrListingMismatch, CodeListingUnavailable, "listing details changed"},
	{ErrIdempotencyKeyReused, CodeIdempotencyConflict, "idempotency key was used for a different request"},
	{ErrDepositNotPending, CodeDepositNotPending, "deposit already processed"},
	{ErrGatewayUnavailable, CodeGatewayUnavailable, "payment provider unavailable, try again later"},
}

func classify(err error) (errorClass, bool) {
	for _, c := range errorClasses {
		if errors.Is(err, c.err) {
			return c, true
		}
	}
	return errorClass{}, false
}

// ErrorCode maps err to its boundary code, CodeInternal when unknown.
func ErrorCode(err error) string {
	if c, ok := classify(err); ok {
		return c.code
	}
	return CodeInternal
}

// PublicMessage is the terse, user-facing text for err. Unknown errors get
// a generic message so internals never leak.
func PublicMessage(err error) string {
	if c, ok := classify(err); ok {
		return c.message
	}
	return "internal error"
}
