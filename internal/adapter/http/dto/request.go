package dto

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/iho/goescrow/internal/domain"
	"github.com/iho/goescrow/internal/usecase"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate runs the struct tags of a request and flattens failures into one
// client-readable error.
func Validate(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return errors.New(strings.Join(fields, "; "))
}

// CheckoutRequest is a buyer's purchase of a listing. BuyerID is optional
// and must match the authenticated account when present.
type CheckoutRequest struct {
	PostID   string          `json:"post_id" validate:"required,max=128"`
	BuyerID  string          `json:"buyer_id" validate:"omitempty,max=128"`
	SellerID string          `json:"seller_id" validate:"required,max=128"`
	Amount   decimal.Decimal `json:"amount"`
}

// ToUseCaseInput converts to use case input.
func (r *CheckoutRequest) ToUseCaseInput(buyerID, idempotencyKey string) (usecase.CheckoutInput, error) {
	if r.BuyerID != "" && r.BuyerID != buyerID {
		return usecase.CheckoutInput{}, domain.ErrUnauthorized
	}
	if domain.IsSystemAccountID(r.SellerID) {
		return usecase.CheckoutInput{}, domain.ErrReservedAccount
	}
	amount, err := domain.ParseMinor(r.Amount)
	if err != nil {
		return usecase.CheckoutInput{}, err
	}
	return usecase.CheckoutInput{
		ListingRef:     r.PostID,
		BuyerID:        buyerID,
		SellerID:       r.SellerID,
		Amount:         amount,
		IdempotencyKey: idempotencyKey,
	}, nil
}

// ReleaseRequest picks the settlement method. Empty uses the default.
type ReleaseRequest struct {
	Method string `json:"method" validate:"omitempty,oneof=wallet qrph card gcash paymaya"`
}

// DisputeRequest freezes a pending transaction.
type DisputeRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

// ResolveRequest is an arbiter's decision.
type ResolveRequest struct {
	Outcome string `json:"outcome" validate:"required,oneof=release refund"`
	Method  string `json:"method" validate:"omitempty,oneof=wallet qrph card gcash paymaya"`
}

// SendMessageRequest posts a message into a transaction conversation.
// SenderID is optional and must match the authenticated account.
type SendMessageRequest struct {
	TransactionID string   `json:"transaction_id" validate:"required"`
	SenderID      string   `json:"sender_id"`
	ReceiverID    string   `json:"receiver_id"`
	Content       string   `json:"content"`
	Images        []string `json:"images" validate:"max=10,dive,required,max=2048"`
	ClientToken   string   `json:"client_token" validate:"max=128"`
}

// ToUseCaseInput converts to use case input.
func (r *SendMessageRequest) ToUseCaseInput(senderID string) (usecase.SendMessageInput, error) {
	if r.SenderID != "" && r.SenderID != senderID {
		return usecase.SendMessageInput{}, domain.ErrSenderNotParticipant
	}
	return usecase.SendMessageInput{
		TransactionID: r.TransactionID,
		SenderID:      senderID,
		ReceiverID:    r.ReceiverID,
		Content:       r.Content,
		Images:        r.Images,
		ClientToken:   r.ClientToken,
	}, nil
}

// WalletRequest is a deposit or withdrawal of amount through method.
type WalletRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Method string          `json:"method" validate:"required"`
}

// Parse converts the request into minor units and a known method.
func (r *WalletRequest) Parse() (int64, domain.PaymentMethod, error) {
	amount, err := domain.ParseMinor(r.Amount)
	if err != nil {
		return 0, "", err
	}
	method, err := domain.ParsePaymentMethod(r.Method)
	if err != nil {
		return 0, "", err
	}
	return amount, method, nil
}

// Payment webhook event types.
const (
	PaymentEventPaid    = "paid"
	PaymentEventFailed  = "failed"
	PaymentEventExpired = "expired"
)

// PaymentWebhook is the gateway's asynchronous checkout outcome.
// ReferenceID is the deposit id passed when the session was created.
type PaymentWebhook struct {
	Event       string `json:"event" validate:"required,oneof=paid failed expired"`
	ReferenceID string `json:"reference_id" validate:"required"`
	PaymentID   string `json:"payment_id"`
}
