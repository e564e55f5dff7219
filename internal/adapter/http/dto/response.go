package dto

import (
	"time"

	"github.com/iho/goescrow/internal/domain"
	"github.com/iho/goescrow/internal/usecase"
)

// ErrorResponse is the body of every failed request. Code is stable and
// meant for clients to switch on.
type ErrorResponse struct {
	Code    string `json:"code"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// TransactionResponse represents a transaction in API responses. Amounts
// are major-unit decimal strings.
type TransactionResponse struct {
	ID            string     `json:"id"`
	BuyerID       string     `json:"buyer_id"`
	SellerID      string     `json:"seller_id"`
	PostID        string     `json:"post_id"`
	Amount        string     `json:"amount"`
	Currency      string     `json:"currency"`
	Status        string     `json:"status"`
	ReleaseMethod string     `json:"release_method,omitempty"`
	ReleaseFee    string     `json:"release_fee,omitempty"`
	DisputeReason string     `json:"dispute_reason,omitempty"`
	DisputedBy    string     `json:"disputed_by,omitempty"`
	ResolvedBy    string     `json:"resolved_by,omitempty"`
	CancelledBy   string     `json:"cancelled_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// TransactionFromDomain converts domain transaction to response.
func TransactionFromDomain(t *domain.Transaction) *TransactionResponse {
	resp := &TransactionResponse{
		ID:            t.ID,
		BuyerID:       t.BuyerID,
		SellerID:      t.SellerID,
		PostID:        t.ListingRef,
		Amount:        domain.FormatMinor(t.Amount),
		Currency:      t.Currency,
		Status:        string(t.Status),
		ReleaseMethod: string(t.ReleaseMethod),
		DisputeReason: t.DisputeReason,
		DisputedBy:    t.DisputedBy,
		ResolvedBy:    t.ResolvedBy,
		CancelledBy:   t.CancelledBy,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
		CompletedAt:   t.CompletedAt,
	}
	if t.Status == domain.TransactionStatusReleased {
		resp.ReleaseFee = domain.FormatMinor(t.ReleaseFee)
	}
	return resp
}

// TransactionsFromDomain converts domain transactions to responses.
func TransactionsFromDomain(txs []*domain.Transaction) []*TransactionResponse {
	result := make([]*TransactionResponse, len(txs))
	for i, t := range txs {
		result[i] = TransactionFromDomain(t)
	}
	return result
}

// CheckoutResponse is returned by checkout.
type CheckoutResponse struct {
	TransactionID string               `json:"transaction_id"`
	Transaction   *TransactionResponse `json:"transaction"`
}

// MessageResponse is a persisted message as seen by participants and
// pushed over the socket.
type MessageResponse struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transaction_id"`
	Seq           int64     `json:"seq"`
	SenderID      string    `json:"sender_id"`
	SenderName    string    `json:"sender_name,omitempty"`
	ReceiverID    string    `json:"receiver_id,omitempty"`
	Kind          string    `json:"kind"`
	Content       string    `json:"content"`
	Images        []string  `json:"images"`
	ClientToken   string    `json:"client_token,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// MessageFromDomain converts a domain message to response.
func MessageFromDomain(m *domain.Message) *MessageResponse {
	images := m.Images
	if images == nil {
		images = []string{}
	}
	return &MessageResponse{
		ID:            m.ID,
		TransactionID: m.TransactionID,
		Seq:           m.Seq,
		SenderID:      m.SenderID,
		ReceiverID:    m.ReceiverID,
		Kind:          string(m.Kind),
		Content:       m.Content,
		Images:        images,
		ClientToken:   m.ClientToken,
		CreatedAt:     m.CreatedAt,
	}
}

// MessagesFromDomain converts messages and fills sender names from names.
func MessagesFromDomain(msgs []*domain.Message, names map[string]string) []*MessageResponse {
	result := make([]*MessageResponse, len(msgs))
	for i, m := range msgs {
		result[i] = MessageFromDomain(m)
		result[i].SenderName = names[m.SenderID]
	}
	return result
}

// WalletResponse is the owner's view of their account.
type WalletResponse struct {
	AccountID string    `json:"account_id"`
	Currency  string    `json:"currency"`
	Balance   string    `json:"balance"`
	Held      string    `json:"held"`
	Available string    `json:"available"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WalletFromSummary converts a wallet summary to response.
func WalletFromSummary(s *usecase.AccountSummary) *WalletResponse {
	return &WalletResponse{
		AccountID: s.Account.ID,
		Currency:  s.Account.Currency,
		Balance:   domain.FormatMinor(s.Account.Balance),
		Held:      domain.FormatMinor(s.Account.Held),
		Available: domain.FormatMinor(s.Available),
		UpdatedAt: s.Account.UpdatedAt,
	}
}

// PostingResponse is one ledger line.
type PostingResponse struct {
	ID            string    `json:"id"`
	Bucket        string    `json:"bucket"`
	Direction     string    `json:"direction"`
	Kind          string    `json:"kind"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	ReferenceType string    `json:"reference_type"`
	ReferenceID   string    `json:"reference_id"`
	BalanceAfter  string    `json:"balance_after"`
	CreatedAt     time.Time `json:"created_at"`
}

// PostingsFromDomain converts postings to responses.
func PostingsFromDomain(postings []*domain.Posting) []*PostingResponse {
	result := make([]*PostingResponse, len(postings))
	for i, p := range postings {
		result[i] = &PostingResponse{
			ID:            p.ID,
			Bucket:        string(p.Bucket),
			Direction:     string(p.Direction),
			Kind:          string(p.Kind),
			Amount:        domain.FormatMinor(p.Amount),
			Currency:      p.Currency,
			ReferenceType: string(p.ReferenceType),
			ReferenceID:   p.ReferenceID,
			BalanceAfter:  domain.FormatMinor(p.BalanceAfter),
			CreatedAt:     p.CreatedAt,
		}
	}
	return result
}

// HoldResponse is an escrow hold on the owner's funds.
type HoldResponse struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transaction_id"`
	Amount        string    `json:"amount"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// HoldsFromDomain converts holds to responses.
func HoldsFromDomain(holds []*domain.Hold) []*HoldResponse {
	result := make([]*HoldResponse, len(holds))
	for i, h := range holds {
		result[i] = &HoldResponse{
			ID:            h.ID,
			TransactionID: h.TransactionID,
			Amount:        domain.FormatMinor(h.Amount),
			Status:        string(h.Status),
			CreatedAt:     h.CreatedAt,
			UpdatedAt:     h.UpdatedAt,
		}
	}
	return result
}

// DepositResponse is a wallet top-up. Net is what the wallet receives once
// the gateway confirms.
type DepositResponse struct {
	DepositID   string     `json:"deposit_id"`
	Amount      string     `json:"amount"`
	Fee         string     `json:"fee"`
	Net         string     `json:"net"`
	Method      string     `json:"method"`
	Status      string     `json:"status"`
	CheckoutURL string     `json:"checkout_url,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
}

// DepositFromDomain converts a deposit to response.
func DepositFromDomain(d *domain.Deposit) *DepositResponse {
	return &DepositResponse{
		DepositID:   d.ID,
		Amount:      domain.FormatMinor(d.Amount),
		Fee:         domain.FormatMinor(d.Fee),
		Net:         domain.FormatMinor(d.Amount - d.Fee),
		Method:      string(d.Method),
		Status:      string(d.Status),
		CheckoutURL: d.CheckoutURL,
		CreatedAt:   d.CreatedAt,
		ConfirmedAt: d.ConfirmedAt,
	}
}

// DepositsFromDomain converts deposits to responses.
func DepositsFromDomain(deposits []*domain.Deposit) []*DepositResponse {
	result := make([]*DepositResponse, len(deposits))
	for i, d := range deposits {
		result[i] = DepositFromDomain(d)
	}
	return result
}

// WithdrawalResponse describes a completed withdrawal.
type WithdrawalResponse struct {
	WithdrawalID string `json:"withdrawal_id"`
	Amount       string `json:"amount"`
	Fee          string `json:"fee"`
	Total        string `json:"total"`
	Method       string `json:"method"`
}

// WithdrawalFromSettlement converts a withdrawal settlement to response.
func WithdrawalFromSettlement(s *domain.Settlement, method domain.PaymentMethod) *WithdrawalResponse {
	return &WithdrawalResponse{
		WithdrawalID: s.ReferenceID,
		Amount:       domain.FormatMinor(s.Gross),
		Fee:          domain.FormatMinor(s.Fee),
		Total:        domain.FormatMinor(s.Gross + s.Fee),
		Method:       string(method),
	}
}

// ReconciliationResponse is the per-account reconciliation result.
type ReconciliationResponse struct {
	AccountID       string    `json:"account_id"`
	RecordedBalance string    `json:"recorded_balance"`
	PostedBalance   string    `json:"posted_balance"`
	RecordedHeld    string    `json:"recorded_held"`
	PostedHeld      string    `json:"posted_held"`
	ActiveHolds     string    `json:"active_holds"`
	IsReconciled    bool      `json:"is_reconciled"`
	CheckedAt       time.Time `json:"checked_at"`
}

// ReconciliationFromResult converts a reconciliation result to response.
func ReconciliationFromResult(r *usecase.ReconciliationResult) *ReconciliationResponse {
	return &ReconciliationResponse{
		AccountID:       r.AccountID,
		RecordedBalance: domain.FormatMinor(r.RecordedBalance),
		PostedBalance:   domain.FormatMinor(r.PostedBalance),
		RecordedHeld:    domain.FormatMinor(r.RecordedHeld),
		PostedHeld:      domain.FormatMinor(r.PostedHeld),
		ActiveHolds:     domain.FormatMinor(r.ActiveHolds),
		IsReconciled:    r.IsReconciled,
		CheckedAt:       r.LastChecked,
	}
}

// FeeScheduleResponse publishes the fee policy to clients, in basis points.
type FeeScheduleResponse struct {
	DepositBps    int64            `json:"deposit_bps"`
	WithdrawalBps int64            `json:"withdrawal_bps"`
	ReleaseBps    map[string]int64 `json:"release_bps"`
}

// FeeScheduleFromDomain converts the fee schedule to response.
func FeeScheduleFromDomain(s domain.FeeSchedule) *FeeScheduleResponse {
	release := make(map[string]int64, len(s.ReleaseBps))
	for method, bps := range s.ReleaseBps {
		release[string(method)] = bps
	}
	return &FeeScheduleResponse{
		DepositBps:    s.DepositBps,
		WithdrawalBps: s.WithdrawalBps,
		ReleaseBps:    release,
	}
}
