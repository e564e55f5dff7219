package dto

import (
	"testing"
	"time"

	"github.com/iho/goescrow/internal/domain"
)

func TestTransactionFromDomain(t *testing.T) {
	now := time.Now()
	tx := &domain.Transaction{
		ID:            "tx-1",
		BuyerID:       "b",
		SellerID:      "s",
		ListingRef:    "post-9",
		Amount:        60000,
		Currency:      "PHP",
		Status:        domain.TransactionStatusPending,
		ReleaseFee:    0,
		CreatedAt:     now,
		UpdatedAt:     now,
		ReleaseMethod: "",
	}

	resp := TransactionFromDomain(tx)
	if resp.Amount != "600.00" || resp.PostID != "post-9" || resp.ReleaseFee != "" {
		t.Fatalf("unexpected pending response: %+v", resp)
	}

	tx.Status = domain.TransactionStatusReleased
	tx.ReleaseMethod = domain.MethodGCash
	tx.ReleaseFee = 1500
	resp = TransactionFromDomain(tx)
	if resp.ReleaseFee != "15.00" || resp.ReleaseMethod != "gcash" {
		t.Fatalf("unexpected released response: %+v", resp)
	}
}

func TestMessagesFromDomain(t *testing.T) {
	msgs := []*domain.Message{
		{ID: "m1", SenderID: "b", Kind: domain.MessageKindUser, Seq: 1},
		{ID: "m2", SenderID: domain.SystemActorID, Kind: domain.MessageKindSystem, Seq: 2, Images: []string{"a"}},
	}
	got := MessagesFromDomain(msgs, map[string]string{"b": "Juan"})
	if got[0].SenderName != "Juan" || got[1].SenderName != "" {
		t.Fatalf("unexpected names: %q %q", got[0].SenderName, got[1].SenderName)
	}
	if got[0].Images == nil {
		t.Fatal("images must encode as an empty list")
	}
}

func TestDepositFromDomain(t *testing.T) {
	resp := DepositFromDomain(&domain.Deposit{ID: "d", Amount: 20000, Fee: 300, Method: domain.MethodQRPH, Status: domain.DepositStatusPending})
	if resp.Net != "197.00" || resp.Fee != "3.00" {
		t.Fatalf("unexpected deposit response: %+v", resp)
	}
}
