package domain

import (
	"errors"
	"testing"
	"time"
)

func TestApplyBps_RoundsHalfUp(t *testing.T) {
	tests := []struct {
		amount, bps, want int64
	}{
		{amount: 100000, bps: 150, want: 1500},
		{amount: 60000, bps: 200, want: 1200},
		{amount: 100, bps: 150, want: 2},  // 1.5 -> 2
		{amount: 33, bps: 150, want: 0},   // 0.495 -> 0
		{amount: 34, bps: 150, want: 1},   // 0.51 -> 1
		{amount: 250, bps: 200, want: 5},  // exact
		{amount: 125, bps: 200, want: 3},  // 2.5 -> 3
		{amount: 1, bps: 10000, want: 1},
		{amount: 999, bps: 0, want: 0},
	}

	for _, tt := range tests {
		if got := ApplyBps(tt.amount, tt.bps); got != tt.want {
			t.Errorf("ApplyBps(%d, %d) = %d, want %d", tt.amount, tt.bps, got, tt.want)
		}
	}
}

func TestFeeSchedule(t *testing.T) {
	fees := DefaultFeeSchedule()
	if err := fees.Validate(); err != nil {
		t.Fatalf("default schedule invalid: %v", err)
	}

	if got := fees.DepositFee(100000); got != 1500 {
		t.Fatalf("expected 1.5%% deposit fee, got %d", got)
	}
	if got := fees.WithdrawalFee(100000); got != 2000 {
		t.Fatalf("expected 2%% withdrawal fee, got %d", got)
	}

	for _, m := range PaymentMethods {
		if _, err := fees.ReleaseFee(60000, m); err != nil {
			t.Fatalf("method %s missing from schedule: %v", m, err)
		}
	}
	if _, err := fees.ReleaseFee(60000, "barter"); !errors.Is(err, ErrInvalidMethod) {
		t.Fatalf("expected ErrInvalidMethod, got %v", err)
	}

	bad := DefaultFeeSchedule()
	bad.WithdrawalBps = 10001
	if err := bad.Validate(); err == nil {
		t.Fatal("expected out-of-range fee to be rejected")
	}
}

func TestParsePaymentMethod(t *testing.T) {
	m, err := ParsePaymentMethod(" GCash ")
	if err != nil || m != MethodGCash {
		t.Fatalf("expected gcash, got %q %v", m, err)
	}
	if _, err := ParsePaymentMethod("bitcoin"); !errors.Is(err, ErrInvalidMethod) {
		t.Fatalf("expected ErrInvalidMethod, got %v", err)
	}
}

func TestDeposit_ConfirmOnce(t *testing.T) {
	now := time.Now()
	d := &Deposit{ID: "dep-1", Status: DepositStatusPending}

	if err := d.Confirm("pay_123", now); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if d.GatewayRef != "pay_123" || d.ConfirmedAt == nil {
		t.Fatalf("deposit not stamped: %+v", d)
	}
	if err := d.Confirm("pay_123", now); !errors.Is(err, ErrDepositNotPending) {
		t.Fatalf("expected ErrDepositNotPending on replay, got %v", err)
	}
	if err := d.Fail(now); !errors.Is(err, ErrDepositNotPending) {
		t.Fatalf("expected ErrDepositNotPending, got %v", err)
	}
}
