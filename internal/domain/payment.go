package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod identifies how money enters, leaves or settles.
type PaymentMethod string

const (
	MethodWallet  PaymentMethod = "wallet"
	MethodQRPH    PaymentMethod = "qrph"
	MethodCard    PaymentMethod = "card"
	MethodGCash   PaymentMethod = "gcash"
	MethodPayMaya PaymentMethod = "paymaya"
)

// PaymentMethods lists every supported method.
var PaymentMethods = []PaymentMethod{MethodWallet, MethodQRPH, MethodCard, MethodGCash, MethodPayMaya}

// ParsePaymentMethod normalises s into a known method.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	m := PaymentMethod(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range PaymentMethods {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMethod, s)
}

const bpsDenominator = 10000

// FeeSchedule is the platform fee policy in basis points.
type FeeSchedule struct {
	DepositBps    int64
	WithdrawalBps int64
	ReleaseBps    map[PaymentMethod]int64
}

// DefaultFeeSchedule returns the standard marketplace fees.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		DepositBps:    150,
		WithdrawalBps: 200,
		ReleaseBps: map[PaymentMethod]int64{
			MethodWallet:  100,
			MethodQRPH:    150,
			MethodGCash:   250,
			MethodPayMaya: 250,
			MethodCard:    350,
		},
	}
}

// Validate rejects rates outside 0..100%.
func (s FeeSchedule) Validate() error {
	check := func(name string, bps int64) error {
		if bps < 0 || bps > bpsDenominator {
			return fmt.Errorf("fee %s out of range: %d bps", name, bps)
		}
		return nil
	}
	if err := check("deposit", s.DepositBps); err != nil {
		return err
	}
	if err := check("withdrawal", s.WithdrawalBps); err != nil {
		return err
	}
	for m, bps := range s.ReleaseBps {
		if err := check("release/"+string(m), bps); err != nil {
			return err
		}
	}
	return nil
}

func (s FeeSchedule) DepositFee(amount int64) int64 {
	return ApplyBps(amount, s.DepositBps)
}

func (s FeeSchedule) WithdrawalFee(amount int64) int64 {
	return ApplyBps(amount, s.WithdrawalBps)
}

// ReleaseFee is the fee withheld from the seller when escrow settles via method.
func (s FeeSchedule) ReleaseFee(amount int64, method PaymentMethod) (int64, error) {
	bps, ok := s.ReleaseBps[method]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMethod, method)
	}
	return ApplyBps(amount, bps), nil
}

// ApplyBps returns amount*bps/10000 rounded half-up to a whole minor unit.
func ApplyBps(amount, bps int64) int64 {
	return decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(bps)).
		Div(decimal.NewFromInt(bpsDenominator)).
		Round(0).
		IntPart()
}

type DepositStatus string

const (
	DepositStatusPending   DepositStatus = "pending"
	DepositStatusConfirmed DepositStatus = "confirmed"
	DepositStatusFailed    DepositStatus = "failed"
)

// MinDepositAmount is 10.00 in minor units.
const MinDepositAmount int64 = 1000

// Deposit is a wallet top-up waiting for the payment gateway to confirm.
type Deposit struct {
	ID          string
	AccountID   string
	Amount      int64
	Fee         int64
	Currency    string
	Method      PaymentMethod
	Status      DepositStatus
	CheckoutURL string
	GatewayRef  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ConfirmedAt *time.Time
}

// Confirm marks a pending deposit as paid.
func (d *Deposit) Confirm(gatewayRef string, now time.Time) error {
	if d.Status != DepositStatusPending {
		return ErrDepositNotPending
	}
	d.Status = DepositStatusConfirmed
	if gatewayRef != "" {
		d.GatewayRef = gatewayRef
	}
	d.UpdatedAt = now
	d.ConfirmedAt = &now
	return nil
}

// Fail marks a pending deposit as failed or expired.
func (d *Deposit) Fail(now time.Time) error {
	if d.Status != DepositStatusPending {
		return ErrDepositNotPending
	}
	d.Status = DepositStatusFailed
	d.UpdatedAt = now
	return nil
}
