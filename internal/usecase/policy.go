package usecase

import (
	"fmt"
	"time"

	"github.com/iho/goescrow/internal/domain"
)

// Release method modes.
const (
	ReleaseMethodSelect = "select"
	ReleaseMethodFixed  = "fixed"
)

// EscrowPolicy holds the configurable parts of the escrow lifecycle.
type EscrowPolicy struct {
	// ReleaseMethodMode is "select" (buyer picks a method) or "fixed"
	// (DefaultReleaseMethod always applies).
	ReleaseMethodMode    string
	DefaultReleaseMethod domain.PaymentMethod
	// PendingTTL cancels pending transactions older than this. Zero disables it.
	PendingTTL time.Duration
}

// DefaultEscrowPolicy lets the buyer choose a method and never expires.
func DefaultEscrowPolicy() EscrowPolicy {
	return EscrowPolicy{
		ReleaseMethodMode:    ReleaseMethodSelect,
		DefaultReleaseMethod: domain.MethodWallet,
	}
}

// Validate checks the policy is usable.
func (p EscrowPolicy) Validate() error {
	if p.ReleaseMethodMode != ReleaseMethodSelect && p.ReleaseMethodMode != ReleaseMethodFixed {
		return fmt.Errorf("unknown release method mode %q", p.ReleaseMethodMode)
	}
	if _, err := domain.ParsePaymentMethod(string(p.DefaultReleaseMethod)); err != nil {
		return err
	}
	if p.PendingTTL < 0 {
		return fmt.Errorf("pending ttl must not be negative")
	}
	return nil
}

// ReleaseMethod resolves the method a release settles with.
func (p EscrowPolicy) ReleaseMethod(requested string) (domain.PaymentMethod, error) {
	if p.ReleaseMethodMode == ReleaseMethodFixed || requested == "" {
		return p.DefaultReleaseMethod, nil
	}
	return domain.ParsePaymentMethod(requested)
}
