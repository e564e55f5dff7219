package domain

import (
	"fmt"
	"strings"
	"time"
)

// AccountKind separates customer wallets from platform bookkeeping accounts.
type AccountKind string

const (
	AccountKindUser   AccountKind = "user"
	AccountKindSystem AccountKind = "system"
)

// System accounts. The gateway clearing account mirrors money held by the
// external payment provider and is the only account allowed below zero.
const (
	SystemAccountPrefix = "platform:"
	FeeAccountID        = SystemAccountPrefix + "fees"
	GatewayAccountID    = SystemAccountPrefix + "gateway"
)

// IsSystemAccountID reports whether id is in the namespace reserved for
// platform accounts. No principal or counterparty may use it.
func IsSystemAccountID(id string) bool {
	return strings.HasPrefix(id, SystemAccountPrefix)
}

// Account is a wallet. Balance and Held are materialised folds of the
// account's postings: Balance over both buckets, Held over the held bucket.
type Account struct {
	ID                   string
	Kind                 AccountKind
	Currency             string
	Balance              int64
	Held                 int64
	Version              int64
	AllowNegativeBalance bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// NewUserAccount returns an empty customer wallet.
func NewUserAccount(id, currency string, now time.Time) *Account {
	return &Account{
		ID:        id,
		Kind:      AccountKindUser,
		Currency:  currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SystemAccounts returns the platform accounts required by the ledger.
func SystemAccounts(currency string, now time.Time) []*Account {
	return []*Account{
		{ID: FeeAccountID, Kind: AccountKindSystem, Currency: currency, CreatedAt: now, UpdatedAt: now},
		{ID: GatewayAccountID, Kind: AccountKindSystem, Currency: currency, AllowNegativeBalance: true, CreatedAt: now, UpdatedAt: now},
	}
}

// Available is the spendable part of the balance.
func (a *Account) Available() int64 {
	return a.Balance - a.Held
}

// ValidateDebit checks that amount can leave the available bucket.
func (a *Account) ValidateDebit(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if !a.AllowNegativeBalance && a.Available() < amount {
		return ErrInsufficientFunds
	}
	return nil
}

// Apply folds p into the account and stamps the resulting balance and
// version on the posting.
func (a *Account) Apply(p *Posting, now time.Time) error {
	if p.AccountID != a.ID {
		return fmt.Errorf("posting for %s applied to account %s", p.AccountID, a.ID)
	}
	if p.Currency != a.Currency {
		return ErrCurrencyMismatch
	}

	delta := p.Signed()
	balance := a.Balance + delta
	held := a.Held
	if p.Bucket == BucketHeld {
		held += delta
	}

	if held < 0 {
		return ErrHeldUnderflow
	}
	if !a.AllowNegativeBalance && (balance < 0 || balance-held < 0) {
		return ErrInsufficientFunds
	}

	a.Balance = balance
	a.Held = held
	a.Version++
	a.UpdatedAt = now

	p.BalanceAfter = a.Balance
	p.AccountVersion = a.Version
	return nil
}
