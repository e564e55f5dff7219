package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Validation errors
var (
	ErrInvalidCurrency = errors.New("invalid currency code")
	ErrAmountTooLarge  = fmt.Errorf("%w: exceeds maximum allowed", ErrInvalidAmount)
	ErrAmountTooSmall  = fmt.Errorf("%w: below minimum allowed", ErrInvalidAmount)
)

// Validation constants
const (
	DefaultCurrency = "PHP"
	// MaxAmount is 10,000,000.00 in minor units.
	MaxAmount int64 = 1_000_000_000
	// MinorUnitExponent is the number of fractional digits of the currency.
	MinorUnitExponent = 2
)

// Currencies the wallet settles in.
var validCurrencies = map[string]bool{
	"PHP": true,
	"USD": true,
}

// ValidateCurrency validates currency code
func ValidateCurrency(currency string) error {
	currency = strings.ToUpper(strings.TrimSpace(currency))

	if !validCurrencies[currency] {
		return fmt.Errorf("%w: %s", ErrInvalidCurrency, currency)
	}

	return nil
}

// ValidateAmount validates a minor-unit amount
func ValidateAmount(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if amount > MaxAmount {
		return fmt.Errorf("%w: maximum amount is %s", ErrAmountTooLarge, FormatMinor(MaxAmount))
	}
	return nil
}

// ParseMinor converts a major-unit decimal ("600.50") into minor units.
// More fractional digits than the currency supports is an invalid amount.
func ParseMinor(amount decimal.Decimal) (int64, error) {
	shifted := amount.Shift(MinorUnitExponent)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("%w: too many decimal places", ErrInvalidAmount)
	}
	if !shifted.IsPositive() {
		return 0, ErrInvalidAmount
	}
	if shifted.GreaterThan(decimal.NewFromInt(MaxAmount)) {
		return 0, ErrAmountTooLarge
	}
	return shifted.IntPart(), nil
}

// ToMajor converts minor units back into a major-unit decimal.
func ToMajor(minor int64) decimal.Decimal {
	return decimal.New(minor, -MinorUnitExponent)
}

// FormatMinor renders minor units as a fixed two-place string.
func FormatMinor(minor int64) string {
	return ToMajor(minor).StringFixed(MinorUnitExponent)
}

// ValidatePagination validates and limits pagination parameters
func ValidatePagination(limit, offset int) (int, int, error) {
	const MaxPageSize = 500
	const DefaultPageSize = 50

	if limit <= 0 {
		limit = DefaultPageSize
	}

	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	if offset < 0 {
		offset = 0
	}

	return limit, offset, nil
}
