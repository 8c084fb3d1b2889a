// Package money holds the decimal rules shared by the cart and the payment
// adapters: two-place half-up rounding and conversion to provider units.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

const Places = 2

var ErrCurrency = errors.New("unsupported currency")

// Round rounds half away from zero to two places, which is half-up for the
// non-negative amounts a checkout deals with.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// ParseCurrency validates an ISO 4217 code and returns it upper-cased.
func ParseCurrency(code string) (string, error) {
	u, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrCurrency, code)
	}
	return u.String(), nil
}

// scale is the number of minor-unit digits for the currency (2 for USD, 0 for JPY).
func scale(code string) int32 {
	u, err := currency.ParseISO(code)
	if err != nil {
		return Places
	}
	s, _ := currency.Standard.Rounding(u)
	return int32(s)
}

// ToMinorUnits rounds to two places and converts to the smallest currency
// unit: 12.345 USD becomes 1235.
func ToMinorUnits(amount decimal.Decimal, code string) int64 {
	rounded := Round(amount)
	s := scale(code)
	return rounded.Shift(s).Round(0).IntPart()
}

// FromMinorUnits is the inverse of ToMinorUnits.
func FromMinorUnits(minor int64, code string) decimal.Decimal {
	return decimal.New(minor, -scale(code))
}

// Format renders the rounded amount with exactly two decimals, the form
// PayPal and Braintree expect ("12.35").
func Format(amount decimal.Decimal) string {
	return Round(amount).StringFixed(Places)
}

// Parse reads a provider amount string.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return d, nil
}
