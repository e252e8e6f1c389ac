package money

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Amount is a monetary amount in minor units (halalas, cents).
// All ledger math uses integer arithmetic so that repeated credits and
// debits round-trip exactly.
type Amount int64

// Common errors
var (
	ErrInvalidAmount  = errors.New("invalid monetary amount")
	ErrNegativeAmount = errors.New("amount cannot be negative")
)

// ParseDecimal converts a decimal string such as "10", "10.5" or "10.50"
// into minor units. More than two fractional digits is rejected rather
// than rounded.
func ParseDecimal(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}

	negative := false
	if strings.HasPrefix(s, "-") {
		negative = true
		s = s[1:]
	}

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" && frac == "" {
		return 0, ErrInvalidAmount
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 2 {
		return 0, fmt.Errorf("%w: at most two fractional digits", ErrInvalidAmount)
	}
	for len(frac) < 2 {
		frac += "0"
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}

	total := units*100 + cents
	if negative {
		total = -total
	}
	return Amount(total), nil
}

// Decimal renders the amount as a two-decimal string, e.g. 1050 -> "10.50".
func (a Amount) Decimal() string {
	v := int64(a)
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// MulInt multiplies the amount by an integer count (e.g. per-member
// contribution times number of contributors).
func (a Amount) MulInt(n int) Amount {
	return a * Amount(n)
}

// IsPositive reports whether the amount is strictly greater than zero.
func (a Amount) IsPositive() bool {
	return a > 0
}
