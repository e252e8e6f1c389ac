package money

import (
	"errors"
	"testing"
)

func TestParseDecimal(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want Amount
	}{
		{"10.00", 1000},
		{"10", 1000},
		{"10.5", 1050},
		{"0.01", 1},
		{"250.75", 25075},
		{".5", 50},
		{"-5.00", -500},
	}
	for _, tc := range cases {
		got, err := ParseDecimal(tc.in)
		if err != nil {
			t.Fatalf("ParseDecimal(%q) failed: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseDecimal(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestParseDecimalRejectsInvalid(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "abc", "10.001", "10.0.0", "-", "."} {
		if _, err := ParseDecimal(in); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("ParseDecimal(%q) = %v, expected ErrInvalidAmount", in, err)
		}
	}
}

func TestDecimalRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   Amount
		want string
	}{
		{1000, "10.00"},
		{1, "0.01"},
		{25075, "250.75"},
		{0, "0.00"},
		{-1050, "-10.50"},
	}
	for _, tc := range cases {
		if got := tc.in.Decimal(); got != tc.want {
			t.Fatalf("Amount(%d).Decimal() = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMulInt(t *testing.T) {
	t.Parallel()

	if got := Amount(1000).MulInt(3); got != 3000 {
		t.Fatalf("MulInt(3) = %d, want 3000", got)
	}
	if got := Amount(1000).MulInt(0); got != 0 {
		t.Fatalf("MulInt(0) = %d, want 0", got)
	}
}
