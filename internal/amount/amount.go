// Package amount converts locale-ambiguous money strings from payment
// emails into exact two-fraction-digit decimals.
package amount

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrUnparseable indicates the input could not be read as a finite,
// non-negative amount. Callers treat this as a classification outcome,
// not a fault.
var ErrUnparseable = errors.New("unparseable amount")

// currencyStripper removes currency tokens and every whitespace variant
// seen in provider emails, including NBSP (U+00A0) and narrow NBSP
// (U+202F).
var currencyStripper = strings.NewReplacer(
	"EUR", "",
	"eur", "",
	"Eur", "",
	"€", "",
	" ", "",
	"\t", "",
	" ", "",
	" ", "",
)

// Parse normalizes a numeric string that may use either the European
// convention ("1.234,56") or the plain convention ("1,234.56" or
// "1234.56") and returns the value quantized to two fraction digits.
//
// When both separators appear, the one occurring later in the string is
// the decimal point and the earlier one is a thousands separator. A
// lone comma is a decimal point. A lone dot is taken as-is.
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(currencyStripper.Replace(s))
	if s == "" {
		return decimal.Decimal{}, fmt.Errorf("empty input: %w", ErrUnparseable)
	}

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.ReplaceAll(s, ",", ".")
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		s = strings.ReplaceAll(s, ",", ".")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parsing %q: %w", s, ErrUnparseable)
	}
	if d.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("negative amount %q: %w", s, ErrUnparseable)
	}

	return d.Round(2), nil
}
