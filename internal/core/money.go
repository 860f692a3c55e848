// Package core holds the domain model for the expense ledger: money
// parsing, the expense record types, and creation-request validation.
package core

import (
	"errors"
	"strconv"
	"strings"
)

// ErrInvalidAmount reports a string that does not denote a valid
// non-negative decimal amount.
var ErrInvalidAmount = errors.New("invalid amount")

// ParseAmount converts a decimal string into integer minor units (paise).
//
// The accepted shape is one or more digits, optionally followed by a dot
// and one or two fractional digits. A single fractional digit is tenths,
// so "1.5" parses to 150. Anything else (empty, signs, commas, multiple
// dots, more than two fractional digits, exponents) is rejected. Only
// integer arithmetic is used, so results are exact.
//
// Examples:
//
//	ParseAmount("199.50") -> 19950, nil
//	ParseAmount("200")    -> 20000, nil
//	ParseAmount("0.1")    -> 10, nil
//	ParseAmount("-10.00") -> 0, ErrInvalidAmount
func ParseAmount(s string) (int64, error) {
	if s == "" {
		return 0, ErrInvalidAmount
	}

	whole := s
	frac := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
		if len(frac) < 1 || len(frac) > 2 {
			return 0, ErrInvalidAmount
		}
	}
	if whole == "" {
		return 0, ErrInvalidAmount
	}
	for _, r := range whole {
		if r < '0' || r > '9' {
			return 0, ErrInvalidAmount
		}
	}
	for _, r := range frac {
		if r < '0' || r > '9' {
			return 0, ErrInvalidAmount
		}
	}

	iv, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}

	var minor int64
	if frac != "" {
		fv, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, ErrInvalidAmount
		}
		if len(frac) == 1 {
			// A lone fractional digit is tenths
			fv *= 10
		}
		minor = fv
	}

	// Prevent overflow when scaling to minor units. At the boundary whole
	// value the fractional part can still push past MaxInt64, so both
	// limits are checked before multiplying.
	const maxWhole = (1<<63 - 1) / 100
	const maxMinor = (1<<63 - 1) % 100
	if iv > maxWhole || (iv == maxWhole && minor > maxMinor) {
		return 0, ErrInvalidAmount
	}

	return iv*100 + minor, nil
}
