// Package core provides money parsing and handling utilities.
//
// This file contains the Amount union recorded on requisitions and the
// parser that resolves it against a category currency.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

const (
	AmountMissing AmountKind = iota
	AmountNumeric
	AmountEncoded
)

// Reasons an amount does not contribute to a category total.
const (
	ExclusionNone             Exclusion = ""
	ExclusionMissing          Exclusion = "missing"
	ExclusionUnparseable      Exclusion = "unparseable"
	ExclusionCurrencyMismatch Exclusion = "currency_mismatch"
	ExclusionOutsideWindow    Exclusion = "outside_window"
)

type (
	AmountKind int

	Exclusion string

	// Amount is either a bare number, trusted to be in the category
	// currency, or an encoded "<amount> <currency>" string.
	Amount struct {
		kind     AmountKind
		value    decimal.Decimal
		currency string
		raw      string
		parsed   bool
	}

	// Resolution is the outcome of resolving an Amount against a currency.
	// When Applicable is false, Reason says why and Amount is zero.
	Resolution struct {
		Amount     decimal.Decimal
		Currency   Currency
		Applicable bool
		Reason     Exclusion
	}
)

// NumericAmount wraps a number with no currency attached.
func NumericAmount(v decimal.Decimal) Amount {
	return Amount{kind: AmountNumeric, value: v, parsed: true}
}

// EncodedAmount decodes a "<amount> <currency>" string. The numeric token may
// carry "$" and thousands separators. Blank input yields a missing amount.
func EncodedAmount(raw string) Amount {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Amount{}
	}
	a := Amount{kind: AmountEncoded, raw: raw}
	num, cur, _ := strings.Cut(trimmed, " ")
	a.currency = strings.TrimSpace(cur)

	num = strings.NewReplacer("$", "", ",", "").Replace(num)
	if v, err := decimal.NewFromString(num); err == nil {
		a.value = v
		a.parsed = true
	}
	return a
}

func (a Amount) Kind() AmountKind { return a.kind }

// IsPresent reports whether a value was recorded at all.
func (a Amount) IsPresent() bool { return a.kind != AmountMissing }

// Raw returns the stored representation: the original text for encoded
// amounts and the decimal string for numeric ones.
func (a Amount) Raw() string {
	switch a.kind {
	case AmountNumeric:
		return a.value.String()
	case AmountEncoded:
		return a.raw
	default:
		return ""
	}
}

// Resolve resolves the amount against the expected category currency.
// Encoded amounts in another currency are excluded, never converted.
func (a Amount) Resolve(expected Currency) Resolution {
	switch a.kind {
	case AmountNumeric:
		return Resolution{Amount: a.value, Currency: expected, Applicable: true}
	case AmountEncoded:
		if !a.parsed {
			return notApplicable(ExclusionUnparseable)
		}
		if a.currency != string(expected) {
			return notApplicable(ExclusionCurrencyMismatch)
		}
		return Resolution{Amount: a.value, Currency: expected, Applicable: true}
	default:
		return notApplicable(ExclusionMissing)
	}
}

// ParseAmount is a shortcut for decoding and resolving a stored string.
func ParseAmount(raw string, expected Currency) Resolution {
	return EncodedAmount(raw).Resolve(expected)
}

func notApplicable(reason Exclusion) Resolution {
	return Resolution{Amount: decimal.Zero, Applicable: false, Reason: reason}
}
