// Package money parses and formats statement amounts. Bank exports disagree
// on separators ("1,234.56" vs "1.234,56"), sign conventions ("-12.50",
// "(12.50)") and embedded currency symbols; everything is normalized into
// shopspring decimals so downstream arithmetic stays exact.
package money

import (
	"fmt"
	"strings"

	gomoney "github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

var currencySymbols = []string{"R$", "$", "€", "£", "¥", "₹", "USD", "EUR", "GBP", "BRL"}

// ParseAmount parses a raw amount cell into a decimal.
// Handles leading/trailing sign, parenthesis negatives, currency symbols and
// both US and European separator conventions. The convention is inferred per
// value: when both separators appear the right-most one is the decimal mark;
// a lone separator followed by at most two digits is treated as decimal.
func ParseAmount(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	s = strings.Trim(s, `"'`)
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}

	for _, sym := range currencySymbols {
		s = strings.ReplaceAll(s, sym, "")
	}
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, " ", "")

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	}
	if strings.HasPrefix(s, "-") {
		negative = !negative
		s = strings.TrimPrefix(s, "-")
	}
	s = strings.TrimPrefix(s, "+")
	if s == "" {
		return decimal.Zero, fmt.Errorf("invalid amount: %q", raw)
	}

	s = normalizeSeparators(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount: %q", raw)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// normalizeSeparators rewrites a digit string with thousands/decimal
// separators into plain "1234.56" form.
func normalizeSeparators(s string) string {
	hasComma := strings.Contains(s, ",")
	hasDot := strings.Contains(s, ".")

	switch {
	case hasComma && hasDot:
		// Right-most separator is the decimal mark.
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case hasComma:
		if decimalLike(s, ',') {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case hasDot:
		if !decimalLike(s, '.') {
			s = strings.ReplaceAll(s, ".", "")
		}
	}
	return s
}

// decimalLike reports whether the single separator sep reads as a decimal
// mark: it appears once, with one or two trailing digits.
func decimalLike(s string, sep rune) bool {
	if strings.Count(s, string(sep)) != 1 {
		return false
	}
	idx := strings.IndexRune(s, sep)
	tail := s[idx+1:]
	return len(tail) == 1 || len(tail) == 2
}

// IsNumeric reports whether a cell parses as an amount. Used by format
// detection to classify columns.
func IsNumeric(raw string) bool {
	_, err := ParseAmount(raw)
	return err == nil
}

// Display renders an amount for user-facing summaries using the currency's
// conventional symbol and grouping, e.g. Display(d, "EUR") -> "€1,234.56".
func Display(amount decimal.Decimal, currencyCode string) string {
	currency := gomoney.GetCurrency(currencyCode)
	if currency == nil {
		currency = gomoney.GetCurrency("EUR")
	}
	minor := amount.Mul(decimal.New(1, int32(currency.Fraction))).Round(0).IntPart()
	return gomoney.New(minor, currency.Code).Display()
}
