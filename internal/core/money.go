// Package core provides money, date and flag parsing for export files.
//
// Amounts use a comma as the fractional separator ("2823,29", "-45,80").
// A dot is accepted as a thousands separator when a comma is present.
package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the day/month/year layout of export files. Single digit days and months are accepted.
const DateLayout = "2/1/2006"

// ParseAmount converts a signed decimal with comma separator into an exact decimal.
//
// Examples:
//
//	ParseAmount("4,67")      -> 4.67
//	ParseAmount("-2,5")      -> -2.5
//	ParseAmount("1.234,56")  -> 1234.56
//	ParseAmount("12")        -> 12
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "\u00a0", "")
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		if strings.Count(s, ",") > 1 {
			return decimal.Zero, ErrInvalidAmount
		}
		s = strings.Replace(s, ",", ".", 1)
	}
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.':
		case (r == '-' || r == '+') && i == 0:
		default:
			return decimal.Zero, ErrInvalidAmount
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// ParseDate parses DD/MM/YYYY and rejects impossible calendar dates such as 31/02 or 29/02 outside leap years.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return t, nil
}

// ParseYesNo maps the reconciled column to a boolean. An empty value is false.
func ParseYesNo(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "oui", "true", "1":
		return true, nil
	case "no", "n", "non", "false", "0", "":
		return false, nil
	}
	return false, fmt.Errorf("%w: %q", ErrInvalidFlag, s)
}

// FormatEuros formats an amount with two decimals and a comma separator (e.g. "€12,34").
func FormatEuros(d decimal.Decimal) string {
	neg := d.IsNegative()
	s := strings.Replace(d.Abs().StringFixed(2), ".", ",", 1)
	if neg {
		return "-€" + s
	}
	return "€" + s
}
