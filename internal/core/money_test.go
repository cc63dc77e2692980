package core

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in  string
		out string
		ok  bool
	}{
		{"4,67", "4.67", true},
		{"-2,5", "-2.5", true},
		{"2823,29", "2823.29", true},
		{"-45,80", "-45.8", true},
		{"1.234,56", "1234.56", true},
		{" 12 ", "12", true},
		{"+3,10", "3.1", true},
		{"0,00", "0", true},
		{"abc", "", false},
		{"1,2,3", "", false},
		{"12-3", "", false},
		{"", "", false},
		{"€5,00", "", false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.ok {
			if err != nil || !got.Equal(decimal.RequireFromString(tc.out)) {
				t.Fatalf("%q expected %s, got %s (err=%v)", tc.in, tc.out, got, err)
			}
		} else if err == nil {
			t.Fatalf("%q expected error", tc.in)
		}
	}
}

func TestParseDate(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"31/10/2025", time.Date(2025, 10, 31, 0, 0, 0, 0, time.UTC), true},
		{"1/1/2025", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{"29/02/2024", time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), true},
		{"31/12/2024", time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), true},
		{"29/02/2025", time.Time{}, false},
		{"31/04/2025", time.Time{}, false},
		{"2025-10-31", time.Time{}, false},
		{"13/13/2025", time.Time{}, false},
		{"", time.Time{}, false},
	}
	for _, tc := range cases {
		got, err := ParseDate(tc.in)
		if tc.ok {
			if err != nil || !got.Equal(tc.want) {
				t.Fatalf("%q expected %v, got %v (err=%v)", tc.in, tc.want, got, err)
			}
		} else if err == nil {
			t.Fatalf("%q expected error", tc.in)
		}
	}
}

func TestParseYesNo(t *testing.T) {
	for in, want := range map[string]bool{"yes": true, "Oui": true, "NO": false, "non": false, "": false} {
		got, err := ParseYesNo(in)
		if err != nil || got != want {
			t.Fatalf("%q expected %v, got %v (err=%v)", in, want, got, err)
		}
	}
	if _, err := ParseYesNo("maybe"); err == nil {
		t.Fatalf("expected error for maybe")
	}
}

func TestFormatEuros(t *testing.T) {
	if got := FormatEuros(decimal.RequireFromString("12.3")); got != "€12,30" {
		t.Fatalf("got %s", got)
	}
	if got := FormatEuros(decimal.RequireFromString("-45.8")); got != "-€45,80" {
		t.Fatalf("got %s", got)
	}
}
