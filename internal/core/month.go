package core

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// MonthKey identifies a calendar month. Ordering is lexicographic on (Year, Month).
type MonthKey struct {
	Year  int
	Month int // 1-12
}

// NewMonthKey validates the month range.
func NewMonthKey(year, month int) (MonthKey, error) {
	if month < 1 || month > 12 {
		return MonthKey{}, fmt.Errorf("%w: %d", ErrInvalidMonth, month)
	}
	return MonthKey{Year: year, Month: month}, nil
}

// ParseMonthKey parses "YYYY-MM".
func ParseMonthKey(s string) (MonthKey, error) {
	y, m, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return MonthKey{}, fmt.Errorf("%w: %q", ErrInvalidMonth, s)
	}
	year, err := strconv.Atoi(y)
	if err != nil || len(y) != 4 {
		return MonthKey{}, fmt.Errorf("%w: %q", ErrInvalidMonth, s)
	}
	month, err := strconv.Atoi(m)
	if err != nil {
		return MonthKey{}, fmt.Errorf("%w: %q", ErrInvalidMonth, s)
	}
	return NewMonthKey(year, month)
}

func (k MonthKey) String() string {
	return fmt.Sprintf("%04d-%02d", k.Year, k.Month)
}

// Less orders keys chronologically.
func (k MonthKey) Less(o MonthKey) bool {
	if k.Year != o.Year {
		return k.Year < o.Year
	}
	return k.Month < o.Month
}

// Compare returns -1, 0 or +1, for use with slices.SortStableFunc.
func (k MonthKey) Compare(o MonthKey) int {
	switch {
	case k.Less(o):
		return -1
	case o.Less(k):
		return 1
	}
	return 0
}

// MonthSummary is derived from a bucket's membership. Income and expenses are split by sign only.
type MonthSummary struct {
	Count         int
	TotalIncome   decimal.Decimal
	TotalExpenses decimal.Decimal // absolute value of negative amounts
}

// MonthBucket owns the transactions of one month in source order.
type MonthBucket struct {
	key          MonthKey
	transactions []ParsedTransaction
	summary      MonthSummary
}

// NewMonthBucket returns an empty bucket for key.
func NewMonthBucket(key MonthKey) *MonthBucket {
	return &MonthBucket{
		key: key,
		summary: MonthSummary{
			TotalIncome:   decimal.Zero,
			TotalExpenses: decimal.Zero,
		},
	}
}

func (b *MonthBucket) Key() MonthKey { return b.key }

// Add appends t and updates the summary. t must belong to the bucket's month.
func (b *MonthBucket) Add(t ParsedTransaction) error {
	if t.Key() != b.key {
		return fmt.Errorf("transaction dated %s does not belong to month %s", t.Date.Format("2006-01-02"), b.key)
	}
	b.transactions = append(b.transactions, t)
	b.summary.Count++
	switch {
	case t.IsIncome():
		b.summary.TotalIncome = b.summary.TotalIncome.Add(t.Amount)
	case t.Amount.IsNegative():
		b.summary.TotalExpenses = b.summary.TotalExpenses.Add(t.Amount.Neg())
	}
	return nil
}

// Transactions returns a copy of the members in insertion order.
func (b *MonthBucket) Transactions() []ParsedTransaction {
	out := make([]ParsedTransaction, len(b.transactions))
	copy(out, b.transactions)
	return out
}

// Preview returns at most n members from the start of the bucket.
func (b *MonthBucket) Preview(n int) []ParsedTransaction {
	if n > len(b.transactions) {
		n = len(b.transactions)
	}
	out := make([]ParsedTransaction, n)
	copy(out, b.transactions[:n])
	return out
}

func (b *MonthBucket) Summary() MonthSummary { return b.summary }

func (b *MonthBucket) Len() int { return len(b.transactions) }
