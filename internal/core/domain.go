package core

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	PolicyReplace ImportPolicy = "replace"
	PolicyMerge   ImportPolicy = "merge"
)

type (
	// ImportPolicy selects how a month's persisted transactions are reconciled with a new import.
	ImportPolicy string

	// ParsedTransaction is one validated row of the export file. It is never mutated after parsing.
	ParsedTransaction struct {
		Date              time.Time
		Description       string
		Account           string
		Amount            decimal.Decimal // signed: positive is money in
		SourceCategory    string
		SourceSubcategory string
		Note              *string // nil when the note column is empty
		Reconciled        bool
	}

	// CategorizedTransaction pairs a ParsedTransaction with its budget classification.
	CategorizedTransaction struct {
		ParsedTransaction
		ID             int64 // zero until persisted
		Category       Category
		Subcategory    string
		Confidence     float64
		NeedsReview    bool
		ManualOverride bool
	}
)

var (
	ErrInvalidDate   = errors.New("invalid date")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidFlag   = errors.New("invalid yes/no value")
	ErrInvalidMonth  = errors.New("invalid month")
	ErrInvalidPolicy = errors.New("invalid import policy")
)

// ParseImportPolicy accepts "replace" or "merge" in any case.
func ParseImportPolicy(s string) (ImportPolicy, error) {
	switch ImportPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case PolicyReplace:
		return PolicyReplace, nil
	case PolicyMerge:
		return PolicyMerge, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
}

// Key returns the month the transaction belongs to.
func (t ParsedTransaction) Key() MonthKey {
	return MonthKey{Year: t.Date.Year(), Month: int(t.Date.Month())}
}

// IsIncome reports whether the amount is strictly positive.
func (t ParsedTransaction) IsIncome() bool {
	return t.Amount.IsPositive()
}

// Classify returns a new CategorizedTransaction for t. The taxonomy is not consulted here;
// callers validate the pair beforehand.
func (t ParsedTransaction) Classify(category Category, subcategory string, confidence float64) CategorizedTransaction {
	return CategorizedTransaction{
		ParsedTransaction: t,
		Category:          category,
		Subcategory:       subcategory,
		Confidence:        clampConfidence(confidence),
	}
}

// ForReview returns t with no category and zero confidence, flagged for manual review.
func (t ParsedTransaction) ForReview() CategorizedTransaction {
	return CategorizedTransaction{
		ParsedTransaction: t,
		Category:          Uncategorized,
		NeedsReview:       true,
	}
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// IsLowConfidence reports whether the classification falls below threshold.
// Transactions awaiting review are always low confidence.
func (c CategorizedTransaction) IsLowConfidence(threshold float64) bool {
	return c.NeedsReview || c.Confidence < threshold
}

// DedupKey identifies a transaction across imports by (date, description, amount, account).
// Two genuinely distinct transactions sharing all four fields produce the same key.
func (t ParsedTransaction) DedupKey() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x1f%s\x1f%s\x1f%s",
		t.Date.Format("2006-01-02"),
		strings.Join(strings.Fields(t.Description), " "),
		t.Amount.String(),
		strings.TrimSpace(t.Account))
	return hex.EncodeToString(h.Sum(nil))
}
