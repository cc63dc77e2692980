package core

import "github.com/shopspring/decimal"

// ScoreLabel is determined by the score alone.
type ScoreLabel string

const (
	LabelPoor            ScoreLabel = "Poor"
	LabelNeedImprovement ScoreLabel = "Need Improvement"
	LabelOkay            ScoreLabel = "Okay"
	LabelGreat           ScoreLabel = "Great"
)

// LabelForScore maps 0..3 to a label. Out of range scores are clamped.
func LabelForScore(score int) ScoreLabel {
	switch {
	case score <= 0:
		return LabelPoor
	case score == 1:
		return LabelNeedImprovement
	case score == 2:
		return LabelOkay
	default:
		return LabelGreat
	}
}

// MonthStats is a cache derived from a month's transactions. It is never edited directly.
type MonthStats struct {
	TotalIncome   decimal.Decimal
	TotalCore     decimal.Decimal
	TotalChoice   decimal.Decimal
	TotalCompound decimal.Decimal // income - core - choice, negative when overspending
	CorePct       decimal.Decimal
	ChoicePct     decimal.Decimal
	CompoundPct   decimal.Decimal
	Score         int
	Label         ScoreLabel
}

// Equal compares every field by value.
func (s MonthStats) Equal(o MonthStats) bool {
	return s.TotalIncome.Equal(o.TotalIncome) &&
		s.TotalCore.Equal(o.TotalCore) &&
		s.TotalChoice.Equal(o.TotalChoice) &&
		s.TotalCompound.Equal(o.TotalCompound) &&
		s.CorePct.Equal(o.CorePct) &&
		s.ChoicePct.Equal(o.ChoicePct) &&
		s.CompoundPct.Equal(o.CompoundPct) &&
		s.Score == o.Score &&
		s.Label == o.Label
}
