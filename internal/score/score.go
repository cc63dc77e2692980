// Package score computes budget-health statistics for a month.
//
// The split follows the 50/30/20 rule: core spending should stay at or below
// half of income, discretionary choices at or below 30%, and at least 20%
// should be left over for savings and investment.
package score

import (
	"github.com/shopspring/decimal"

	"budget/internal/core"
)

const (
	MaxCorePct       = 50
	MaxChoicePct     = 30
	MinCompoundPct   = 20
	percentPrecision = 1
)

var hundred = decimal.NewFromInt(100)

// Calculate derives MonthStats from the three category totals. Core and choice are
// expected non-negative; negative inputs are treated as zero. Percentages are rounded
// half away from zero to one decimal before thresholds are applied.
func Calculate(income, coreTotal, choiceTotal decimal.Decimal) core.MonthStats {
	coreTotal = nonNegative(coreTotal)
	choiceTotal = nonNegative(choiceTotal)
	compound := income.Sub(coreTotal).Sub(choiceTotal)

	stats := core.MonthStats{
		TotalIncome:   income,
		TotalCore:     coreTotal,
		TotalChoice:   choiceTotal,
		TotalCompound: compound,
		CorePct:       decimal.Zero,
		ChoicePct:     decimal.Zero,
		CompoundPct:   decimal.Zero,
		Score:         0,
		Label:         core.LabelPoor,
	}
	if !income.IsPositive() {
		return stats
	}

	stats.CorePct = percent(coreTotal, income)
	stats.ChoicePct = percent(choiceTotal, income)
	stats.CompoundPct = percent(compound, income)

	if stats.CorePct.LessThanOrEqual(decimal.NewFromInt(MaxCorePct)) {
		stats.Score++
	}
	if stats.ChoicePct.LessThanOrEqual(decimal.NewFromInt(MaxChoicePct)) {
		stats.Score++
	}
	if stats.CompoundPct.GreaterThanOrEqual(decimal.NewFromInt(MinCompoundPct)) {
		stats.Score++
	}
	stats.Label = core.LabelForScore(stats.Score)
	return stats
}

// Totals sums a month's categorized transactions into income, core and choice.
// Income is the signed sum of INCOME amounts; core and choice are net outflows,
// floored at zero.
func Totals(txs []core.CategorizedTransaction) (income, coreTotal, choiceTotal decimal.Decimal) {
	income, coreTotal, choiceTotal = decimal.Zero, decimal.Zero, decimal.Zero
	for _, t := range txs {
		switch t.Category {
		case core.Income:
			income = income.Add(t.Amount)
		case core.Core:
			coreTotal = coreTotal.Sub(t.Amount)
		case core.Choice:
			choiceTotal = choiceTotal.Sub(t.Amount)
		}
	}
	return income, nonNegative(coreTotal), nonNegative(choiceTotal)
}

// FromTransactions is Calculate over Totals.
func FromTransactions(txs []core.CategorizedTransaction) core.MonthStats {
	return Calculate(Totals(txs))
}

func percent(part, income decimal.Decimal) decimal.Decimal {
	return part.Mul(hundred).DivRound(income, percentPrecision)
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
