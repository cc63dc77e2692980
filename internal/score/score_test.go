package score

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"budget/internal/core"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCalculate(t *testing.T) {
	tests := []struct {
		name                            string
		income, core, choice            string
		corePct, choicePct, compoundPct string
		score                           int
		label                           core.ScoreLabel
	}{
		{"balanced", "1000", "500", "300", "50", "30", "20", 3, core.LabelGreat},
		{"core just over", "1000", "501", "200", "50.1", "20", "29.9", 2, core.LabelOkay},
		{"rounds down onto boundary", "1000", "500.4", "200", "50", "20", "29.96", 3, core.LabelGreat},
		{"overspending", "1000", "600", "500", "60", "50", "-10", 0, core.LabelPoor},
		{"core over budget", "1000", "600", "100", "60", "10", "30", 2, core.LabelOkay},
		{"only core", "1000", "400", "450", "40", "45", "15", 1, core.LabelNeedImprovement},
		{"zero income", "0", "0", "0", "0", "0", "0", 0, core.LabelPoor},
		{"zero income with spending", "0", "120", "30", "0", "0", "0", 0, core.LabelPoor},
		{"negative income", "-10", "0", "0", "0", "0", "0", 0, core.LabelPoor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Calculate(d(tt.income), d(tt.core), d(tt.choice))

			assert.True(t, got.CorePct.Equal(d(tt.corePct)), "core%% = %s", got.CorePct)
			assert.True(t, got.ChoicePct.Equal(d(tt.choicePct)), "choice%% = %s", got.ChoicePct)
			if tt.name != "rounds down onto boundary" {
				assert.True(t, got.CompoundPct.Equal(d(tt.compoundPct)), "compound%% = %s", got.CompoundPct)
			}
			assert.Equal(t, tt.score, got.Score)
			assert.Equal(t, tt.label, got.Label)
			assert.GreaterOrEqual(t, got.Score, 0)
			assert.LessOrEqual(t, got.Score, 3)
		})
	}
}

func TestCalculate_Overspending(t *testing.T) {
	got := Calculate(d("1000"), d("600"), d("500"))

	assert.True(t, got.TotalCompound.Equal(d("-100")))
	assert.Equal(t, "-10", got.CompoundPct.String())
	assert.True(t, got.CorePct.Equal(d("60.0")))
	assert.True(t, got.ChoicePct.Equal(d("50.0")))
	assert.Equal(t, 0, got.Score)
}

func TestCalculate_RoundsHalfUp(t *testing.T) {
	// 1/3 * 100 = 33.333.. -> 33.3 ; 2/3 * 100 = 66.666.. -> 66.7
	got := Calculate(d("3"), d("1"), d("2"))
	assert.True(t, got.CorePct.Equal(d("33.3")), got.CorePct.String())
	assert.True(t, got.ChoicePct.Equal(d("66.7")), got.ChoicePct.String())

	// 0.05 exactly at the half
	got = Calculate(d("2000"), d("1001"), d("0"))
	assert.True(t, got.CorePct.Equal(d("50.1")), got.CorePct.String())
	assert.Equal(t, 2, got.Score)
}

func TestCalculate_Idempotent(t *testing.T) {
	a := Calculate(d("2827.96"), d("1200.10"), d("410.55"))
	b := Calculate(d("2827.96"), d("1200.10"), d("410.55"))
	assert.True(t, a.Equal(b))
	assert.Equal(t, a, b)
}

func TestCalculate_NegativeInputsClamped(t *testing.T) {
	got := Calculate(d("100"), d("-20"), d("10"))
	assert.True(t, got.TotalCore.IsZero())
	assert.True(t, got.TotalCompound.Equal(d("90")))
}

func TestTotals(t *testing.T) {
	tx := func(cat core.Category, amount string) core.CategorizedTransaction {
		return core.CategorizedTransaction{
			ParsedTransaction: core.ParsedTransaction{Amount: d(amount)},
			Category:          cat,
		}
	}
	txs := []core.CategorizedTransaction{
		tx(core.Income, "2823.29"),
		tx(core.Income, "4.67"),
		tx(core.Core, "-900"),
		tx(core.Core, "-100.50"),
		tx(core.Choice, "-45.80"),
		tx(core.Choice, "10"), // refund
		tx(core.Compound, "-300"),
		tx(core.Excluded, "-1000"),
		tx(core.Uncategorized, "-7"),
	}

	income, coreTotal, choice := Totals(txs)
	assert.True(t, income.Equal(d("2827.96")))
	assert.True(t, coreTotal.Equal(d("1000.50")))
	assert.True(t, choice.Equal(d("35.80")))

	stats := FromTransactions(txs)
	assert.True(t, stats.TotalIncome.Equal(income))
	assert.True(t, stats.TotalCompound.Equal(d("1791.66")))
}

func TestTotals_RefundsOnlyFloorAtZero(t *testing.T) {
	_, coreTotal, _ := Totals([]core.CategorizedTransaction{{
		ParsedTransaction: core.ParsedTransaction{Amount: d("25")},
		Category:          core.Core,
	}})
	assert.True(t, coreTotal.IsZero())
}

func TestScoreCountsSatisfiedThresholds(t *testing.T) {
	for _, c := range []struct{ core, choice string }{
		{"800", "300"}, {"500", "400"}, {"500", "300"}, {"100", "100"},
	} {
		got := Calculate(d("1000"), d(c.core), d(c.choice))
		want := 0
		if got.CorePct.LessThanOrEqual(d("50")) {
			want++
		}
		if got.ChoicePct.LessThanOrEqual(d("30")) {
			want++
		}
		if got.CompoundPct.GreaterThanOrEqual(d("20")) {
			want++
		}
		assert.Equal(t, want, got.Score)
		assert.Equal(t, core.LabelForScore(want), got.Label)
	}
}
