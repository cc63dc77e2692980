package http

import (
	"time"

	"github.com/shopspring/decimal"

	"budget/internal/core"
	"budget/internal/services"
	"budget/internal/storage"
)

// JSON views. Amounts are decimal strings with two places, percentages with one.

type transactionView struct {
	ID                int64   `json:"id,omitempty"`
	Date              string  `json:"date"`
	Description       string  `json:"description"`
	Account           string  `json:"account,omitempty"`
	Amount            string  `json:"amount"`
	SourceCategory    string  `json:"source_category,omitempty"`
	SourceSubcategory string  `json:"source_subcategory,omitempty"`
	Note              *string `json:"note,omitempty"`
	Reconciled        bool    `json:"reconciled"`
	Category          string  `json:"category,omitempty"`
	Subcategory       string  `json:"subcategory,omitempty"`
	Confidence        float64 `json:"confidence"`
	NeedsReview       bool    `json:"needs_review,omitempty"`
	ManualOverride    bool    `json:"manual_override,omitempty"`
}

type statsView struct {
	TotalIncome   string `json:"total_income"`
	TotalCore     string `json:"total_core"`
	TotalChoice   string `json:"total_choice"`
	TotalCompound string `json:"total_compound"`
	CorePct       string `json:"core_pct"`
	ChoicePct     string `json:"choice_pct"`
	CompoundPct   string `json:"compound_pct"`
	Score         int    `json:"score"`
	Label         string `json:"label"`
}

type monthPreviewView struct {
	Month         string            `json:"month"`
	Count         int               `json:"count"`
	TotalIncome   string            `json:"total_income"`
	TotalExpenses string            `json:"total_expenses"`
	Preview       []transactionView `json:"preview"`
}

type uploadView struct {
	UploadID          string             `json:"upload_id"`
	ExpiresAt         time.Time          `json:"expires_at"`
	TotalTransactions int                `json:"total_transactions"`
	Months            []monthPreviewView `json:"months"`
}

type outcomeView struct {
	Month             string     `json:"month"`
	Categorized       int        `json:"categorized"`
	LowConfidence     int        `json:"low_confidence"`
	DuplicatesSkipped int        `json:"duplicates_skipped"`
	Replaced          int        `json:"replaced"`
	Batches           int        `json:"batches"`
	Score             int        `json:"score"`
	Label             string     `json:"label,omitempty"`
	Stats             *statsView `json:"stats,omitempty"`
	Error             string     `json:"error,omitempty"`
}

type categorizeView struct {
	RunID   string        `json:"run_id"`
	Policy  string        `json:"policy"`
	Batches int           `json:"batches"`
	Failed  int           `json:"failed"`
	Months  []outcomeView `json:"months"`
}

type monthView struct {
	Month            string            `json:"month"`
	TransactionCount int               `json:"transaction_count"`
	UpdatedAt        time.Time         `json:"updated_at"`
	Stats            statsView         `json:"stats"`
	Transactions     []transactionView `json:"transactions,omitempty"`
}

type correctionView struct {
	ID          int64     `json:"id"`
	Month       string    `json:"month"`
	Category    string    `json:"category"`
	Subcategory string    `json:"subcategory"`
	Stats       statsView `json:"stats"`
}

type rescoreView struct {
	Month  string     `json:"month"`
	Queued bool       `json:"queued,omitempty"`
	Stats  *statsView `json:"stats,omitempty"`
}

type errorView struct {
	Error          string   `json:"error"`
	MissingColumns []string `json:"missing_columns,omitempty"`
	Line           int      `json:"line,omitempty"`
	Column         string   `json:"column,omitempty"`
}

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func percent(d decimal.Decimal) string { return d.StringFixed(1) }

func toTransactionView(t core.ParsedTransaction) transactionView {
	return transactionView{
		Date:              t.Date.Format(time.DateOnly),
		Description:       t.Description,
		Account:           t.Account,
		Amount:            money(t.Amount),
		SourceCategory:    t.SourceCategory,
		SourceSubcategory: t.SourceSubcategory,
		Note:              t.Note,
		Reconciled:        t.Reconciled,
	}
}

func toCategorizedView(t core.CategorizedTransaction) transactionView {
	v := toTransactionView(t.ParsedTransaction)
	v.ID = t.ID
	v.Category = string(t.Category)
	v.Subcategory = t.Subcategory
	v.Confidence = t.Confidence
	v.NeedsReview = t.NeedsReview
	v.ManualOverride = t.ManualOverride
	return v
}

func toStatsView(s core.MonthStats) statsView {
	return statsView{
		TotalIncome:   money(s.TotalIncome),
		TotalCore:     money(s.TotalCore),
		TotalChoice:   money(s.TotalChoice),
		TotalCompound: money(s.TotalCompound),
		CorePct:       percent(s.CorePct),
		ChoicePct:     percent(s.ChoicePct),
		CompoundPct:   percent(s.CompoundPct),
		Score:         s.Score,
		Label:         string(s.Label),
	}
}

func toUploadView(s services.UploadSummary) uploadView {
	v := uploadView{
		UploadID:          s.ID,
		ExpiresAt:         s.ExpiresAt.UTC(),
		TotalTransactions: s.TotalTransactions,
		Months:            make([]monthPreviewView, 0, len(s.Months)),
	}
	for _, m := range s.Months {
		preview := make([]transactionView, 0, len(m.Preview))
		for _, t := range m.Preview {
			preview = append(preview, toTransactionView(t))
		}
		v.Months = append(v.Months, monthPreviewView{
			Month:         m.Month.String(),
			Count:         m.Summary.Count,
			TotalIncome:   money(m.Summary.TotalIncome),
			TotalExpenses: money(m.Summary.TotalExpenses),
			Preview:       preview,
		})
	}
	return v
}

func toCategorizeView(r services.ImportReport) categorizeView {
	v := categorizeView{
		RunID:   r.RunID,
		Policy:  string(r.Policy),
		Batches: r.Batches,
		Failed:  r.Failed(),
		Months:  make([]outcomeView, 0, len(r.Months)),
	}
	for _, m := range r.Months {
		o := outcomeView{
			Month:             m.Month.String(),
			Categorized:       m.Categorized,
			LowConfidence:     m.LowConfidence,
			DuplicatesSkipped: m.DuplicatesSkipped,
			Replaced:          m.Replaced,
			Batches:           m.Batches,
		}
		if m.Err != nil {
			o.Error = m.Err.Error()
		} else {
			stats := toStatsView(m.Stats)
			o.Stats = &stats
			o.Score = m.Stats.Score
			o.Label = string(m.Stats.Label)
		}
		v.Months = append(v.Months, o)
	}
	return v
}

func toMonthView(rec storage.MonthRecord, txs []core.CategorizedTransaction) monthView {
	v := monthView{
		Month:            rec.Key.String(),
		TransactionCount: rec.TransactionCount,
		UpdatedAt:        rec.UpdatedAt.UTC(),
		Stats:            toStatsView(rec.Stats),
	}
	if txs != nil {
		v.Transactions = make([]transactionView, 0, len(txs))
		for _, t := range txs {
			v.Transactions = append(v.Transactions, toCategorizedView(t))
		}
	}
	return v
}
