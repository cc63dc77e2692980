package main

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"budget/internal/core"
	"budget/internal/services"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Header = text.FormatDefault
	t.Style().Format.Footer = text.FormatDefault
	return t
}

func renderPreview(w io.Writer, s services.UploadSummary) {
	fmt.Fprintf(w, "Parsed %d transactions in %d months\n\n", s.TotalTransactions, len(s.Months))

	t := newTable(w)
	t.AppendHeader(table.Row{"Month", "Transactions", "Income", "Expenses"})
	for _, m := range s.Months {
		t.AppendRow(table.Row{
			m.Month.String(),
			m.Summary.Count,
			core.FormatEuros(m.Summary.TotalIncome),
			core.FormatEuros(m.Summary.TotalExpenses),
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})
	t.Render()
}

func renderReport(w io.Writer, r services.ImportReport) {
	fmt.Fprintf(w, "Import %s (%s, %d classifier batches)\n\n", r.RunID, r.Policy, r.Batches)

	t := newTable(w)
	t.AppendHeader(table.Row{"Month", "Categorized", "Low confidence", "Duplicates", "Core %", "Choice %", "Compound %", "Score"})
	for _, m := range r.Months {
		if m.Err != nil {
			t.AppendRow(table.Row{m.Month.String(), text.FgRed.Sprint(m.Err.Error()), "", "", "", "", "", ""})
			continue
		}
		t.AppendRow(table.Row{
			m.Month.String(),
			m.Categorized,
			m.LowConfidence,
			m.DuplicatesSkipped,
			m.Stats.CorePct.StringFixed(1),
			m.Stats.ChoicePct.StringFixed(1),
			m.Stats.CompoundPct.StringFixed(1),
			scoreCell(m.Stats),
		})
	}
	t.Render()
}

func scoreCell(s core.MonthStats) string {
	cell := fmt.Sprintf("%d %s", s.Score, s.Label)
	switch s.Label {
	case core.LabelGreat:
		return text.FgGreen.Sprint(cell)
	case core.LabelPoor:
		return text.FgRed.Sprint(cell)
	default:
		return cell
	}
}
