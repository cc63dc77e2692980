package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"budget/internal/core"
	"budget/internal/grouper"
	applog "budget/internal/log"
	"budget/internal/parser"
	"budget/internal/staging"
)

// PreviewSize is how many transactions per month an upload summary shows.
const PreviewSize = 5

// MonthPreview summarizes one detected month of an upload.
type MonthPreview struct {
	Month   core.MonthKey
	Summary core.MonthSummary
	Preview []core.ParsedTransaction
}

// UploadSummary is returned by Stage. Nothing has been persisted at this point.
type UploadSummary struct {
	ID                string
	ExpiresAt         time.Time
	TotalTransactions int
	Months            []MonthPreview
}

// UploadService parses uploads and keeps them staged until they are categorized.
type UploadService struct {
	staged      *staging.Store[grouper.Result]
	importer    *ImportService
	logger      *slog.Logger
	parseLogger *slog.Logger
}

func NewUploadService(staged *staging.Store[grouper.Result], importer *ImportService) *UploadService {
	return &UploadService{
		staged:   staged,
		importer: importer,
		logger:      applog.WithComponent(slog.Default(), applog.ComponentStaging),
		parseLogger: applog.WithComponent(slog.Default(), applog.ComponentParser),
	}
}

// Stage parses and groups data and stages the result under a new handle.
// Format and row errors are returned unchanged so callers can report them.
func (u *UploadService) Stage(ctx context.Context, data []byte) (UploadSummary, error) {
	r, err := parser.NewReader(data)
	if err != nil {
		u.rejected(ctx, err, 0)
		return UploadSummary{}, err
	}
	grouped, err := grouper.GroupSeq(r.All())
	if err != nil {
		u.rejected(ctx, err, r.Count())
		return UploadSummary{}, err
	}

	entry := u.staged.Put(grouped)
	summary := UploadSummary{
		ID:                entry.ID,
		ExpiresAt:         entry.ExpiresAt,
		TotalTransactions: grouped.Total,
		Months:            make([]MonthPreview, 0, len(grouped.Months)),
	}
	for _, b := range grouped.Months {
		summary.Months = append(summary.Months, MonthPreview{
			Month:   b.Key(),
			Summary: b.Summary(),
			Preview: b.Preview(PreviewSize),
		})
	}

	u.logger.InfoContext(ctx, "Upload staged",
		applog.FieldOperation, applog.OpUpload,
		applog.FieldUploadID, entry.ID,
		"transactions", grouped.Total,
		"months", len(grouped.Months))
	return summary, nil
}

func (u *UploadService) rejected(ctx context.Context, err error, rowsRead int) {
	fields := applog.NewFields().WithOperation(applog.OpUpload).WithError(err)
	fields["rows_read"] = rowsRead
	var rowErr *parser.RowParseError
	if errors.As(err, &rowErr) {
		fields[applog.FieldLine] = rowErr.Line
	}
	u.parseLogger.WarnContext(ctx, "Upload rejected", fields.ToSlice()...)
}

// Categorize runs the import for a staged upload. The upload stays staged until it
// expires so other months can be categorized later.
func (u *UploadService) Categorize(ctx context.Context, uploadID string, req ImportRequest) (ImportReport, error) {
	entry, ok := u.staged.Get(uploadID)
	if !ok {
		return ImportReport{}, fmt.Errorf("%w: %s", ErrUploadNotFound, uploadID)
	}
	return u.importer.Import(ctx, entry.Value, req)
}

// Discard drops a staged upload.
func (u *UploadService) Discard(uploadID string) {
	u.staged.Delete(uploadID)
}
