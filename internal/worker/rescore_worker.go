package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"budget/internal/amqp"
	"budget/internal/core"
	applog "budget/internal/log"
	"budget/internal/storage"
)

// Rescorer recomputes stored month stats. *services.ImportService implements it.
type Rescorer interface {
	Rescore(ctx context.Context, key core.MonthKey) (core.MonthStats, error)
	Months(ctx context.Context) ([]storage.MonthRecord, error)
}

// RescoreWorker handles rescore requests arriving over AMQP.
type RescoreWorker struct {
	rescorer Rescorer
	logger   *slog.Logger
}

func NewRescoreWorker(rescorer Rescorer, logger *slog.Logger) *RescoreWorker {
	return &RescoreWorker{
		rescorer: rescorer,
		logger:   applog.WithComponent(logger, applog.ComponentWorker),
	}
}

// HandleRescoreRequest processes one rescore request. Requests that can never succeed
// (bad month key, month not stored) are acknowledged and dropped; anything else is
// returned so the message is requeued.
func (w *RescoreWorker) HandleRescoreRequest(ctx context.Context, msg *amqp.RescoreRequestMessage) error {
	key, err := core.ParseMonthKey(msg.Month)
	if err != nil {
		w.logger.WarnContext(ctx, "Dropping rescore request with invalid month",
			applog.FieldMonth, msg.Month,
			applog.FieldError, err)
		return nil
	}

	start := time.Now()
	stats, err := w.rescorer.Rescore(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		w.logger.WarnContext(ctx, "Dropping rescore request for unknown month",
			applog.FieldMonth, key.String())
		return nil
	}
	if err != nil {
		return fmt.Errorf("rescore %s: %w", key, err)
	}

	w.logger.InfoContext(ctx, "Processed rescore request",
		applog.FieldMonth, key.String(),
		applog.FieldScore, stats.Score,
		"reason", msg.Reason,
		applog.FieldDuration, time.Since(start).Milliseconds())
	return nil
}

// RescoreAll recomputes every stored month. A failure on one month is logged and the
// rest continue; the number of failed months is returned with the first error.
func (w *RescoreWorker) RescoreAll(ctx context.Context) (int, error) {
	months, err := w.rescorer.Months(ctx)
	if err != nil {
		return 0, fmt.Errorf("list months: %w", err)
	}

	var (
		failed   int
		firstErr error
	)
	for _, m := range months {
		if ctx.Err() != nil {
			return failed, ctx.Err()
		}
		if _, err := w.rescorer.Rescore(ctx, m.Key); err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			w.logger.ErrorContext(ctx, "Failed to rescore month",
				applog.FieldMonth, m.Key.String(),
				applog.FieldError, err)
		}
	}

	w.logger.InfoContext(ctx, "Rescored stored months", "months", len(months), "failed", failed)
	return failed, firstErr
}
