package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"budget/internal/amqp"
	"budget/internal/classifier"
	"budget/internal/core"
	"budget/internal/grouper"
	applog "budget/internal/log"
	"budget/internal/score"
	"budget/internal/storage"
)

var (
	ErrUnknownMonth   = errors.New("month not present in upload")
	ErrNoMonths       = errors.New("no months selected")
	ErrUploadNotFound = errors.New("upload not found or expired")
)

const DefaultMonthConcurrency = 2

// Store is the persistence used by ImportService. *storage.SQLiteRepository implements it.
type Store interface {
	InMonth(ctx context.Context, key core.MonthKey, fn func(tx *storage.MonthTx) error) error
	InStoredMonth(ctx context.Context, key core.MonthKey, fn func(tx *storage.MonthTx) error) error
	DedupKeys(ctx context.Context, key core.MonthKey) (map[string]struct{}, error)
	GetMonth(ctx context.Context, key core.MonthKey) (storage.MonthRecord, error)
	ListMonths(ctx context.Context) ([]storage.MonthRecord, error)
	MonthTransactions(ctx context.Context, key core.MonthKey) ([]core.CategorizedTransaction, error)
	TransactionMonth(ctx context.Context, id int64) (core.MonthKey, error)
	DeleteMonth(ctx context.Context, key core.MonthKey) error
}

// Categorizer assigns categories. *classifier.Service implements it.
type Categorizer interface {
	Categorize(ctx context.Context, txs []core.ParsedTransaction) classifier.Result
	Taxonomy() core.Taxonomy
	LowConfidenceThreshold() float64
}

// EventPublisher announces committed months. *amqp.Client implements it.
type EventPublisher interface {
	PublishMonthImported(ctx context.Context, msg *amqp.MonthImportedMessage) error
}

// ImportRequest selects months from a grouped upload and the persistence policy.
type ImportRequest struct {
	Months []core.MonthKey
	All    bool
	Policy core.ImportPolicy
}

// MonthOutcome reports what happened to one requested month. Err is set when the
// month was not applied; nothing was written for it in that case.
type MonthOutcome struct {
	Month             core.MonthKey
	Categorized       int
	LowConfidence     int
	DuplicatesSkipped int
	Replaced          int
	Batches           int
	Stats             core.MonthStats
	Err               error
}

// ImportReport is returned to the caller; it is not persisted.
type ImportReport struct {
	RunID   string
	Policy  core.ImportPolicy
	Batches int
	Months  []MonthOutcome
}

// Failed counts months that were not applied.
func (r ImportReport) Failed() int {
	n := 0
	for _, m := range r.Months {
		if m.Err != nil {
			n++
		}
	}
	return n
}

// ImportService drives categorization and scoring for selected months and applies
// the result to storage. It is the only component that writes months and transactions.
type ImportService struct {
	store            Store
	categorizer      Categorizer
	publisher        EventPublisher
	monthConcurrency int
	logger           *slog.Logger
}

// ImportOption customizes an ImportService.
type ImportOption func(*ImportService)

// WithPublisher announces committed months through p.
func WithPublisher(p EventPublisher) ImportOption {
	return func(s *ImportService) { s.publisher = p }
}

// WithMonthConcurrency bounds how many months are processed at once.
func WithMonthConcurrency(n int) ImportOption {
	return func(s *ImportService) {
		if n > 0 {
			s.monthConcurrency = n
		}
	}
}

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) ImportOption {
	return func(s *ImportService) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewImportService(store Store, categorizer Categorizer, opts ...ImportOption) *ImportService {
	s := &ImportService{
		store:            store,
		categorizer:      categorizer,
		monthConcurrency: DefaultMonthConcurrency,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(applog.FieldComponent, applog.ComponentReconciler)
	return s
}

// Import applies req to the months in upload. Only an invalid request returns an error;
// per-month failures are reported in the outcomes and never stop the other months.
func (s *ImportService) Import(ctx context.Context, upload grouper.Result, req ImportRequest) (ImportReport, error) {
	policy, err := core.ParseImportPolicy(string(req.Policy))
	if err != nil {
		return ImportReport{}, err
	}

	var keys []core.MonthKey
	if req.All {
		keys = upload.Keys()
	} else {
		keys = uniqueSorted(req.Months)
	}
	if len(keys) == 0 && !req.All {
		return ImportReport{}, ErrNoMonths
	}

	report := ImportReport{
		RunID:  uuid.NewString(),
		Policy: policy,
		Months: make([]MonthOutcome, len(keys)),
	}
	logger := s.logger.With(applog.FieldRunID, report.RunID, applog.FieldPolicy, string(policy))
	logger.InfoContext(ctx, "Import started", applog.FieldOperation, applog.OpCategorize, "months", len(keys))

	g := new(errgroup.Group)
	g.SetLimit(s.monthConcurrency)
	for i, key := range keys {
		g.Go(func() error {
			bucket, ok := upload.Find(key)
			if !ok {
				report.Months[i] = MonthOutcome{Month: key, Err: fmt.Errorf("%w: %s", ErrUnknownMonth, key)}
				logger.WarnContext(ctx, "Requested month not in upload", applog.FieldMonth, key.String())
				return nil
			}
			report.Months[i] = s.importMonth(ctx, logger, bucket, policy, report.RunID)
			return nil
		})
	}
	_ = g.Wait()

	for _, m := range report.Months {
		report.Batches += m.Batches
	}
	logger.InfoContext(ctx, "Import finished",
		"months", len(keys),
		"failed", report.Failed(),
		applog.FieldBatches, report.Batches)
	return report, nil
}

func (s *ImportService) importMonth(ctx context.Context, logger *slog.Logger, bucket *core.MonthBucket, policy core.ImportPolicy, runID string) MonthOutcome {
	key := bucket.Key()
	out := MonthOutcome{Month: key}
	logger = logger.With(applog.FieldMonth, key.String())
	start := time.Now()

	candidates := bucket.Transactions()
	if policy == core.PolicyMerge {
		existing, err := s.store.DedupKeys(ctx, key)
		if err != nil {
			out.Err = fmt.Errorf("load existing transactions: %w", err)
			logger.ErrorContext(ctx, "Month import failed", applog.FieldError, out.Err)
			return out
		}
		var skipped int
		candidates, skipped = withoutExisting(candidates, existing)
		out.DuplicatesSkipped = skipped
	}

	res := s.categorizer.Categorize(ctx, candidates)
	out.Batches = res.Batches
	if err := ctx.Err(); err != nil {
		out.Err = fmt.Errorf("categorization abandoned: %w", err)
		logger.WarnContext(ctx, "Month import abandoned", applog.FieldError, err)
		return out
	}

	toInsert := res.Transactions
	err := s.store.InMonth(ctx, key, func(tx *storage.MonthTx) error {
		if policy == core.PolicyMerge {
			// Another import may have committed since the keys were read.
			existing, err := tx.DedupKeys(ctx)
			if err != nil {
				return err
			}
			var raced int
			toInsert, raced = categorizedWithoutExisting(toInsert, existing)
			out.DuplicatesSkipped += raced
		} else {
			n, err := tx.DeleteTransactions(ctx)
			if err != nil {
				return err
			}
			out.Replaced = int(n)
		}

		if _, err := tx.Insert(ctx, toInsert); err != nil {
			return err
		}
		all, err := tx.Transactions(ctx)
		if err != nil {
			return err
		}
		out.Stats = score.FromTransactions(all)
		return tx.SaveStats(ctx, out.Stats)
	})
	if err != nil {
		out = MonthOutcome{Month: key, Batches: res.Batches, Err: fmt.Errorf("store month: %w", err)}
		logger.ErrorContext(ctx, "Month import failed", applog.FieldError, err)
		return out
	}

	out.Categorized = len(toInsert)
	threshold := s.categorizer.LowConfidenceThreshold()
	for _, t := range toInsert {
		if t.IsLowConfidence(threshold) {
			out.LowConfidence++
		}
	}

	logger.InfoContext(ctx, "Month imported",
		"categorized", out.Categorized,
		"low_confidence", out.LowConfidence,
		"duplicates_skipped", out.DuplicatesSkipped,
		"replaced", out.Replaced,
		applog.FieldScore, out.Stats.Score,
		applog.FieldDuration, time.Since(start).Milliseconds())

	s.publish(ctx, logger, amqp.NewMonthImportedMessage(runID, key.String(), string(policy),
		out.Categorized, out.LowConfidence, out.DuplicatesSkipped, out.Stats.Score, string(out.Stats.Label)))
	return out
}

// Rescore recomputes a stored month's stats from its persisted transactions.
func (s *ImportService) Rescore(ctx context.Context, key core.MonthKey) (core.MonthStats, error) {
	var stats core.MonthStats
	err := s.store.InStoredMonth(ctx, key, func(tx *storage.MonthTx) error {
		all, err := tx.Transactions(ctx)
		if err != nil {
			return err
		}
		stats = score.FromTransactions(all)
		return tx.SaveStats(ctx, stats)
	})
	if err != nil {
		return core.MonthStats{}, fmt.Errorf("rescore %s: %w", key, err)
	}
	fields := applog.NewFields().WithOperation(applog.OpRescore).WithMonth(key.String())
	fields[applog.FieldScore] = stats.Score
	s.logger.InfoContext(ctx, "Month rescored", fields.ToSlice()...)
	return stats, nil
}

// Correction is the result of a manual category change.
type Correction struct {
	Month       core.MonthKey
	Category    core.Category
	Subcategory string
	Stats       core.MonthStats
}

// CorrectTransaction reclassifies one stored transaction, flags it as a manual override
// and rescores its month in the same atomic scope.
func (s *ImportService) CorrectTransaction(ctx context.Context, id int64, category, subcategory string) (Correction, error) {
	cat, sub, err := s.categorizer.Taxonomy().Validate(category, subcategory)
	if err != nil {
		return Correction{}, err
	}
	key, err := s.store.TransactionMonth(ctx, id)
	if err != nil {
		return Correction{}, err
	}

	c := Correction{Month: key, Category: cat, Subcategory: sub}
	err = s.store.InStoredMonth(ctx, key, func(tx *storage.MonthTx) error {
		if err := tx.SetClassification(ctx, id, cat, sub); err != nil {
			return err
		}
		all, err := tx.Transactions(ctx)
		if err != nil {
			return err
		}
		c.Stats = score.FromTransactions(all)
		return tx.SaveStats(ctx, c.Stats)
	})
	if err != nil {
		return Correction{}, fmt.Errorf("correct transaction %d: %w", id, err)
	}
	s.logger.InfoContext(ctx, "Transaction corrected",
		applog.FieldOperation, applog.OpCorrect,
		"id", id,
		applog.FieldMonth, key.String(),
		"category", string(cat),
		"subcategory", sub,
		applog.FieldScore, c.Stats.Score)
	return c, nil
}

// Months lists stored months oldest first.
func (s *ImportService) Months(ctx context.Context) ([]storage.MonthRecord, error) {
	return s.store.ListMonths(ctx)
}

// Month returns a stored month and its transactions.
func (s *ImportService) Month(ctx context.Context, key core.MonthKey) (storage.MonthRecord, []core.CategorizedTransaction, error) {
	rec, err := s.store.GetMonth(ctx, key)
	if err != nil {
		return storage.MonthRecord{}, nil, err
	}
	txs, err := s.store.MonthTransactions(ctx, key)
	if err != nil {
		return storage.MonthRecord{}, nil, err
	}
	return rec, txs, nil
}

// DeleteMonth removes a stored month with its transactions.
func (s *ImportService) DeleteMonth(ctx context.Context, key core.MonthKey) error {
	return s.store.DeleteMonth(ctx, key)
}

func (s *ImportService) publish(ctx context.Context, logger *slog.Logger, msg *amqp.MonthImportedMessage) {
	if s.publisher == nil {
		logger.DebugContext(ctx, "No event publisher configured, skipping month event")
		return
	}
	if err := s.publisher.PublishMonthImported(ctx, msg); err != nil {
		// The month is committed; a lost event is not a failed import.
		logger.ErrorContext(ctx, "Failed to publish month imported event", applog.FieldError, err)
	}
}

func withoutExisting(txs []core.ParsedTransaction, existing map[string]struct{}) ([]core.ParsedTransaction, int) {
	out := make([]core.ParsedTransaction, 0, len(txs))
	for _, t := range txs {
		if _, dup := existing[t.DedupKey()]; dup {
			continue
		}
		out = append(out, t)
	}
	return out, len(txs) - len(out)
}

func categorizedWithoutExisting(txs []core.CategorizedTransaction, existing map[string]struct{}) ([]core.CategorizedTransaction, int) {
	out := make([]core.CategorizedTransaction, 0, len(txs))
	for _, t := range txs {
		if _, dup := existing[t.DedupKey()]; dup {
			continue
		}
		out = append(out, t)
	}
	return out, len(txs) - len(out)
}

func uniqueSorted(keys []core.MonthKey) []core.MonthKey {
	out := slices.Clone(keys)
	slices.SortFunc(out, func(a, b core.MonthKey) int { return a.Compare(b) })
	return slices.Compact(out)
}
