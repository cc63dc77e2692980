package services

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"budget/internal/amqp"
	"budget/internal/classifier"
	"budget/internal/core"
	"budget/internal/grouper"
	"budget/internal/parser"
	"budget/internal/storage"
)

const sampleFile = "date;description;account;amount;category;subcategory;note;reconciled\n" +
	"31/10/2025;Interest;Savings;4,67;Bank;Interest;;yes\n" +
	"29/10/2025;Bakery;Checking;-2,5;Food;Bakery;;no\n" +
	"29/10/2025;Payroll;Checking;2823,29;Income;Salary;;yes\n" +
	"15/09/2025;Fuel;Checking;-45,80;Car;Fuel;;no\n"

var (
	september = core.MonthKey{Year: 2025, Month: 9}
	october   = core.MonthKey{Year: 2025, Month: 10}
)

// keywordClassifier answers from the description. Unknown descriptions become groceries.
type keywordClassifier struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (k *keywordClassifier) Classify(_ context.Context, batch []classifier.Item, _ core.Taxonomy) ([]classifier.Answer, error) {
	k.mu.Lock()
	k.calls++
	k.mu.Unlock()
	if k.err != nil {
		return nil, k.err
	}
	out := make([]classifier.Answer, 0, len(batch))
	for _, it := range batch {
		a := classifier.Answer{Index: it.Index, Category: "CORE", Subcategory: "Groceries"}
		switch {
		case strings.Contains(it.Description, "Payroll"):
			a.Category, a.Subcategory = "INCOME", "Salary"
		case strings.Contains(it.Description, "Interest"):
			a.Category, a.Subcategory = "INCOME", "Other income"
		case strings.Contains(it.Description, "Bakery"):
			low := 0.6
			a.Category, a.Subcategory, a.Confidence = "CHOICE", "Restaurants", &low
		case strings.Contains(it.Description, "Fuel"), strings.Contains(it.Description, "Rent"):
			a.Subcategory = "Transport"
		}
		out = append(out, a)
	}
	return out, nil
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []*amqp.MonthImportedMessage
	err  error
}

func (p *recordingPublisher) PublishMonthImported(_ context.Context, msg *amqp.MonthImportedMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return p.err
}

// failingStore fails the atomic scope for one month.
type failingStore struct {
	*storage.SQLiteRepository
	failMonth core.MonthKey
}

func (f *failingStore) InMonth(ctx context.Context, key core.MonthKey, fn func(tx *storage.MonthTx) error) error {
	if key == f.failMonth {
		return f.SQLiteRepository.InMonth(ctx, key, func(tx *storage.MonthTx) error {
			if err := fn(tx); err != nil {
				return err
			}
			return errors.New("disk full")
		})
	}
	return f.SQLiteRepository.InMonth(ctx, key, fn)
}

// deletingStore removes a month right before the stored-month scope opens.
type deletingStore struct {
	*storage.SQLiteRepository
}

func (d *deletingStore) InStoredMonth(ctx context.Context, key core.MonthKey, fn func(tx *storage.MonthTx) error) error {
	if err := d.SQLiteRepository.DeleteMonth(ctx, key); err != nil {
		return err
	}
	return d.SQLiteRepository.InStoredMonth(ctx, key, fn)
}

func newRepo(t *testing.T) *storage.SQLiteRepository {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "budget.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func newCategorizer(t *testing.T, c classifier.Classifier) *classifier.Service {
	t.Helper()
	svc, err := classifier.NewService(c, classifier.Options{
		Retry: classifier.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2},
	})
	require.NoError(t, err)
	return svc
}

func group(t *testing.T, data string) grouper.Result {
	t.Helper()
	txs, err := parser.Parse([]byte(data))
	require.NoError(t, err)
	return grouper.Group(txs)
}

func outcomeFor(t *testing.T, r ImportReport, key core.MonthKey) MonthOutcome {
	t.Helper()
	for _, m := range r.Months {
		if m.Month == key {
			return m
		}
	}
	t.Fatalf("no outcome for %s", key)
	return MonthOutcome{}
}

func TestImport_AllMonthsScored(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	svc := NewImportService(repo, newCategorizer(t, &keywordClassifier{}))

	report, err := svc.Import(ctx, group(t, sampleFile), ImportRequest{All: true, Policy: core.PolicyMerge})
	require.NoError(t, err)
	require.Len(t, report.Months, 2)
	assert.NotEmpty(t, report.RunID)
	assert.Zero(t, report.Failed())
	assert.Equal(t, 2, report.Batches)

	oct := outcomeFor(t, report, october)
	require.NoError(t, oct.Err)
	assert.Equal(t, 3, oct.Categorized)
	assert.Equal(t, 1, oct.LowConfidence)
	assert.True(t, oct.Stats.TotalIncome.Equal(decimal.RequireFromString("2827.96")))
	assert.True(t, oct.Stats.TotalChoice.Equal(decimal.RequireFromString("2.5")))
	assert.Equal(t, 3, oct.Stats.Score)
	assert.Equal(t, core.LabelGreat, oct.Stats.Label)

	sep := outcomeFor(t, report, september)
	require.NoError(t, sep.Err)
	assert.Equal(t, 0, sep.Stats.Score, "no income in September")

	rec, err := repo.GetMonth(ctx, october)
	require.NoError(t, err)
	assert.True(t, rec.Stats.Equal(oct.Stats))
}

func TestImport_MergeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	svc := NewImportService(repo, newCategorizer(t, &keywordClassifier{}))
	upload := group(t, sampleFile)

	first, err := svc.Import(ctx, upload, ImportRequest{All: true, Policy: core.PolicyMerge})
	require.NoError(t, err)

	second, err := svc.Import(ctx, upload, ImportRequest{All: true, Policy: core.PolicyMerge})
	require.NoError(t, err)

	oct := outcomeFor(t, second, october)
	require.NoError(t, oct.Err)
	assert.Zero(t, oct.Categorized)
	assert.Equal(t, 3, oct.DuplicatesSkipped)
	assert.Zero(t, oct.Batches, "nothing new to classify")
	assert.True(t, oct.Stats.Equal(outcomeFor(t, first, october).Stats))

	txs, err := repo.MonthTransactions(ctx, october)
	require.NoError(t, err)
	assert.Len(t, txs, 3)
}

func TestImport_MergeAddsOnlyNewRows(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	svc := NewImportService(repo, newCategorizer(t, &keywordClassifier{}))

	_, err := svc.Import(ctx, group(t, sampleFile), ImportRequest{Months: []core.MonthKey{october}, Policy: core.PolicyMerge})
	require.NoError(t, err)

	more := sampleFile + "30/10/2025;Rent;Checking;-900;Home;Rent;;yes\n"
	report, err := svc.Import(ctx, group(t, more), ImportRequest{Months: []core.MonthKey{october}, Policy: core.PolicyMerge})
	require.NoError(t, err)

	oct := outcomeFor(t, report, october)
	assert.Equal(t, 1, oct.Categorized)
	assert.Equal(t, 3, oct.DuplicatesSkipped)
	assert.True(t, oct.Stats.TotalCore.Equal(decimal.NewFromInt(900)))

	txs, err := repo.MonthTransactions(ctx, october)
	require.NoError(t, err)
	assert.Len(t, txs, 4)
}

func TestImport_ReplaceDiscardsPrevious(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	svc := NewImportService(repo, newCategorizer(t, &keywordClassifier{}))

	_, err := svc.Import(ctx, group(t, sampleFile), ImportRequest{All: true, Policy: core.PolicyMerge})
	require.NoError(t, err)

	replacement := "date;description;account;amount;category;subcategory;note;reconciled\n" +
		"02/10/2025;Rent;Checking;-900;Home;Rent;;yes\n"
	report, err := svc.Import(ctx, group(t, replacement), ImportRequest{Months: []core.MonthKey{october}, Policy: core.PolicyReplace})
	require.NoError(t, err)

	oct := outcomeFor(t, report, october)
	require.NoError(t, oct.Err)
	assert.Equal(t, 3, oct.Replaced)
	assert.Equal(t, 1, oct.Categorized)
	assert.Zero(t, oct.DuplicatesSkipped)
	assert.Equal(t, 0, oct.Stats.Score, "no income left")

	txs, err := repo.MonthTransactions(ctx, october)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "Rent", txs[0].Description)

	sepTxs, err := repo.MonthTransactions(ctx, september)
	require.NoError(t, err)
	assert.Len(t, sepTxs, 1, "months not requested are untouched")
}

func TestImport_UnknownMonthReportedPerMonth(t *testing.T) {
	ctx := context.Background()
	svc := NewImportService(newRepo(t), newCategorizer(t, &keywordClassifier{}))
	missing := core.MonthKey{Year: 2024, Month: 1}

	report, err := svc.Import(ctx, group(t, sampleFile), ImportRequest{
		Months: []core.MonthKey{october, missing, october},
		Policy: core.PolicyMerge,
	})
	require.NoError(t, err)
	require.Len(t, report.Months, 2, "duplicates collapsed")
	assert.Equal(t, missing, report.Months[0].Month, "chronological order")
	assert.ErrorIs(t, report.Months[0].Err, ErrUnknownMonth)
	assert.NoError(t, report.Months[1].Err)
	assert.Equal(t, 1, report.Failed())
}

func TestImport_InvalidRequest(t *testing.T) {
	svc := NewImportService(newRepo(t), newCategorizer(t, &keywordClassifier{}))
	upload := group(t, sampleFile)

	_, err := svc.Import(context.Background(), upload, ImportRequest{Months: []core.MonthKey{october}, Policy: "upsert"})
	assert.ErrorIs(t, err, core.ErrInvalidPolicy)

	_, err = svc.Import(context.Background(), upload, ImportRequest{Policy: core.PolicyMerge})
	assert.ErrorIs(t, err, ErrNoMonths)
}

func TestImport_StorageFailureIsolatedToMonth(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	pub := &recordingPublisher{}
	svc := NewImportService(&failingStore{SQLiteRepository: repo, failMonth: september},
		newCategorizer(t, &keywordClassifier{}), WithPublisher(pub))

	report, err := svc.Import(ctx, group(t, sampleFile), ImportRequest{All: true, Policy: core.PolicyMerge})
	require.NoError(t, err)

	sep := outcomeFor(t, report, september)
	assert.Error(t, sep.Err)
	assert.Zero(t, sep.Categorized)
	assert.NoError(t, outcomeFor(t, report, october).Err)

	_, err = repo.GetMonth(ctx, september)
	assert.ErrorIs(t, err, storage.ErrNotFound, "failed month left no trace")
	txs, err := repo.MonthTransactions(ctx, october)
	require.NoError(t, err)
	assert.Len(t, txs, 3)

	require.Len(t, pub.msgs, 1, "only committed months are announced")
	assert.Equal(t, "2025-10", pub.msgs[0].Month)
}

func TestImport_ClassifierOutageGoesToReview(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	fake := &keywordClassifier{err: &classifier.Error{Code: classifier.CodeUnavailable, Message: "service down"}}
	svc := NewImportService(repo, newCategorizer(t, fake))

	report, err := svc.Import(ctx, group(t, sampleFile), ImportRequest{Months: []core.MonthKey{october}, Policy: core.PolicyMerge})
	require.NoError(t, err)

	oct := outcomeFor(t, report, october)
	require.NoError(t, oct.Err, "classification failure never fails the month")
	assert.Equal(t, 3, oct.Categorized)
	assert.Equal(t, 3, oct.LowConfidence)
	assert.True(t, oct.Stats.TotalIncome.IsZero(), "nothing counted until reviewed")

	txs, err := repo.MonthTransactions(ctx, october)
	require.NoError(t, err)
	for _, tx := range txs {
		assert.True(t, tx.NeedsReview)
		assert.Equal(t, core.Uncategorized, tx.Category)
	}
}

func TestImport_CancelledPersistsNothing(t *testing.T) {
	repo := newRepo(t)
	svc := NewImportService(repo, newCategorizer(t, &keywordClassifier{}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := svc.Import(ctx, group(t, sampleFile), ImportRequest{All: true, Policy: core.PolicyReplace})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Failed())

	months, err := repo.ListMonths(context.Background())
	require.NoError(t, err)
	assert.Empty(t, months)
}

func TestImport_PublishFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{err: errors.New("broker unreachable")}
	svc := NewImportService(newRepo(t), newCategorizer(t, &keywordClassifier{}), WithPublisher(pub), WithMonthConcurrency(1))

	report, err := svc.Import(ctx, group(t, sampleFile), ImportRequest{All: true, Policy: core.PolicyMerge})
	require.NoError(t, err)
	assert.Zero(t, report.Failed())
	require.Len(t, pub.msgs, 2)

	var oct *amqp.MonthImportedMessage
	for _, m := range pub.msgs {
		if m.Month == "2025-10" {
			oct = m
		}
	}
	require.NotNil(t, oct)
	assert.Equal(t, report.RunID, oct.RunID)
	assert.Equal(t, "merge", oct.Policy)
	assert.Equal(t, 3, oct.Categorized)
	assert.Equal(t, 3, oct.Score)
	assert.Equal(t, "Great", oct.Label)
}

func TestRescore(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	svc := NewImportService(repo, newCategorizer(t, &keywordClassifier{}))

	report, err := svc.Import(ctx, group(t, sampleFile), ImportRequest{Months: []core.MonthKey{october}, Policy: core.PolicyMerge})
	require.NoError(t, err)

	stats, err := svc.Rescore(ctx, october)
	require.NoError(t, err)
	assert.True(t, stats.Equal(outcomeFor(t, report, october).Stats), "rescore is idempotent")

	_, err = svc.Rescore(ctx, september)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = repo.GetMonth(ctx, september)
	assert.ErrorIs(t, err, storage.ErrNotFound, "rescoring a missing month does not create it")
}

func TestRescore_ConcurrentDeleteDoesNotResurrectMonth(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	seed := NewImportService(repo, newCategorizer(t, &keywordClassifier{}))
	_, err := seed.Import(ctx, group(t, sampleFile), ImportRequest{Months: []core.MonthKey{october}, Policy: core.PolicyMerge})
	require.NoError(t, err)

	svc := NewImportService(&deletingStore{repo}, newCategorizer(t, &keywordClassifier{}))
	_, err = svc.Rescore(ctx, october)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = repo.GetMonth(ctx, october)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	months, err := repo.ListMonths(ctx)
	require.NoError(t, err)
	for _, m := range months {
		assert.NotEqual(t, october, m.Key)
	}
}

func TestCorrectTransaction(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	svc := NewImportService(repo, newCategorizer(t, &keywordClassifier{}))

	_, err := svc.Import(ctx, group(t, sampleFile), ImportRequest{Months: []core.MonthKey{october}, Policy: core.PolicyMerge})
	require.NoError(t, err)

	_, txs, err := svc.Month(ctx, october)
	require.NoError(t, err)
	var bakery core.CategorizedTransaction
	for _, tx := range txs {
		if tx.Description == "Bakery" {
			bakery = tx
		}
	}
	require.NotZero(t, bakery.ID)

	c, err := svc.CorrectTransaction(ctx, bakery.ID, "core", "groceries")
	require.NoError(t, err)
	assert.Equal(t, october, c.Month)
	assert.Equal(t, core.Core, c.Category)
	assert.Equal(t, "Groceries", c.Subcategory)
	assert.True(t, c.Stats.TotalChoice.IsZero())
	assert.True(t, c.Stats.TotalCore.Equal(decimal.RequireFromString("2.5")))

	rec, after, err := svc.Month(ctx, october)
	require.NoError(t, err)
	assert.True(t, rec.Stats.Equal(c.Stats))
	for _, tx := range after {
		if tx.ID == bakery.ID {
			assert.True(t, tx.ManualOverride)
			assert.Equal(t, 1.0, tx.Confidence)
		}
	}

	_, err = svc.CorrectTransaction(ctx, bakery.ID, "LUXURY", "Yachts")
	assert.ErrorIs(t, err, core.ErrUnknownCategory)
	_, err = svc.CorrectTransaction(ctx, bakery.ID, "CORE", "Yachts")
	assert.ErrorIs(t, err, core.ErrSubcategoryNotAllowed)
	_, err = svc.CorrectTransaction(ctx, bakery.ID+1000, "CORE", "Groceries")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMonthsAndDelete(t *testing.T) {
	ctx := context.Background()
	svc := NewImportService(newRepo(t), newCategorizer(t, &keywordClassifier{}))

	_, err := svc.Import(ctx, group(t, sampleFile), ImportRequest{All: true, Policy: core.PolicyMerge})
	require.NoError(t, err)

	months, err := svc.Months(ctx)
	require.NoError(t, err)
	require.Len(t, months, 2)
	assert.Equal(t, september, months[0].Key)

	require.NoError(t, svc.DeleteMonth(ctx, september))
	_, _, err = svc.Month(ctx, september)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
