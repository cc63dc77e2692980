// Package classifier assigns budget categories to transactions through an external
// classification capability.
//
// The Service splits work into fixed-size batches, pre-resolves internal transfers
// locally, retries failed batches with backoff and downgrades whatever cannot be
// classified to manual review. Classification never fails an import.
package classifier

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"budget/internal/core"
	applog "budget/internal/log"
)

const (
	DefaultBatchSize      = 50
	MaxConcurrency        = 5
	DefaultConfidence     = 1.0
	DefaultLowConfidence  = 1.0
	defaultRequestTimeout = 60 * time.Second
)

// Item is one transaction as sent to the classifier. Index is its position in the batch.
// Source category and subcategory are hints, not ground truth.
type Item struct {
	Index             int
	Date              time.Time
	Description       string
	Amount            decimal.Decimal
	SourceCategory    string
	SourceSubcategory string
}

// Answer is the classifier's raw verdict for the item at Index. Confidence is nil when omitted.
type Answer struct {
	Index       int
	Category    string
	Subcategory string
	Confidence  *float64
}

// Classifier is the external classification capability. Implementations return at most
// one answer per item; errors should be *Error values so the Service can decide whether to retry.
type Classifier interface {
	Classify(ctx context.Context, batch []Item, taxonomy core.Taxonomy) ([]Answer, error)
}

// Options configures a Service.
type Options struct {
	BatchSize      int
	Concurrency    int
	RequestTimeout time.Duration
	// RequestsPerMinute paces calls to the remote service. Zero disables pacing.
	RequestsPerMinute int
	Retry             RetryConfig
	Rules             *Rules
	Taxonomy          *core.Taxonomy
	LowConfidence     float64
	Logger            *slog.Logger
}

// Result is the outcome of categorizing one list of transactions.
type Result struct {
	// Transactions is parallel to the input.
	Transactions  []core.CategorizedTransaction
	LowConfidence int
	Batches       int
	Transfers     int
	Downgraded    int
}

// Service batches transactions through a Classifier.
type Service struct {
	classifier Classifier
	taxonomy   core.Taxonomy
	rules      *Rules
	opts       Options
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewService applies defaults to opts. A nil Rules uses DefaultRules; a nil Taxonomy is derived from Rules.
func NewService(c Classifier, opts Options) (*Service, error) {
	if c == nil {
		return nil, errors.New("classifier is required")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Concurrency > MaxConcurrency {
		opts.Concurrency = MaxConcurrency
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = DefaultRetryConfig
	}
	if opts.LowConfidence <= 0 {
		opts.LowConfidence = DefaultLowConfidence
	}
	if opts.Rules == nil {
		opts.Rules = DefaultRules()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	var tax core.Taxonomy
	if opts.Taxonomy != nil {
		tax = *opts.Taxonomy
	} else {
		t, err := opts.Rules.Taxonomy()
		if err != nil {
			return nil, err
		}
		tax = t
	}

	var limiter *rate.Limiter
	if opts.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}

	return &Service{
		classifier: c,
		taxonomy:   tax,
		rules:      opts.Rules,
		opts:       opts,
		limiter:    limiter,
		logger:     opts.Logger.With(applog.FieldComponent, applog.ComponentClassifier),
	}, nil
}

// Taxonomy returns the allow-lists answers are validated against.
func (s *Service) Taxonomy() core.Taxonomy {
	return s.taxonomy
}

// LowConfidenceThreshold returns the reporting threshold.
func (s *Service) LowConfidenceThreshold() float64 {
	return s.opts.LowConfidence
}

// Categorize classifies txs. It never returns an error: failed batches are downgraded to
// manual review. If ctx is cancelled the remaining batches are downgraded and the caller
// should check ctx.Err before using the result.
func (s *Service) Categorize(ctx context.Context, txs []core.ParsedTransaction) Result {
	res := Result{Transactions: make([]core.CategorizedTransaction, len(txs))}

	var pending []int
	for i, t := range txs {
		if s.rules.IsInternalTransfer(t) {
			res.Transactions[i] = t.Classify(core.Excluded, "", 1)
			res.Transfers++
			continue
		}
		pending = append(pending, i)
	}

	batches := chunk(pending, s.opts.BatchSize)
	res.Batches = len(batches)
	downgraded := make([]int, len(batches))

	g := new(errgroup.Group)
	g.SetLimit(s.opts.Concurrency)
	for b, idx := range batches {
		g.Go(func() error {
			downgraded[b] = s.runBatch(ctx, b, idx, txs, res.Transactions)
			return nil
		})
	}
	_ = g.Wait()

	for _, n := range downgraded {
		res.Downgraded += n
	}
	for _, t := range res.Transactions {
		if t.IsLowConfidence(s.opts.LowConfidence) {
			res.LowConfidence++
		}
	}
	return res
}

// runBatch classifies the transactions at idx and writes the results into out.
// It returns the number of transactions downgraded to manual review.
func (s *Service) runBatch(ctx context.Context, batchNo int, idx []int, txs []core.ParsedTransaction, out []core.CategorizedTransaction) int {
	items := make([]Item, len(idx))
	for pos, i := range idx {
		t := txs[i]
		items[pos] = Item{
			Index:             pos,
			Date:              t.Date,
			Description:       t.Description,
			Amount:            t.Amount,
			SourceCategory:    t.SourceCategory,
			SourceSubcategory: t.SourceSubcategory,
		}
	}

	answers, err := WithRetry(ctx, s.opts.Retry, func(ctx context.Context) ([]Answer, error) {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
		defer cancel()
		answers, err := s.classifier.Classify(callCtx, items, s.taxonomy)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, classify(err)
		}
		return answers, nil
	}, func(attempt int, err error, wait time.Duration) {
		s.logger.WarnContext(ctx, "Classification batch failed, retrying",
			applog.FieldBatch, batchNo,
			applog.FieldAttempt, attempt,
			"code", CodeOf(err),
			"wait", wait,
			applog.FieldError, err)
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Classification batch downgraded to manual review",
			applog.FieldBatch, batchNo,
			"size", len(idx),
			"code", CodeOf(err),
			applog.FieldError, err)
		for _, i := range idx {
			out[i] = txs[i].ForReview()
		}
		return len(idx)
	}

	byIndex := make(map[int]Answer, len(answers))
	for _, a := range answers {
		if _, seen := byIndex[a.Index]; !seen {
			byIndex[a.Index] = a
		}
	}

	downgraded := 0
	for pos, i := range idx {
		a, ok := byIndex[pos]
		if !ok {
			out[i] = txs[i].ForReview()
			downgraded++
			continue
		}
		ct, err := s.apply(txs[i], a)
		if err != nil {
			s.logger.DebugContext(ctx, "Answer rejected, marked for review",
				applog.FieldBatch, batchNo,
				"index", pos,
				"category", a.Category,
				"subcategory", a.Subcategory,
				applog.FieldError, err)
			downgraded++
		}
		out[i] = ct
	}

	s.logger.DebugContext(ctx, "Classification batch complete",
		applog.FieldBatch, batchNo,
		"size", len(idx),
		"downgraded", downgraded)
	return downgraded
}

// apply validates a against the taxonomy. Invalid answers yield a review transaction and the validation error.
func (s *Service) apply(t core.ParsedTransaction, a Answer) (core.CategorizedTransaction, error) {
	cat, sub, err := s.taxonomy.Validate(a.Category, a.Subcategory)
	if err != nil {
		return t.ForReview(), err
	}
	conf := DefaultConfidence
	if a.Confidence != nil {
		conf = *a.Confidence
	}
	return t.Classify(cat, sub, conf), nil
}

func chunk(idx []int, size int) [][]int {
	var out [][]int
	for len(idx) > 0 {
		n := min(size, len(idx))
		out = append(out, idx[:n:n])
		idx = idx[n:]
	}
	return out
}
