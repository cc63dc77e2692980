// Package app assembles the import pipeline from configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"budget/internal/classifier"
	"budget/internal/config"
	"budget/internal/grouper"
	applog "budget/internal/log"
	"budget/internal/services"
	"budget/internal/staging"
	"budget/internal/storage"
)

// Pipeline holds the long-lived components shared by the binaries.
type Pipeline struct {
	Store    *storage.SQLiteRepository
	Importer *services.ImportService
	Uploads  *services.UploadService
}

// NewClassifier builds the categorization service. Without an API key every batch is
// routed to manual review.
func NewClassifier(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*classifier.Service, error) {
	logger = applog.WithComponent(logger, applog.ComponentClassifier)

	rules := classifier.DefaultRules()
	if cfg.RulesFile != "" {
		r, err := classifier.LoadRules(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		rules = r
	}

	var backend classifier.Classifier = classifier.Disabled{}
	if cfg.GeminiAPIKey != "" {
		g, err := classifier.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		backend = g
		logger.Info("Gemini classifier enabled", "model", g.Model())
	} else {
		logger.Warn("GEMINI_API_KEY not set, imported transactions will need manual review")
	}

	retry := classifier.DefaultRetryConfig
	retry.MaxAttempts = cfg.ClassifierMaxAttempts

	return classifier.NewService(backend, classifier.Options{
		BatchSize:         cfg.ClassifierBatchSize,
		Concurrency:       cfg.ClassifierConcurrency,
		RequestTimeout:    cfg.ClassifierTimeout,
		RequestsPerMinute: cfg.ClassifierRequestsPerMinute,
		Retry:             retry,
		Rules:             rules,
		LowConfidence:     cfg.LowConfidenceThreshold,
		Logger:            logger,
	})
}

// Open opens the store and wires the services. publisher may be nil.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, publisher services.EventPublisher) (*Pipeline, error) {
	store, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	categorizer, err := NewClassifier(ctx, cfg, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("classifier: %w", err)
	}

	opts := []services.ImportOption{
		services.WithMonthConcurrency(cfg.MonthConcurrency),
		services.WithLogger(logger),
	}
	if publisher != nil {
		opts = append(opts, services.WithPublisher(publisher))
	}
	importer := services.NewImportService(store, categorizer, opts...)

	return &Pipeline{
		Store:    store,
		Importer: importer,
		Uploads:  services.NewUploadService(staging.New[grouper.Result](cfg.StagingTTL), importer),
	}, nil
}

func (p *Pipeline) Close() error {
	return p.Store.Close()
}
