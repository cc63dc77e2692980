package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"budget/internal/amqp"
	"budget/internal/app"
	"budget/internal/cli"
	apphttp "budget/internal/http"
	applog "budget/internal/log"
	"budget/internal/middleware/ratelimit"
	"budget/internal/services"
)

func main() {
	cfg, logger := cli.Bootstrap(os.Stdout)

	var (
		publisher services.EventPublisher
		queue     apphttp.RescoreQueue
	)
	if cfg.MessagingEnabled() {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRescoreQueue)
		if err != nil {
			// Imports still work without events; async rescoring is unavailable.
			logger.Error("Failed to initialize AMQP client, continuing without messaging", applog.FieldError, err)
		} else {
			defer client.Close()
			publisher, queue = client, client
			logger.Info("AMQP messaging enabled", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPRescoreQueue)
		}
	} else {
		logger.Info("AMQP_URL not set, messaging disabled")
	}

	pipeline, err := app.Open(context.Background(), cfg, logger, publisher)
	if err != nil {
		logger.Error("Failed to initialize import pipeline", applog.FieldError, err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer pipeline.Close()

	srv := apphttp.NewServer(":"+cfg.Port, pipeline.Uploads, pipeline.Importer, apphttp.Options{
		MaxUploadBytes: cfg.MaxUploadBytes,
		RateLimit:      ratelimit.DefaultConfig(),
		Logger:         logger,
		RescoreQueue:   queue,
		Ready:          pipeline.Store,
	})

	// Categorization can take minutes for a large month.
	srv.ReadTimeout = 60 * time.Second
	srv.WriteTimeout = 10 * time.Minute
	srv.IdleTimeout = 120 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	ctx, _ := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", applog.FieldError, err)
		}
	})

	logger.Info("Starting budget server", "port", cfg.Port, applog.FieldOperation, applog.OpStartup)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", applog.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	metrics := srv.Metrics()
	logger.Info("Server stopped gracefully",
		applog.FieldOperation, applog.OpShutdown,
		"requests", metrics.TotalRequests,
		"errors", metrics.TotalErrors)
}
