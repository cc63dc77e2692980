package main

import (
	"context"
	"errors"
	"os"
	"time"

	"budget/internal/amqp"
	"budget/internal/app"
	"budget/internal/cli"
	applog "budget/internal/log"
	"budget/internal/worker"
)

func main() {
	cfg, logger := cli.Bootstrap(os.Stdout)
	logger.Info("Starting budget-worker", applog.FieldOperation, applog.OpStartup)

	if !cfg.MessagingEnabled() {
		logger.Error("AMQP_URL is required for the worker")
		os.Exit(1)
	}

	ctx, cancel := cli.GracefulShutdown(logger, 10*time.Second, nil)
	defer cancel()

	pipeline, err := app.Open(ctx, cfg, logger, nil)
	if err != nil {
		logger.Error("Failed to open store", applog.FieldError, err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer pipeline.Close()

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRescoreQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", applog.FieldError, err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	rescoreWorker := worker.NewRescoreWorker(pipeline.Importer, logger)

	// Stats may be stale after a scoring change; recompute everything once at startup.
	if failed, err := rescoreWorker.RescoreAll(ctx); err != nil {
		logger.Error("Startup rescore incomplete", "failed", failed, applog.FieldError, err)
	}

	if err := amqpClient.ConsumeRescoreRequests(ctx, rescoreWorker.HandleRescoreRequest); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Message consumption failed", applog.FieldError, err)
	}
	logger.Info("budget-worker stopped", applog.FieldOperation, applog.OpShutdown)
}
