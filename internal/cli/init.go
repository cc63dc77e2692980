// Package cli holds the startup steps shared by cmd/budget, cmd/budget-worker and cmd/budget-cli.
package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"budget/internal/config"
	applog "budget/internal/log"
)

// Bootstrap loads .env, reads and validates the configuration and installs the default
// logger writing to out. It exits the process when the configuration is invalid.
func Bootstrap(out io.Writer) (*config.Config, *slog.Logger) {
	config.LoadDotEnv()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("Configuration validation failed", applog.FieldError, err)
		os.Exit(1)
	}

	logCfg := cfg.LoggerConfig()
	if out != nil {
		logCfg.Output = out
	}
	return cfg, applog.Setup(logCfg)
}

// GracefulShutdown returns a context cancelled on SIGINT, SIGTERM or a call to the returned
// cancel func. On a signal, cleanup runs first with a context bounded by timeout.
func GracefulShutdown(logger *slog.Logger, timeout time.Duration, cleanup func(ctx context.Context)) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
		case <-ctx.Done():
			return
		}

		if cleanup != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
			cleanup(shutdownCtx)
			shutdownCancel()
		}
		cancel()
	}()
	return ctx, cancel
}
