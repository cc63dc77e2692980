package classifier

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// RetryConfig configures retry behavior with exponential backoff.
type RetryConfig struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	BackoffFactor  float64
	JitterFraction float64 // 0.0 to 1.0, fraction of delay to randomize
	// RateLimitDelay is the minimum wait after a RATE_LIMITED failure.
	RateLimitDelay time.Duration
}

// DefaultRetryConfig is tuned for hosted model transient errors.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:    3,
	InitialDelay:   1 * time.Second,
	MaxDelay:       20 * time.Second,
	BackoffFactor:  2.0,
	JitterFraction: 0.2,
	RateLimitDelay: 10 * time.Second,
}

// WithRetry executes fn with exponential backoff and jitter. It stops on success, on a
// non-retryable *Error, when the context is done, or after MaxAttempts calls.
// onRetry, if set, is called before each wait.
func WithRetry[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error), onRetry func(attempt int, err error, wait time.Duration)) (T, error) {
	var zero T
	var lastErr error

	attempts := max(cfg.MaxAttempts, 1)
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var ce *Error
		if errors.As(err, &ce) && !ce.Retryable {
			return zero, err
		}
		if attempt == attempts {
			break
		}

		delay := backoff(cfg, attempt)
		if ce != nil && ce.Code == CodeRateLimited && delay < cfg.RateLimitDelay {
			delay = cfg.RateLimitDelay
		}
		if onRetry != nil {
			onRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	return zero, lastErr
}

func backoff(cfg RetryConfig, attempt int) time.Duration {
	factor := cfg.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	delay := float64(cfg.InitialDelay) * math.Pow(factor, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.JitterFraction > 0 {
		delay += delay * cfg.JitterFraction * (rand.Float64()*2 - 1)
		if delay < 0 {
			delay = float64(cfg.InitialDelay)
		}
	}
	return time.Duration(delay)
}
