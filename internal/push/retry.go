package push

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flapjackhq/codegen/internal/logging"
	"go.uber.org/zap"
)

// RetryConfig configures retry behavior for host reads.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts after the first
	// call. Zero disables retries.
	MaxRetries int

	// InitialBackoff is the initial backoff duration.
	// Default: 1 second
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	// Default: 30 seconds
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	// Default: 2
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration for host reads.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// ApplyDefaults sets default values for unset backoff fields. MaxRetries is
// left alone so zero keeps meaning "no retries".
func (c *RetryConfig) ApplyDefaults() {
	defaults := DefaultRetryConfig()

	if c.InitialBackoff == 0 {
		c.InitialBackoff = defaults.InitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = defaults.MaxBackoff
	}
	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = defaults.BackoffMultiplier
	}
}

// isRetryable reports whether a failed read may be repeated. Errors that do
// not say otherwise (network failures, timeouts of a single call) are
// retryable; cancellation of the caller is not.
func isRetryable(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrBranchNotFound) {
		return false
	}
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}

func retryAfter(err error, fallback, maxBackoff time.Duration) time.Duration {
	var d delayed
	if errors.As(err, &d) {
		if wait := d.RetryAfter(); wait > 0 {
			return min(wait, maxBackoff)
		}
	}
	return fallback
}

// retryRead retries a host read with exponential backoff. Each attempt runs
// under its own call timeout. onRetry is invoked before every retry.
func retryRead(ctx context.Context, cfg RetryConfig, callTimeout time.Duration, logger *logging.Logger, op string, onRetry func(), read func(ctx context.Context) error) error {
	cfg.ApplyDefaults()

	var lastErr error
	backoff := cfg.InitialBackoff
	startTime := time.Now()

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := callWithTimeout(ctx, callTimeout, read)
		if err == nil {
			if attempt > 0 {
				logger.Info(ctx, "host read recovered after retries",
					zap.String("op", op),
					zap.Int("attempts", attempt),
					zap.Duration("total_time", time.Since(startTime)),
				)
			}
			return nil
		}
		lastErr = err

		if !isRetryable(ctx, err) {
			logger.Debug(ctx, "host error is not retryable", zap.String("op", op), zap.Error(err))
			return err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		wait := retryAfter(err, backoff, cfg.MaxBackoff)
		logger.Info(ctx, "retrying host read after transient error",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", cfg.MaxRetries+1),
			zap.Error(err),
			zap.Duration("backoff", wait),
		)
		if onRetry != nil {
			onRetry()
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s canceled: %w", op, ctx.Err())
		case <-timer.C:
			backoff = min(time.Duration(float64(backoff)*cfg.BackoffMultiplier), cfg.MaxBackoff)
		}
	}

	logger.Warn(ctx, "host read failed after all retries exhausted",
		zap.String("op", op),
		zap.Int("total_attempts", cfg.MaxRetries+1),
		zap.Duration("total_time", time.Since(startTime)),
		zap.Error(lastErr),
	)
	return fmt.Errorf("%s failed after %d retries: %w", op, cfg.MaxRetries, lastErr)
}

// callWithTimeout runs call under a per-call deadline.
func callWithTimeout(ctx context.Context, timeout time.Duration, call func(ctx context.Context) error) error {
	if timeout <= 0 {
		return call(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return call(callCtx)
}
