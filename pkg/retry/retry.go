// Package retry provides the exponential-backoff-with-jitter executor
// shared by the retrying source adapters. Adapted from
// internal/database/postgres/retry.go, generalized from a Postgres-specific
// helper into the one retry idiom used by the LDAP, HTTP(S), SCIM, and
// zsync sources and the Postgres history store. The S3, GCS, and Consul
// sources do not use it.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// Config controls the backoff schedule.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultConfig matches nss_cache's historical source defaults: up to 3
// attempts (2 retries), 5 second initial delay (RETRY_DELAY/RETRY_MAX across
// ldapsource.py, httpsource.py, consulsource.py).
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 5 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// Executor runs an operation with retry, logging each attempt.
type Executor struct {
	cfg    Config
	logger *slog.Logger
}

func NewExecutor(cfg Config, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{cfg: cfg, logger: logger}
}

// Execute runs fn up to cfg.MaxAttempts times in all (the first attempt
// plus cfg.MaxAttempts-1 retries), stopping early if ctx is cancelled or
// isRetryable(err) reports false.
func (e *Executor) Execute(ctx context.Context, op string, isRetryable func(error) bool, fn func(context.Context) error) error {
	var lastErr error
	delay := e.cfg.InitialDelay

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				e.logger.Info("operation succeeded after retry", "op", op, "attempt", attempt)
			}
			return nil
		}
		lastErr = err

		if isRetryable != nil && !isRetryable(err) {
			return err
		}
		if attempt == e.cfg.MaxAttempts {
			break
		}

		e.logger.Warn("operation failed, retrying", "op", op, "attempt", attempt, "error", err, "delay", delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(withJitter(delay)):
		}

		delay = time.Duration(float64(delay) * e.cfg.Multiplier)
		if delay > e.cfg.MaxDelay {
			delay = e.cfg.MaxDelay
		}
	}

	return fmt.Errorf("%s: failed after %d attempts: %w", op, e.cfg.MaxAttempts, lastErr)
}

// ExecuteWithResult is Execute's generic counterpart for operations that
// produce a value.
func ExecuteWithResult[T any](ctx context.Context, e *Executor, op string, isRetryable func(error) bool, fn func(context.Context) (T, error)) (T, error) {
	var result T
	err := e.Execute(ctx, op, isRetryable, func(ctx context.Context) error {
		var innerErr error
		result, innerErr = fn(ctx)
		return innerErr
	})
	return result, err
}

func withJitter(d time.Duration) time.Duration {
	jitter := time.Duration(rand.Int63n(int64(d) / 4))
	return d - jitter/2 + jitter
}

// AlwaysRetryable treats every non-nil, non-context error as retryable,
// the default for sources that don't distinguish error classes.
func AlwaysRetryable(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
