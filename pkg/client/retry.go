package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/firm-audit/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firm_audit_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "firm_audit_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 1.5, 3, 4.5, 10, 30},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firm_audit_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// SleepFunc blocks for d or until ctx is done, whichever comes first.
type SleepFunc func(ctx context.Context, d time.Duration) error

// RetryPolicy holds the configuration for retry logic.
type RetryPolicy struct {
	// MaxRetries is the number of additional attempts allowed after the first.
	MaxRetries int

	// StatusBackoff is the base wait for transient HTTP statuses.
	StatusBackoff time.Duration

	// NetworkBackoff is the base wait for connection-level failures.
	NetworkBackoff time.Duration

	// Retryable decides whether a failure may be retried. Defaults to the class table.
	Retryable func(err error) bool

	// Sleep waits between attempts. Defaults to a context-aware timer.
	Sleep SleepFunc
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		StatusBackoff:  1500 * time.Millisecond,
		NetworkBackoff: 1 * time.Second,
	}
}

// Backoff returns the wait after failed attempt k (0-indexed) for the given class.
// Attempt k waits base * (k+1).
func (p RetryPolicy) Backoff(errorClass ErrorClass, attempt int) time.Duration {
	base := p.StatusBackoff
	if errorClass == ErrorClassNetwork {
		base = p.NetworkBackoff
	}
	return base * time.Duration(attempt+1)
}

func (p RetryPolicy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return shouldRetry(ClassifyError(err))
}

func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return sleepContext(ctx, d)
}

// sleepContext waits with context cancellation support.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do executes fn until it succeeds, fails with a non-retryable error, or the
// retry budget is spent. The terminal error wraps both ErrRetryExhausted and
// the last observed error.
func (p RetryPolicy) Do(ctx context.Context, logger zerolog.Logger, fn func(ctx context.Context) error) error {
	attempts := p.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	var errorClass ErrorClass

	for attempt := 0; attempt < attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Info().
					Str("error_class", string(errorClass)).
					Int("attempt", attempt+1).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		lastErr = err
		errorClass = ClassifyError(err)

		// Cancellation by the caller is never retried
		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(err, ctxErr) {
				return err
			}
			return fmt.Errorf("%w: %w", ctxErr, err)
		}

		if !p.retryable(err) {
			return lastErr
		}

		// If this was the last attempt, don't wait
		if attempt == attempts-1 {
			break
		}

		backoff := p.Backoff(errorClass, attempt)
		retriesTotal.WithLabelValues(string(errorClass)).Inc()
		retryBackoffSeconds.WithLabelValues(string(errorClass)).Observe(backoff.Seconds())

		logger.Warn().
			Err(err).
			Str("error_class", string(errorClass)).
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Msg("Retrying request after backoff")

		if err := p.sleep(ctx, backoff); err != nil {
			logger.Warn().
				Str("error_class", string(errorClass)).
				Int("attempt", attempt+1).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %w", err, lastErr)
		}
	}

	if attempts == 1 {
		return lastErr
	}

	retryExhaustedTotal.WithLabelValues(string(errorClass)).Inc()
	logger.Warn().
		Str("error_class", string(errorClass)).
		Int("max_attempts", attempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempts, lastErr)
}

// defaultLogger is used when a caller does not supply one.
func defaultLogger() zerolog.Logger {
	return logging.NewLogger("firm-client")
}
