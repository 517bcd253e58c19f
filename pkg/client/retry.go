package client

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	apiRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clanwatch_api_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	apiRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clanwatch_api_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	apiRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clanwatch_api_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts, including the first one.
	MaxAttempts int

	// BackoffUnit scales the 2^i + jitter backoff. One second in production.
	BackoffUnit time.Duration

	// Jitter returns a uniform random value in [0, 1).
	Jitter func() float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 5,
		BackoffUnit: time.Second,
		Jitter:      defaultJitter,
	}
}

// Backoff returns the delay before retry number attempt (0-based):
// (2^attempt + jitter) units. jitter is expected in [0, 1).
func Backoff(attempt int, unit time.Duration, jitter float64) time.Duration {
	exp := math.Pow(2, float64(attempt)) + jitter
	return time.Duration(exp * float64(unit))
}

// MaxBackoff is the upper bound of any single delay for maxAttempts attempts.
func MaxBackoff(maxAttempts int, unit time.Duration) time.Duration {
	if maxAttempts < 1 {
		return 0
	}
	return Backoff(maxAttempts-1, unit, 1)
}

// attemptFunc performs one attempt. A nil error ends the loop; otherwise the
// returned class decides whether another attempt is made.
type attemptFunc func(attempt int) (ErrorClass, error)

// retryWithBackoff runs fn until it succeeds, fails with a non-transient class,
// or runs out of attempts. It respects context cancellation while waiting.
func retryWithBackoff(ctx context.Context, cfg RetryConfig, logger zerolog.Logger, fn attemptFunc) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Jitter == nil {
		cfg.Jitter = defaultJitter
	}

	var lastErr error
	var lastClass ErrorClass

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		errorClass, err := fn(attempt)
		if err == nil {
			if attempt > 0 {
				logger.Info().
					Str("error_class", string(lastClass)).
					Int("attempt", attempt+1).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		lastErr = err
		lastClass = errorClass

		if !shouldRetry(errorClass) {
			return lastErr
		}

		// No wait after the final attempt.
		if attempt >= cfg.MaxAttempts-1 {
			break
		}

		apiRetriesTotal.WithLabelValues(string(errorClass)).Inc()

		delay := Backoff(attempt, cfg.BackoffUnit, cfg.Jitter())
		apiRetryBackoffSeconds.WithLabelValues(string(errorClass)).Observe(delay.Seconds())

		logger.Debug().
			Str("error_class", string(errorClass)).
			Int("attempt", attempt+1).
			Dur("backoff", delay).
			Msg("Retrying request after backoff")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Warn().
				Str("error_class", string(errorClass)).
				Int("attempt", attempt+1).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		case <-timer.C:
		}
	}

	apiRetryExhaustedTotal.WithLabelValues(string(lastClass)).Inc()
	logger.Warn().
		Str("error_class", string(lastClass)).
		Int("max_attempts", cfg.MaxAttempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, cfg.MaxAttempts, lastErr)
}
