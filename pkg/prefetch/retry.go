package prefetch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"

	"github.com/brantberg/rest-query-cache/pkg/client"
)

// Prometheus metrics for prefetch retry operations.
var (
	prefetchRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "querycache_prefetch_retries_total",
		Help: "Total number of prefetch retry attempts by error class",
	}, []string{"error_class"})

	prefetchRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "querycache_prefetch_retry_backoff_seconds",
		Help:    "Backoff duration for prefetch retries by error class",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"error_class"})

	prefetchRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "querycache_prefetch_retry_exhausted_total",
		Help: "Total number of times prefetch retries were exhausted by error class",
	}, []string{"error_class"})
)

// Common errors returned by the retry logic.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the first).
	MaxAttempts int

	// InitialBackoff is the initial backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// retryWithBackoff executes fn with exponential backoff retry logic.
// It respects context cancellation and adds jitter to prevent
// thundering herds. Permanent fetch errors (4xx) are returned without
// retrying.
func retryWithBackoff(ctx context.Context, config RetryConfig, fn func() error) error {
	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				log.Info().
					Int("attempt", attempt).
					Msg("Fetch succeeded after retry")
			}
			return nil
		}

		lastErr = err

		if !shouldRetry(err) {
			return lastErr
		}

		// If this was the last attempt, don't wait
		if attempt >= config.MaxAttempts {
			break
		}

		class := classLabel(err)
		prefetchRetriesTotal.WithLabelValues(class).Inc()

		// Add jitter (±20% randomness)
		jitter := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		prefetchRetryBackoffSeconds.WithLabelValues(class).Observe(jitter.Seconds())

		log.Debug().
			Str("error_class", class).
			Int("attempt", attempt).
			Dur("backoff", jitter).
			Msg("Retrying fetch after backoff")

		// Wait with context cancellation support
		select {
		case <-ctx.Done():
			log.Warn().
				Str("error_class", class).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		case <-time.After(jitter):
		}

		// Calculate next backoff (exponential)
		backoff = time.Duration(float64(backoff) * config.BackoffMultiplier)
		if backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}

	prefetchRetryExhaustedTotal.WithLabelValues(classLabel(lastErr)).Inc()
	log.Warn().
		Int("max_attempts", config.MaxAttempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, config.MaxAttempts, lastErr)
}

// shouldRetry reports whether err is worth another attempt. Classified
// fetch errors decide for themselves, everything else counts as a
// transient network failure.
func shouldRetry(err error) bool {
	var fe *client.FetchError
	if errors.As(err, &fe) {
		return fe.Transient()
	}
	return true
}

// classLabel derives the metric label for an error.
func classLabel(err error) string {
	var fe *client.FetchError
	if errors.As(err, &fe) {
		return string(fe.Class())
	}
	return string(client.ErrorClassNetwork)
}
