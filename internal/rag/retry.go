package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/webqueryai/webquery/internal/log"
)

// RetryConfig configures retry behavior for provider calls.
type RetryConfig struct {
	MaxRetries      int           // Maximum number of retry attempts after the first try
	InitialInterval time.Duration // Initial backoff interval
	MaxInterval     time.Duration // Maximum backoff interval
}

// DefaultRetryConfig returns sensible defaults for Gemini API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 2 * time.Second,
		MaxInterval:     30 * time.Second,
	}
}

// retryablePatterns groups error substrings by category.
// Matched case-insensitively against err.Error().
//
// NOTE: This uses string matching because Genkit and LLM provider SDKs
// do not expose typed/sentinel errors for transient failures.
// This is a documented exception to the project rule against
// strings.Contains(err.Error(), ...).
// Re-evaluate if Genkit adds structured error types in a future version.
var retryablePatterns = [][]string{
	{"rate limit", "quota exceeded", "429"},      // rate limiting
	{"500", "502", "503", "504", "unavailable"},  // transient server errors
	{"connection reset", "timeout", "temporary"}, // network errors
}

// retryableError reports whether err is transient and should trigger a retry.
func retryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	for _, group := range retryablePatterns {
		if containsAny(errStr, group...) {
			return true
		}
	}
	return false
}

// containsAny checks if s contains any of the substrings (case-insensitive).
func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

// Retrier executes provider calls with rate limiting and exponential backoff.
// The limiter is shared across all components talking to the same provider,
// so retries never bypass the global request budget.
type Retrier struct {
	cfg     RetryConfig
	limiter *rate.Limiter
	logger  log.Logger
}

func NewRetrier(cfg RetryConfig, limiter *rate.Limiter, logger log.Logger) *Retrier {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Retrier{cfg: cfg, limiter: limiter, logger: logger}
}

// do executes fn with exponential backoff retry.
//
// Each attempt waits on the rate limiter first, including retries, so a
// retry storm cannot exceed the provider budget. Non-retryable errors fail
// immediately; retryable errors back off until MaxRetries is exhausted.
// The returned bool reports whether the final failure was transient.
func (r *Retrier) do(ctx context.Context, op string, fn func(ctx context.Context) error) (bool, error) {
	var lastErr error
	delay := r.cfg.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return false, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				r.logger.Debug("operation succeeded after retry",
					"op", op,
					"attempts", attempt+1,
					"elapsed", time.Since(start),
				)
			}
			return false, nil
		}

		lastErr = err

		// Non-retryable error, fail immediately
		if !retryableError(err) {
			return false, fmt.Errorf("%s: %w", op, err)
		}

		// Last attempt, don't sleep
		if attempt == r.cfg.MaxRetries {
			break
		}

		r.logger.Debug("retrying after transient error",
			"op", op,
			"attempt", attempt+1,
			"delay", delay,
			"elapsed", time.Since(start),
			"error", err,
		)

		select {
		case <-ctx.Done():
			return false, fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, r.cfg.MaxInterval)
		}
	}

	return true, fmt.Errorf("%s after %d retries (elapsed: %v): %w",
		op, r.cfg.MaxRetries, time.Since(start), lastErr)
}
