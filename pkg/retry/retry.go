package retry

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
)

// Config holds retry behavior for transient failures
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultConfig returns the retry configuration used for database startup
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Multiplier:  2.0,
	}
}

// Func is the operation being retried
type Func func() error

// IsRetryableFunc decides whether an error is worth another attempt
type IsRetryableFunc func(error) bool

// WithExponentialBackoff retries fn with exponentially growing delays until
// it succeeds, the error is not retryable, attempts run out, or the context
// is cancelled.
func WithExponentialBackoff(ctx context.Context, config Config, fn Func, isRetryable IsRetryableFunc) error {
	var lastErr error

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return fmt.Errorf("non-retryable error: %w", err)
		}
		if attempt == config.MaxAttempts-1 {
			break
		}

		delay := time.Duration(float64(config.BaseDelay) * math.Pow(config.Multiplier, float64(attempt)))
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled by context: %w", ctx.Err())
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("max retry attempts (%d) exceeded: %w", config.MaxAttempts, lastErr)
}

// IsConnectionError reports whether the error looks like a transient
// connectivity failure worth retrying at startup.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection refused",
		"connection reset",
		"no such host",
		"timeout",
		"temporarily unavailable",
		"the database system is starting up",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
