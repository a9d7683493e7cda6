package statusclient

import (
	"context"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/dandantas/tabwatch/internal/model"
)

// RetryStrategy handles exponential backoff between status fetch attempts
type RetryStrategy struct {
	config model.RetryConfig
}

// NewRetryStrategy creates a new retry strategy
func NewRetryStrategy(config model.RetryConfig) *RetryStrategy {
	config.SetDefaults()
	return &RetryStrategy{
		config: config,
	}
}

// CalculateDelay calculates the delay after a given attempt
// Formula: delay = min(initial_delay * (multiplier ^ (attempt-1)), max_delay)
func (rs *RetryStrategy) CalculateDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delayMs := float64(rs.config.InitialDelayMs) * math.Pow(rs.config.Multiplier, float64(attempt-1))
	if delayMs > float64(rs.config.MaxDelayMs) {
		delayMs = float64(rs.config.MaxDelayMs)
	}

	return time.Duration(delayMs) * time.Millisecond
}

// ShouldRetry reports whether another attempt is worthwhile after attempt
// ended with statusCode or err
func (rs *RetryStrategy) ShouldRetry(attempt int, statusCode int, err error) bool {
	if attempt >= rs.config.MaxAttempts {
		return false
	}

	// The caller gave up; retrying cannot help
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// Transport failures and undecodable bodies
	if statusCode == 0 {
		return err != nil
	}

	switch {
	case statusCode >= 500:
		return true
	case statusCode == http.StatusTooManyRequests:
		return true
	case statusCode >= 400:
		// Unknown job, bad credential: the answer will not change
		return false
	default:
		return false
	}
}

// MaxAttempts returns the maximum number of attempts
func (rs *RetryStrategy) MaxAttempts() int {
	return rs.config.MaxAttempts
}
