package ai

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"
)

// ErrInvalidMaxAttempts is returned when a retry policy allows no attempts.
var ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")

// RetryPolicy bounds how often and how fast an operation is retried.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first (must be > 0)
	MaxAttempts int

	// BaseDelay is the delay after the first failure; it doubles on each retry
	BaseDelay time.Duration

	// MaxDelay caps a single delay. Zero means no cap.
	MaxDelay time.Duration

	// Jitter spreads each delay uniformly by ±Jitter of its value (0 disables it)
	Jitter float64
}

// DefaultRetryPolicy returns three attempts with exponential delays from 500ms and 50% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Jitter:      0.5,
	}
}

// Delay returns the sleep that follows the given failed attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	// Calculate exponential backoff: baseDelay * 2^(attempt-1)
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}

	if p.Jitter > 0 && delay > 0 {
		spread := p.Jitter * (2*rand.Float64() - 1)
		delay = time.Duration(float64(delay) * (1 + spread))
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// RetryWithBackoff retries an operation with exponential backoff and jitter.
// Returns the error from the last attempt if all attempts fail.
// Context cancellation stops retrying immediately.
func RetryWithBackoff(ctx context.Context, operation func() error, policy RetryPolicy) error {
	if policy.MaxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		// Check context before attempting
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		lastErr = operation()
		if lastErr == nil {
			if attempt > 1 {
				slog.Debug("operation succeeded after retry", "attempt", attempt)
			}
			return nil // Success
		}
		// Only the caller's context ends the loop early; an attempt's own timeout is retried.
		if ctx.Err() != nil {
			return ctx.Err()
		}

		slog.Debug("operation failed, will retry", "attempt", attempt, "maxAttempts", policy.MaxAttempts, "error", lastErr)

		// Don't sleep after the last attempt
		if attempt == policy.MaxAttempts {
			break
		}

		// Sleep with context awareness
		timer := time.NewTimer(policy.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}

// RetryingEmbedder decorates an Embedder so transient provider failures
// (timeouts, rate limits) are retried according to a RetryPolicy.
type RetryingEmbedder struct {
	inner  Embedder
	policy RetryPolicy
}

var _ Embedder = (*RetryingEmbedder)(nil)

// NewRetryingEmbedder wraps inner with the given retry policy.
func NewRetryingEmbedder(inner Embedder, policy RetryPolicy) *RetryingEmbedder {
	return &RetryingEmbedder{inner: inner, policy: policy}
}

// EmbedText embeds a single text, retrying on failure.
func (r *RetryingEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	var vector []float32
	err := RetryWithBackoff(ctx, func() error {
		var err error
		vector, err = r.inner.EmbedText(ctx, text)
		return err
	}, r.policy)
	return vector, err
}

// EmbedTexts embeds a batch of texts, retrying the whole batch on failure.
func (r *RetryingEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32
	err := RetryWithBackoff(ctx, func() error {
		var err error
		vectors, err = r.inner.EmbedTexts(ctx, texts)
		return err
	}, r.policy)
	return vectors, err
}
