package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
)

// RetryConfig tunes the exponential backoff applied to transient model
// failures.
type RetryConfig struct {
	// MaxRetries is the number of additional attempts after the first call.
	MaxRetries int
	// InitialInterval is the delay before the first retry.
	InitialInterval time.Duration
	// MaxInterval caps the backoff growth.
	MaxInterval time.Duration
}

// DefaultRetryConfig retries three times, backing off from 500ms toward a
// 10s ceiling.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// retryablePatterns match the transient failure modes of the Gemini API.
// The SDK surfaces these as opaque strings rather than typed errors, so
// substring matching is the only classification available.
var retryablePatterns = [][]string{
	{"rate limit", "quota exceeded", "429"},
	{"500", "502", "503", "504", "unavailable"},
	{"connection reset", "timeout", "temporary"},
}

func retryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, group := range retryablePatterns {
		if containsAny(msg, group) {
			return true
		}
	}
	return false
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// callWithRetry invokes generate with exponential backoff on transient
// errors. Every attempt passes the shared rate limiter first, so retries
// never burst past the request budget. Non-retryable errors fail fast.
func (o *Orchestrator) callWithRetry(ctx context.Context, generate func(context.Context) (*ai.ModelResponse, error)) (*ai.ModelResponse, error) {
	var lastErr error
	delay := o.retry.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= o.retry.MaxRetries; attempt++ {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}

		resp, err := generate(ctx)
		if err == nil {
			if attempt > 0 {
				o.logger.Info("generation recovered after retry",
					"attempts", attempt+1,
					"elapsed", time.Since(start))
			}
			return resp, nil
		}
		lastErr = err

		if !retryableError(err) {
			return nil, fmt.Errorf("generate: %w", err)
		}
		if attempt == o.retry.MaxRetries {
			break
		}

		o.logger.Warn("transient generation failure, backing off",
			"attempt", attempt+1,
			"delay", delay,
			"error", err)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, o.retry.MaxInterval)
		}
	}

	return nil, fmt.Errorf("generate after %d retries (elapsed: %v): %w",
		o.retry.MaxRetries, time.Since(start), lastErr)
}
