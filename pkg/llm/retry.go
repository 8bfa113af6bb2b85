package llm

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"
)

// RetryPolicy controls how failed completions are retried with exponential backoff.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// NoRetry performs exactly one attempt.
func NoRetry() *RetryPolicy {
	return &RetryPolicy{MaxAttempts: 1, InitialDelay: 0, Multiplier: 1, MaxDelay: 0}
}

// DefaultRetryPolicy returns a RetryPolicy with 3 attempts, 500ms initial
// delay, 2x multiplier and a 5s cap.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
	}
}

// ShouldRetry returns true if the error is retryable and the attempt count
// has not reached MaxAttempts.
func (p *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if attempt >= p.MaxAttempts {
		return false
	}
	return isRetryable(err)
}

// isRetryable classifies errors by message. Context cancellation, auth and
// validation errors are permanent; everything else is retried.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())

	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "status 429") ||
		strings.Contains(msg, "status 5") ||
		strings.Contains(msg, "temporary failure") {
		return true
	}

	if strings.Contains(msg, "invalid") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "forbidden") ||
		strings.Contains(msg, "status 4") {
		return false
	}

	return true
}

// NextDelay returns the backoff delay for the given attempt number (1-indexed).
func (p *RetryPolicy) NextDelay(attempt int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Execute runs fn until it succeeds, returns a permanent error, or the
// attempts run out. Waiting between attempts honours ctx.
func (p *RetryPolicy) Execute(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= max(p.MaxAttempts, 1); attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !p.ShouldRetry(err, attempt) {
			return err
		}
		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(p.NextDelay(attempt)):
		}
	}
	return lastErr
}

type retryProvider struct {
	Provider
	policy *RetryPolicy
}

// WithRetry wraps p so Complete is retried according to policy. Streams are
// not retried once opened.
func WithRetry(p Provider, policy *RetryPolicy) Provider {
	if policy == nil || policy.MaxAttempts <= 1 {
		return p
	}
	return &retryProvider{Provider: p, policy: policy}
}

func (r *retryProvider) Complete(ctx context.Context, messages []Message) (*Response, error) {
	var resp *Response
	err := r.policy.Execute(ctx, func() error {
		var err error
		resp, err = r.Provider.Complete(ctx, messages)
		return err
	})
	return resp, err
}
