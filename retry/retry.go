/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package retry provides exponential-backoff retries for remote calls,
// classifying GitHub API errors so that client errors fail fast while rate
// limits and server errors are retried.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v75/github"
)

// Config configures retry behavior for remote calls.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the exponentially growing delay.
	MaxDelay time.Duration
	// Factor multiplies the delay after every failed attempt.
	Factor float64
}

// Validate checks that the retry configuration has usable values.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return errors.New("max attempts must be at least 1")
	}
	if c.InitialDelay < 0 {
		return errors.New("initial delay cannot be negative")
	}
	if c.MaxDelay < 0 {
		return errors.New("max delay cannot be negative")
	}
	if c.Factor < 1 {
		return errors.New("factor must be at least 1")
	}
	return nil
}

// DefaultConfig returns a retry configuration suitable for GitHub API calls.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Factor:       2,
	}
}

// statusCode extracts an HTTP status code from a GitHub API error.
func statusCode(err error) (int, bool) {
	var rate *github.RateLimitError
	if errors.As(err, &rate) {
		return http.StatusTooManyRequests, true
	}
	var abuse *github.AbuseRateLimitError
	if errors.As(err, &abuse) {
		return http.StatusTooManyRequests, true
	}
	var resp *github.ErrorResponse
	if errors.As(err, &resp) && resp.Response != nil {
		return resp.Response.StatusCode, true
	}
	return 0, false
}

// Permanent reports whether err is a client error that retrying cannot fix:
// a status in 400-499, excluding 429. Errors without a status (network
// failures) and server errors are treated as transient.
func Permanent(err error) bool {
	code, ok := statusCode(err)
	return ok && code >= 400 && code < 500 && code != http.StatusTooManyRequests
}

// Do executes fn with exponential backoff until it succeeds, returns a
// permanent error, or exhausts cfg.MaxAttempts. The final failure wraps the
// last error observed.
func Do[T any](ctx context.Context, cfg Config, operation string, fn func() (T, error)) (T, error) {
	return DoWithClassifier(ctx, cfg, operation, Permanent, fn)
}

// DoWithClassifier is Do with a caller-supplied permanence classifier, for
// APIs whose errors carry status codes in their own types.
func DoWithClassifier[T any](ctx context.Context, cfg Config, operation string, permanent func(error) bool, fn func() (T, error)) (T, error) {
	log := clog.FromContext(ctx).With("operation", operation)

	var result T
	var lastErr error

	delay := cfg.InitialDelay
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, lastErr = fn()
		if lastErr == nil {
			return result, nil
		}

		if permanent(lastErr) {
			log.With("attempt", attempt).
				With("error", lastErr.Error()).
				Error("Permanent error, not retrying")
			return result, lastErr
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		log.With("attempt", attempt).
			With("max_attempts", cfg.MaxAttempts).
			With("backoff", delay).
			With("error", lastErr.Error()).
			Warn("Transient error, retrying")

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(delay):
		}

		delay = min(time.Duration(float64(delay)*cfg.Factor), cfg.MaxDelay)
	}

	log.With("attempts", cfg.MaxAttempts).
		With("error", lastErr.Error()).
		Error("Exhausted retry attempts")
	return result, fmt.Errorf("%s failed after %d attempts: %w", operation, cfg.MaxAttempts, lastErr)
}
