// Package resilience provides bounded retry with exponential backoff and
// circuit breaking for calls to external systems.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/ajitpratap0/adaptive-engine/internal/metrics"
)

// Config configures retry behavior
type Config struct {
	MaxAttempts int           // Total invocations, including the first
	BaseDelay   time.Duration // Delay before the first retry
	MaxDelay    time.Duration // Upper bound on any single delay
	Multiplier  float64       // Growth factor between delays
}

// DefaultConfig returns default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		BaseDelay:   2 * time.Second,
		MaxDelay:    10 * time.Second,
		Multiplier:  2.0,
	}
}

// Delay returns the wait after the given failed attempt (1-based):
// min(MaxDelay, BaseDelay * Multiplier^(attempt-1)).
func (c Config) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(c.BaseDelay) * math.Pow(c.Multiplier, float64(attempt-1))
	if c.MaxDelay > 0 && (d > float64(c.MaxDelay) || math.IsInf(d, 1)) {
		return c.MaxDelay
	}
	return time.Duration(d)
}

// ErrPermanent marks errors that must not be retried
var ErrPermanent = errors.New("permanent failure")

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }
func (e *permanentError) Is(target error) bool {
	return target == ErrPermanent
}

// Permanent wraps err so that the default predicate stops retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// ExhaustedError is returned after MaxAttempts consecutive failures
type ExhaustedError struct {
	Operation string
	Attempts  int
	Err       error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Operation, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// RetryAll retries every error except permanent ones and open circuits
func RetryAll(err error) bool {
	return !errors.Is(err, ErrPermanent) &&
		!errors.Is(err, gobreaker.ErrOpenState) &&
		!errors.Is(err, gobreaker.ErrTooManyRequests)
}

// TransientOnly retries network, timeout and rate-limit failures only
func TransientOnly(err error) bool {
	if err == nil || !RetryAll(err) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"too many requests",
		"rate limit",
		"eof",
		"503",
		"502",
	} {
		if strings.Contains(errStr, marker) {
			return true
		}
	}
	return false
}

// Retrier executes operations with exponential backoff
type Retrier struct {
	config    Config
	operation string
	retryIf   func(error) bool
	onRetry   func(attempt int, err error, delay time.Duration)
	sleep     func(ctx context.Context, d time.Duration) error
}

// Option customizes a Retrier
type Option func(*Retrier)

// WithRetryIf sets the predicate classifying retryable errors
func WithRetryIf(predicate func(error) bool) Option {
	return func(r *Retrier) { r.retryIf = predicate }
}

// WithOnRetry registers an observer invoked before each backoff sleep
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(r *Retrier) { r.onRetry = fn }
}

// WithSleep replaces the backoff sleep (used by tests)
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Retrier) { r.sleep = fn }
}

// NewRetrier creates a retrier for a named operation
func NewRetrier(operation string, config Config, opts ...Option) *Retrier {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 1
	}

	r := &Retrier{
		config:    config,
		operation: operation,
		retryIf:   RetryAll,
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Named returns a copy of the retrier reporting under another operation name
func (r *Retrier) Named(operation string) *Retrier {
	clone := *r
	clone.operation = operation
	return &clone
}

// Config returns the retry configuration
func (r *Retrier) Config() Config {
	return r.config
}

// Do runs fn until it succeeds, fails permanently, or attempts run out
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Call(ctx, r, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Call runs fn with the retrier's policy and returns its result
func Call[T any](ctx context.Context, r *Retrier, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("%s cancelled: %w", r.operation, err)
		}

		result, err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				log.Info().
					Str("operation", r.operation).
					Int("attempt", attempt).
					Msg("Operation succeeded after retry")
			}
			return result, nil
		}

		lastErr = err

		if !r.retryIf(err) {
			log.Debug().
				Err(err).
				Str("operation", r.operation).
				Msg("Error is not retryable, aborting")
			return zero, err
		}

		if attempt == r.config.MaxAttempts {
			break
		}

		delay := r.config.Delay(attempt)

		log.Warn().
			Err(err).
			Str("operation", r.operation).
			Int("attempt", attempt).
			Int("max_attempts", r.config.MaxAttempts).
			Dur("backoff", delay).
			Msg("Operation failed, retrying with backoff")
		metrics.RetryAttempts.WithLabelValues(r.operation).Inc()
		if r.onRetry != nil {
			r.onRetry(attempt, err, delay)
		}

		if err := r.sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("%s cancelled during backoff: %w", r.operation, err)
		}
	}

	log.Error().
		Err(lastErr).
		Str("operation", r.operation).
		Int("attempts", r.config.MaxAttempts).
		Msg("Operation failed, retries exhausted")
	metrics.RetryExhausted.WithLabelValues(r.operation).Inc()

	return zero, &ExhaustedError{
		Operation: r.operation,
		Attempts:  r.config.MaxAttempts,
		Err:       lastErr,
	}
}

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
