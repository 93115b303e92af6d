// Package retry provides retry with exponential backoff for transient
// failures, primarily remote cache transfers.
package retry

import (
	"context"
	stderr "errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	sgerrors "github.com/scanguard/scanguard/pkg/errors"
)

// Config defines retry behavior.
type Config struct {
	// MaxAttempts counts the initial attempt too.
	MaxAttempts int `yaml:"max_attempts"`

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration `yaml:"initial_delay"`

	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration `yaml:"max_delay"`

	// Multiplier grows the delay after each retry.
	Multiplier float64 `yaml:"multiplier"`

	// Jitter randomizes delays to avoid synchronized retries.
	Jitter bool `yaml:"jitter"`

	// OnRetry is called before each retry attempt.
	OnRetry func(attempt int, err error, delay time.Duration) `yaml:"-"`
}

// DefaultConfig returns the retry settings used for remote transfers.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  4,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retryer executes operations with exponential backoff.
type Retryer struct {
	config Config
}

// New creates a Retryer, filling zero config values with defaults.
func New(config Config) *Retryer {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 4
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 200 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 10 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	return &Retryer{config: config}
}

// Do executes fn, retrying retryable errors until MaxAttempts is
// exhausted or ctx is canceled.
func (r *Retryer) Do(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return sgerrors.Wrap(ctx.Err(), sgerrors.ErrCodeOperationCanceled,
				"retry canceled")
		default:
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) || attempt == r.config.MaxAttempts {
			break
		}

		delay := r.delayFor(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			return sgerrors.Wrap(ctx.Err(), sgerrors.ErrCodeOperationCanceled,
				fmt.Sprintf("retry canceled after %d attempts", attempt))
		case <-time.After(delay):
		}
	}

	return lastErr
}

// isRetryable reports whether err is worth another attempt. Only
// errors carrying the retryable flag qualify; everything else fails
// immediately.
func isRetryable(err error) bool {
	var sgErr *sgerrors.ScanGuardError
	if stderr.As(err, &sgErr) {
		return sgErr.Retryable
	}
	return false
}

// delayFor computes the backoff delay for the given attempt number.
func (r *Retryer) delayFor(attempt int) time.Duration {
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}
	if r.config.Jitter {
		delay += delay * 0.2 * (rand.Float64()*2 - 1)
	}
	return time.Duration(delay)
}

// Backoff runs fn with the default retry configuration.
func Backoff(ctx context.Context, fn func(context.Context) error) error {
	return New(DefaultConfig()).Do(ctx, fn)
}
