// Package retry provides retry policies for the CollarKit client: exponential
// backoff for bounded operations and a fixed-delay policy for the streaming
// reconnect loop.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

var (
	// Thread-safe random source for jitter
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// NonRetryableError wraps errors that should not be retried
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NonRetryable wraps an error to indicate it should not be retried
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable checks if an error is marked as non-retryable
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}

// Config provides retry configuration. It is a plain value so tests can
// inject short or zero delays.
type Config struct {
	MaxAttempts  int           // Maximum number of attempts (0 = run once)
	InitialDelay time.Duration // Initial delay between attempts
	MaxDelay     time.Duration // Maximum delay between attempts
	Multiplier   float64       // Backoff multiplier (typically 2.0; 1.0 = fixed delay)
	AddJitter    bool          // Add randomness to prevent thundering herd
}

// DefaultConfig returns sensible defaults for bounded retry operations
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// Fixed returns a constant-delay policy with no backoff. This is the shape
// of the streaming reconnect policy: the session retries indefinitely and
// waits the same delay between attempts, so only the delay is configurable.
func Fixed(delay time.Duration) Config {
	return Config{
		InitialDelay: delay,
		MaxDelay:     delay,
		Multiplier:   1.0,
		AddJitter:    false,
	}
}

// DelayFor returns the delay to wait before the given attempt (0-based).
// For a Fixed config this is constant; otherwise exponential up to MaxDelay.
func (c Config) DelayFor(attempt int) time.Duration {
	if attempt <= 0 {
		return c.InitialDelay
	}

	delay := c.InitialDelay
	for i := 0; i < attempt; i++ {
		next := float64(delay) * c.Multiplier
		if c.MaxDelay > 0 && next >= float64(c.MaxDelay) {
			return c.MaxDelay
		}
		delay = time.Duration(next)
	}
	return delay
}

// Sleep waits for d or until the context is cancelled, whichever comes
// first. Returns the context error on cancellation.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do executes fn with retry according to cfg
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.Multiplier == 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		return errors.New("retry: MaxDelay must be >= InitialDelay")
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if IsNonRetryable(err) {
			return err
		}

		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled after attempt %d: %w", attempt+1, ctx.Err())
		}

		// No sleep after the last attempt
		if attempt == cfg.MaxAttempts-1 {
			break
		}

		sleepDuration := cfg.DelayFor(attempt)
		if cfg.AddJitter && sleepDuration > 0 {
			randMu.Lock()
			jitter := time.Duration(randSource.Int63n(int64(sleepDuration/4) + 1))
			randMu.Unlock()
			sleepDuration += jitter
		}

		if err := Sleep(ctx, sleepDuration); err != nil {
			return fmt.Errorf("retry cancelled during backoff for attempt %d: %w", attempt+2, err)
		}
	}

	return fmt.Errorf("retry failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// DoWithResult executes fn with retry and returns both result and error
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var innerErr error
		result, innerErr = fn()
		return innerErr
	})
	return result, err
}
