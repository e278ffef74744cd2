package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SuccessAfterFailures(t *testing.T) {
	ctx := context.Background()
	cfg := Config{
		MaxAttempts:  3,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     50 * time.Millisecond,
		Multiplier:   2.0,
		AddJitter:    false,
	}

	attempts := 0
	err := Do(ctx, cfg, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient error")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_AllAttemptsFail(t *testing.T) {
	ctx := context.Background()
	cfg := Config{
		MaxAttempts:  3,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     50 * time.Millisecond,
		Multiplier:   2.0,
		AddJitter:    false,
	}

	attempts := 0
	err := Do(ctx, cfg, func() error {
		attempts++
		return errors.New("persistent error")
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, attempts)
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()

	attempts := 0
	bad := errors.New("bad credentials")
	err := Do(ctx, cfg, func() error {
		attempts++
		return NonRetryable(bad)
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, bad))
	assert.Equal(t, 1, attempts)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{
		MaxAttempts:  5,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		AddJitter:    false,
	}

	attempts := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, cfg, func() error {
		attempts++
		return errors.New("flaky")
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, attempts)
}

func TestFixed_ConstantDelay(t *testing.T) {
	cfg := Fixed(10 * time.Second)

	assert.Equal(t, 10*time.Second, cfg.DelayFor(0))
	assert.Equal(t, 10*time.Second, cfg.DelayFor(1))
	assert.Equal(t, 10*time.Second, cfg.DelayFor(100))
}

func TestDelayFor_ExponentialWithCap(t *testing.T) {
	cfg := Config{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     500 * time.Millisecond,
		Multiplier:   2.0,
	}

	assert.Equal(t, 100*time.Millisecond, cfg.DelayFor(0))
	assert.Equal(t, 200*time.Millisecond, cfg.DelayFor(1))
	assert.Equal(t, 400*time.Millisecond, cfg.DelayFor(2))
	assert.Equal(t, 500*time.Millisecond, cfg.DelayFor(3))
	assert.Equal(t, 500*time.Millisecond, cfg.DelayFor(10))
}

func TestSleep_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Sleep(ctx, time.Second)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestSleep_ZeroDelay(t *testing.T) {
	assert.NoError(t, Sleep(context.Background(), 0))
}

func TestDoWithResult(t *testing.T) {
	ctx := context.Background()
	cfg := Config{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1.0}

	attempts := 0
	v, err := DoWithResult(ctx, cfg, func() (int, error) {
		attempts++
		if attempts < 2 {
			return 0, errors.New("not yet")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
}
