package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noSleep records requested delays without waiting
func noSleep(delays *[]time.Duration) Option {
	return WithSleep(func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	})
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	assert.Equal(t, 5, config.MaxAttempts)
	assert.Equal(t, 2*time.Second, config.BaseDelay)
	assert.Equal(t, 10*time.Second, config.MaxDelay)
	assert.Equal(t, 2.0, config.Multiplier)
}

func TestConfig_Delay(t *testing.T) {
	config := Config{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 3}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 1, want: 100 * time.Millisecond},
		{attempt: 2, want: 300 * time.Millisecond},
		{attempt: 3, want: 900 * time.Millisecond},
		{attempt: 4, want: time.Second},
		{attempt: 50, want: time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			assert.Equal(t, tt.want, config.Delay(tt.attempt))
		})
	}
}

func TestCall_AlwaysFails(t *testing.T) {
	var delays []time.Duration
	var observed []int
	r := NewRetrier("always_fails", Config{
		MaxAttempts: 3,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    15 * time.Millisecond,
		Multiplier:  2,
	}, noSleep(&delays), WithOnRetry(func(attempt int, err error, delay time.Duration) {
		observed = append(observed, attempt)
	}))

	calls := 0
	boom := errors.New("connection refused")
	_, err := Call(context.Background(), r, func(ctx context.Context) (int, error) {
		calls++
		return 0, boom
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls, "exactly MaxAttempts invocations")
	assert.ErrorIs(t, err, boom, "terminal error is surfaced")

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)

	assert.Equal(t, []int{1, 2}, observed, "every retry is reported before sleeping")
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 15 * time.Millisecond}, delays)
}

func TestCall_FailsTwiceThenSucceeds(t *testing.T) {
	var delays []time.Duration
	r := NewRetrier("flaky", Config{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2}, noSleep(&delays))

	calls := 0
	result, err := Call(context.Background(), r, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("timeout")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, calls)
	assert.Len(t, delays, 2)
}

func TestCall_PermanentErrorStopsImmediately(t *testing.T) {
	var delays []time.Duration
	r := NewRetrier("permanent", Config{MaxAttempts: 5, BaseDelay: time.Millisecond}, noSleep(&delays))

	calls := 0
	invalid := errors.New("invalid symbol")
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Permanent(invalid)
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, invalid)
	assert.ErrorIs(t, err, ErrPermanent)
	assert.Empty(t, delays)
}

func TestCall_TransientOnlyPredicate(t *testing.T) {
	var delays []time.Duration
	r := NewRetrier("transient", Config{MaxAttempts: 4, BaseDelay: time.Millisecond},
		noSleep(&delays), WithRetryIf(TransientOnly))

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("rate limit exceeded")
		}
		return errors.New("malformed request")
	})

	require.Error(t, err)
	assert.Equal(t, 2, calls, "permanent classification stops the loop")
	assert.Contains(t, err.Error(), "malformed request")
}

func TestCall_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRetrier("cancelled", Config{MaxAttempts: 5, BaseDelay: time.Hour},
		WithOnRetry(func(int, error, time.Duration) { cancel() }))

	calls := 0
	start := time.Now()
	err := r.Do(ctx, func(ctx context.Context) error {
		calls++
		return errors.New("timeout")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), time.Minute)
}

func TestCall_RealSleepBackoff(t *testing.T) {
	r := NewRetrier("sleepy", Config{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond, MaxDelay: 100 * time.Millisecond, Multiplier: 2})

	calls := 0
	start := time.Now()
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("temporary failure")
		}
		return nil
	})

	require.NoError(t, err)
	// 10ms + 20ms of backoff
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		all       bool
		transient bool
	}{
		{name: "network error", err: errors.New("connection reset by peer"), all: true, transient: true},
		{name: "deadline", err: fmt.Errorf("fetch: %w", context.DeadlineExceeded), all: true, transient: true},
		{name: "validation error", err: errors.New("quantity must be positive"), all: true, transient: false},
		{name: "permanent", err: Permanent(errors.New("timeout")), all: false, transient: false},
		{name: "open circuit", err: gobreaker.ErrOpenState, all: false, transient: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.all, RetryAll(tt.err))
			assert.Equal(t, tt.transient, TransientOnly(tt.err))
		})
	}

	assert.Nil(t, Permanent(nil))
}

func TestNewRetrier_Normalizes(t *testing.T) {
	r := NewRetrier("zero", Config{})
	assert.Equal(t, 1, r.Config().MaxAttempts)

	named := r.Named("other")
	assert.Equal(t, "other", named.operation)
	assert.Equal(t, "zero", r.operation)
}
