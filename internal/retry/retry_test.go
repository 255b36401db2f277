package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestDo_SucceedsAfterFailures(t *testing.T) {
	tests := []struct {
		failures   int
		maxRetries int
	}{
		{0, 0},
		{0, 3},
		{1, 3},
		{3, 3},
		{2, 5},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d failures %d retries", tt.failures, tt.maxRetries), func(t *testing.T) {
			calls := 0
			got, err := Do(context.Background(), NoDelay(tt.maxRetries), testLogger, func(ctx context.Context) (string, error) {
				calls++
				if calls <= tt.failures {
					return "", errors.New("temporary")
				}
				return "ok", nil
			})

			require.NoError(t, err)
			assert.Equal(t, "ok", got)
			assert.Equal(t, tt.failures+1, calls)
		})
	}
}

func TestDo_ExhaustsBudget(t *testing.T) {
	for _, n := range []int{0, 1, 3} {
		t.Run(fmt.Sprintf("%d retries", n), func(t *testing.T) {
			calls := 0
			var last error
			_, err := Do(context.Background(), NoDelay(n), testLogger, func(ctx context.Context) (int, error) {
				calls++
				last = fmt.Errorf("failure %d", calls)
				return 0, last
			})

			assert.Equal(t, n+1, calls)
			assert.Same(t, last, err)
		})
	}
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"marked", NonRetryable(errors.New("bad request"))},
		{"invalid input", fmt.Errorf("address: %w", ErrInvalidInput)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := DoErr(context.Background(), NoDelay(5), testLogger, func(ctx context.Context) error {
				calls++
				return tt.err
			})

			assert.Equal(t, 1, calls)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestDo_CustomPredicate(t *testing.T) {
	errFatal := errors.New("fatal")
	policy := NoDelay(4)
	policy.Retryable = func(err error) bool { return !errors.Is(err, errFatal) }

	calls := 0
	err := DoErr(context.Background(), policy, testLogger, func(ctx context.Context) error {
		calls++
		if calls == 2 {
			return errFatal
		}
		return errors.New("flaky")
	})

	assert.Equal(t, 2, calls)
	assert.ErrorIs(t, err, errFatal)
}

func TestDo_CancelDuringWait(t *testing.T) {
	policy := Policy{MaxRetries: 3, BaseDelay: time.Hour, BackoffFactor: 1}
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	start := time.Now()
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := DoErr(ctx, policy, testLogger, func(ctx context.Context) error {
		calls++
		return errors.New("temporary")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDo_OnRetry(t *testing.T) {
	var attempts []int
	policy := NoDelay(2)
	policy.OnRetry = func(attempt int, err error) {
		attempts = append(attempts, attempt)
	}

	err := DoErr(context.Background(), policy, testLogger, func(ctx context.Context) error {
		return errors.New("down")
	})

	require.Error(t, err)
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(errors.New("boom")))
	assert.False(t, IsRetryable(NonRetryable(errors.New("boom"))))
	assert.False(t, IsRetryable(fmt.Errorf("wrapped: %w", NonRetryable(errors.New("boom")))))
	assert.False(t, IsRetryable(ErrInvalidInput))
	assert.Nil(t, NonRetryable(nil))
}

func TestSleep(t *testing.T) {
	require.NoError(t, Sleep(context.Background(), time.Millisecond))
	require.NoError(t, Sleep(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}
