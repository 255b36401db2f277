package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrInvalidInput marks malformed arguments. It is never retried.
var ErrInvalidInput = errors.New("invalid input")

type nonRetryableError struct {
	err error
}

func (e *nonRetryableError) Error() string { return e.err.Error() }
func (e *nonRetryableError) Unwrap() error { return e.err }

// NonRetryable marks err so that Do returns it without retrying.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{err: err}
}

// IsRetryable is the default failure predicate. Everything is retryable
// except errors marked with NonRetryable or wrapping ErrInvalidInput.
func IsRetryable(err error) bool {
	var nr *nonRetryableError
	switch {
	case err == nil:
		return false
	case errors.As(err, &nr):
		return false
	case errors.Is(err, ErrInvalidInput):
		return false
	}
	return true
}

// Do calls op until it succeeds, a non-retryable error is returned, or the
// policy's retry budget is spent. The last error is returned as produced by
// op, with any NonRetryable marker still attached so callers can inspect it.
// Waits between attempts end early when ctx is cancelled.
func Do[T any](ctx context.Context, policy Policy, logger *slog.Logger, op func(context.Context) (T, error)) (T, error) {
	if logger == nil {
		logger = slog.Default()
	}

	attempt := 0
	operation := func() (T, error) {
		attempt++
		res, err := op(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Debug("operation succeeded after retry", "attempt", attempt)
			}
			return res, nil
		}
		if ctx.Err() != nil || !policy.isRetryable(err) {
			logger.Debug("operation failed, not retryable", "attempt", attempt, "error", err)
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	notify := func(err error, next time.Duration) {
		logger.Warn("operation failed, retrying",
			"attempt", attempt,
			"max_attempts", policy.MaxRetries+1,
			"error", err,
			"delay", next,
		)
		if policy.OnRetry != nil {
			policy.OnRetry(attempt, err)
		}
	}

	b := backoff.WithContext(&policyBackOff{policy: policy}, ctx)
	res, err := backoff.RetryNotifyWithData(operation, b, notify)
	if err != nil && attempt == policy.MaxRetries+1 && policy.MaxRetries > 0 {
		logger.Warn("operation failed, retries exhausted", "attempts", attempt, "error", err)
	}
	return res, err
}

// DoErr is Do for operations that only return an error.
func DoErr(ctx context.Context, policy Policy, logger *slog.Logger, op func(context.Context) error) error {
	_, err := Do(ctx, policy, logger, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
