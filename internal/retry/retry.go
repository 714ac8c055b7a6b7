// Package retry implements the durable-log retry policy of spec §4.1 and
// §5: transient errors retried with exponential backoff up to 3 attempts
// (100ms * 2^n), non-retriable errors (quota, invalid-state) surfaced
// immediately. Generalized from the original CLI's internal/store/retry.go,
// which classified SQLite driver errors; here the classification comes from
// the errs.RecoverableError.Retryable() method instead of SQLite error
// codes/strings, since durable-log backends are no longer necessarily
// SQLite-shaped.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/blocksql/blocksql/internal/errs"
)

// MaxAttempts bounds the retry loop per spec §4.1 / §5.
const MaxAttempts = 3

// WithBackoff runs op, retrying transient errors with exponential backoff
// starting at 100ms and doubling, up to MaxAttempts total attempts.
// Non-retriable errors (identified via errs.RecoverableError.Retryable, or
// any error that isn't a RecoverableError at all) stop the loop immediately.
func WithBackoff(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = 100 * time.Millisecond * (1 << (MaxAttempts - 1))

	attempts := 0
	var lastErr error

	err := backoff.Retry(func() error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return backoff.Permanent(ctxErr)
		}

		attempts++
		err := op()
		lastErr = err
		if err == nil {
			return nil
		}

		if attempts >= MaxAttempts {
			return backoff.Permanent(err)
		}

		if isRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(b, ctx))

	if err == nil {
		return nil
	}
	if attempts >= MaxAttempts && isRetryable(lastErr) {
		return &errs.MaxRetriesExceededError{Attempts: attempts, Cause: lastErr}
	}
	return lastErr
}

func isRetryable(err error) bool {
	var re errs.RecoverableError
	if errors.As(err, &re) {
		return re.Retryable()
	}
	return false
}
