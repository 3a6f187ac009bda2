package chessnut

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

const (
	// defaultMaxAttempts is the number of tries before Retry gives up.
	defaultMaxAttempts = 3

	// baseDelay is the starting backoff interval (before jitter).
	baseDelay = 500 * time.Millisecond

	// maxDelay caps the backoff interval.
	maxDelay = 5 * time.Second
)

// errDone wraps an error that must not be retried, such as a definitive
// non-2xx response. Retry returns the wrapped error immediately.
type errDone struct{ err error }

func (e errDone) Error() string { return e.err.Error() }
func (e errDone) Unwrap() error { return e.err }

// Retry executes fn up to maxAttempts times with exponential backoff and
// jitter. It returns nil on the first successful call, the wrapped error
// immediately if fn reports a non-retryable failure, or a wrapped error
// containing the last failure if all attempts are exhausted.
func Retry(ctx context.Context, maxAttempts int, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		var done errDone
		if errors.As(lastErr, &done) {
			return done.err
		}

		if attempt < maxAttempts-1 {
			delay := backoffDelay(attempt)
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}
	}
	return fmt.Errorf("all %d attempts failed: %w", maxAttempts, lastErr)
}

// backoffDelay computes the delay for a given attempt index, applying
// exponential growth with 50–100 % jitter.
func backoffDelay(attempt int) time.Duration {
	delay := baseDelay * (1 << attempt)
	if delay > maxDelay {
		delay = maxDelay
	}
	// Jitter: uniform in [delay/2, delay).
	jitter := time.Duration(rand.Int63n(int64(delay) / 2)) //nolint:gosec // jitter does not need crypto/rand
	return delay/2 + jitter
}
