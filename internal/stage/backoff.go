package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// ErrTransient marks an error from an external dependency as throttling
// or momentary unavailability. Stage runners retry these locally with
// capped exponential backoff; everything else fails the invocation.
var ErrTransient = errors.New("transient dependency error")

// IsTransient reports whether err carries the transient marker.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// RetryPolicy bounds local retries of transient external-dependency
// failures. Stage-body failures are never retried here; the workflow
// engine's own retry policy governs those.
type RetryPolicy struct {
	MaxAttempts int
	Initial     time.Duration
	Cap         time.Duration
}

// DefaultRetryPolicy matches realistic throttling windows for blob and
// record store calls made on a stage's behalf.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 5,
	Initial:     200 * time.Millisecond,
	Cap:         10 * time.Second,
}

// Do runs fn, retrying transient failures with jittered exponential
// backoff until the attempt limit is exhausted. Non-transient errors
// return immediately.
func (p RetryPolicy) Do(ctx context.Context, logger *slog.Logger, op string, fn func() error) error {
	delay := p.Initial

	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}

		sleep := delay/2 + time.Duration(rand.Int64N(int64(delay/2)+1))
		logger.Warn(
			"transient failure, backing off",
			"op", op,
			"attempt", attempt,
			"delay", sleep,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}

		delay = min(delay*2, p.Cap)
	}

	return fmt.Errorf("%s: retries exhausted after %d attempts: %w", op, p.MaxAttempts, err)
}
