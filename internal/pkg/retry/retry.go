// Package retry expresses retries as a bounded, precomputed delay schedule
// rather than recursive control flow. Only errors marked Transient are
// retried; anything else propagates immediately.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Policy bounds a retry schedule.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// BaseDelay is the delay before the second attempt; each further delay
	// doubles, capped at MaxDelay. Every delay is jittered.
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Schedule returns the jittered delays between attempts. Its length is
// MaxAttempts-1: no delay follows the final attempt.
func (p Policy) Schedule() []time.Duration {
	if p.MaxAttempts <= 1 {
		return nil
	}

	delays := make([]time.Duration, 0, p.MaxAttempts-1)
	delay := p.BaseDelay
	for i := 0; i < p.MaxAttempts-1; i++ {
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
		delays = append(delays, jitter(delay))
		delay *= 2
	}
	return delays
}

// jitter spreads a delay over [d/2, d) so synchronized consumers do not
// hammer a recovering dependency in lockstep.
func jitter(d time.Duration) time.Duration {
	if d <= 1 {
		return d
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)))
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as retryable (timeout, connection reset, 5xx
// equivalent). A nil err stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err carries the transient marker anywhere in
// its chain.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// Do runs op, retrying transient failures per the policy. Non-transient
// errors and context cancellation stop the schedule immediately. The last
// error is returned wrapped with the attempt count after exhaustion.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	schedule := p.Schedule()

	var err error
	for attempt := 0; ; attempt++ {
		err = op(ctx)
		if err == nil || !IsTransient(err) {
			return err
		}
		if attempt >= len(schedule) {
			break
		}

		timer := time.NewTimer(schedule[attempt])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("retry: %d attempts exhausted: %w", p.MaxAttempts, err)
}
