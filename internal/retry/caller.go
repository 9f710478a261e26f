// Package retry runs an unreliable operation with a bounded number of
// attempts, a timeout that grows per attempt and exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agents-liminals/liminal/internal/clock"
)

// Operation is one attempt. A nil error is success, an error wrapped
// with Fatal stops retrying, any other error is transient. The context
// carries the attempt's own deadline.
type Operation[T any] func(ctx context.Context, attempt int) (T, error)

// Caller holds the policy, clock and observers shared by calls.
type Caller struct {
	policy    Policy
	clock     clock.Clock
	observers []Observer
}

// Option configures a Caller.
type Option func(*Caller)

// WithClock sets the clock used for backoff waits.
func WithClock(c clock.Clock) Option {
	return func(cl *Caller) { cl.clock = c }
}

// WithObserver adds an observer notified on every call.
func WithObserver(o Observer) Option {
	return func(cl *Caller) { cl.observers = append(cl.observers, o) }
}

// NewCaller creates a Caller. A policy with fewer than one attempt is
// treated as a single attempt.
func NewCaller(policy Policy, opts ...Option) *Caller {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	c := &Caller{policy: policy, clock: clock.Real()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the caller's policy.
func (c *Caller) Policy() Policy { return c.policy }

// Call runs op until it succeeds, fails fatally, exhausts the policy or
// ctx ends. Extra observers receive this call's events only.
func Call[T any](ctx context.Context, c *Caller, op Operation[T], observers ...Observer) (T, error) {
	var zero T
	obs := multiObserver(append(append([]Observer(nil), c.observers...), observers...))

	var lastErr error
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, &CancelledError{Attempts: attempt - 1, Cause: err}
		}

		timeout := c.policy.Timeout(attempt)
		obs.OnAttempt(AttemptStart{Attempt: attempt, Timeout: timeout})

		started := c.clock.Now()
		val, err := runAttempt(ctx, op, attempt, timeout)
		result := AttemptResult{
			Attempt:  attempt,
			Timeout:  timeout,
			Duration: c.clock.Now().Sub(started),
			Err:      err,
		}

		switch {
		case err == nil:
			result.Outcome = OutcomeSuccess
			obs.OnResult(result)
			return val, nil

		case ctx.Err() != nil:
			result.Outcome = OutcomeCancelled
			obs.OnResult(result)
			return zero, &CancelledError{Attempts: attempt, Cause: ctx.Err()}

		case IsFatal(err):
			result.Outcome = OutcomeFatal
			obs.OnResult(result)
			var fe *FatalError
			errors.As(err, &fe)
			return zero, &FatalError{Err: fe.Err, Attempts: attempt}

		case errors.Is(err, ErrAttemptTimeout):
			result.Outcome = OutcomeTimeout

		default:
			result.Outcome = OutcomeTransient
		}

		lastErr = err
		if attempt == c.policy.MaxAttempts {
			obs.OnResult(result)
			break
		}

		wait := c.policy.Backoff(attempt)
		result.Backoff = wait
		obs.OnResult(result)

		select {
		case <-c.clock.After(wait):
		case <-ctx.Done():
			return zero, &CancelledError{Attempts: attempt, Cause: ctx.Err()}
		}
	}

	return zero, &ExhaustedError{LastErr: lastErr, Attempts: c.policy.MaxAttempts}
}

// runAttempt runs op in its own goroutine so that an operation ignoring
// its context still cannot hold the caller past the attempt deadline.
func runAttempt[T any](ctx context.Context, op Operation[T], attempt int, timeout time.Duration) (T, error) {
	attemptCtx, cancel := context.WithTimeoutCause(ctx, timeout, ErrAttemptTimeout)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := op(attemptCtx, attempt)
		done <- result{val: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && ctx.Err() == nil && errors.Is(context.Cause(attemptCtx), ErrAttemptTimeout) {
			return r.val, fmt.Errorf("%w after %s: %w", ErrAttemptTimeout, timeout, r.err)
		}
		return r.val, r.err
	case <-attemptCtx.Done():
		var zero T
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, fmt.Errorf("%w after %s", ErrAttemptTimeout, timeout)
	}
}
