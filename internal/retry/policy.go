package retry

import (
	"fmt"
	"time"
)

// Policy bounds a call: attempt k runs with timeout
// BaseTimeout+(k-1)*TimeoutGrowth and is followed, if it fails and k is
// not the last attempt, by a wait of 2^(k-1)*BackoffUnit.
type Policy struct {
	MaxAttempts   int
	BaseTimeout   time.Duration
	TimeoutGrowth time.Duration
	BackoffUnit   time.Duration
}

// DefaultPolicy is three attempts at 30s, 40s and 50s with 1s and 2s
// waits in between.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:   3,
		BaseTimeout:   30 * time.Second,
		TimeoutGrowth: 10 * time.Second,
		BackoffUnit:   time.Second,
	}
}

// Timeout returns the deadline for the given 1-indexed attempt.
func (p Policy) Timeout(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.BaseTimeout + time.Duration(attempt-1)*p.TimeoutGrowth
}

// Backoff returns the wait after the given 1-indexed failed attempt.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Cap the shift so absurd attempt counts cannot overflow.
	shift := attempt - 1
	if shift > 30 {
		shift = 30
	}
	return p.BackoffUnit << shift
}

// Validate reports a policy that cannot be executed.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.BaseTimeout <= 0 {
		return fmt.Errorf("base timeout must be positive, got %s", p.BaseTimeout)
	}
	if p.TimeoutGrowth < 0 {
		return fmt.Errorf("timeout growth must not be negative, got %s", p.TimeoutGrowth)
	}
	if p.BackoffUnit < 0 {
		return fmt.Errorf("backoff unit must not be negative, got %s", p.BackoffUnit)
	}
	return nil
}
