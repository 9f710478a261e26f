package retry

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled matches every error returned because the caller's
	// context ended.
	ErrCancelled = errors.New("retry: cancelled")

	// ErrAttemptTimeout marks an attempt that ran past its own timeout.
	ErrAttemptTimeout = errors.New("retry: attempt timed out")
)

// FatalError marks a failure that must not be retried. Operations return
// it through Fatal; Call returns it with Attempts filled in.
type FatalError struct {
	Err      error
	Attempts int
}

// Fatal wraps err so that Call stops retrying.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

func (e *FatalError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("retry: fatal after %d attempt(s): %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("retry: fatal: %v", e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsFatal reports whether err carries a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// ExhaustedError is returned when every attempt failed transiently.
type ExhaustedError struct {
	LastErr  error
	Attempts int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: exhausted %d attempt(s): %v", e.Attempts, e.LastErr)
}

func (e *ExhaustedError) Unwrap() error { return e.LastErr }

// CancelledError is returned when the caller's context ends while an
// attempt is in flight or during a backoff wait.
type CancelledError struct {
	Attempts int
	Cause    error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("retry: cancelled after %d attempt(s): %v", e.Attempts, e.Cause)
}

func (e *CancelledError) Unwrap() error { return e.Cause }

func (e *CancelledError) Is(target error) bool { return target == ErrCancelled }
