package orchestrator

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a failed submission. Kinds are errors themselves so
// that errors.Is(err, KindQuotaExceeded) works on a *SubmissionError.
type Kind string

const (
	KindInvalidInput     Kind = "invalid_input"
	KindQuotaExceeded    Kind = "quota_exceeded"
	KindQuotaUnavailable Kind = "quota_unavailable"
	KindGenerationFailed Kind = "generation_failed"
	KindCancelled        Kind = "cancelled"
)

func (k Kind) Error() string { return string(k) }

// Reason codes beyond the kind names.
const (
	ReasonUnknownAgent     = "unknown_agent"
	ReasonAgentInactive    = "agent_inactive"
	ReasonDeadlineExceeded = "deadline_exceeded"
)

// SubmissionError is the only error type Submit returns.
type SubmissionError struct {
	Kind Kind

	// Reason is a machine-readable code, finer than Kind.
	Reason string

	// ResetsAt is set for KindQuotaExceeded.
	ResetsAt time.Time

	// RecordID is set once a record exists.
	RecordID uuid.UUID

	// Fields maps invalid input fields to the failed rule.
	Fields map[string]string

	Err error
}

func (e *SubmissionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("submission %s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("submission %s: %s: %v", e.Kind, e.Reason, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

func (e *SubmissionError) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

func invalidInput(reason string, err error) *SubmissionError {
	return &SubmissionError{Kind: KindInvalidInput, Reason: reason, Err: err}
}
