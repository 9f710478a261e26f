package retry

import (
	"log/slog"
	"time"
)

// Outcome classifies a finished attempt.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeTransient Outcome = "transient"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeFatal     Outcome = "fatal"
	OutcomeCancelled Outcome = "cancelled"
)

// AttemptStart is emitted right before an attempt runs.
type AttemptStart struct {
	Attempt int
	Timeout time.Duration
}

// AttemptResult is emitted when an attempt finishes. Backoff is the wait
// scheduled before the next attempt, zero when none follows.
type AttemptResult struct {
	Attempt  int
	Timeout  time.Duration
	Duration time.Duration
	Outcome  Outcome
	Err      error
	Backoff  time.Duration
}

// Observer receives attempt events. Events never carry the operation's
// payload, only its error.
type Observer interface {
	OnAttempt(AttemptStart)
	OnResult(AttemptResult)
}

type multiObserver []Observer

func (m multiObserver) OnAttempt(e AttemptStart) {
	for _, o := range m {
		o.OnAttempt(e)
	}
}

func (m multiObserver) OnResult(e AttemptResult) {
	for _, o := range m {
		o.OnResult(e)
	}
}

// LogObserver writes one debug line per attempt start and one line per
// result, at warn level for failures.
type LogObserver struct {
	Logger *slog.Logger
}

func (o LogObserver) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o LogObserver) OnAttempt(e AttemptStart) {
	o.logger().Debug("attempt starting", "attempt", e.Attempt, "timeout", e.Timeout)
}

func (o LogObserver) OnResult(e AttemptResult) {
	if e.Outcome == OutcomeSuccess {
		o.logger().Debug("attempt succeeded", "attempt", e.Attempt, "duration", e.Duration)
		return
	}
	o.logger().Warn("attempt failed",
		"attempt", e.Attempt,
		"outcome", e.Outcome,
		"duration", e.Duration,
		"backoff", e.Backoff,
		"error", e.Err,
	)
}
