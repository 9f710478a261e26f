// Package consultation holds the consultation record, its lifecycle state
// machine and its PostgreSQL repository.
package consultation

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

var transitions = map[State][]State{
	StatePending:    {StateProcessing, StateCancelled},
	StateProcessing: {StateProcessing, StateCompleted, StateFailed, StateCancelled},
}

// CanTransition reports whether from -> to is a valid lifecycle step.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// strictTransitions turns invalid transitions into panics. The package
// tests switch it on; elsewhere invalid transitions are logged and ignored.
var strictTransitions bool

// New creates a pending record.
func New(userID uuid.UUID, agent string, input Input, meta Metadata, now time.Time) *Record {
	return &Record{
		ID:        uuid.New(),
		UserID:    userID,
		Agent:     agent,
		Input:     input,
		State:     StatePending,
		CreatedAt: now.UTC(),
		Metadata:  meta,
	}
}

// Start moves a pending record to processing, right before the first
// network attempt.
func (r *Record) Start() {
	if !r.transition(StateProcessing) {
		return
	}
	r.AttemptCount = 0
}

// BeginAttempt records that another attempt is about to run. After k
// attempts AttemptCount is k.
func (r *Record) BeginAttempt() {
	if r.State != StateProcessing {
		r.reject(StateProcessing)
		return
	}
	r.AttemptCount++
}

// Complete stores the webhook output.
func (r *Record) Complete(out Output, now time.Time) {
	if !r.transition(StateCompleted) {
		return
	}
	r.Output = &out
	r.finish(now)
}

// Fail stores the reason the consultation could not be produced.
func (r *Record) Fail(reason string, now time.Time) {
	if !r.transition(StateFailed) {
		return
	}
	r.LastError = reason
	r.finish(now)
}

// Cancel ends the consultation after an explicit cancellation.
func (r *Record) Cancel(reason string, now time.Time) {
	if !r.transition(StateCancelled) {
		return
	}
	r.LastError = reason
	r.finish(now)
}

func (r *Record) finish(now time.Time) {
	at := now.UTC()
	r.CompletedAt = &at
	r.ProcessingMS = at.Sub(r.CreatedAt).Milliseconds()
}

func (r *Record) transition(to State) bool {
	if !CanTransition(r.State, to) {
		r.reject(to)
		return false
	}
	r.State = to
	return true
}

func (r *Record) reject(to State) {
	msg := fmt.Sprintf("consultation %s: invalid transition %s -> %s", r.ID, r.State, to)
	if strictTransitions {
		panic(msg)
	}
	slog.Warn("ignoring invalid consultation transition",
		"consultation_id", r.ID,
		"from", r.State,
		"to", to,
	)
}
