package consultation

import (
	"time"

	"github.com/google/uuid"
)

// State is a consultation's position in its lifecycle.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateProcessing, StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Input is what the user submitted.
type Input struct {
	Situation string `json:"situation"`
	Context   string `json:"context,omitempty"`
}

// Output is what the generation webhook returned.
type Output struct {
	Text        string `json:"text"`
	Signature   string `json:"signature,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	ExecutionID string `json:"execution_id,omitempty"`
}

// Metadata describes the request that created the consultation.
type Metadata struct {
	IPAddress string
	UserAgent string
}

// Rating is the user's feedback on a completed consultation.
type Rating struct {
	Score    int       `json:"score"`
	Feedback string    `json:"feedback,omitempty"`
	RatedAt  time.Time `json:"rated_at"`
}

// Record is one consultation from creation to terminal outcome.
type Record struct {
	ID     uuid.UUID `json:"id"`
	UserID uuid.UUID `json:"user_id"`
	Agent  string    `json:"agent"`
	Input
	State        State      `json:"state"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	AttemptCount int        `json:"attempt_count"`
	LastError    string     `json:"last_error,omitempty"`
	Output       *Output    `json:"output,omitempty"`
	ProcessingMS int64      `json:"processing_ms"`
	Metadata     Metadata   `json:"-"`
	Rating       *Rating    `json:"rating,omitempty"`
}
