package nats

import (
	"time"

	"github.com/google/uuid"
)

// FetchTimeout is the default timeout for batch fetching messages from consumers.
const FetchTimeout = 2 * time.Second

const StreamEvents = "LIMINAL_EVENTS"

// Subject constants.
const (
	SubjectEvents             = "liminal.events.>"
	SubjectConsultationPrefix = "liminal.events.consultation" // liminal.events.consultation.{state}
	SubjectAuditEvent         = "liminal.events.audit"
)

// ConsultationEvent is published once a consultation reaches a terminal state.
// It never carries the situation or the generated text.
type ConsultationEvent struct {
	ConsultationID uuid.UUID `json:"consultation_id"`
	UserID         uuid.UUID `json:"user_id"`
	Agent          string    `json:"agent"`
	State          string    `json:"state"`
	AttemptCount   int       `json:"attempt_count"`
	ProcessingMS   int64     `json:"processing_ms"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// AuditEvent is published for the user's audit trail. ID makes
// redelivered events idempotent.
type AuditEvent struct {
	ID           uuid.UUID      `json:"id"`
	OwnerUserID  uuid.UUID      `json:"owner_user_id"`
	EventType    string         `json:"event_type"`
	Severity     string         `json:"severity"` // info, warn, error
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	Details      map[string]any `json:"details,omitempty"`
	IPAddress    string         `json:"ip_address,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}
