package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// Publisher provides typed methods for publishing events to NATS JetStream.
type Publisher struct {
	js jetstream.JetStream
}

// NewPublisher creates a new Publisher.
func NewPublisher(js jetstream.JetStream) *Publisher {
	return &Publisher{js: js}
}

// ConsultationSubject returns the subject for a consultation in state.
func ConsultationSubject(state string) string {
	return SubjectConsultationPrefix + "." + state
}

// PublishConsultationEvent publishes a terminal consultation outcome.
// A consultation reaches one terminal state, so its ID and state
// deduplicate retried publishes.
func (p *Publisher) PublishConsultationEvent(ctx context.Context, event ConsultationEvent) error {
	return p.publish(ctx, ConsultationSubject(event.State), event, event.ConsultationID.String()+"."+event.State)
}

// PublishAuditEvent publishes an audit event, deduplicated on its ID.
func (p *Publisher) PublishAuditEvent(ctx context.Context, event AuditEvent) error {
	return p.publish(ctx, SubjectAuditEvent, event, event.ID.String())
}

func (p *Publisher) publish(ctx context.Context, subject string, data any, msgID string) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling event for %s: %w", subject, err)
	}
	_, err = p.js.Publish(ctx, subject, payload, jetstream.WithMsgID(msgID))
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}
