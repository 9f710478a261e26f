package audit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/agents-liminals/liminal/internal/metrics"
	inats "github.com/agents-liminals/liminal/internal/nats"
)

const consumerName = "audit-persister"

// Store persists audit log entries.
type Store interface {
	Insert(ctx context.Context, log *AuditLog) error
}

// Consumer listens on the audit event NATS subject and persists entries to the database.
type Consumer struct {
	store       Store
	consumerMgr *inats.ConsumerManager
}

// NewConsumer creates a new audit event Consumer.
func NewConsumer(store Store, consumerMgr *inats.ConsumerManager) *Consumer {
	return &Consumer{
		store:       store,
		consumerMgr: consumerMgr,
	}
}

// Start begins the consume loop. Blocks until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	consumer, err := c.consumerMgr.EnsureConsumer(ctx, inats.StreamEvents, consumerName, inats.SubjectAuditEvent)
	if err != nil {
		return err
	}

	slog.Info("audit consumer started", "consumer", consumerName)

	for {
		msgs, err := consumer.Fetch(10, jetstream.FetchMaxWait(inats.FetchTimeout))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Debug("audit consumer: fetching events", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			c.handleEvent(ctx, msg)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) handleEvent(ctx context.Context, msg jetstream.Msg) {
	var event inats.AuditEvent
	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		slog.Error("audit consumer: unmarshaling event", "error", err)
		metrics.AuditEventsPersistedTotal.WithLabelValues("malformed").Inc()
		_ = msg.Term()
		return
	}

	log := eventToLog(event)
	if err := c.store.Insert(ctx, log); err != nil {
		slog.Error("audit consumer: persisting audit log", "error", err, "event_type", event.EventType)
		metrics.AuditEventsPersistedTotal.WithLabelValues("error").Inc()
		_ = msg.Nak()
		return
	}

	_ = msg.Ack()
	metrics.AuditEventsPersistedTotal.WithLabelValues("ok").Inc()

	slog.Debug("audit consumer: persisted event",
		"event_type", event.EventType,
		"owner", event.OwnerUserID,
		"resource_id", event.ResourceID,
	)
}

// eventToLog converts a wire event to a row. A non-UUID resource id
// (an agent name, say) is kept in the details instead.
func eventToLog(event inats.AuditEvent) *AuditLog {
	log := &AuditLog{
		ID:           event.ID,
		OwnerUserID:  event.OwnerUserID,
		EventType:    event.EventType,
		Severity:     event.Severity,
		ResourceType: event.ResourceType,
		IPAddress:    event.IPAddress,
		CreatedAt:    event.Timestamp,
	}
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	if log.Severity == "" {
		log.Severity = "info"
	}

	details := make(map[string]any, len(event.Details)+1)
	for k, v := range event.Details {
		details[k] = v
	}

	if event.ResourceID != "" {
		if parsed, err := uuid.Parse(event.ResourceID); err == nil {
			log.ResourceID = &parsed
		} else {
			details["resource"] = event.ResourceID
		}
	}

	if data, err := json.Marshal(details); err == nil {
		log.Details = data
	}
	return log
}
