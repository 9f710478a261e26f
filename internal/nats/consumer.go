package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Redelivery schedule for a message that is Nak'ed. Its length is the
// delivery budget: after the last step the message is dropped.
var RedeliveryBackoff = []time.Duration{
	time.Second,
	5 * time.Second,
	30 * time.Second,
	2 * time.Minute,
	10 * time.Minute,
}

// ConsumerManager creates durable pull consumers on the event stream.
type ConsumerManager struct {
	js            jetstream.JetStream
	maxAckPending int
}

// NewConsumerManager creates a new ConsumerManager.
func NewConsumerManager(js jetstream.JetStream) *ConsumerManager {
	return &ConsumerManager{js: js, maxAckPending: 256}
}

// EnsureConsumer creates or updates the durable consumer name on stream,
// filtered to filterSubject. Delivery follows RedeliveryBackoff.
func (cm *ConsumerManager) EnsureConsumer(ctx context.Context, stream, name, filterSubject string) (jetstream.Consumer, error) {
	consumer, err := cm.js.CreateOrUpdateConsumer(ctx, stream, consumerConfig(name, filterSubject, cm.maxAckPending))
	if err != nil {
		return nil, fmt.Errorf("ensuring consumer %s on %s: %w", name, stream, err)
	}
	return consumer, nil
}

func consumerConfig(name, filterSubject string, maxAckPending int) jetstream.ConsumerConfig {
	backoff := make([]time.Duration, len(RedeliveryBackoff))
	copy(backoff, RedeliveryBackoff)
	return jetstream.ConsumerConfig{
		Durable:       name,
		FilterSubject: filterSubject,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		BackOff:       backoff,
		MaxDeliver:    len(backoff) + 1,
		MaxAckPending: maxAckPending,
	}
}
