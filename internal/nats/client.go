package nats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/agents-liminals/liminal/internal/config"
)

const (
	clientName = "liminal-api"

	// eventRetention bounds how long unconsumed events stay on the stream.
	eventRetention = 7 * 24 * time.Hour
	// duplicateWindow is how long a message ID suppresses republishes.
	duplicateWindow = 10 * time.Minute
)

// Client owns the NATS connection and its JetStream context.
type Client struct {
	conn *nats.Conn
	js   jetstream.JetStream
}

// NewClient connects to cfg.URL and makes sure the event stream exists.
// The connection keeps retrying in the background if the server is not
// up yet; stream setup still needs it within ctx.
func NewClient(ctx context.Context, cfg config.NATSConfig) (*Client, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(clientName),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.ReconnectJitter(500*time.Millisecond, time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("NATS reconnected", "url", c.ConnectedUrlRedacted())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	c := &Client{conn: nc, js: js}
	if err := c.ensureEventStream(ctx); err != nil {
		nc.Close()
		return nil, err
	}

	slog.Info("connected to NATS", "stream", StreamEvents)
	return c, nil
}

func eventStreamConfig() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:       StreamEvents,
		Subjects:   []string{SubjectEvents},
		Retention:  jetstream.LimitsPolicy,
		Storage:    jetstream.FileStorage,
		MaxAge:     eventRetention,
		Duplicates: duplicateWindow,
	}
}

func (c *Client) ensureEventStream(ctx context.Context) error {
	if _, err := c.js.CreateOrUpdateStream(ctx, eventStreamConfig()); err != nil {
		return fmt.Errorf("ensuring stream %s: %w", StreamEvents, err)
	}
	return nil
}

func (c *Client) JetStream() jetstream.JetStream {
	return c.js
}

func (c *Client) Conn() *nats.Conn {
	return c.conn
}

// Check reports an error unless the connection is currently up.
func (c *Client) Check(context.Context) error {
	if c.conn.IsConnected() {
		return nil
	}
	return fmt.Errorf("nats connection is %s", c.conn.Status())
}

// Close drains pending messages, then closes the connection.
func (c *Client) Close() {
	if err := c.conn.Drain(); err != nil {
		slog.Warn("draining NATS connection", "error", err)
	}
}
