package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/nearchat/internal/core/domain"
)

// Subjects and streams.
const (
	LocationSubjects       = "location.>"
	AccountDeletedSubjects = "accounts.deleted.>"

	locationStream = "LOCATION_EVENTS"
	accountStream  = "ACCOUNT_EVENTS"
)

// Publisher implements ports.EventPublisher using NATS JetStream.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewPublisher connects to NATS and enables JetStream.
func NewPublisher(url string) (*Publisher, error) {
	conn, err := RawConn(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	if err := ensureStream(js, nats.StreamConfig{
		Name:      locationStream,
		Subjects:  []string{LocationSubjects},
		Retention: nats.InterestPolicy,
		MaxAge:    24 * time.Hour,
		Storage:   nats.FileStorage,
	}); err != nil {
		return nil, err
	}

	return &Publisher{conn: conn, js: js}, nil
}

// LocationSubject is the subject an event is published on, e.g.
// location.updated.{userID}.
func LocationSubject(ev *domain.LocationEvent) string {
	return ev.Type + "." + ev.UserID
}

// PublishLocationEvent publishes a coordinate-free location event.
func (p *Publisher) PublishLocationEvent(ctx context.Context, ev *domain.LocationEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(LocationSubject(ev), data, nats.Context(ctx), nats.MsgId(ev.ID))
	return err
}

// Conn exposes the underlying connection for health checks.
func (p *Publisher) Conn() *nats.Conn { return p.conn }

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}

// RawConn creates a plain NATS connection with reconnects enabled.
func RawConn(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}

func ensureStream(js nats.JetStreamContext, cfg nats.StreamConfig) error {
	if _, err := js.AddStream(&cfg); err != nil {
		// Stream may already exist, try update
		if _, err := js.UpdateStream(&cfg); err != nil {
			return fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
		}
	}
	return nil
}
