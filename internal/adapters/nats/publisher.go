package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/flyover/internal/core/domain"
)

// StreamName is the JetStream stream holding playback events.
const StreamName = "FLYOVER_EVENTS"

// Subject returns the subject carrying the events of one session.
func Subject(sessionID string) string {
	return "flyover." + sessionID + ".events"
}

// Publisher implements ports.EventPublisher using NATS JetStream.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewPublisher connects to NATS and makes sure the event stream exists.
func NewPublisher(url string) (*Publisher, error) {
	conn, err := RawConn(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	cfg := nats.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{"flyover.*.events"},
		Retention: nats.LimitsPolicy,
		MaxAge:    1 * time.Hour,
		Storage:   nats.MemoryStorage,
	}
	if _, err := js.AddStream(&cfg); err != nil {
		// Stream may already exist, try update
		if _, err := js.UpdateStream(&cfg); err != nil {
			conn.Close()
			return nil, fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
		}
	}

	return &Publisher{conn: conn, js: js}, nil
}

// Publish sends one playback event to the session subject.
func (p *Publisher) Publish(ctx context.Context, evt domain.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(Subject(evt.SessionID), data, nats.Context(ctx))
	return err
}

// Conn exposes the underlying connection so a Subscriber can share it.
func (p *Publisher) Conn() *nats.Conn { return p.conn }

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}

// RawConn creates a plain NATS connection with reconnects enabled.
func RawConn(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("flyover"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}
