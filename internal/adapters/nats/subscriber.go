package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/flyover/internal/core/domain"
)

// Subscriber implements ports.EventSubscriber using NATS JetStream.
type Subscriber struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewSubscriber creates a subscriber on an existing connection.
func NewSubscriber(conn *nats.Conn) (*Subscriber, error) {
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	return &Subscriber{conn: conn, js: js}, nil
}

// Subscribe relays new events of one session to handler until the returned
// cancel func is called. Each subscription gets its own ephemeral consumer.
// Cancel waits for a callback in progress; none runs after it returns.
func (s *Subscriber) Subscribe(ctx context.Context, sessionID string, handler func(ctx context.Context, evt domain.Event) error) (func(), error) {
	var (
		mu     sync.Mutex
		closed bool
	)
	sub, err := s.js.Subscribe(Subject(sessionID), func(msg *nats.Msg) {
		var evt domain.Event
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			slog.Warn("dropping malformed flyover event", "subject", msg.Subject, "error", err)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if closed || ctx.Err() != nil {
			return
		}
		if err := handler(ctx, evt); err != nil {
			slog.Debug("event handler failed", "session", sessionID, "error", err)
		}
	},
		nats.DeliverNew(),
		nats.AckNone(),
	)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", Subject(sessionID), err)
	}
	return func() {
		mu.Lock()
		closed = true
		mu.Unlock()
		_ = sub.Unsubscribe()
	}, nil
}
