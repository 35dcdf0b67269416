// Package hub is an in-process event bus used when no NATS server is configured.
package hub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/samirrijal/flyover/internal/core/domain"
)

const bufferSize = 64

type subscriber struct {
	ch     chan domain.Event
	cancel context.CancelFunc
}

// Hub implements ports.EventPublisher and ports.EventSubscriber in memory.
// A slow subscriber loses events rather than blocking playback.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}
}

// New creates an empty Hub.
func New() *Hub {
	return &Hub{subs: make(map[string]map[*subscriber]struct{})}
}

// Publish delivers evt to every subscriber of its session.
func (h *Hub) Publish(ctx context.Context, evt domain.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[evt.SessionID] {
		select {
		case s.ch <- evt:
		default:
			slog.Debug("hub subscriber lagging, event dropped", "session", evt.SessionID, "type", evt.Type)
		}
	}
	return nil
}

// Subscribe calls handler for every event of sessionID, in order, until the
// returned cancel func is called or ctx is done. Cancel blocks until any
// running handler call has returned; handler must not call it.
func (h *Hub) Subscribe(ctx context.Context, sessionID string, handler func(ctx context.Context, evt domain.Event) error) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	s := &subscriber{ch: make(chan domain.Event, bufferSize), cancel: cancel}

	h.mu.Lock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[*subscriber]struct{})
	}
	h.subs[sessionID][s] = struct{}{}
	h.mu.Unlock()

	exited := make(chan struct{})
	go func() {
		defer close(exited)
		defer h.remove(sessionID, s)
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-s.ch:
				// select picks randomly when both are ready.
				if ctx.Err() != nil {
					return
				}
				if err := handler(ctx, evt); err != nil {
					slog.Debug("event handler failed", "session", sessionID, "error", err)
				}
			}
		}
	}()

	return func() {
		cancel()
		<-exited
	}, nil
}

// Subscribers returns the number of live subscriptions for a session.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}

func (h *Hub) remove(sessionID string, s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[sessionID], s)
	if len(h.subs[sessionID]) == 0 {
		delete(h.subs, sessionID)
	}
}
