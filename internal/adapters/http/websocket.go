package http

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"

	"github.com/samirrijal/flyover/internal/adapters/surface/remote"
	"github.com/samirrijal/flyover/internal/core/domain"
	"github.com/samirrijal/flyover/internal/core/ports"
	"github.com/samirrijal/flyover/internal/pkg/metrics"
)

var errSocketClosed = errors.New("socket closed")

// wsAction is a playback command sent by an event-stream client.
// Clients send JSON: {"action":"pause"} or {"action":"speed","multiplier":2}
type wsAction struct {
	Action     string  `json:"action"` // start | pause | resume | reset | speed | panorama_toggle
	From       *int    `json:"from,omitempty"`
	Multiplier float64 `json:"multiplier,omitempty"`
}

// SurfaceSocketHandler attaches the connecting client as the camera surface
// of a session. The first client message must be a hello envelope; the
// server answers with attached once the backend probe has settled.
func SurfaceSocketHandler(deps *Dependencies) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()

		id := c.Params("id")
		remoteAddr := c.RemoteAddr().String()
		metrics.ActiveWebSockets.WithLabelValues("surface").Inc()
		defer metrics.ActiveWebSockets.WithLabelValues("surface").Dec()

		surf, err := remote.Handshake(c)
		if err != nil {
			_ = c.WriteJSON(remote.Envelope{Type: remote.TypeError, Error: err.Error()})
			return
		}
		slog.Info("surface connected", "session", id, "remote", remoteAddr)

		ctx, cancel := context.WithCancel(context.Background())

		// The probe needs the read loop running to receive its ack.
		served := make(chan error, 1)
		go func() { served <- surf.Serve(ctx) }()
		stop := func() {
			cancel()
			_ = c.Close()
			<-served
		}

		var capable ports.CapableSurface
		if view := surf.Capable(); view != nil {
			capable = view
		}
		backend, err := deps.Flyovers.AttachSurface(ctx, id, capable, surf.Poses())
		if err != nil {
			_ = surf.Send(remote.Envelope{Type: remote.TypeError, Error: err.Error()})
			slog.Warn("surface rejected", "session", id, "error", err)
			stop()
			return
		}
		if err := surf.Send(remote.Envelope{Type: remote.TypeAttached, Backend: backend}); err != nil {
			stop()
			return
		}

		err = <-served
		cancel()
		slog.Info("surface disconnected", "session", id, "remote", remoteAddr, "reason", err)
	}
}

// EventsSocketHandler streams a session's presentation events to the client
// and accepts playback commands on the same connection. The first message
// is always the current snapshot.
func EventsSocketHandler(deps *Dependencies) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()

		id := c.Params("id")
		metrics.ActiveWebSockets.WithLabelValues("events").Inc()
		defer metrics.ActiveWebSockets.WithLabelValues("events").Dec()

		// closed is set before the handler returns; the conn is recycled
		// after that and late subscriber callbacks must not touch it.
		var (
			mu     sync.Mutex
			closed bool
		)
		write := func(fn func() error) error {
			mu.Lock()
			defer mu.Unlock()
			if closed {
				return errSocketClosed
			}
			return fn()
		}
		writeJSON := func(v interface{}) error {
			return write(func() error { return c.WriteJSON(v) })
		}
		defer func() {
			mu.Lock()
			closed = true
			mu.Unlock()
		}()

		if deps.Events == nil {
			_ = writeJSON(map[string]string{"error": "event stream not available"})
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Hold the write lock until the snapshot is out so no event overtakes it.
		mu.Lock()
		snap, err := deps.Flyovers.Snapshot(id)
		if err != nil {
			_ = c.WriteJSON(map[string]string{"error": err.Error()})
			mu.Unlock()
			return
		}
		unsubscribe, err := deps.Events.Subscribe(ctx, id, func(ctx context.Context, evt domain.Event) error {
			return writeJSON(evt)
		})
		if err != nil {
			_ = c.WriteJSON(map[string]string{"error": "subscribe failed: " + err.Error()})
			mu.Unlock()
			return
		}
		defer unsubscribe()
		err = c.WriteJSON(map[string]interface{}{"type": "snapshot", "snapshot": snap})
		mu.Unlock()
		if err != nil {
			return
		}

		// Keep-alive ping
		done := make(chan struct{})
		defer close(done)
		go func() {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if err := write(func() error { return c.WriteMessage(websocket.PingMessage, nil) }); err != nil {
						return
					}
				case <-done:
					return
				}
			}
		}()

		for {
			var m wsAction
			if err := c.ReadJSON(&m); err != nil {
				return
			}

			var cmdErr error
			switch m.Action {
			case "start":
				cmdErr = deps.Flyovers.Start(id, m.From)
			case "pause":
				cmdErr = deps.Flyovers.Pause(id)
			case "resume":
				cmdErr = deps.Flyovers.Resume(id)
			case "reset":
				cmdErr = deps.Flyovers.Reset(id)
			case "speed":
				cmdErr = deps.Flyovers.SetSpeed(id, m.Multiplier)
			case "panorama_toggle":
				_, cmdErr = deps.Flyovers.TogglePanorama(id)
			default:
				_ = writeJSON(map[string]string{"error": "unknown action: " + m.Action})
				continue
			}

			if cmdErr != nil {
				_ = writeJSON(map[string]string{"error": cmdErr.Error(), "action": m.Action})
				continue
			}
			_ = writeJSON(map[string]string{"status": "ok", "action": m.Action})
		}
	}
}
