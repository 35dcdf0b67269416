// Package remote drives a rendering surface living on the other end of a
// WebSocket, typically a browser map.
//
// Every message is a JSON Envelope. The server sends probe, fly_to,
// fly_around, settle and set_pose; the client answers ack (probe, fly_to,
// fly_around) and steady (settle). The first client message must be hello.
package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samirrijal/flyover/internal/core/domain"
)

// Message types.
const (
	TypeHello     = "hello"
	TypeAttached  = "attached"
	TypeProbe     = "probe"
	TypeFlyTo     = "fly_to"
	TypeFlyAround = "fly_around"
	TypeSettle    = "settle"
	TypeSetPose   = "set_pose"
	TypeAck       = "ack"
	TypeSteady    = "steady"
	TypeError     = "error"
)

// ErrClosed is returned once the connection is gone.
var ErrClosed = errors.New("surface connection closed")

// Envelope is the wire message in both directions.
type Envelope struct {
	Type        string               `json:"type"`
	ID          uint64               `json:"id,omitempty"`
	Capable     bool                 `json:"capable,omitempty"`
	Target      *domain.CameraTarget `json:"target,omitempty"`
	Pose        *domain.MapPose      `json:"pose,omitempty"`
	DurationMS  int64                `json:"duration_ms,omitempty"`
	Revolutions float64              `json:"revolutions,omitempty"`
	Backend     string               `json:"backend,omitempty"`
	Error       string               `json:"error,omitempty"`
}

// Conn is the subset of a WebSocket connection the surface needs. Both the
// gofiber and gorilla connections satisfy it.
type Conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
}

// Surface is one connected client. Use Capable and Poses to hand it to a
// camera rig.
type Surface struct {
	conn    Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  uint64
	waiters map[uint64]chan error
	target  domain.CameraTarget
	pose    domain.MapPose
	closed  bool
	capable bool
}

// Handshake reads the hello message and returns a Surface for the client.
func Handshake(conn Conn) (*Surface, error) {
	var hello Envelope
	if err := conn.ReadJSON(&hello); err != nil {
		return nil, fmt.Errorf("read hello: %w", err)
	}
	if hello.Type != TypeHello {
		return nil, fmt.Errorf("expected %q, got %q", TypeHello, hello.Type)
	}
	s := &Surface{conn: conn, waiters: make(map[uint64]chan error), capable: hello.Capable}
	if hello.Target != nil {
		s.target = *hello.Target
	}
	if hello.Pose != nil {
		s.pose = *hello.Pose
	}
	return s, nil
}

// Capable returns the native-interpolation view of the surface, or nil when
// the client did not announce the capability.
func (s *Surface) Capable() *CapableView {
	if !s.capable {
		return nil
	}
	return &CapableView{s: s}
}

// Poses returns the pose-only view of the surface.
func (s *Surface) Poses() *PoseView {
	return &PoseView{s: s}
}

// Send writes an unsolicited message such as attached.
func (s *Surface) Send(env Envelope) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return s.conn.WriteJSON(env)
}

// Serve reads client messages until the connection fails or ctx is done.
// Pending requests are released when it returns.
func (s *Surface) Serve(ctx context.Context) error {
	defer s.shutdown()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var env Envelope
		if err := s.conn.ReadJSON(&env); err != nil {
			return err
		}
		switch env.Type {
		case TypeAck, TypeSteady:
			s.resolve(env)
		case TypeHello:
			// Re-announced pose after a client-side reload.
			s.mu.Lock()
			if env.Target != nil {
				s.target = *env.Target
			}
			if env.Pose != nil {
				s.pose = *env.Pose
			}
			s.mu.Unlock()
		}
	}
}

func (s *Surface) resolve(env Envelope) {
	s.mu.Lock()
	ch, ok := s.waiters[env.ID]
	delete(s.waiters, env.ID)
	if env.Target != nil {
		s.target = *env.Target
	}
	if env.Pose != nil {
		s.pose = *env.Pose
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	if env.Error != "" {
		ch <- errors.New(env.Error)
	}
	close(ch)
}

// shutdown waits for any write in flight, so once Serve has returned the
// connection is never written again.
func (s *Surface) shutdown() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, ch := range s.waiters {
		ch <- ErrClosed
		close(ch)
		delete(s.waiters, id)
	}
}

// request sends env with a fresh id and returns a channel that yields the
// client's error, if any, and is then closed.
func (s *Surface) request(env Envelope) (<-chan error, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.nextID++
	env.ID = s.nextID
	ch := make(chan error, 1)
	s.waiters[env.ID] = ch
	s.mu.Unlock()

	if err := s.Send(env); err != nil {
		s.mu.Lock()
		delete(s.waiters, env.ID)
		s.mu.Unlock()
		return nil, err
	}
	return ch, nil
}

// completion adapts a request channel to a close-only completion signal.
func completion(ch <-chan error) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		for range ch {
		}
		close(done)
	}()
	return done
}

// CapableView implements ports.CapableSurface.
type CapableView struct{ s *Surface }

// Probe asks the client to confirm it can interpolate natively.
func (v *CapableView) Probe(ctx context.Context) error {
	ch, err := v.s.request(Envelope{Type: TypeProbe})
	if err != nil {
		return err
	}
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FlyTo implements ports.CapableSurface.
func (v *CapableView) FlyTo(ctx context.Context, target domain.CameraTarget, d time.Duration) (<-chan struct{}, error) {
	ch, err := v.s.request(Envelope{Type: TypeFlyTo, Target: &target, DurationMS: d.Milliseconds()})
	if err != nil {
		return nil, err
	}
	v.s.setTarget(target)
	return completion(ch), nil
}

// FlyAround implements ports.CapableSurface.
func (v *CapableView) FlyAround(ctx context.Context, target domain.CameraTarget, d time.Duration, revolutions float64) (<-chan struct{}, error) {
	ch, err := v.s.request(Envelope{Type: TypeFlyAround, Target: &target, DurationMS: d.Milliseconds(), Revolutions: revolutions})
	if err != nil {
		return nil, err
	}
	return completion(ch), nil
}

// WhenSteady implements ports.CapableSurface.
func (v *CapableView) WhenSteady(ctx context.Context) <-chan struct{} {
	ch, err := v.s.request(Envelope{Type: TypeSettle})
	if err != nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return completion(ch)
}

// Pose returns the last camera pose reported by or sent to the client.
func (v *CapableView) Pose() domain.CameraTarget {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	return v.s.target
}

func (s *Surface) setTarget(t domain.CameraTarget) {
	s.mu.Lock()
	s.target = t
	s.mu.Unlock()
}

// PoseView implements ports.PoseSurface.
type PoseView struct{ s *Surface }

// SetPose sends one frame. Frames are not acknowledged.
func (v *PoseView) SetPose(ctx context.Context, pose domain.MapPose) error {
	v.s.mu.Lock()
	if v.s.closed {
		v.s.mu.Unlock()
		return ErrClosed
	}
	v.s.pose = pose
	v.s.mu.Unlock()
	return v.s.Send(Envelope{Type: TypeSetPose, Pose: &pose})
}

// Pose returns the last pose sent to or reported by the client.
func (v *PoseView) Pose() domain.MapPose {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	return v.s.pose
}

// Idle asks the client to report when its tiles have loaded.
func (v *PoseView) Idle() <-chan struct{} {
	ch, err := v.s.request(Envelope{Type: TypeSettle})
	if err != nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return completion(ch)
}
