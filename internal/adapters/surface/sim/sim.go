// Package sim provides in-process rendering surfaces that follow the camera
// protocol without drawing anything.
package sim

import (
	"context"
	"sync"
	"time"

	"github.com/samirrijal/flyover/internal/core/domain"
)

// Call records one camera command received by a simulated surface.
type Call struct {
	Op          string
	Target      domain.CameraTarget
	Duration    time.Duration
	Revolutions float64
	At          time.Time
}

// Capable simulates a surface with native interpolation.
type Capable struct {
	// ProbeErr, when set, is returned by Probe.
	ProbeErr error
	// ProbeDelay delays the probe answer. A delay past the probe window fails the probe.
	ProbeDelay time.Duration
	// TimeScale multiplies command durations before completion is signalled.
	// Zero completes immediately.
	TimeScale float64
	// Withhold, when it returns true, keeps the completion signal of a call from ever firing.
	Withhold func(Call) bool
	// Fail, when it returns a non-nil error, rejects the call.
	Fail func(Call) error
	// OnCall is invoked synchronously for every command.
	OnCall func(Call)

	mu    sync.Mutex
	pose  domain.CameraTarget
	calls []Call
}

// NewCapable returns a capable surface resting at the given pose.
func NewCapable(initial domain.CameraTarget) *Capable {
	return &Capable{pose: initial}
}

// Probe implements ports.CapableSurface.
func (s *Capable) Probe(ctx context.Context) error {
	if s.ProbeDelay > 0 {
		t := time.NewTimer(s.ProbeDelay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.ProbeErr
}

// FlyTo implements ports.CapableSurface.
func (s *Capable) FlyTo(ctx context.Context, target domain.CameraTarget, d time.Duration) (<-chan struct{}, error) {
	return s.command(Call{Op: "fly_to", Target: target, Duration: d})
}

// FlyAround implements ports.CapableSurface.
func (s *Capable) FlyAround(ctx context.Context, target domain.CameraTarget, d time.Duration, revolutions float64) (<-chan struct{}, error) {
	return s.command(Call{Op: "fly_around", Target: target, Duration: d, Revolutions: revolutions})
}

// WhenSteady implements ports.CapableSurface. The simulated surface is always steady.
func (s *Capable) WhenSteady(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Pose implements ports.CapableSurface.
func (s *Capable) Pose() domain.CameraTarget {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pose
}

// Calls returns a copy of every command received so far.
func (s *Capable) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

func (s *Capable) command(c Call) (<-chan struct{}, error) {
	c.At = time.Now()
	if s.Fail != nil {
		if err := s.Fail(c); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	s.calls = append(s.calls, c)
	s.pose = c.Target
	s.mu.Unlock()

	if s.OnCall != nil {
		s.OnCall(c)
	}

	done := make(chan struct{})
	switch {
	case s.Withhold != nil && s.Withhold(c):
	case s.TimeScale <= 0:
		close(done)
	default:
		time.AfterFunc(time.Duration(float64(c.Duration)*s.TimeScale), func() { close(done) })
	}
	return done, nil
}

// Poses simulates a 2-D surface that only accepts discrete poses.
type Poses struct {
	// Err, when set, is returned by SetPose.
	Err error
	// OnSetPose is invoked synchronously for every frame.
	OnSetPose func(domain.MapPose)

	mu     sync.Mutex
	pose   domain.MapPose
	frames []domain.MapPose
}

// NewPoses returns a pose surface resting at the given pose.
func NewPoses(initial domain.MapPose) *Poses {
	return &Poses{pose: initial}
}

// SetPose implements ports.PoseSurface.
func (s *Poses) SetPose(ctx context.Context, pose domain.MapPose) error {
	if s.Err != nil {
		return s.Err
	}
	s.mu.Lock()
	s.pose = pose
	s.frames = append(s.frames, pose)
	s.mu.Unlock()

	if s.OnSetPose != nil {
		s.OnSetPose(pose)
	}
	return nil
}

// Pose implements ports.PoseSurface.
func (s *Poses) Pose() domain.MapPose {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pose
}

// Idle implements ports.PoseSurface. Nothing is ever loading.
func (s *Poses) Idle() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Frames returns a copy of every pose set so far.
func (s *Poses) Frames() []domain.MapPose {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.MapPose(nil), s.frames...)
}
