package camera

import (
	"context"
	"log/slog"
	"time"

	"github.com/samirrijal/flyover/internal/core/domain"
	"github.com/samirrijal/flyover/internal/core/ports"
	"github.com/samirrijal/flyover/internal/pkg/geospatial"
	"github.com/samirrijal/flyover/internal/pkg/metrics"
)

const (
	BackendCapable  = "capable"
	BackendFallback = "fallback"
)

// backend is one rendering strategy. Durations are already speed-scaled.
// A non-nil error that is not ctx.Err() means the surface itself failed.
type backend interface {
	name() string
	flyTo(ctx context.Context, target domain.CameraTarget, d time.Duration) error
	flyAround(ctx context.Context, target domain.CameraTarget, d time.Duration, revolutions float64) error
	settle(ctx context.Context, maxWait time.Duration) error
	pose() domain.CameraTarget
}

// capableBackend delegates interpolation to the surface and waits for its
// completion signal.
type capableBackend struct {
	surface ports.CapableSurface
	grace   time.Duration
}

func (b *capableBackend) name() string { return BackendCapable }

func (b *capableBackend) flyTo(ctx context.Context, target domain.CameraTarget, d time.Duration) error {
	done, err := b.surface.FlyTo(ctx, target, d)
	if err != nil {
		return err
	}
	return b.wait(ctx, "fly_to", done, d+b.grace)
}

func (b *capableBackend) flyAround(ctx context.Context, target domain.CameraTarget, d time.Duration, revolutions float64) error {
	done, err := b.surface.FlyAround(ctx, target, d, revolutions)
	if err != nil {
		return err
	}
	return b.wait(ctx, "fly_around", done, d+b.grace)
}

func (b *capableBackend) settle(ctx context.Context, maxWait time.Duration) error {
	_, err := Await(ctx, b.surface.WhenSteady(ctx), maxWait)
	return err
}

func (b *capableBackend) pose() domain.CameraTarget { return b.surface.Pose() }

func (b *capableBackend) wait(ctx context.Context, op string, done <-chan struct{}, window time.Duration) error {
	outcome, err := Await(ctx, done, window)
	if outcome == TimedOut {
		metrics.CameraTimeouts.WithLabelValues(BackendCapable, op).Inc()
		slog.Debug("camera operation hit safety timeout", "backend", BackendCapable, "op", op, "window", window)
	}
	return err
}

// fallbackBackend animates a pose-only surface frame by frame.
type fallbackBackend struct {
	surface  ports.PoseSurface
	grace    time.Duration
	frame    time.Duration
	zoomBase float64
}

func (b *fallbackBackend) name() string { return BackendFallback }

func (b *fallbackBackend) flyTo(ctx context.Context, target domain.CameraTarget, d time.Duration) error {
	from := b.surface.Pose()
	to := ToMapPose(target, b.zoomBase)
	return b.animate(ctx, "fly_to", d, func(e float64) domain.MapPose {
		return Interpolate(from, to, e)
	})
}

func (b *fallbackBackend) flyAround(ctx context.Context, target domain.CameraTarget, d time.Duration, revolutions float64) error {
	base := ToMapPose(target, b.zoomBase)
	sweep := revolutions * 360
	return b.animate(ctx, "fly_around", d, func(e float64) domain.MapPose {
		p := base
		p.Heading = geospatial.NormalizeHeading(base.Heading + sweep*e)
		return p
	})
}

func (b *fallbackBackend) settle(ctx context.Context, maxWait time.Duration) error {
	_, err := Await(ctx, b.surface.Idle(), maxWait)
	return err
}

func (b *fallbackBackend) pose() domain.CameraTarget {
	return FromMapPose(b.surface.Pose(), b.zoomBase)
}

// animate runs the frame loop in its own goroutine and waits for it through
// the shared completion-or-timeout path. Once the wait returns, the frame
// loop is cancelled and schedules nothing further.
func (b *fallbackBackend) animate(ctx context.Context, op string, d time.Duration, at func(e float64) domain.MapPose) error {
	animCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	failed := make(chan error, 1)

	go func() {
		defer close(done)
		if d <= 0 {
			if err := b.surface.SetPose(animCtx, at(1)); err != nil {
				failed <- err
			}
			return
		}

		ticker := time.NewTicker(b.frame)
		defer ticker.Stop()
		start := time.Now()
		for {
			t := float64(time.Since(start)) / float64(d)
			if t > 1 {
				t = 1
			}
			if animCtx.Err() != nil {
				return
			}
			if err := b.surface.SetPose(animCtx, at(EaseInOutCubic(t))); err != nil {
				failed <- err
				return
			}
			if t >= 1 {
				return
			}
			select {
			case <-animCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	outcome, err := Await(ctx, done, d+b.grace)
	if err != nil {
		return err
	}
	if outcome == TimedOut {
		metrics.CameraTimeouts.WithLabelValues(BackendFallback, op).Inc()
		slog.Debug("camera operation hit safety timeout", "backend", BackendFallback, "op", op, "duration", d)
		return nil
	}
	select {
	case err := <-failed:
		return err
	default:
		return nil
	}
}
