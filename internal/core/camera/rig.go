// Package camera drives a rendering surface through fly-to, orbit and settle
// moves with one timing contract, whichever surface is underneath.
package camera

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samirrijal/flyover/internal/core/domain"
	"github.com/samirrijal/flyover/internal/core/ports"
	"github.com/samirrijal/flyover/internal/pkg/metrics"
)

// Option configures a Rig.
type Option func(*options)

type options struct {
	probeWindow time.Duration
	grace       time.Duration
	frame       time.Duration
	zoomBase    float64
	logger      *slog.Logger
	onDowngrade func(reason error)
}

// WithProbeWindow bounds the capability probe of the capable surface.
func WithProbeWindow(d time.Duration) Option {
	return func(o *options) { o.probeWindow = d }
}

// WithGrace sets the slack added to every operation's safety timeout.
func WithGrace(d time.Duration) Option {
	return func(o *options) { o.grace = d }
}

// WithFrameInterval sets the fallback animation frame period.
func WithFrameInterval(d time.Duration) Option {
	return func(o *options) { o.frame = d }
}

// WithZoomBase sets the constant used by zoom = log2(base / range).
func WithZoomBase(base float64) Option {
	return func(o *options) { o.zoomBase = base }
}

// WithLogger sets the rig logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// OnDowngrade registers a callback fired once when the rig falls back.
func OnDowngrade(fn func(reason error)) Option {
	return func(o *options) { o.onDowngrade = fn }
}

// Rig exposes FlyTo, FlyAround and Settle over a capable surface with a
// pose-only fallback. The backend is chosen once by Init and can only ever
// move from capable to fallback.
type Rig struct {
	capable ports.CapableSurface
	poses   ports.PoseSurface
	speed   *Speed
	opts    options

	mu         sync.Mutex
	active     backend
	downgraded bool
}

// NewRig builds a rig. Either surface may be nil, but not both.
func NewRig(capable ports.CapableSurface, poses ports.PoseSurface, speed *Speed, opts ...Option) *Rig {
	o := options{
		probeWindow: 3 * time.Second,
		grace:       600 * time.Millisecond,
		frame:       16 * time.Millisecond,
		zoomBase:    35200000,
		logger:      slog.Default(),
	}
	for _, fn := range opts {
		fn(&o)
	}
	if speed == nil {
		speed = NewSpeed()
	}
	return &Rig{capable: capable, poses: poses, speed: speed, opts: o}
}

// Init probes the capable surface within the probe window and selects the
// backend for the rest of the session. It returns the initial camera pose.
func (r *Rig) Init(ctx context.Context) (domain.CameraTarget, error) {
	if r.capable == nil && r.poses == nil {
		return domain.CameraTarget{}, domain.ErrNoSurface
	}

	if r.capable != nil {
		probeCtx, cancel := context.WithTimeout(ctx, r.opts.probeWindow)
		err := r.capable.Probe(probeCtx)
		cancel()
		if err == nil {
			r.mu.Lock()
			if r.active == nil {
				r.active = r.capableBackend()
			}
			r.mu.Unlock()
			return r.Pose(), nil
		}
		if ctx.Err() != nil {
			return domain.CameraTarget{}, ctx.Err()
		}
		if r.poses == nil {
			return domain.CameraTarget{}, fmt.Errorf("capable surface probe: %w", err)
		}
		r.downgrade(ctx, fmt.Errorf("probe: %w", err))
		return r.Pose(), nil
	}

	r.mu.Lock()
	r.active = r.fallbackBackend()
	r.downgraded = true
	r.mu.Unlock()
	return r.Pose(), nil
}

// Backend names the active backend.
func (r *Rig) Backend() string {
	if b := r.current(); b != nil {
		return b.name()
	}
	return ""
}

// Speed returns the multiplier the rig reads at the start of every call.
func (r *Rig) Speed() *Speed { return r.speed }

// Pose returns the current camera pose of the active backend.
func (r *Rig) Pose() domain.CameraTarget {
	if b := r.current(); b != nil {
		return b.pose()
	}
	return domain.CameraTarget{}
}

// FlyTo moves the camera to target over d, scaled by the current speed.
// It returns nil when the move finishes or its safety timeout elapses, and
// ctx.Err() if the run was cancelled.
func (r *Rig) FlyTo(ctx context.Context, target domain.CameraTarget, d time.Duration) error {
	d = r.speed.Scale(d)
	return r.run(ctx, "fly_to", func(b backend) error {
		return b.flyTo(ctx, target, d)
	})
}

// FlyAround orbits target.Center by revolutions full turns over d.
func (r *Rig) FlyAround(ctx context.Context, target domain.CameraTarget, d time.Duration, revolutions float64) error {
	d = r.speed.Scale(d)
	return r.run(ctx, "fly_around", func(b backend) error {
		return b.flyAround(ctx, target, d, revolutions)
	})
}

// Settle waits for the surface to report it is steady, at most maxWait.
func (r *Rig) Settle(ctx context.Context, maxWait time.Duration) error {
	maxWait = r.speed.Scale(maxWait)
	return r.run(ctx, "settle", func(b backend) error {
		return b.settle(ctx, maxWait)
	})
}

func (r *Rig) run(ctx context.Context, op string, call func(backend) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := r.current()
	if b == nil {
		return domain.ErrNoSurface
	}

	err := call(b)
	if err == nil || ctx.Err() != nil {
		return ctx.Err()
	}

	if b.name() == BackendCapable && r.downgrade(ctx, fmt.Errorf("%s: %w", op, err)) {
		if err := call(r.current()); err != nil && ctx.Err() == nil {
			r.opts.logger.Warn("fallback camera surface error", "op", op, "error", err)
		}
		return ctx.Err()
	}

	r.opts.logger.Warn("camera surface error", "backend", b.name(), "op", op, "error", err)
	return nil
}

func (r *Rig) current() backend {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// downgrade switches to the fallback backend once, carrying the last known
// pose over. It reports whether the active backend is now the fallback.
func (r *Rig) downgrade(ctx context.Context, reason error) bool {
	if r.poses == nil {
		return false
	}

	r.mu.Lock()
	if r.downgraded {
		r.mu.Unlock()
		return true
	}
	var last domain.CameraTarget
	hadCapable := r.active != nil
	if hadCapable {
		last = r.active.pose()
	}
	r.active = r.fallbackBackend()
	r.downgraded = true
	r.mu.Unlock()

	if hadCapable {
		_ = r.poses.SetPose(ctx, ToMapPose(last, r.opts.zoomBase))
	}

	metrics.CameraDowngrades.Inc()
	r.opts.logger.Info("camera downgraded to fallback backend", "reason", reason)
	if r.opts.onDowngrade != nil {
		r.opts.onDowngrade(reason)
	}
	return true
}

func (r *Rig) capableBackend() backend {
	return &capableBackend{surface: r.capable, grace: r.opts.grace}
}

func (r *Rig) fallbackBackend() backend {
	return &fallbackBackend{
		surface:  r.poses,
		grace:    r.opts.grace,
		frame:    r.opts.frame,
		zoomBase: r.opts.zoomBase,
	}
}
