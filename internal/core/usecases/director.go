package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mohae/deepcopy"

	"github.com/samirrijal/flyover/internal/core/camera"
	"github.com/samirrijal/flyover/internal/core/domain"
	"github.com/samirrijal/flyover/internal/core/ports"
	"github.com/samirrijal/flyover/internal/pkg/config"
	"github.com/samirrijal/flyover/internal/pkg/geospatial"
	"github.com/samirrijal/flyover/internal/pkg/metrics"
)

// Camera is the camera contract the Director sequences.
type Camera interface {
	FlyTo(ctx context.Context, target domain.CameraTarget, d time.Duration) error
	FlyAround(ctx context.Context, target domain.CameraTarget, d time.Duration, revolutions float64) error
	Settle(ctx context.Context, maxWait time.Duration) error
}

// PlaybackObserver is notified of playback changes. Calls are made outside
// the Director's locks and must not block.
type PlaybackObserver interface {
	StopHeld(index int, stop domain.ResolvedStop, heading float64)
	PhaseChanged(phase domain.PlaybackPhase)
}

// Director owns the playback state machine of one session and runs at most
// one sequencing loop at a time.
type Director struct {
	id        string
	cfg       config.FlyoverConfig
	speed     *camera.Speed
	publisher ports.EventPublisher
	logger    *slog.Logger

	ctl sync.Mutex // serializes control operations

	mu          sync.Mutex
	cam         Camera
	phase       domain.PlaybackPhase
	stops       []domain.ResolvedStop
	cameraReady bool
	progress    int
	held        int
	resume      int
	splash      *domain.DaySplash
	announced   map[int]bool
	stopping    bool
	cancel      context.CancelFunc
	done        chan struct{}
	closed      bool
	observers   []PlaybackObserver
}

// NewDirector creates a Director in the loading phase.
func NewDirector(id string, cfg config.FlyoverConfig, speed *camera.Speed, publisher ports.EventPublisher) *Director {
	if speed == nil {
		speed = camera.NewSpeed()
	}
	return &Director{
		id:        id,
		cfg:       cfg,
		speed:     speed,
		publisher: publisher,
		logger:    slog.Default().With("session", id),
		phase:     domain.PhaseLoading,
		held:      -1,
		announced: make(map[int]bool),
	}
}

// Observe registers an observer.
func (d *Director) Observe(o PlaybackObserver) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, o)
}

// SetProgress reports loading progress.
func (d *Director) SetProgress(p int) {
	d.mu.Lock()
	if p < d.progress {
		d.mu.Unlock()
		return
	}
	d.progress = p
	d.mu.Unlock()
	d.emit(domain.Event{Type: domain.EventProgress, Progress: p})
}

// SetStops hands the resolved stops to the Director. They are owned
// read-only from here on.
func (d *Director) SetStops(stops []domain.ResolvedStop) {
	d.mu.Lock()
	if d.phase != domain.PhaseLoading || d.closed {
		d.mu.Unlock()
		return
	}
	d.stops = stops
	d.progress = 100
	ready := d.tryReadyLocked()
	d.mu.Unlock()
	if ready {
		d.phaseChanged(domain.PhaseReady)
	}
}

// AttachCamera installs the camera once its initial pose is established.
func (d *Director) AttachCamera(cam Camera) {
	d.mu.Lock()
	d.cam = cam
	d.cameraReady = cam != nil
	ready := d.tryReadyLocked()
	d.mu.Unlock()
	if ready {
		d.phaseChanged(domain.PhaseReady)
	}
}

func (d *Director) tryReadyLocked() bool {
	if d.phase != domain.PhaseLoading || len(d.stops) == 0 || !d.cameraReady {
		return false
	}
	d.phase = domain.PhaseReady
	return true
}

// Phase returns the current playback phase.
func (d *Director) Phase() domain.PlaybackPhase {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.phase
}

// Stops returns a copy of the resolved stops.
func (d *Director) Stops() []domain.ResolvedStop {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stops == nil {
		return nil
	}
	return deepcopy.Copy(d.stops).([]domain.ResolvedStop)
}

// Snapshot fills the playback part of a session snapshot.
func (d *Director) Snapshot() domain.Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := domain.Snapshot{
		ID:          d.id,
		Phase:       d.phase,
		Progress:    d.progress,
		HeldIndex:   d.held,
		ResumeIndex: d.resume,
		Speed:       d.speed.Get(),
		Closed:      d.closed,
	}
	if d.stops != nil {
		s.Stops = deepcopy.Copy(d.stops).([]domain.ResolvedStop)
	}
	if d.splash != nil {
		sp := *d.splash
		s.Splash = &sp
	}
	return s
}

// Start begins playback at stop index from.
func (d *Director) Start(from int) error {
	d.ctl.Lock()
	defer d.ctl.Unlock()

	d.mu.Lock()
	if err := d.checkOpenLocked(); err != nil {
		d.mu.Unlock()
		return err
	}
	if len(d.stops) == 0 {
		d.mu.Unlock()
		return domain.ErrNoStops
	}
	if d.phase != domain.PhaseReady {
		phase := d.phase
		d.mu.Unlock()
		return fmt.Errorf("start from %s: %w", phase, domain.ErrInvalidTransition)
	}
	if from < 0 || from >= len(d.stops) {
		d.mu.Unlock()
		return fmt.Errorf("start index %d out of range [0,%d): %w", from, len(d.stops), domain.ErrInvalidTransition)
	}
	d.announced = make(map[int]bool)
	d.launchLocked(from)
	d.mu.Unlock()

	d.phaseChanged(domain.PhaseFlying)
	return nil
}

// Pause stops the sequencing loop at its next checkpoint and records where
// to resume.
func (d *Director) Pause() error {
	d.ctl.Lock()
	defer d.ctl.Unlock()

	d.mu.Lock()
	if err := d.checkOpenLocked(); err != nil {
		d.mu.Unlock()
		return err
	}
	if d.phase != domain.PhaseFlying {
		phase := d.phase
		d.mu.Unlock()
		return fmt.Errorf("pause from %s: %w", phase, domain.ErrInvalidTransition)
	}
	d.mu.Unlock()

	d.stopRun()

	d.mu.Lock()
	if d.phase != domain.PhaseFlying {
		// The loop finished on its own before it saw the abort.
		phase := d.phase
		d.mu.Unlock()
		return fmt.Errorf("pause from %s: %w", phase, domain.ErrInvalidTransition)
	}
	d.phase = domain.PhasePaused
	d.splash = nil
	d.mu.Unlock()

	d.phaseChanged(domain.PhasePaused)
	return nil
}

// Resume restarts the sequencing loop from the recorded index.
func (d *Director) Resume() error {
	d.ctl.Lock()
	defer d.ctl.Unlock()

	d.mu.Lock()
	if err := d.checkOpenLocked(); err != nil {
		d.mu.Unlock()
		return err
	}
	if d.phase != domain.PhasePaused {
		phase := d.phase
		d.mu.Unlock()
		return fmt.Errorf("resume from %s: %w", phase, domain.ErrInvalidTransition)
	}
	d.launchLocked(d.resume)
	d.mu.Unlock()

	d.phaseChanged(domain.PhaseFlying)
	return nil
}

// Reset aborts any run and returns to ready, clearing the held stop, the
// day splash and the resume index.
func (d *Director) Reset() error {
	d.ctl.Lock()
	defer d.ctl.Unlock()

	d.mu.Lock()
	if err := d.checkOpenLocked(); err != nil {
		d.mu.Unlock()
		return err
	}
	switch d.phase {
	case domain.PhaseFlying, domain.PhasePaused, domain.PhaseDone:
	default:
		phase := d.phase
		d.mu.Unlock()
		return fmt.Errorf("reset from %s: %w", phase, domain.ErrInvalidTransition)
	}
	d.mu.Unlock()

	d.stopRun()

	d.mu.Lock()
	d.phase = domain.PhaseReady
	d.held = -1
	d.splash = nil
	d.resume = 0
	d.announced = make(map[int]bool)
	d.mu.Unlock()

	d.phaseChanged(domain.PhaseReady)
	return nil
}

// SetSpeed changes the playback multiplier. A move already in progress
// keeps its duration; the next one uses the new value.
func (d *Director) SetSpeed(m float64) error {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return domain.ErrSessionClosed
	}
	if err := d.speed.Set(m); err != nil {
		return err
	}
	d.emit(domain.Event{Type: domain.EventSpeed, Speed: m})
	return nil
}

// Close aborts playback for good. Every later control returns ErrSessionClosed.
func (d *Director) Close() {
	d.ctl.Lock()
	defer d.ctl.Unlock()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	d.stopRun()

	d.mu.Lock()
	d.closed = true
	d.splash = nil
	d.mu.Unlock()

	d.emit(domain.Event{Type: domain.EventClosed})
}

func (d *Director) checkOpenLocked() error {
	if d.closed {
		return domain.ErrSessionClosed
	}
	return nil
}

func (d *Director) launchLocked(from int) {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	d.stopping = false
	d.phase = domain.PhaseFlying
	d.resume = from
	go d.run(ctx, from, d.cam, d.stops, d.done)
}

// stopRun cancels the active loop, if any, and waits for it to exit.
func (d *Director) stopRun() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.stopping = true
	d.cancel, d.done = nil, nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// run is the sequencing loop. stops is read-only.
func (d *Director) run(ctx context.Context, from int, cam Camera, stops []domain.ResolvedStop, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("sequencing loop panicked", "panic", r)
		}
	}()

	for i := from; i < len(stops); i++ {
		if !d.step(ctx, cam, stops, from, i) {
			return
		}
	}

	frame := finalFrame(stops, d.cfg)
	if err := cam.FlyTo(ctx, frame, d.cfg.FinalLeg); err != nil {
		return
	}

	d.mu.Lock()
	if d.stopping || ctx.Err() != nil {
		d.mu.Unlock()
		return
	}
	d.phase = domain.PhaseDone
	cancel := d.cancel
	d.cancel, d.done = nil, nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.phaseChanged(domain.PhaseDone)
}

// step plays stop i. It returns false when the run was aborted, after
// recording the index to resume from.
func (d *Director) step(ctx context.Context, cam Camera, stops []domain.ResolvedStop, from, i int) bool {
	stop := stops[i]
	d.setResume(i)

	if i == from || stop.Day != stops[i-1].Day {
		if !d.daySplash(ctx, stops, stop.Day) {
			return false
		}
	}

	heading := headingAt(stops, i)
	target := domain.CameraTarget{
		Center:  domain.CameraCenter{Lat: stop.Lat, Lng: stop.Lng},
		Tilt:    d.cfg.StopTilt,
		Heading: heading,
		Range:   d.cfg.StopRange,
	}

	if err := cam.FlyTo(ctx, target, legDuration(stops, i, d.cfg)); err != nil {
		return false
	}
	if err := cam.Settle(ctx, d.cfg.SettleMaxWait); err != nil {
		return false
	}
	if ctx.Err() != nil {
		return false
	}

	d.markHeld(i, stop, heading)

	hold := d.cfg.Hold
	if stop.Notes != "" {
		hold = d.cfg.HoldWithNotes
	}
	if err := cam.FlyAround(ctx, target, hold, d.cfg.OrbitRevolutions); err != nil {
		return false
	}
	d.setResume(i + 1)
	if ctx.Err() != nil {
		return false
	}

	if i+1 < len(stops) && stops[i+1].Day != stop.Day {
		pull := target
		pull.Range = d.cfg.PullBackRange
		pull.Tilt = d.cfg.PullBackTilt
		if err := cam.FlyTo(ctx, pull, d.cfg.PullBack); err != nil {
			return false
		}
	}
	return ctx.Err() == nil
}

// daySplash announces day once per run and dwells on it.
func (d *Director) daySplash(ctx context.Context, stops []domain.ResolvedStop, day int) bool {
	d.mu.Lock()
	if d.announced[day] {
		d.mu.Unlock()
		return true
	}
	d.announced[day] = true
	count := 0
	for _, s := range stops {
		if s.Day == day {
			count++
		}
	}
	splash := domain.DaySplash{Day: day, StopCount: count}
	d.splash = &splash
	d.mu.Unlock()

	d.emit(domain.Event{Type: domain.EventSplash, Splash: &splash})
	err := camera.Sleep(ctx, d.speed.Scale(d.cfg.SplashDwell))

	d.mu.Lock()
	d.splash = nil
	d.mu.Unlock()
	d.emit(domain.Event{Type: domain.EventSplash})

	return err == nil
}

func (d *Director) setResume(i int) {
	d.mu.Lock()
	d.resume = i
	d.mu.Unlock()
}

func (d *Director) markHeld(i int, stop domain.ResolvedStop, heading float64) {
	d.mu.Lock()
	d.held = i
	observers := append([]PlaybackObserver(nil), d.observers...)
	d.mu.Unlock()

	metrics.LegsFlown.Inc()
	d.emit(domain.Event{Type: domain.EventStop, Index: i, Stop: &stop})
	for _, o := range observers {
		o.StopHeld(i, stop, heading)
	}
}

func (d *Director) phaseChanged(phase domain.PlaybackPhase) {
	metrics.PhaseTransitions.WithLabelValues(string(phase)).Inc()

	d.mu.Lock()
	observers := append([]PlaybackObserver(nil), d.observers...)
	idx := d.held
	d.mu.Unlock()

	d.logger.Debug("playback phase changed", "phase", phase)
	d.emit(domain.Event{Type: domain.EventPhase, Phase: phase, Index: idx})
	for _, o := range observers {
		o.PhaseChanged(phase)
	}
}

func (d *Director) emit(evt domain.Event) {
	if d.publisher == nil {
		return
	}
	evt.SessionID = d.id
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	if err := d.publisher.Publish(context.Background(), evt); err != nil {
		d.logger.Debug("publish event failed", "type", evt.Type, "error", err)
	}
}

// headingAt points the camera at the next stop, or along the arrival
// direction for the last stop.
func headingAt(stops []domain.ResolvedStop, i int) float64 {
	switch {
	case i+1 < len(stops):
		return geospatial.InitialBearing(stops[i].Lat, stops[i].Lng, stops[i+1].Lat, stops[i+1].Lng)
	case i > 0:
		return geospatial.InitialBearing(stops[i-1].Lat, stops[i-1].Lng, stops[i].Lat, stops[i].Lng)
	default:
		return 0
	}
}

// legDuration is proportional to the distance flown, clamped.
func legDuration(stops []domain.ResolvedStop, i int, cfg config.FlyoverConfig) time.Duration {
	if i == 0 {
		return cfg.FirstLeg
	}
	meters := geospatial.Haversine(stops[i-1].Lat, stops[i-1].Lng, stops[i].Lat, stops[i].Lng)
	d := time.Duration(meters / cfg.MetersPerMilli * float64(time.Millisecond))
	return max(cfg.MinLeg, min(d, cfg.MaxLeg))
}

func finalFrame(stops []domain.ResolvedStop, cfg config.FlyoverConfig) domain.CameraTarget {
	lats := make([]float64, len(stops))
	lons := make([]float64, len(stops))
	for i, s := range stops {
		lats[i], lons[i] = s.Lat, s.Lng
	}
	f := geospatial.FrameRoute(lats, lons, cfg.FinalPadding, cfg.FinalMinRange)
	return domain.CameraTarget{
		Center: domain.CameraCenter{Lat: f.CenterLat, Lng: f.CenterLon},
		Tilt:   cfg.FinalTilt,
		Range:  f.RangeMeters,
	}
}
