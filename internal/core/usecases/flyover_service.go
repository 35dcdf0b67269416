package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/samirrijal/flyover/internal/core/camera"
	"github.com/samirrijal/flyover/internal/core/domain"
	"github.com/samirrijal/flyover/internal/core/ports"
	"github.com/samirrijal/flyover/internal/pkg/config"
	"github.com/samirrijal/flyover/internal/pkg/metrics"
	"github.com/samirrijal/flyover/internal/pkg/telemetry"
)

var tracer = otel.Tracer("flyover/sessions")

// Session is one flyover: its Director, panorama inset and camera rig.
type Session struct {
	ID        string
	CreatedAt time.Time
	Director  *Director
	Panorama  *PanoramaSync

	speed      *camera.Speed
	focusID    string
	loadCancel context.CancelFunc
	loaded     chan struct{}
	lastActive atomic.Int64

	mu  sync.Mutex
	rig *camera.Rig
}

// LastActive returns when the session was created or last controlled.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load()).UTC()
}

func (s *Session) touch() { s.lastActive.Store(time.Now().UnixNano()) }

// Loaded is closed once resolution has finished.
func (s *Session) Loaded() <-chan struct{} { return s.loaded }

// Backend names the active camera backend, or "" before a surface is attached.
func (s *Session) Backend() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rig == nil {
		return ""
	}
	return s.rig.Backend()
}

// FlyoverService owns the live flyover sessions.
type FlyoverService struct {
	resolver  *Resolver
	finder    ports.PanoramaFinder
	publisher ports.EventPublisher
	cfg       config.FlyoverConfig
	panorama  config.PanoramaConfig

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewFlyoverService creates a FlyoverService.
func NewFlyoverService(resolver *Resolver, finder ports.PanoramaFinder, publisher ports.EventPublisher, cfg config.FlyoverConfig, panorama config.PanoramaConfig) *FlyoverService {
	return &FlyoverService{
		resolver:  resolver,
		finder:    finder,
		publisher: publisher,
		cfg:       cfg,
		panorama:  panorama,
		sessions:  make(map[string]*Session),
	}
}

// Create opens a session and starts resolving the itinerary in the
// background. A pending activity from the handoff is appended first.
func (s *FlyoverService) Create(ctx context.Context, itinerary []domain.ItineraryEntry, handoff domain.Handoff) (*Session, error) {
	entries := append([]domain.ItineraryEntry(nil), itinerary...)
	if handoff.PendingActivity != nil {
		entries = append(entries, *handoff.PendingActivity)
	}

	id := uuid.NewString()
	ctx, span := tracer.Start(ctx, "FlyoverService.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String(telemetry.AttrSessionID, id),
		attribute.Int(telemetry.AttrEntries, len(entries)),
	)

	speed := camera.NewSpeed()
	director := NewDirector(id, s.cfg, speed, s.publisher)
	pano := NewPanoramaSync(id, s.finder, s.panorama.RadiusMeters, s.panorama.Timeout, s.publisher)
	director.Observe(pano)

	// Resolution outlives the request but stays in its trace.
	loadCtx, cancel := context.WithTimeout(trace.ContextWithSpanContext(context.Background(), span.SpanContext()), s.cfg.LoadCeiling)
	sess := &Session{
		ID:         id,
		CreatedAt:  time.Now().UTC(),
		Director:   director,
		Panorama:   pano,
		speed:      speed,
		focusID:    handoff.FocusPlaceID,
		loadCancel: cancel,
		loaded:     make(chan struct{}),
	}
	sess.touch()

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()
	metrics.ActiveSessions.Inc()

	slog.InfoContext(ctx, "flyover session created", "session", id, "entries", len(entries))

	go func() {
		defer close(sess.loaded)
		defer cancel()
		stops := s.resolver.Resolve(loadCtx, entries, director.SetProgress)
		director.SetStops(stops)
	}()

	return sess, nil
}

// AttachSurface connects the rendering surfaces of a session and selects the
// camera backend. Either surface may be nil.
func (s *FlyoverService) AttachSurface(ctx context.Context, id string, capable ports.CapableSurface, poses ports.PoseSurface) (string, error) {
	sess, err := s.active(id)
	if err != nil {
		return "", err
	}
	if sess.Director.Phase() == domain.PhaseFlying {
		return "", fmt.Errorf("attach surface while flying: %w", domain.ErrInvalidTransition)
	}

	ctx, span := tracer.Start(ctx, "FlyoverService.AttachSurface",
		trace.WithAttributes(attribute.String(telemetry.AttrSessionID, id)))
	defer span.End()

	rig := camera.NewRig(capable, poses, sess.speed,
		camera.WithProbeWindow(s.cfg.ProbeWindow),
		camera.WithGrace(s.cfg.Grace),
		camera.WithFrameInterval(s.cfg.FrameInterval),
		camera.WithZoomBase(s.cfg.ZoomBase),
		camera.WithLogger(slog.Default().With("session", id)),
	)
	if _, err := rig.Init(ctx); err != nil {
		return "", fmt.Errorf("init camera: %w", err)
	}

	sess.mu.Lock()
	sess.rig = rig
	sess.mu.Unlock()
	sess.Director.AttachCamera(rig)

	span.SetAttributes(attribute.String(telemetry.AttrBackend, rig.Backend()))
	return rig.Backend(), nil
}

// Get returns a live session.
func (s *FlyoverService) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return sess, nil
}

// active returns a live session and marks it used.
func (s *FlyoverService) active(id string) (*Session, error) {
	sess, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	sess.touch()
	return sess, nil
}

// Snapshot returns the observable state of a session.
func (s *FlyoverService) Snapshot(id string) (domain.Snapshot, error) {
	sess, err := s.Get(id)
	if err != nil {
		return domain.Snapshot{}, err
	}
	snap := sess.Director.Snapshot()
	snap.Backend = sess.Backend()
	snap.Panorama = sess.Panorama.View()
	snap.CreatedAt = sess.CreatedAt
	return snap, nil
}

// Start begins playback. A nil from starts at the handoff focus place, or 0.
func (s *FlyoverService) Start(id string, from *int) error {
	sess, err := s.active(id)
	if err != nil {
		return err
	}
	start := 0
	if from != nil {
		start = *from
	} else {
		start = FocusIndex(sess.Director.Stops(), sess.focusID)
	}
	return sess.Director.Start(start)
}

// Pause pauses playback.
func (s *FlyoverService) Pause(id string) error {
	sess, err := s.active(id)
	if err != nil {
		return err
	}
	return sess.Director.Pause()
}

// Resume resumes playback from where it was paused.
func (s *FlyoverService) Resume(id string) error {
	sess, err := s.active(id)
	if err != nil {
		return err
	}
	return sess.Director.Resume()
}

// Reset returns a session to ready.
func (s *FlyoverService) Reset(id string) error {
	sess, err := s.active(id)
	if err != nil {
		return err
	}
	return sess.Director.Reset()
}

// SetSpeed changes the playback multiplier of a session.
func (s *FlyoverService) SetSpeed(id string, multiplier float64) error {
	sess, err := s.active(id)
	if err != nil {
		return err
	}
	return sess.Director.SetSpeed(multiplier)
}

// TogglePanorama switches the inset to or from full screen. Only allowed while paused.
func (s *FlyoverService) TogglePanorama(id string) (domain.PanoramaView, error) {
	sess, err := s.active(id)
	if err != nil {
		return domain.PanoramaView{}, err
	}
	return sess.Panorama.ToggleFullscreen(sess.Director.Phase())
}

// Close aborts playback, releases the panorama and forgets the session.
func (s *FlyoverService) Close(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return domain.ErrSessionNotFound
	}

	sess.loadCancel()
	sess.Director.Close()
	sess.Panorama.Release()
	metrics.ActiveSessions.Dec()
	slog.Info("flyover session closed", "session", id)
	return nil
}

// Sweep closes sessions left uncontrolled for longer than the configured TTL
// and returns how many it closed. A session in flight counts as active.
func (s *FlyoverService) Sweep(now time.Time) int {
	if s.cfg.SessionTTL <= 0 {
		return 0
	}
	var expired []string
	s.mu.RLock()
	for id, sess := range s.sessions {
		if sess.Director.Phase() == domain.PhaseFlying {
			sess.touch()
			continue
		}
		if now.Sub(sess.LastActive()) > s.cfg.SessionTTL {
			expired = append(expired, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range expired {
		_ = s.Close(id)
	}
	return len(expired)
}

// CloseAll closes every session.
func (s *FlyoverService) CloseAll() {
	s.mu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		_ = s.Close(id)
	}
}

// Count returns the number of live sessions.
func (s *FlyoverService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// FocusIndex returns the index of the first stop at placeID, or 0.
func FocusIndex(stops []domain.ResolvedStop, placeID string) int {
	if placeID == "" {
		return 0
	}
	for i, st := range stops {
		if st.PlaceID == placeID {
			return i
		}
	}
	return 0
}
