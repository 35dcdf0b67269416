package usecases_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/samirrijal/flyover/internal/adapters/surface/sim"
	"github.com/samirrijal/flyover/internal/core/camera"
	"github.com/samirrijal/flyover/internal/core/domain"
	"github.com/samirrijal/flyover/internal/core/usecases"
	"github.com/samirrijal/flyover/internal/pkg/config"
)

func newService(pub *recordingPublisher) *usecases.FlyoverService {
	resolver := usecases.NewResolver(yasawiGazetteer(), nil, nil, resolverConfig())
	panorama := config.PanoramaConfig{RadiusMeters: 200, Timeout: time.Second}
	return usecases.NewFlyoverService(resolver, foundEverywhere(), pub, fastFlyover(), panorama)
}

func waitLoaded(t *testing.T, sess *usecases.Session) {
	t.Helper()
	select {
	case <-sess.Loaded():
	case <-time.After(3 * time.Second):
		t.Fatal("session did not finish loading")
	}
}

func TestFlyoverService_CreateResolvesAndAttaches(t *testing.T) {
	pub := newRecordingPublisher()
	svc := newService(pub)
	defer svc.CloseAll()

	sess, err := svc.Create(context.Background(), []domain.ItineraryEntry{
		{Day: 1, Time: "09:00", Activity: "Visit", Location: "Yasawi Mausoleum"},
	}, domain.Handoff{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	waitLoaded(t, sess)

	snap, err := svc.Snapshot(sess.ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Phase != domain.PhaseLoading || snap.Progress != 100 || len(snap.Stops) != 1 {
		t.Fatalf("expected loaded stops waiting for a surface, got %+v", snap)
	}

	backend, err := svc.AttachSurface(context.Background(), sess.ID, sim.NewCapable(domain.CameraTarget{}), nil)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if backend != camera.BackendCapable {
		t.Errorf("expected capable backend, got %s", backend)
	}

	snap, _ = svc.Snapshot(sess.ID)
	if snap.Phase != domain.PhaseReady || snap.Backend != camera.BackendCapable {
		t.Errorf("expected ready on capable backend, got %s / %s", snap.Phase, snap.Backend)
	}
}

func TestFlyoverService_HandoffAppendsPendingAndFocuses(t *testing.T) {
	svc := newService(newRecordingPublisher())
	defer svc.CloseAll()

	pending := &domain.ItineraryEntry{Day: 2, Time: "10:00", Activity: "Pilgrimage", Location: "Yasawi Mausoleum"}
	sess, err := svc.Create(context.Background(), []domain.ItineraryEntry{
		{Day: 1, Time: "09:00", Activity: "Start", Location: "42.3,69.6"},
	}, domain.Handoff{FocusPlaceID: "yasawi-mausoleum", PendingActivity: pending})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	waitLoaded(t, sess)

	stops := sess.Director.Stops()
	if len(stops) != 2 || stops[1].Title != "Pilgrimage" {
		t.Fatalf("expected pending activity appended, got %+v", stops)
	}
	if got := usecases.FocusIndex(stops, "yasawi-mausoleum"); got != 1 {
		t.Errorf("expected focus index 1, got %d", got)
	}
	if got := usecases.FocusIndex(stops, "nowhere"); got != 0 {
		t.Errorf("expected unknown focus to start at 0, got %d", got)
	}
}

func TestFlyoverService_PlaybackControls(t *testing.T) {
	pub := newRecordingPublisher()
	svc := newService(pub)
	defer svc.CloseAll()

	sess, err := svc.Create(context.Background(), nil, domain.Handoff{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	waitLoaded(t, sess)

	surface := sim.NewCapable(domain.CameraTarget{})
	surface.Withhold = func(c sim.Call) bool { return c.Op == "fly_to" }
	if _, err := svc.AttachSurface(context.Background(), sess.ID, surface, nil); err != nil {
		t.Fatalf("attach: %v", err)
	}

	if _, err := svc.TogglePanorama(sess.ID); !errors.Is(err, domain.ErrPanoramaLocked) {
		t.Errorf("expected ErrPanoramaLocked before pause, got %v", err)
	}
	if err := svc.Start(sess.ID, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := svc.SetSpeed(sess.ID, 1.5); err != nil {
		t.Fatalf("speed: %v", err)
	}
	if _, err := svc.AttachSurface(context.Background(), sess.ID, surface, nil); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition attaching while flying, got %v", err)
	}
	if err := svc.Pause(sess.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}

	snap, _ := svc.Snapshot(sess.ID)
	if snap.Phase != domain.PhasePaused || snap.Speed != 1.5 {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	if err := svc.Resume(sess.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := svc.Reset(sess.ID); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if got := sess.Director.Phase(); got != domain.PhaseReady {
		t.Errorf("expected ready after reset, got %s", got)
	}
}

func TestFlyoverService_CloseForgetsSession(t *testing.T) {
	pub := newRecordingPublisher()
	svc := newService(pub)

	sess, err := svc.Create(context.Background(), nil, domain.Handoff{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if svc.Count() != 1 {
		t.Fatalf("expected 1 session, got %d", svc.Count())
	}

	if err := svc.Close(sess.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := svc.Close(sess.ID); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound on second close, got %v", err)
	}
	if _, err := svc.Snapshot(sess.ID); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
	if err := svc.Start(sess.ID, nil); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
	if n := len(pub.OfType(domain.EventClosed)); n != 1 {
		t.Errorf("expected closed event, got %d", n)
	}
}

func TestFlyoverService_SweepMeasuresFromLastControl(t *testing.T) {
	svc := newService(newRecordingPublisher())
	defer svc.CloseAll()

	sess, err := svc.Create(context.Background(), nil, domain.Handoff{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	created := sess.LastActive()
	time.Sleep(10 * time.Millisecond)
	if err := svc.SetSpeed(sess.ID, 2); err != nil {
		t.Fatalf("speed: %v", err)
	}
	if !sess.LastActive().After(created) {
		t.Fatalf("control call did not refresh activity")
	}

	ttl := fastFlyover().SessionTTL
	if n := svc.Sweep(created.Add(ttl + 5*time.Millisecond)); n != 0 {
		t.Errorf("session controlled after creation was swept")
	}
	if n := svc.Sweep(sess.LastActive().Add(ttl + time.Millisecond)); n != 1 {
		t.Errorf("expected idle session swept, got %d", n)
	}
}

func TestFlyoverService_SweepSkipsFlyingSessions(t *testing.T) {
	svc := newService(newRecordingPublisher())
	defer svc.CloseAll()

	sess, err := svc.Create(context.Background(), nil, domain.Handoff{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	waitLoaded(t, sess)

	surface := sim.NewCapable(domain.CameraTarget{})
	surface.Withhold = func(c sim.Call) bool { return c.Op == "fly_to" }
	if _, err := svc.AttachSurface(context.Background(), sess.ID, surface, nil); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := svc.Start(sess.ID, nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	if n := svc.Sweep(time.Now().Add(fastFlyover().SessionTTL + time.Hour)); n != 0 {
		t.Errorf("flying session swept")
	}
	if svc.Count() != 1 {
		t.Errorf("expected the session to survive, got %d", svc.Count())
	}
}

func TestFlyoverService_LoadCeilingKeepsLocalStops(t *testing.T) {
	geo := &mockGeocoder{geocodeFn: func(ctx context.Context, queries []string) ([]*domain.GeoPoint, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	rcfg := resolverConfig()
	rcfg.GeocodeTimeout = 10 * time.Second
	cfg := fastFlyover()
	cfg.LoadCeiling = 150 * time.Millisecond

	resolver := usecases.NewResolver(yasawiGazetteer(), geo, nil, rcfg)
	panorama := config.PanoramaConfig{RadiusMeters: 200, Timeout: time.Second}
	svc := usecases.NewFlyoverService(resolver, foundEverywhere(), newRecordingPublisher(), cfg, panorama)
	defer svc.CloseAll()

	start := time.Now()
	sess, err := svc.Create(context.Background(), []domain.ItineraryEntry{
		{Day: 1, Time: "09:00", Activity: "Pilgrimage", Location: "Yasawi Mausoleum"},
		{Day: 1, Time: "11:00", Activity: "Picnic", Location: "42.3,69.6"},
		{Day: 1, Time: "13:00", Activity: "Lunch", Location: "Unlisted teahouse"},
	}, domain.Handoff{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	select {
	case <-sess.Loaded():
	case <-time.After(2 * time.Second):
		t.Fatal("load ceiling did not end resolution")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("resolution took %v with a 150ms ceiling", elapsed)
	}

	stops := sess.Director.Stops()
	if len(stops) != 2 {
		t.Fatalf("expected gazetteer and pair stops, got %+v", stops)
	}
	if stops[0].Source != domain.SourceGazetteer || stops[1].Source != domain.SourcePair {
		t.Errorf("unexpected sources %s, %s", stops[0].Source, stops[1].Source)
	}

	if _, err := svc.AttachSurface(context.Background(), sess.ID, sim.NewCapable(domain.CameraTarget{}), nil); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if got := sess.Director.Phase(); got != domain.PhaseReady {
		t.Errorf("expected ready after attach, got %s", got)
	}
}

func TestFlyoverService_SweepExpiresOldSessions(t *testing.T) {
	svc := newService(newRecordingPublisher())
	defer svc.CloseAll()

	if _, err := svc.Create(context.Background(), nil, domain.Handoff{}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if n := svc.Sweep(time.Now()); n != 0 {
		t.Errorf("fresh session swept: %d", n)
	}
	if n := svc.Sweep(time.Now().Add(fastFlyover().SessionTTL + time.Minute)); n != 1 {
		t.Errorf("expected 1 expired session, got %d", n)
	}
	if svc.Count() != 0 {
		t.Errorf("expected no sessions left, got %d", svc.Count())
	}
}

func TestFlyoverService_AttachWithoutSurface(t *testing.T) {
	svc := newService(newRecordingPublisher())
	defer svc.CloseAll()

	sess, _ := svc.Create(context.Background(), nil, domain.Handoff{})
	if _, err := svc.AttachSurface(context.Background(), sess.ID, nil, nil); !errors.Is(err, domain.ErrNoSurface) {
		t.Errorf("expected ErrNoSurface, got %v", err)
	}
	if _, err := svc.AttachSurface(context.Background(), "missing", nil, nil); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}
