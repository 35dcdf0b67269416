package usecases

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

type heldStop struct {
	index   int
	stop    domain.ResolvedStop
	heading float64
}

// PanoramaSync shows ground-level imagery for the held stop. Lookups run in
// the background; an answer that arrives after the held stop changed is
// discarded.
type PanoramaSync struct {
	id        string
	finder    ports.PanoramaFinder
	radius    float64
	timeout   time.Duration
	publisher ports.EventPublisher

	mu       sync.Mutex
	gen      uint64
	view     domain.PanoramaView
	held     *heldStop
	cancel   context.CancelFunc
	released bool
	wg       sync.WaitGroup
}

// NewPanoramaSync creates a synchronizer. finder may be nil, in which case
// the inset never shows.
func NewPanoramaSync(id string, finder ports.PanoramaFinder, radiusMeters float64, timeout time.Duration, publisher ports.EventPublisher) *PanoramaSync {
	if radiusMeters <= 0 {
		radiusMeters = 200
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &PanoramaSync{
		id:        id,
		finder:    finder,
		radius:    radiusMeters,
		timeout:   timeout,
		publisher: publisher,
		view:      domain.PanoramaView{StopIndex: -1},
	}
}

// StopHeld implements PlaybackObserver.
func (p *PanoramaSync) StopHeld(index int, stop domain.ResolvedStop, heading float64) {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return
	}
	p.held = &heldStop{index: index, stop: stop, heading: heading}
	p.closeLocked()
	p.lookupLocked(*p.held)
	p.mu.Unlock()
}

// PhaseChanged implements PlaybackObserver. Pausing and resuming close the
// inset; on pause it is reopened with fresh imagery for the held stop.
func (p *PanoramaSync) PhaseChanged(phase domain.PlaybackPhase) {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return
	}
	switch phase {
	case domain.PhasePaused:
		p.closeLocked()
		if p.held != nil {
			p.lookupLocked(*p.held)
		}
	case domain.PhaseFlying:
		p.closeLocked()
	case domain.PhaseReady:
		p.closeLocked()
		p.held = nil
	}
	p.mu.Unlock()
}

// ToggleFullscreen switches the open inset between the small view and an
// interactive full-screen view. It is only allowed while paused.
func (p *PanoramaSync) ToggleFullscreen(phase domain.PlaybackPhase) (domain.PanoramaView, error) {
	if phase != domain.PhasePaused {
		return domain.PanoramaView{}, domain.ErrPanoramaLocked
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.view.Visible {
		return domain.PanoramaView{}, fmt.Errorf("no panorama open: %w", domain.ErrInvalidTransition)
	}
	full := !p.view.Fullscreen
	p.view.Fullscreen = full
	p.view.Interactive, p.view.PanControl, p.view.ZoomControl = full, full, full
	p.emitLocked()
	return p.view, nil
}

// View returns the current inset state.
func (p *PanoramaSync) View() domain.PanoramaView {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.view
}

// Release closes the inset and stops any lookup for good.
func (p *PanoramaSync) Release() {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return
	}
	p.released = true
	p.closeLocked()
	p.held = nil
	p.mu.Unlock()

	p.wg.Wait()
}

// closeLocked hides the inset and invalidates in-flight lookups.
func (p *PanoramaSync) closeLocked() {
	p.gen++
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	wasVisible := p.view.Visible
	p.view = domain.PanoramaView{StopIndex: -1}
	if wasVisible {
		p.emitLocked()
	}
}

func (p *PanoramaSync) lookupLocked(h heldStop) {
	if p.finder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	p.cancel = cancel
	gen := p.gen

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()

		anchor := h.stop.PanoramaAnchor()
		res, err := p.finder.Find(ctx, anchor, p.radius)

		p.mu.Lock()
		if gen != p.gen || p.released {
			p.mu.Unlock()
			metrics.PanoramaLookups.WithLabelValues("stale").Inc()
			return
		}
		p.cancel = nil
		if err != nil {
			p.mu.Unlock()
			metrics.PanoramaLookups.WithLabelValues("error").Inc()
			slog.Debug("panorama lookup failed", "session", p.id, "stop", h.index, "error", err)
			return
		}
		if !res.Found {
			p.mu.Unlock()
			metrics.PanoramaLookups.WithLabelValues("missing").Inc()
			return
		}
		if res.Anchor != nil {
			anchor = *res.Anchor
		}
		p.view = domain.PanoramaView{
			Visible:   true,
			StopIndex: h.index,
			Anchor:    anchor,
			Heading:   h.heading,
			Pitch:     0,
		}
		p.emitLocked()
		p.mu.Unlock()

		metrics.PanoramaLookups.WithLabelValues("found").Inc()
	}()
}

// emitLocked publishes the current view. Publishing under the lock keeps
// close and open events in order.
func (p *PanoramaSync) emitLocked() {
	if p.publisher == nil {
		return
	}
	view := p.view
	_ = p.publisher.Publish(context.Background(), domain.Event{
		Type:      domain.EventPanorama,
		SessionID: p.id,
		Index:     view.StopIndex,
		Panorama:  &view,
		At:        time.Now().UTC(),
	})
}
