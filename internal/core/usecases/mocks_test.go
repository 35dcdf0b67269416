package usecases_test

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/samirrijal/flyover/internal/core/domain"
	"github.com/samirrijal/flyover/internal/core/ports"
)

// --- Mock Gazetteer ---

type mockGazetteer struct {
	places []domain.Place
}

func (m *mockGazetteer) Match(name string) (*domain.Place, bool) {
	q := strings.ToLower(strings.TrimSpace(name))
	for _, p := range m.places {
		for _, n := range p.Names() {
			if strings.ToLower(n) == q {
				p := p
				return &p, true
			}
		}
	}
	return nil, false
}

func (m *mockGazetteer) Search(query string, limit int) []domain.Place { return nil }

func (m *mockGazetteer) Get(id string) (*domain.Place, bool) {
	for _, p := range m.places {
		if p.ID == id {
			p := p
			return &p, true
		}
	}
	return nil, false
}

// --- Mock BatchGeocoder ---

type mockGeocoder struct {
	mu        sync.Mutex
	batches   [][]string
	geocodeFn func(ctx context.Context, queries []string) ([]*domain.GeoPoint, error)
}

func (m *mockGeocoder) Geocode(ctx context.Context, queries []string) ([]*domain.GeoPoint, error) {
	m.mu.Lock()
	m.batches = append(m.batches, append([]string(nil), queries...))
	m.mu.Unlock()
	if m.geocodeFn != nil {
		return m.geocodeFn(ctx, queries)
	}
	return make([]*domain.GeoPoint, len(queries)), nil
}

func (m *mockGeocoder) Batches() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]string(nil), m.batches...)
}

// --- Mock CacheService ---

var errCacheMiss = errors.New("cache miss")

type mockCache struct {
	mu   sync.Mutex
	data map[string][]byte
	ttl  map[string]int
}

func newMockCache() *mockCache {
	return &mockCache{data: map[string][]byte{}, ttl: map[string]int{}}
}

func (m *mockCache) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, errCacheMiss
	}
	return v, nil
}

func (m *mockCache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.ttl[key] = ttlSeconds
	return nil
}

func (m *mockCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// --- Mock PanoramaFinder ---

type mockPanorama struct {
	findFn func(ctx context.Context, point domain.GeoPoint, radius float64) (ports.PanoramaResult, error)
}

func (m *mockPanorama) Find(ctx context.Context, point domain.GeoPoint, radius float64) (ports.PanoramaResult, error) {
	if m.findFn != nil {
		return m.findFn(ctx, point, radius)
	}
	return ports.PanoramaResult{}, nil
}

// --- Recording EventPublisher ---

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
	notify chan domain.Event
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{notify: make(chan domain.Event, 1024)}
}

func (p *recordingPublisher) Publish(ctx context.Context, evt domain.Event) error {
	p.mu.Lock()
	p.events = append(p.events, evt)
	p.mu.Unlock()
	select {
	case p.notify <- evt:
	default:
	}
	return nil
}

func (p *recordingPublisher) Events() []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Event(nil), p.events...)
}

func (p *recordingPublisher) OfType(t domain.EventType) []domain.Event {
	var out []domain.Event
	for _, e := range p.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
