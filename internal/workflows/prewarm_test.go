package workflows

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"github.com/samirrijal/flyover/internal/core/domain"
	"github.com/samirrijal/flyover/internal/core/usecases"
)

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	ttl  map[string]int
}

func newMemCache() *memCache {
	return &memCache{data: map[string][]byte{}, ttl: map[string]int{}}
}

func (m *memCache) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, errors.New("miss")
	}
	return v, nil
}

func (m *memCache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.ttl[key] = ttlSeconds
	return nil
}

func (m *memCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// fakeGeocoder knows every query except those starting with "unknown" and
// fails whole batches that contain "broken".
type fakeGeocoder struct {
	mu      sync.Mutex
	batches [][]string
}

func (g *fakeGeocoder) Geocode(ctx context.Context, queries []string) ([]*domain.GeoPoint, error) {
	g.mu.Lock()
	g.batches = append(g.batches, append([]string(nil), queries...))
	g.mu.Unlock()

	out := make([]*domain.GeoPoint, len(queries))
	for i, q := range queries {
		if strings.Contains(q, "broken") {
			return nil, errors.New("geocoder unavailable")
		}
		if strings.HasPrefix(q, "unknown") {
			continue
		}
		out[i] = &domain.GeoPoint{Lat: 43 + float64(i)/100, Lon: 68}
	}
	return out, nil
}

func (g *fakeGeocoder) calls() [][]string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([][]string(nil), g.batches...)
}

func runPrewarm(t *testing.T, acts *PrewarmActivities, input PrewarmInput) PrewarmResult {
	t.Helper()
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterActivity(acts)

	env.ExecuteWorkflow(PrewarmGeocodeWorkflow, input)
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var res PrewarmResult
	require.NoError(t, env.GetWorkflowResult(&res))
	return res
}

func TestPrewarm_SkipsCachedAndStoresTheRest(t *testing.T) {
	cache := newMemCache()
	cache.data[usecases.GeocodeCacheKey("Sauran")] = []byte(`{"lat":43.5,"lon":67.9}`)
	geo := &fakeGeocoder{}

	res := runPrewarm(t, &PrewarmActivities{Geocoder: geo, Cache: cache, TTL: 24 * time.Hour}, PrewarmInput{
		Queries:   []string{"Sauran", "Shymkent Bazaar", "Sayram", "Shymkent Bazaar", "", "unknown place", "Kentau"},
		ChunkSize: 2,
	})

	assert.Equal(t, PrewarmResult{Queries: 5, Cached: 1, Resolved: 3, Missing: 1}, res)
	assert.Equal(t, [][]string{{"Shymkent Bazaar", "Sayram"}, {"unknown place", "Kentau"}}, geo.calls())

	data, err := cache.Get(context.Background(), usecases.GeocodeCacheKey("shymkent  BAZAAR"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"lat":43,"lon":68}`, string(data))
	assert.Equal(t, 86400, cache.ttl[usecases.GeocodeCacheKey("Kentau")])

	_, err = cache.Get(context.Background(), usecases.GeocodeCacheKey("unknown place"))
	assert.Error(t, err)
}

func TestPrewarm_FailingChunkIsSkipped(t *testing.T) {
	geo := &fakeGeocoder{}

	res := runPrewarm(t, &PrewarmActivities{Geocoder: geo, Cache: newMemCache(), TTL: time.Hour}, PrewarmInput{
		Queries:   []string{"Sayram", "broken link", "Kentau"},
		ChunkSize: 2,
	})

	assert.Equal(t, 3, res.Queries)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 1, res.Resolved)

	// Three attempts for the failing chunk, one for the last.
	assert.Len(t, geo.calls(), 4)
}

func TestPrewarm_NothingToDo(t *testing.T) {
	geo := &fakeGeocoder{}
	res := runPrewarm(t, &PrewarmActivities{Geocoder: geo, Cache: newMemCache()}, PrewarmInput{})

	assert.Equal(t, PrewarmResult{}, res)
	assert.Empty(t, geo.calls())
}
