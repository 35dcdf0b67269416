package workflows

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/samirrijal/flyover/internal/core/ports"
	"github.com/samirrijal/flyover/internal/core/usecases"
)

// ChunkResult is the outcome of geocoding one chunk.
type ChunkResult struct {
	Resolved int
	Missing  int
}

// PrewarmActivities holds the activity implementations for the prewarm workflow.
type PrewarmActivities struct {
	Geocoder ports.BatchGeocoder
	Cache    ports.CacheService
	TTL      time.Duration
}

// FilterUncached returns the queries that have no cached coordinate.
func (a *PrewarmActivities) FilterUncached(ctx context.Context, queries []string) ([]string, error) {
	out := make([]string, 0, len(queries))
	for _, q := range queries {
		if _, err := a.Cache.Get(ctx, usecases.GeocodeCacheKey(q)); err == nil {
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

// GeocodeChunk geocodes queries and stores every answer under the key the
// resolver reads.
func (a *PrewarmActivities) GeocodeChunk(ctx context.Context, queries []string) (ChunkResult, error) {
	points, err := a.Geocoder.Geocode(ctx, queries)
	if err != nil {
		return ChunkResult{}, fmt.Errorf("geocode %d queries: %w", len(queries), err)
	}

	var res ChunkResult
	for i, q := range queries {
		if i >= len(points) || points[i] == nil || !points[i].Valid() {
			res.Missing++
			continue
		}
		data, err := json.Marshal(points[i])
		if err != nil {
			return res, err
		}
		if err := a.Cache.Set(ctx, usecases.GeocodeCacheKey(q), data, int(a.TTL.Seconds())); err != nil {
			return res, fmt.Errorf("cache %q: %w", q, err)
		}
		res.Resolved++
	}
	slog.Debug("geocode chunk stored", "size", len(queries), "resolved", res.Resolved, "missing", res.Missing)
	return res, nil
}
