package ports

import (
	"context"
	"time"

	"github.com/samirrijal/flyover/internal/core/domain"
)

// EventPublisher publishes flyover events to a message broker.
type EventPublisher interface {
	Publish(ctx context.Context, evt domain.Event) error
}

// EventSubscriber subscribes to the events of one flyover session.
// The returned function cancels the subscription; once it returns the
// handler is not called again.
type EventSubscriber interface {
	Subscribe(ctx context.Context, sessionID string, handler func(ctx context.Context, evt domain.Event) error) (func(), error)
}

// CacheService provides read-through caching.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}

// BatchGeocoder resolves free-text queries. The result is parallel to queries;
// a nil entry means not found.
type BatchGeocoder interface {
	Geocode(ctx context.Context, queries []string) ([]*domain.GeoPoint, error)
}

// PanoramaResult is the answer of a panorama-availability lookup.
type PanoramaResult struct {
	Found  bool             `json:"found"`
	Anchor *domain.GeoPoint `json:"anchor,omitempty"`
}

// PanoramaFinder looks up ground-level imagery near a point.
type PanoramaFinder interface {
	Find(ctx context.Context, point domain.GeoPoint, radiusMeters float64) (PanoramaResult, error)
}

// CapableSurface is a rendering surface with native camera interpolation.
// FlyTo and FlyAround return a channel closed when the move is visually finished.
type CapableSurface interface {
	Probe(ctx context.Context) error
	FlyTo(ctx context.Context, target domain.CameraTarget, d time.Duration) (<-chan struct{}, error)
	FlyAround(ctx context.Context, target domain.CameraTarget, d time.Duration, revolutions float64) (<-chan struct{}, error)
	WhenSteady(ctx context.Context) <-chan struct{}
	Pose() domain.CameraTarget
}

// PoseSurface is a 2-D surface that only accepts discrete poses.
type PoseSurface interface {
	SetPose(ctx context.Context, pose domain.MapPose) error
	Pose() domain.MapPose
	// Idle is closed once the surface has no pending tile loads.
	Idle() <-chan struct{}
}
