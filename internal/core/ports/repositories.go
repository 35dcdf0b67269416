package ports

import (
	"context"

	"github.com/samirrijal/flyover/internal/core/domain"
)

// PlaceRepository persists gazetteer places.
type PlaceRepository interface {
	Upsert(ctx context.Context, place *domain.Place) error
	UpsertBatch(ctx context.Context, places []domain.Place) error
	GetByID(ctx context.Context, id string) (*domain.Place, error)
	List(ctx context.Context) ([]domain.Place, error)
}

// Gazetteer answers synchronous place-name lookups.
type Gazetteer interface {
	// Match returns the first place whose name equals or contains (or is contained in) name.
	Match(name string) (*domain.Place, bool)
	// Search returns up to limit places matching query.
	Search(query string, limit int) []domain.Place
	Get(id string) (*domain.Place, bool)
}
