package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/samirrijal/flyover/internal/core/domain"
)

// ErrPlaceNotFound is returned by GetByID for an unknown id.
var ErrPlaceNotFound = errors.New("place not found")

const upsertPlaceSQL = `
	INSERT INTO places (id, name_en, name_ru, name_kk, location, anchor)
	VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''),
	        ST_SetSRID(ST_MakePoint($5, $6), 4326)::geography,
	        CASE WHEN $7::float8 IS NULL THEN NULL
	             ELSE ST_SetSRID(ST_MakePoint($7, $8), 4326)::geography END)
	ON CONFLICT (id) DO UPDATE
	SET name_en = EXCLUDED.name_en, name_ru = EXCLUDED.name_ru, name_kk = EXCLUDED.name_kk,
	    location = EXCLUDED.location, anchor = EXCLUDED.anchor, updated_at = now()
`

const selectPlaceSQL = `
	SELECT id, name_en, COALESCE(name_ru, ''), COALESCE(name_kk, ''),
	       ST_Y(location::geometry) AS lat,
	       ST_X(location::geometry) AS lng,
	       ST_Y(anchor::geometry) AS anchor_lat,
	       ST_X(anchor::geometry) AS anchor_lng
	FROM places
`

// PlaceRepo implements ports.PlaceRepository with pgx.
type PlaceRepo struct {
	db *DB
}

// NewPlaceRepo creates a new PlaceRepo.
func NewPlaceRepo(db *DB) *PlaceRepo {
	return &PlaceRepo{db: db}
}

// Upsert inserts or updates a single place.
func (r *PlaceRepo) Upsert(ctx context.Context, p *domain.Place) error {
	_, err := r.db.Pool.Exec(ctx, upsertPlaceSQL, placeArgs(p)...)
	return err
}

// UpsertBatch inserts many places using pgx.Batch.
func (r *PlaceRepo) UpsertBatch(ctx context.Context, places []domain.Place) error {
	batch := &pgx.Batch{}
	for i := range places {
		batch.Queue(upsertPlaceSQL, placeArgs(&places[i])...)
	}
	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for _, p := range places {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch exec %s: %w", p.ID, err)
		}
	}
	return nil
}

// GetByID returns a place by id.
func (r *PlaceRepo) GetByID(ctx context.Context, id string) (*domain.Place, error) {
	row := r.db.Pool.QueryRow(ctx, selectPlaceSQL+` WHERE id = $1`, id)
	p, err := scanPlace(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPlaceNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// List returns every place ordered by id.
func (r *PlaceRepo) List(ctx context.Context) ([]domain.Place, error) {
	rows, err := r.db.Pool.Query(ctx, selectPlaceSQL+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var places []domain.Place
	for rows.Next() {
		p, err := scanPlace(rows)
		if err != nil {
			return nil, err
		}
		places = append(places, *p)
	}
	return places, rows.Err()
}

func placeArgs(p *domain.Place) []any {
	var anchorLat, anchorLng *float64
	if p.Anchor != nil {
		anchorLat, anchorLng = &p.Anchor.Lat, &p.Anchor.Lon
	}
	return []any{p.ID, p.NameEN, p.NameRU, p.NameKK, p.Lng, p.Lat, anchorLng, anchorLat}
}

func scanPlace(row pgx.Row) (*domain.Place, error) {
	var p domain.Place
	var anchorLat, anchorLng *float64
	if err := row.Scan(&p.ID, &p.NameEN, &p.NameRU, &p.NameKK, &p.Lat, &p.Lng, &anchorLat, &anchorLng); err != nil {
		return nil, err
	}
	if anchorLat != nil && anchorLng != nil {
		p.Anchor = &domain.GeoPoint{Lat: *anchorLat, Lon: *anchorLng}
	}
	return &p, nil
}
