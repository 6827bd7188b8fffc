package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ksharma-xyz/krail-nearby/internal/geo"
)

// queryTimeout is applied to every database query.
const queryTimeout = 5 * time.Second

// pgStopsRepository is the PostGIS-backed implementation of StopsRepository.
type pgStopsRepository struct {
	pool *pgxpool.Pool
}

// NewStopsRepository creates a StopsRepository backed by the given connection pool.
func NewStopsRepository(pool *pgxpool.Pool) StopsRepository {
	return &pgStopsRepository{pool: pool}
}

const findStopsNearSQL = `
	SELECT id, name, ST_Y(geom) AS lat, ST_X(geom) AS lon, categories
	FROM stops
	WHERE active
	  AND ST_DWithin(
	        geom::geography,
	        ST_SetSRID(ST_MakePoint($2, $1), 4326)::geography,
	        $3)
	  AND (cardinality($4::int[]) = 0 OR categories && $4::int[])
	ORDER BY geom::geography <-> ST_SetSRID(ST_MakePoint($2, $1), 4326)::geography, id
	LIMIT $5`

// GetStopsNearby returns active stops within radiusKm of (lat, lon), nearest first.
func (r *pgStopsRepository) GetStopsNearby(ctx context.Context, lat, lon, radiusKm float64, categories map[int]struct{}, maxResults int) ([]StopRecord, error) {
	if err := validateQuery("GetStopsNearby", geo.Point{Lat: lat, Lon: lon}, radiusKm, maxResults); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	catParam := int32s(CategorySlice(categories))
	rows, err := r.pool.Query(ctx, findStopsNearSQL, lat, lon, radiusKm*1000, catParam, maxResults)
	if err != nil {
		return nil, fmt.Errorf("storage: GetStopsNearby: %w", err)
	}

	stops, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (StopRecord, error) {
		var (
			s      StopRecord
			rawCat []int32
		)
		if err := row.Scan(&s.ID, &s.Name, &s.Position.Lat, &s.Position.Lon, &rawCat); err != nil {
			return StopRecord{}, err
		}
		s.Categories = ints(rawCat)
		return s, nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: GetStopsNearby: scan: %w", err)
	}

	return stops, nil
}

// UpsertStops writes stops into the PostGIS table in one batch. Used by the
// seed loader at startup.
func UpsertStops(ctx context.Context, pool *pgxpool.Pool, stops []StopRecord) error {
	const q = `
		INSERT INTO stops (id, name, geom, categories)
		VALUES ($1, $2, ST_SetSRID(ST_MakePoint($4, $3), 4326), $5)
		ON CONFLICT (id) DO UPDATE SET
			name       = EXCLUDED.name,
			geom       = EXCLUDED.geom,
			categories = EXCLUDED.categories`

	batch := &pgx.Batch{}
	for _, s := range stops {
		if !s.Position.Valid() {
			return fmt.Errorf("storage: UpsertStops: stop %q: %w", s.ID, ErrInvalidQuery)
		}
		batch.Queue(q, s.ID, s.Name, s.Position.Lat, s.Position.Lon, int32s(s.Categories))
	}

	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("storage: UpsertStops: %w", err)
	}
	return nil
}

// int32s converts categories to the int4[] parameter shape; nil becomes an
// empty array so cardinality() sees 0 rather than NULL.
func int32s(cats []int) []int32 {
	out := make([]int32, len(cats))
	for i, c := range cats {
		out[i] = int32(c)
	}
	return out
}

func ints(raw []int32) []int {
	out := make([]int, len(raw))
	for i, c := range raw {
		out[i] = int(c)
	}
	return out
}
