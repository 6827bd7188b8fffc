package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/ksharma-xyz/krail-nearby/internal/geo"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS stops (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	lat        REAL NOT NULL,
	lon        REAL NOT NULL,
	categories TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_stops_lat_lon ON stops (lat, lon);
`

// SqliteStopsRepository is a StopsRepository backed by an embedded SQLite
// file, the same store a device keeps for offline use.
type SqliteStopsRepository struct {
	DB *sql.DB
}

// OpenSqlite opens (or creates) the SQLite database at path and ensures the
// stops table exists.
func OpenSqlite(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: OpenSqlite: open %q: %w", path, err)
	}
	// A single writer avoids SQLITE_BUSY under concurrent imports.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: OpenSqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: OpenSqlite: create schema: %w", err)
	}
	return db, nil
}

// NewSqliteStopsRepository wraps an already-open database.
func NewSqliteStopsRepository(db *sql.DB) *SqliteStopsRepository {
	return &SqliteStopsRepository{DB: db}
}

// Import upserts stops in a single transaction.
func (r *SqliteStopsRepository) Import(ctx context.Context, stops []StopRecord) error {
	if r.DB == nil {
		return errors.New("storage: Import: db is nil")
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: Import: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO stops (id, name, lat, lon, categories)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name       = excluded.name,
			lat        = excluded.lat,
			lon        = excluded.lon,
			categories = excluded.categories`)
	if err != nil {
		return fmt.Errorf("storage: Import: prepare: %w", err)
	}
	defer stmt.Close()

	for _, s := range stops {
		if !s.Position.Valid() {
			return fmt.Errorf("storage: Import: stop %q: %w", s.ID, ErrInvalidQuery)
		}
		if _, err := stmt.ExecContext(ctx, s.ID, s.Name, s.Position.Lat, s.Position.Lon, encodeCategories(s.Categories)); err != nil {
			return fmt.Errorf("storage: Import: stop %q: %w", s.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: Import: commit: %w", err)
	}
	return nil
}

// GetStopsNearby implements StopsRepository. The bounding box narrows rows
// through the (lat, lon) index; radius and categories are checked in Go.
func (r *SqliteStopsRepository) GetStopsNearby(ctx context.Context, lat, lon, radiusKm float64, categories map[int]struct{}, maxResults int) ([]StopRecord, error) {
	center := geo.Point{Lat: lat, Lon: lon}
	if err := validateQuery("SqliteStopsRepository.GetStopsNearby", center, radiusKm, maxResults); err != nil {
		return nil, err
	}
	if r.DB == nil {
		return nil, errors.New("storage: SqliteStopsRepository.GetStopsNearby: db is nil")
	}

	box := geo.BoundingBox(center, radiusKm)

	const q = `
		SELECT id, name, lat, lon, categories
		FROM stops
		WHERE lat BETWEEN ? AND ?
		  AND lon BETWEEN ? AND ?`

	rows, err := r.DB.QueryContext(ctx, q, box.MinLat, box.MaxLat, box.MinLon, box.MaxLon)
	if err != nil {
		return nil, fmt.Errorf("storage: SqliteStopsRepository.GetStopsNearby: %w", err)
	}
	defer rows.Close()

	var prefiltered []StopRecord
	for rows.Next() {
		var (
			s   StopRecord
			raw string
		)
		if err := rows.Scan(&s.ID, &s.Name, &s.Position.Lat, &s.Position.Lon, &raw); err != nil {
			return nil, fmt.Errorf("storage: SqliteStopsRepository.GetStopsNearby: scan: %w", err)
		}
		s.Categories, err = decodeCategories(raw)
		if err != nil {
			return nil, fmt.Errorf("storage: SqliteStopsRepository.GetStopsNearby: stop %q: %w", s.ID, err)
		}
		prefiltered = append(prefiltered, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: SqliteStopsRepository.GetStopsNearby: rows: %w", err)
	}

	return refine(prefiltered, center, radiusKm, categories, maxResults), nil
}

// encodeCategories stores categories as a comma-separated list, e.g. "1,5".
func encodeCategories(cats []int) string {
	parts := make([]string, len(cats))
	for i, c := range cats {
		parts[i] = strconv.Itoa(c)
	}
	return strings.Join(parts, ",")
}

func decodeCategories(raw string) ([]int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		c, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("decode categories %q: %w", raw, err)
		}
		out = append(out, c)
	}
	return out, nil
}
