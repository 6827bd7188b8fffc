// Package storage provides the stop stores that answer proximity searches:
// PostGIS (pgx), an embedded SQLite file, and an in-memory R-tree.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ksharma-xyz/krail-nearby/internal/geo"
)

// ErrInvalidQuery is returned when a proximity search has a non-finite
// centre, a non-positive radius or a non-positive result cap.
var ErrInvalidQuery = errors.New("invalid proximity query")

// StopRecord is a transit stop as returned by a proximity search.
// Categories holds the transport modes (train, bus, ferry, ...) serving it.
type StopRecord struct {
	ID         string
	Name       string
	Position   geo.Point
	Categories []int
}

// StopsRepository answers "stops within radius" queries.
type StopsRepository interface {
	// GetStopsNearby returns at most maxResults stops within radiusKm of
	// (lat, lon), nearest first. An empty categories set matches every stop;
	// otherwise a stop matches when it serves at least one listed category.
	GetStopsNearby(ctx context.Context, lat, lon, radiusKm float64, categories map[int]struct{}, maxResults int) ([]StopRecord, error)
}

// validateQuery rejects searches no store can answer meaningfully.
func validateQuery(op string, center geo.Point, radiusKm float64, maxResults int) error {
	if !center.Valid() {
		return fmt.Errorf("storage: %s: centre (%v, %v): %w", op, center.Lat, center.Lon, ErrInvalidQuery)
	}
	if !(radiusKm > 0) {
		return fmt.Errorf("storage: %s: radius %v km: %w", op, radiusKm, ErrInvalidQuery)
	}
	if maxResults <= 0 {
		return fmt.Errorf("storage: %s: max results %d: %w", op, maxResults, ErrInvalidQuery)
	}
	return nil
}

// matchesCategories reports whether stop serves one of the allowed categories.
func matchesCategories(stopCategories []int, allowed map[int]struct{}) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, c := range stopCategories {
		if _, ok := allowed[c]; ok {
			return true
		}
	}
	return false
}

// candidate is a stop paired with its distance from the query centre.
type candidate struct {
	stop StopRecord
	km   float64
}

// refine applies the exact radius and category checks to a prefiltered set,
// sorts by distance and truncates to maxResults.
func refine(stops []StopRecord, center geo.Point, radiusKm float64, categories map[int]struct{}, maxResults int) []StopRecord {
	hits := make([]candidate, 0, len(stops))
	for _, s := range stops {
		if !matchesCategories(s.Categories, categories) {
			continue
		}
		km, ok := geo.DistanceKm(center, s.Position)
		if !ok || km > radiusKm {
			continue
		}
		hits = append(hits, candidate{stop: s, km: km})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].km != hits[j].km {
			return hits[i].km < hits[j].km
		}
		return hits[i].stop.ID < hits[j].stop.ID
	})

	if len(hits) > maxResults {
		hits = hits[:maxResults]
	}

	out := make([]StopRecord, len(hits))
	for i, h := range hits {
		out[i] = h.stop
	}
	return out
}

// CategorySlice returns the set as a sorted slice, used for SQL parameters
// and stable logging.
func CategorySlice(categories map[int]struct{}) []int {
	out := make([]int, 0, len(categories))
	for c := range categories {
		out = append(out, c)
	}
	sort.Ints(out)
	return out
}
