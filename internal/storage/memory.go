package storage

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/dhconnelly/rtreego"

	"github.com/ksharma-xyz/krail-nearby/internal/geo"
)

// pointTolerance is the side (in degrees) of the tiny rectangle each stop
// occupies in the tree. rtreego rejects zero-length sides.
const pointTolerance = 1e-7

// indexedStop adapts a StopRecord to rtreego.Spatial.
type indexedStop struct {
	stop StopRecord
	rect rtreego.Rect
}

func (s *indexedStop) Bounds() rtreego.Rect { return s.rect }

// MemoryIndex is an in-memory StopsRepository backed by an R-tree keyed on
// (lon, lat). The tree gives a bounding-box prefilter; the exact radius is
// then checked with the haversine distance.
type MemoryIndex struct {
	mu   sync.RWMutex
	tree *rtreego.Rtree
	size int
}

// NewMemoryIndex builds an index over stops. Stops with non-finite positions
// are skipped; the second return value counts them.
func NewMemoryIndex(stops []StopRecord) (*MemoryIndex, int) {
	idx := &MemoryIndex{tree: rtreego.NewTree(2, 25, 50)}
	skipped := 0
	for _, s := range stops {
		if err := idx.insert(s); err != nil {
			skipped++
		}
	}
	return idx, skipped
}

// Insert adds a stop to the index.
func (m *MemoryIndex) Insert(s StopRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insert(s)
}

func (m *MemoryIndex) insert(s StopRecord) error {
	if !s.Position.Valid() {
		return fmt.Errorf("storage: MemoryIndex: stop %q has invalid position: %w", s.ID, ErrInvalidQuery)
	}
	rect, err := rtreego.NewRect(rtreego.Point{s.Position.Lon, s.Position.Lat}, []float64{pointTolerance, pointTolerance})
	if err != nil {
		return fmt.Errorf("storage: MemoryIndex: stop %q: %w", s.ID, err)
	}
	m.tree.Insert(&indexedStop{stop: s, rect: rect})
	m.size++
	return nil
}

// Len returns the number of indexed stops.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

// GetStopsNearby implements StopsRepository.
func (m *MemoryIndex) GetStopsNearby(ctx context.Context, lat, lon, radiusKm float64, categories map[int]struct{}, maxResults int) ([]StopRecord, error) {
	center := geo.Point{Lat: lat, Lon: lon}
	if err := validateQuery("MemoryIndex.GetStopsNearby", center, radiusKm, maxResults); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("storage: MemoryIndex.GetStopsNearby: %w", err)
	}

	box := geo.BoundingBox(center, radiusKm)
	// Pad so stops sitting exactly on the box edge still intersect.
	search, err := rtreego.NewRect(
		rtreego.Point{box.MinLon - pointTolerance, box.MinLat - pointTolerance},
		[]float64{
			math.Max(box.MaxLon-box.MinLon, 0) + 2*pointTolerance,
			math.Max(box.MaxLat-box.MinLat, 0) + 2*pointTolerance,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("storage: MemoryIndex.GetStopsNearby: search rect: %w", err)
	}

	m.mu.RLock()
	found := m.tree.SearchIntersect(search)
	m.mu.RUnlock()

	prefiltered := make([]StopRecord, 0, len(found))
	for _, f := range found {
		prefiltered = append(prefiltered, f.(*indexedStop).stop)
	}

	return refine(prefiltered, center, radiusKm, categories, maxResults), nil
}
