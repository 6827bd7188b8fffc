package nearby

import (
	"time"

	"github.com/ksharma-xyz/krail-nearby/internal/geo"
)

// CacheEntry records the centre and completion time of the last successful
// query.
type CacheEntry struct {
	Center      geo.Point
	CompletedAt time.Time
}

// ShouldUseCache reports whether the results of entry can be reused for a
// viewport centred on center. It never performs I/O.
//
// The cache is reused only when entry exists, is no older than ttl, and the
// centre moved less than minMoveKm. An undefined distance (non-finite input)
// is treated as a large move.
func ShouldUseCache(entry *CacheEntry, center geo.Point, now time.Time, ttl time.Duration, minMoveKm float64) bool {
	if entry == nil {
		return false
	}
	if now.Sub(entry.CompletedAt) > ttl {
		return false
	}
	km, ok := geo.DistanceKm(entry.Center, center)
	if !ok || km >= minMoveKm {
		return false
	}
	return true
}

// nextEntry builds the entry stored after a success. CompletedAt never moves
// backwards, even if the clock does.
func nextEntry(prev *CacheEntry, center geo.Point, now time.Time) *CacheEntry {
	if prev != nil && now.Before(prev.CompletedAt) {
		now = prev.CompletedAt
	}
	return &CacheEntry{Center: center, CompletedAt: now}
}
