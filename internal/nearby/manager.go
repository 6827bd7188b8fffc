// Package nearby decides, as a map viewport moves, when to search for nearby
// transit stops. It reuses recent results, debounces bursts of camera
// movement, keeps a single search in flight and discards superseded results.
package nearby

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ksharma-xyz/krail-nearby/internal/geo"
	"github.com/ksharma-xyz/krail-nearby/internal/obs"
	"github.com/ksharma-xyz/krail-nearby/internal/storage"
)

// Settings are the environment-level tunables of a Manager.
type Settings struct {
	// DebounceDelay is how long a request waits for the viewport to settle.
	DebounceDelay time.Duration
	// CacheTTL is how long a completed query stays reusable.
	CacheTTL time.Duration
	// MinMoveKm is the centre movement that invalidates the cached result.
	MinMoveKm float64
	// MaxResults caps every query, whatever QueryConfig asks for.
	MaxResults int
}

// DefaultSettings returns the tunables used by the mobile client.
func DefaultSettings() Settings {
	return Settings{
		DebounceDelay: 300 * time.Millisecond,
		CacheTTL:      60 * time.Second,
		MinMoveKm:     0.05,
		MaxResults:    50,
	}
}

// QueryConfig is supplied fresh with every request.
type QueryConfig struct {
	RadiusKm float64
	// AllowedCategories filters by transport mode; empty means all modes.
	AllowedCategories map[int]struct{}
	// MaxResults <= 0, or above Settings.MaxResults, means Settings.MaxResults.
	MaxResults int
}

// State is the manager's position in its query lifecycle.
type State int

const (
	StateIdle State = iota
	StateDebouncing
	StateFetching
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDebouncing:
		return "debouncing"
	case StateFetching:
		return "fetching"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Manager coordinates nearby-stop queries for one viewport.
//
// Calls to LoadNearbyStops, InvalidateCache and CancelOngoingQuery are
// expected to come sequentially from one logical caller (a UI event loop or
// a per-session lock). The fetch itself runs on a background goroutine.
type Manager struct {
	repo      storage.StopsRepository
	settings  Settings
	debouncer *Debouncer

	logger        obs.Logger
	now           func() time.Time
	beforeDeliver func() // test hook between fetch return and delivery

	mu    sync.Mutex
	cache *CacheEntry
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets a printf-style logger for cache decisions and fetch timing.
// Without it the manager is silent.
func WithLogger(l obs.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// withClock injects a fake clock for cache timestamps.
func withClock(fn func() time.Time) Option {
	return func(m *Manager) { m.now = fn }
}

// withBeforeDeliver runs fn after the repository returns and before the
// result is delivered. Tests use it to force the cancel-vs-deliver race.
func withBeforeDeliver(fn func()) Option {
	return func(m *Manager) { m.beforeDeliver = fn }
}

// withAfterRun runs fn whenever a scheduled unit's goroutine exits.
func withAfterRun(fn func()) Option {
	return func(m *Manager) { m.debouncer.afterRun = fn }
}

// NewManager creates a Manager querying repo. A non-positive
// settings.MaxResults falls back to the default cap.
func NewManager(repo storage.StopsRepository, settings Settings, opts ...Option) *Manager {
	if settings.MaxResults <= 0 {
		settings.MaxResults = DefaultSettings().MaxResults
	}
	m := &Manager{
		repo:      repo,
		settings:  settings,
		debouncer: NewDebouncer(settings.DebounceDelay),
		now:       time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// LoadNearbyStops requests stops around center.
//
// Every call supersedes the queries of earlier calls. When the cached result
// is still fresh and the centre has barely moved, it cancels any outstanding
// query, reports OnLoading(false) if one was cancelled, and fetches nothing.
// Otherwise it cancels any outstanding query, reports OnLoading(true)
// immediately and fetches after the debounce delay. A query superseded by a
// later call, or cancelled, reports nothing further. A query already
// delivering its result finishes delivering before the call proceeds, so
// callbacks must not call back into the Manager. ctx bounds the lifetime of
// the fetch (e.g. the screen).
func (m *Manager) LoadNearbyStops(ctx context.Context, cfg QueryConfig, center geo.Point, cb Callbacks) {
	if ShouldUseCache(m.Cache(), center, m.now(), m.settings.CacheTTL, m.settings.MinMoveKm) {
		m.logf("nearby: cache hit cell=%s", geo.Cell(center))
		if m.debouncer.Cancel() {
			cb.loading(false)
		}
		return
	}

	m.debouncer.Cancel()
	cb.loading(true)
	m.debouncer.Schedule(ctx, func(ctx context.Context, deliver func(func()) bool) {
		m.fetch(ctx, deliver, cfg, center, cb)
	})
}

// InvalidateCache forgets the last result so the next request always fetches.
// It does not cancel a query in flight; that query still updates the cache
// when it completes.
func (m *Manager) InvalidateCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = nil
}

// CancelOngoingQuery cancels any pending or running query without touching
// the cache. It does not report OnLoading(false); clearing a displayed
// loading flag is the caller's decision.
func (m *Manager) CancelOngoingQuery() {
	m.debouncer.Cancel()
}

// Cache returns a copy of the current cache entry, or nil.
func (m *Manager) Cache() *CacheEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cache == nil {
		return nil
	}
	e := *m.cache
	return &e
}

// State reports whether a query is waiting out the debounce delay, fetching,
// or neither.
func (m *Manager) State() State {
	return m.debouncer.state()
}

// Settings returns the manager's tunables.
func (m *Manager) Settings() Settings {
	return m.settings
}

func (m *Manager) fetch(ctx context.Context, deliver func(func()) bool, cfg QueryConfig, center geo.Point, cb Callbacks) {
	stops, err := m.query(ctx, cfg, center)

	if m.beforeDeliver != nil {
		m.beforeDeliver()
	}
	delivered := deliver(func() {
		if err != nil {
			cb.loading(false)
			cb.failed(err)
			return
		}

		m.mu.Lock()
		m.cache = nextEntry(m.cache, center, m.now())
		m.mu.Unlock()

		cb.loading(false)
		cb.loaded(stops)
	})
	if !delivered {
		m.logf("nearby: discarding superseded query cell=%s", geo.Cell(center))
	}
}

// query calls the repository, turning a panic into an error so a faulty
// store cannot take the worker goroutine down.
func (m *Manager) query(ctx context.Context, cfg QueryConfig, center geo.Point) (stops []storage.StopRecord, err error) {
	defer obs.Time(ctx, m.logger, "nearby.fetch cell="+geo.Cell(center))(&err)
	defer func() {
		if r := recover(); r != nil {
			stops, err = nil, fmt.Errorf("nearby: fetch: repository panic: %v", r)
		}
	}()

	stops, err = m.repo.GetStopsNearby(ctx, center.Lat, center.Lon, cfg.RadiusKm, cfg.AllowedCategories, m.maxResults(cfg))
	if err != nil {
		return nil, fmt.Errorf("nearby: fetch: %w", err)
	}
	return stops, nil
}

func (m *Manager) maxResults(cfg QueryConfig) int {
	if cfg.MaxResults <= 0 || cfg.MaxResults > m.settings.MaxResults {
		return m.settings.MaxResults
	}
	return cfg.MaxResults
}

func (m *Manager) logf(format string, args ...any) {
	if m.logger != nil {
		m.logger(format, args...)
	}
}
