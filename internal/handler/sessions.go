package handler

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ksharma-xyz/krail-nearby/internal/geo"
	"github.com/ksharma-xyz/krail-nearby/internal/nearby"
	"github.com/ksharma-xyz/krail-nearby/internal/obs"
	"github.com/ksharma-xyz/krail-nearby/internal/storage"
)

var (
	// ErrSessionNotFound is returned for an unknown or closed session id.
	ErrSessionNotFound = errors.New("viewport session not found")
	// ErrTooManySessions is returned when the session limit is reached.
	ErrTooManySessions = errors.New("too many viewport sessions")
)

// ViewportState is what a client sees for its viewport. It is assembled
// from the manager's loading/loaded/error callbacks.
type ViewportState struct {
	Loading   bool
	Stops     []storage.StopRecord
	Err       string
	Center    geo.Point
	UpdatedAt time.Time
}

// Sessions owns one nearby.Manager per viewport session. A session not
// touched for idleTTL is evicted when the limit is reached or by Sweep.
type Sessions struct {
	repo     storage.StopsRepository
	settings nearby.Settings
	logger   obs.Logger
	max      int
	idleTTL  time.Duration
	newID    func() string
	now      func() time.Time

	mu   sync.Mutex
	byID map[string]*session
}

// NewSessions creates an empty registry. max bounds the number of live
// sessions; logger may be nil.
func NewSessions(repo storage.StopsRepository, settings nearby.Settings, max int, idleTTL time.Duration, logger obs.Logger) *Sessions {
	return &Sessions{
		repo:     repo,
		settings: settings,
		logger:   logger,
		max:      max,
		idleTTL:  idleTTL,
		newID:    uuid.NewString,
		now:      time.Now,
		byID:     make(map[string]*session),
	}
}

// session serialises calls into its manager; the manager expects a single
// sequential caller.
type session struct {
	id     string
	mgr    *nearby.Manager
	ctx    context.Context
	cancel context.CancelFunc
	now    func() time.Time

	lastUsed time.Time // guarded by Sessions.mu

	callMu  sync.Mutex
	lastCfg *nearby.QueryConfig

	stateMu sync.Mutex
	state   ViewportState
}

// Create starts a new session and returns its id. At the limit, idle
// sessions are evicted first; ErrTooManySessions means none were idle.
func (s *Sessions) Create() (string, error) {
	s.mu.Lock()
	var evicted []*session
	if len(s.byID) >= s.max {
		evicted = s.takeIdleLocked()
	}
	id, err := s.createLocked()
	s.mu.Unlock()

	s.shutdownAll(evicted)
	return id, err
}

func (s *Sessions) createLocked() (string, error) {
	if len(s.byID) >= s.max {
		return "", ErrTooManySessions
	}

	id := s.newID()
	// Fetch timing logs carry the session id in place of a request id.
	ctx, cancel := context.WithCancel(obs.WithRequestID(context.Background(), id))
	sess := &session{
		id:       id,
		mgr:      nearby.NewManager(s.repo, s.settings, nearby.WithLogger(s.logger)),
		ctx:      ctx,
		cancel:   cancel,
		now:      s.now,
		lastUsed: s.now(),
	}
	s.byID[sess.id] = sess
	return sess.id, nil
}

// EvictIdle closes every session idle for longer than the idle TTL and
// returns how many it closed.
func (s *Sessions) EvictIdle() int {
	s.mu.Lock()
	evicted := s.takeIdleLocked()
	s.mu.Unlock()

	s.shutdownAll(evicted)
	return len(evicted)
}

// Sweep calls EvictIdle every interval until ctx is done.
func (s *Sessions) Sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.EvictIdle(); n > 0 && s.logger != nil {
				s.logger("viewports: evicted %d idle sessions", n)
			}
		}
	}
}

// takeIdleLocked removes idle sessions from the registry and returns them
// for shutdown outside s.mu.
func (s *Sessions) takeIdleLocked() []*session {
	now := s.now()
	var idle []*session
	for id, sess := range s.byID {
		if now.Sub(sess.lastUsed) > s.idleTTL {
			idle = append(idle, sess)
			delete(s.byID, id)
		}
	}
	return idle
}

func (s *Sessions) shutdownAll(sessions []*session) {
	for _, sess := range sessions {
		sess.shutdown()
	}
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

func (s *Sessions) get(id string) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	sess.lastUsed = s.now()
	return sess, nil
}

// MoveTo reports a camera-settle event. When the radius or category filter
// differs from the previous request, the cached result is invalidated first
// so the new filter is always honoured.
func (s *Sessions) MoveTo(id string, cfg nearby.QueryConfig, center geo.Point) (ViewportState, error) {
	sess, err := s.get(id)
	if err != nil {
		return ViewportState{}, err
	}

	sess.callMu.Lock()
	defer sess.callMu.Unlock()

	if sess.lastCfg != nil && !sameFilter(*sess.lastCfg, cfg) {
		sess.mgr.InvalidateCache()
	}
	sess.lastCfg = &cfg

	sess.mgr.LoadNearbyStops(sess.ctx, cfg, center, sess.callbacks(center))
	return sess.snapshot(), nil
}

// State returns the session's current view.
func (s *Sessions) State(id string) (ViewportState, nearby.State, error) {
	sess, err := s.get(id)
	if err != nil {
		return ViewportState{}, nearby.StateIdle, err
	}
	return sess.snapshot(), sess.mgr.State(), nil
}

// Invalidate drops the session's cached result.
func (s *Sessions) Invalidate(id string) error {
	sess, err := s.get(id)
	if err != nil {
		return err
	}
	sess.callMu.Lock()
	defer sess.callMu.Unlock()
	sess.mgr.InvalidateCache()
	return nil
}

// CancelQuery cancels the session's outstanding query. The manager leaves
// the loading flag alone on cancel, so the session, as its caller, clears it.
func (s *Sessions) CancelQuery(id string) error {
	sess, err := s.get(id)
	if err != nil {
		return err
	}
	sess.callMu.Lock()
	defer sess.callMu.Unlock()
	sess.mgr.CancelOngoingQuery()
	sess.update(func(st *ViewportState) { st.Loading = false })
	return nil
}

// Close cancels the session's work and forgets it.
func (s *Sessions) Close(id string) error {
	s.mu.Lock()
	sess, ok := s.byID[id]
	delete(s.byID, id)
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	sess.shutdown()
	return nil
}

// CloseAll shuts every session down. Used on server shutdown.
func (s *Sessions) CloseAll() {
	s.mu.Lock()
	all := make([]*session, 0, len(s.byID))
	for _, sess := range s.byID {
		all = append(all, sess)
	}
	s.byID = make(map[string]*session)
	s.mu.Unlock()

	s.shutdownAll(all)
}

func (sess *session) shutdown() {
	sess.callMu.Lock()
	defer sess.callMu.Unlock()
	sess.mgr.CancelOngoingQuery()
	sess.cancel()
}

func (sess *session) callbacks(center geo.Point) nearby.Callbacks {
	return nearby.Callbacks{
		OnLoading: func(loading bool) {
			sess.update(func(st *ViewportState) { st.Loading = loading })
		},
		OnLoaded: func(stops []storage.StopRecord) {
			sess.update(func(st *ViewportState) {
				st.Stops = stops
				st.Err = ""
				st.Center = center
			})
		},
		OnError: func(err error) {
			// Previous stops stay visible alongside the error.
			sess.update(func(st *ViewportState) { st.Err = err.Error() })
		},
	}
}

func (sess *session) update(fn func(*ViewportState)) {
	sess.stateMu.Lock()
	defer sess.stateMu.Unlock()
	fn(&sess.state)
	sess.state.UpdatedAt = sess.now()
}

func (sess *session) snapshot() ViewportState {
	sess.stateMu.Lock()
	defer sess.stateMu.Unlock()
	st := sess.state
	st.Stops = slices.Clone(st.Stops)
	return st
}

// sameFilter reports whether two configs select the same stops; MaxResults
// is compared too because a larger cap needs a fresh query.
func sameFilter(a, b nearby.QueryConfig) bool {
	if a.RadiusKm != b.RadiusKm || a.MaxResults != b.MaxResults {
		return false
	}
	if len(a.AllowedCategories) != len(b.AllowedCategories) {
		return false
	}
	for c := range a.AllowedCategories {
		if _, ok := b.AllowedCategories[c]; !ok {
			return false
		}
	}
	return true
}
