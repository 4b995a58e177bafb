package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/room4-2/CaterConverse/logging"
)

// ErrInvalidID is returned for an empty session id.
var ErrInvalidID = errors.New("session: empty session id")

// entry guards one conversation. The store-wide lock only protects the map,
// so turns for different sessions never wait on each other.
type entry struct {
	mu           sync.Mutex
	ctx          *Context
	lastActivity atomic.Int64 // unix nanos, readable without mu
}

// Store owns every live conversation context.
type Store struct {
	sessions map[string]*entry
	mu       sync.RWMutex
	mirror   Mirror
	timeout  time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewStore creates a Store. mirror may be nil. A zero timeout disables idle
// expiry.
func NewStore(mirror Mirror, timeout time.Duration, logger *zap.Logger) *Store {
	if mirror == nil {
		mirror = NopMirror{}
	}
	return &Store{
		sessions: make(map[string]*entry),
		mirror:   mirror,
		timeout:  timeout,
		logger:   logging.OrNop(logger),
		now:      time.Now,
	}
}

// getOrCreate returns the entry for id, creating it on first use.
func (s *Store) getOrCreate(ctx context.Context, id string) (*entry, bool, error) {
	if strings.TrimSpace(id) == "" {
		return nil, false, ErrInvalidID
	}

	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return e, false, nil
	}

	s.mu.Lock()
	if e, ok = s.sessions[id]; ok {
		s.mu.Unlock()
		return e, false, nil
	}
	now := s.now()
	e = &entry{ctx: newContext(id, now)}
	e.lastActivity.Store(now.UnixNano())
	// Once published, e.ctx may only be read under e.mu.
	meta := metaOf(e.ctx)
	s.sessions[id] = e
	s.mu.Unlock()

	s.logger.Info("session created", zap.String("session_id", logging.ShortID(id)))
	s.storeMeta(ctx, id, meta)
	return e, true, nil
}

// GetOrCreate makes sure a context exists for id and returns a copy of it.
// created reports whether this call created it.
func (s *Store) GetOrCreate(ctx context.Context, id string) (snapshot Context, created bool, err error) {
	e, created, err := s.getOrCreate(ctx, id)
	if err != nil {
		return Context{}, false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ctx.Clone(), created, nil
}

// With runs fn on the context for id while holding that session's lock,
// creating the context first if needed. If the session is destroyed while
// fn runs, fn still completes on the detached context.
func (s *Store) With(ctx context.Context, id string, fn func(c *Context) error) error {
	e, _, err := s.getOrCreate(ctx, id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	err = fn(e.ctx)

	now := s.now()
	e.ctx.LastActivity = now
	e.lastActivity.Store(now.UnixNano())
	if s.live(id, e) {
		s.storeMeta(ctx, id, metaOf(e.ctx))
	}
	return err
}

func (s *Store) live(id string, e *entry) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id] == e
}

func metaOf(c *Context) Meta {
	return Meta{
		CreatedAt:    c.CreatedAt,
		LastActivity: c.LastActivity,
		Stage:        c.Stage,
		Turns:        c.UserTurns(),
	}
}

// storeMeta mirrors session metadata. Failures are logged and ignored.
func (s *Store) storeMeta(ctx context.Context, id string, meta Meta) {
	if err := s.mirror.Store(ctx, id, meta); err != nil {
		s.logger.Warn("session mirror write failed", zap.String("session_id", logging.ShortID(id)), zap.Error(err))
	}
}

// Snapshot returns a copy of the context for id. It waits for an in-flight
// turn on that session to finish.
func (s *Store) Snapshot(id string) (Context, bool) {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return Context{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ctx.Clone(), true
}

// Destroy drops the context for id. Destroying an unknown id is a no-op.
func (s *Store) Destroy(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrInvalidID
	}

	s.mu.Lock()
	_, exists := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !exists {
		return nil
	}
	s.removeSession(ctx, id)
	s.logger.Info("session destroyed", zap.String("session_id", logging.ShortID(id)))
	return nil
}

func (s *Store) removeSession(ctx context.Context, id string) {
	if err := s.mirror.Remove(ctx, id); err != nil {
		s.logger.Warn("session mirror delete failed", zap.String("session_id", logging.ShortID(id)), zap.Error(err))
	}
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// CleanupInactiveSessions drops sessions idle for longer than the timeout
// and returns how many were removed.
func (s *Store) CleanupInactiveSessions(ctx context.Context) int {
	if s.timeout <= 0 {
		return 0
	}

	cutoff := s.now().Add(-s.timeout).UnixNano()
	var expired []string

	s.mu.Lock()
	for id, e := range s.sessions {
		if e.lastActivity.Load() < cutoff {
			delete(s.sessions, id)
			expired = append(expired, id)
		}
	}
	s.mu.Unlock()

	for _, id := range expired {
		s.removeSession(ctx, id)
		s.logger.Info("session expired", zap.String("session_id", logging.ShortID(id)))
	}
	return len(expired)
}

// StartCleanupRoutine starts periodic cleanup of inactive sessions. It
// blocks until ctx is done.
func (s *Store) StartCleanupRoutine(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CleanupInactiveSessions(ctx)
		}
	}
}

// Shutdown drops all sessions.
func (s *Store) Shutdown(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.removeSession(ctx, id)
	}
}
