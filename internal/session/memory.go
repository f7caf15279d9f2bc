package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/maauso/audiosplit-api/internal/session/id"
)

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// maxIDAttempts bounds regeneration on ID collision.
const maxIDAttempts = 16

// MemoryStore is an in-memory implementation of Store.
// It uses a map with RWMutex: lookups share the read lock, while Create and
// the Remove family take the write lock.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	now   func() time.Time
	newID func() string
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source used to stamp CreatedAt.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// WithIDGenerator overrides the session ID generator.
func WithIDGenerator(gen func() string) MemoryOption {
	return func(s *MemoryStore) {
		s.newID = gen
	}
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		sessions: make(map[string]*Session),
		now:      time.Now,
		newID:    id.Generate,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a session with CreatedAt = now. The artifacts slice is
// copied, so later changes by the caller are not visible.
func (s *MemoryStore) Create(_ context.Context, artifacts []ChunkArtifact) (*Session, error) {
	if len(artifacts) == 0 {
		return nil, ErrNoArtifacts
	}
	for i, a := range artifacts {
		if a.Index() != i+1 {
			return nil, fmt.Errorf("%w: position %d has index %d", ErrArtifactOrder, i+1, a.Index())
		}
	}

	owned := make([]ChunkArtifact, len(artifacts))
	copy(owned, artifacts)

	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		sid := s.newID()
		if _, taken := s.sessions[sid]; taken {
			continue
		}
		sess := &Session{ID: sid, CreatedAt: s.now(), Artifacts: owned}
		s.sessions[sid] = sess
		return sess.Clone(), nil
	}
	return nil, ErrIDExhausted
}

// Get retrieves a session by its ID.
// Returns a clone so callers cannot reach the registry's artifact slice.
func (s *MemoryStore) Get(_ context.Context, sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess.Clone(), nil
}

// GetArtifact retrieves one chunk artifact of a session.
func (s *MemoryStore) GetArtifact(_ context.Context, sessionID string, chunkNumber int) (ChunkArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return ChunkArtifact{}, ErrSessionNotFound
	}
	a, ok := sess.Artifact(chunkNumber)
	if !ok {
		return ChunkArtifact{}, fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidChunkNumber, chunkNumber, sess.Len())
	}
	return a, nil
}

// Remove deletes a session from the registry.
func (s *MemoryStore) Remove(_ context.Context, sessionID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	return sess, nil
}

// RemoveExpired removes sessions older than retention, oldest first.
func (s *MemoryStore) RemoveExpired(_ context.Context, now time.Time, retention time.Duration) ([]*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []*Session
	for sid, sess := range s.sessions {
		if sess.Expired(now, retention) {
			removed = append(removed, sess)
			delete(s.sessions, sid)
		}
	}
	sortByCreation(removed)
	return removed, nil
}

// RemoveAll empties the registry.
func (s *MemoryStore) RemoveAll(_ context.Context) ([]*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		removed = append(removed, sess)
	}
	s.sessions = make(map[string]*Session)
	sortByCreation(removed)
	return removed, nil
}

// Len returns the number of live sessions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func sortByCreation(sessions []*Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
}
