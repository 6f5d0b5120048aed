// Package session holds per-session generation state and the single-flight
// guard that keeps one generation in flight per session.
package session

import (
	"context"
	"sync"
	"time"

	"afterwon/internal/models"
)

// SessionReader is the read side of Store.
type SessionReader interface {
	Get(ctx context.Context, id string) (models.GenerationSession, error)
}

// Store is the only write path for session state. Update runs fn against the
// current value and persists the result atomically.
type Store interface {
	Get(ctx context.Context, id string) (models.GenerationSession, error)
	Update(ctx context.Context, id string, fn func(*models.GenerationSession) error) (models.GenerationSession, error)
}

type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]models.GenerationSession
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]models.GenerationSession),
		now:      time.Now,
	}
}

// Get returns an idle session for unknown ids.
func (s *MemoryStore) Get(ctx context.Context, id string) (models.GenerationSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return models.NewSession(id), nil
	}
	return sess.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, fn func(*models.GenerationSession) error) (models.GenerationSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		sess = models.NewSession(id)
	} else {
		sess = sess.Clone()
	}

	if err := fn(&sess); err != nil {
		return models.GenerationSession{}, err
	}
	sess.ID = id
	sess.UpdatedAt = s.now().UTC()
	s.sessions[id] = sess

	return sess.Clone(), nil
}
