package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store with an in-process map. It is the default
// for single-instance deployments; multi-instance setups use RedisStore.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	ttl      time.Duration
}

type entry struct {
	session   *Session
	expiresAt time.Time
}

// NewMemoryStore creates a new MemoryStore. Expired entries are reaped
// lazily on access.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*entry),
		ttl:      ttl,
	}
}

func (s *MemoryStore) Create(ctx context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ClientID] = &entry{
		session:   session,
		expiresAt: time.Now().Add(s.ttl),
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, clientID string) (*Session, error) {
	s.mu.RLock()
	e, ok := s.sessions[clientID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if time.Now().After(e.expiresAt) {
		s.mu.Lock()
		delete(s.sessions, clientID)
		s.mu.Unlock()
		return nil, nil
	}
	return e.session, nil
}

func (s *MemoryStore) Delete(ctx context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, clientID)
	return nil
}

func (s *MemoryStore) RefreshTTL(ctx context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Refreshing a missing session is a no-op, matching RedisStore.
	if e, ok := s.sessions[clientID]; ok {
		e.expiresAt = time.Now().Add(s.ttl)
	}
	return nil
}
