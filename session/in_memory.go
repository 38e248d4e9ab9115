package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/turnkit/turnkit/core"
)

// Store abstracts session persistence. Implementations must tolerate Append
// and Persist being called from the engine while a turn is in flight.
type Store interface {
	// Load returns the session with the given id.
	Load(ctx context.Context, sessionID string) (*core.Session, error)
	// Append records new history items for the session.
	Append(ctx context.Context, sessionID string, items ...core.ConversationItem) error
	// Persist flushes the full session snapshot.
	Persist(ctx context.Context, session *core.Session) error
}

// InMemoryStore is a volatile Store keeping sessions in a process-local map.
// It is safe for concurrent access and suited to tests and ephemeral use.
// Returned sessions are clones so callers cannot mutate stored state.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*core.Session
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*core.Session)}
}

// Load returns a clone of the stored session.
func (s *InMemoryStore) Load(ctx context.Context, sessionID string) (*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %q not found", sessionID)
	}
	return sess.Clone(), nil
}

// Create stores a new session, overwriting any previous one with the same id.
func (s *InMemoryStore) Create(ctx context.Context, sess *core.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

// Append adds history items to an existing session.
func (s *InMemoryStore) Append(ctx context.Context, sessionID string, items ...core.ConversationItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %q not found", sessionID)
	}
	sess.Append(items...)
	return nil
}

// Persist stores a clone of the provided session snapshot.
func (s *InMemoryStore) Persist(ctx context.Context, sess *core.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess.Clone()
	return nil
}
