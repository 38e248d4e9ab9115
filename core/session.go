package core

import (
	"sync"
	"time"
)

// Session owns the conversation history plus the ambient settings of one
// conversation. The history is append-only: items are added after a completed
// model turn, after tool results, and by compaction (which swaps a prefix for
// a summary). Exactly one engine drives a session at a time; sub-agents get
// their own child session.
type Session struct {
	ID           string
	WorkDir      string
	SystemPrompt string

	// LastResponseID is a provider-side continuation handle. Only adapters
	// that support server-side conversation state use it; others ignore it.
	LastResponseID string

	Created time.Time
	Updated time.Time

	mu      sync.RWMutex
	history []ConversationItem
}

// NewSession constructs an empty session.
func NewSession(id, workDir, systemPrompt string) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		WorkDir:      workDir,
		SystemPrompt: systemPrompt,
		Created:      now,
		Updated:      now,
	}
}

// Append adds items to the history.
func (s *Session) Append(items ...ConversationItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, items...)
	s.Updated = time.Now()
}

// History returns a snapshot copy of the conversation history.
func (s *Session) History() []ConversationItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ConversationItem, len(s.history))
	copy(out, s.history)
	return out
}

// Len returns the number of history items.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

// ReplacePrefix swaps the first n history items for the given replacement.
// Used by compaction; callers are responsible for producing a summary item
// that preserves enough context for the model.
func (s *Session) ReplacePrefix(n int, replacement ...ConversationItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > len(s.history) {
		n = len(s.history)
	}
	rest := s.history[n:]
	next := make([]ConversationItem, 0, len(replacement)+len(rest))
	next = append(next, replacement...)
	next = append(next, rest...)
	s.history = next
	s.Updated = time.Now()
}

// Clone returns a deep enough copy for store implementations that hand out
// snapshots. Items themselves are immutable so sharing them is safe.
func (s *Session) Clone() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	clone := &Session{
		ID:             s.ID,
		WorkDir:        s.WorkDir,
		SystemPrompt:   s.SystemPrompt,
		LastResponseID: s.LastResponseID,
		Created:        s.Created,
		Updated:        s.Updated,
	}
	clone.history = make([]ConversationItem, len(s.history))
	copy(clone.history, s.history)
	return clone
}
