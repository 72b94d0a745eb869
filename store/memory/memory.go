package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/modelstorm/stormflow/store"
)

// Store is an in-memory checkpoint store. It is safe for concurrent use
// across sessions; the per-session sequence check serializes writers of a
// single session.
type Store struct {
	mu       sync.RWMutex
	sessions map[string][]*store.Checkpoint
}

var _ store.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{sessions: make(map[string][]*store.Checkpoint)}
}

// Put appends a checkpoint, enforcing the sequence contract.
func (s *Store) Put(ctx context.Context, cp *store.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain := s.sessions[cp.SessionID]
	want := 0
	if len(chain) > 0 {
		want = chain[len(chain)-1].Seq + 1
	}
	if cp.Seq != want {
		return store.ErrStaleCheckpoint
	}

	saved := *cp
	s.sessions[cp.SessionID] = append(chain, &saved)
	return nil
}

// Latest returns the newest checkpoint for a session.
func (s *Store) Latest(ctx context.Context, sessionID string) (*store.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain := s.sessions[sessionID]
	if len(chain) == 0 {
		return nil, store.ErrNotFound
	}
	cp := *chain[len(chain)-1]
	return &cp, nil
}

// List returns all checkpoints for a session in sequence order.
func (s *Store) List(ctx context.Context, sessionID string) ([]*store.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain := s.sessions[sessionID]
	out := make([]*store.Checkpoint, len(chain))
	for i, cp := range chain {
		c := *cp
		out[i] = &c
	}
	return out, nil
}

// Clear removes all checkpoints for a session.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// Sessions returns the known session IDs, sorted. Handy for tests and
// admin surfaces.
func (s *Store) Sessions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
