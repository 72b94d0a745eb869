package modelstore

import (
	"context"
	"slices"
	"sync"

	"github.com/modelstorm/stormflow/domain"
)

// MemoryStore is an in-memory Store for tests and examples.
type MemoryStore struct {
	mu      sync.RWMutex
	stories []domain.UserStory
	model   domain.Model
}

var _ Store = (*MemoryStore)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) UserStories(_ context.Context) ([]domain.UserStory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.UserStory, len(s.stories))
	copy(out, s.stories)
	return out, nil
}

func (s *MemoryStore) AddUserStories(_ context.Context, stories ...domain.UserStory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stories = append(s.stories, stories...)
	return nil
}

func (s *MemoryStore) SaveModel(_ context.Context, m *domain.Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = *m
	return nil
}

func (s *MemoryStore) LoadModel(_ context.Context) (*domain.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.model
	return &m, nil
}

func (s *MemoryStore) SearchBoundedContexts(_ context.Context, keywords []string) ([]domain.BoundedContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return matchBoundedContexts(s.model.BoundedContexts, keywords), nil
}

func (s *MemoryStore) RelatedObjects(_ context.Context, targetID string) ([]RelatedObject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return relatedIn(&s.model, targetID), nil
}

func (s *MemoryStore) ApplyChanges(_ context.Context, changes []domain.ChangeItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Apply against a copy so a failing plan leaves the model untouched.
	m := domain.Model{
		BoundedContexts: slices.Clone(s.model.BoundedContexts),
		Aggregates:      slices.Clone(s.model.Aggregates),
		Commands:        slices.Clone(s.model.Commands),
		Events:          slices.Clone(s.model.Events),
		ReadModels:      slices.Clone(s.model.ReadModels),
		Policies:        slices.Clone(s.model.Policies),
	}
	if err := applyChanges(&m, changes); err != nil {
		return err
	}
	s.model = m
	return nil
}
