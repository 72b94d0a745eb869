package modelstore

import (
	"context"
	"errors"

	"github.com/modelstorm/stormflow/domain"
)

// ErrNotFound is returned when a lookup target does not exist.
var ErrNotFound = errors.New("modelstore: not found")

// RelatedObject is a model element connected to a query target, with the
// relation that connects them ("same_aggregate", "same_context",
// "emits", "invoked_by").
type RelatedObject struct {
	Type        string `json:"type"`
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Relation    string `json:"relation"`
}

// Store persists user stories going into the workflows and the approved
// model coming out of them.
type Store interface {
	// UserStories returns all stored stories in insertion order.
	UserStories(ctx context.Context) ([]domain.UserStory, error)
	// AddUserStories appends stories to the backlog.
	AddUserStories(ctx context.Context, stories ...domain.UserStory) error

	// SaveModel replaces the stored model with m.
	SaveModel(ctx context.Context, m *domain.Model) error
	// LoadModel returns the stored model, or an empty model if none was
	// saved yet.
	LoadModel(ctx context.Context) (*domain.Model, error)

	// SearchBoundedContexts returns contexts whose name or description
	// matches any of the keywords, case-insensitively.
	SearchBoundedContexts(ctx context.Context, keywords []string) ([]domain.BoundedContext, error)
	// RelatedObjects returns model elements connected to the target,
	// typically the blast radius of a proposed change.
	RelatedObjects(ctx context.Context, targetID string) ([]RelatedObject, error)

	// ApplyChanges applies an approved change plan to the stored model.
	ApplyChanges(ctx context.Context, changes []domain.ChangeItem) error
}
