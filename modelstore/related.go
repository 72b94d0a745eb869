package modelstore

import (
	"fmt"
	"slices"

	"github.com/modelstorm/stormflow/domain"
)

// relatedIn walks the model graph from targetID one hop out: siblings in
// the same aggregate, the parent aggregate and context, events emitted by
// the target's aggregate, policies triggered by them, and read models
// populated by the target event or supporting the target command.
func relatedIn(m *domain.Model, targetID string) []RelatedObject {
	var related []RelatedObject

	aggOf := func(aggregateID string) *domain.Aggregate {
		for i := range m.Aggregates {
			if m.Aggregates[i].ID == aggregateID {
				return &m.Aggregates[i]
			}
		}
		return nil
	}

	addAggregateNeighbors := func(aggregateID string) {
		if agg := aggOf(aggregateID); agg != nil {
			related = append(related, RelatedObject{
				Type: "Aggregate", ID: agg.ID, Name: agg.Name,
				Description: agg.Description, Relation: "same_aggregate",
			})
			for i := range m.BoundedContexts {
				if m.BoundedContexts[i].ID == agg.BoundedContextID {
					bc := m.BoundedContexts[i]
					related = append(related, RelatedObject{
						Type: "BoundedContext", ID: bc.ID, Name: bc.Name,
						Description: bc.Description, Relation: "same_context",
					})
				}
			}
		}
		for _, cmd := range m.Commands {
			if cmd.AggregateID == aggregateID && cmd.ID != targetID {
				related = append(related, RelatedObject{
					Type: "Command", ID: cmd.ID, Name: cmd.Name,
					Description: cmd.Description, Relation: "same_aggregate",
				})
			}
		}
		for _, ev := range m.Events {
			if ev.AggregateID == aggregateID && ev.ID != targetID {
				related = append(related, RelatedObject{
					Type: "Event", ID: ev.ID, Name: ev.Name,
					Description: ev.Description, Relation: "emits",
				})
			}
		}
	}

	for _, agg := range m.Aggregates {
		if agg.ID == targetID {
			addAggregateNeighbors(agg.ID)
		}
	}
	for _, cmd := range m.Commands {
		if cmd.ID == targetID {
			addAggregateNeighbors(cmd.AggregateID)
			for _, pol := range m.Policies {
				if pol.InvokeCommand == cmd.Name || pol.InvokeCommand == cmd.ID {
					related = append(related, RelatedObject{
						Type: "Policy", ID: pol.ID, Name: pol.Name,
						Description: pol.Description, Relation: "invoked_by",
					})
				}
			}
			for _, rm := range m.ReadModels {
				if slices.Contains(rm.SupportsCommandIDs, cmd.ID) {
					related = append(related, RelatedObject{
						Type: "ReadModel", ID: rm.ID, Name: rm.Name,
						Description: rm.Description, Relation: "supports",
					})
				}
			}
		}
	}
	for _, ev := range m.Events {
		if ev.ID == targetID {
			addAggregateNeighbors(ev.AggregateID)
			for _, pol := range m.Policies {
				if pol.TriggerEvent == ev.Name || pol.TriggerEvent == ev.ID {
					related = append(related, RelatedObject{
						Type: "Policy", ID: pol.ID, Name: pol.Name,
						Description: pol.Description, Relation: "invoked_by",
					})
				}
			}
			for _, rm := range m.ReadModels {
				if slices.Contains(rm.SourceEventIDs, ev.ID) {
					related = append(related, RelatedObject{
						Type: "ReadModel", ID: rm.ID, Name: rm.Name,
						Description: rm.Description, Relation: "populates",
					})
				}
			}
		}
	}
	for _, rm := range m.ReadModels {
		if rm.ID != targetID {
			continue
		}
		for _, ev := range m.Events {
			if slices.Contains(rm.SourceEventIDs, ev.ID) {
				related = append(related, RelatedObject{
					Type: "Event", ID: ev.ID, Name: ev.Name,
					Description: ev.Description, Relation: "populates",
				})
			}
		}
		for _, cmd := range m.Commands {
			if slices.Contains(rm.SupportsCommandIDs, cmd.ID) {
				related = append(related, RelatedObject{
					Type: "Command", ID: cmd.ID, Name: cmd.Name,
					Description: cmd.Description, Relation: "supports",
				})
			}
		}
		for _, bc := range m.BoundedContexts {
			if bc.ID == rm.BoundedContextID {
				related = append(related, RelatedObject{
					Type: "BoundedContext", ID: bc.ID, Name: bc.Name,
					Description: bc.Description, Relation: "same_context",
				})
			}
		}
	}
	return related
}

// applyChanges mutates m in place according to the plan. Unknown targets
// fail the whole plan so a half-applied state never persists.
func applyChanges(m *domain.Model, changes []domain.ChangeItem) error {
	for _, ch := range changes {
		switch ch.Action {
		case "rename":
			if !renameIn(m, ch.TargetID, ch.ToValue) {
				return fmt.Errorf("rename %s %s: %w", ch.TargetType, ch.TargetID, ErrNotFound)
			}
		case "update":
			if !updateIn(m, ch.TargetID, ch.Description) {
				return fmt.Errorf("update %s %s: %w", ch.TargetType, ch.TargetID, ErrNotFound)
			}
		case "delete":
			if !deleteIn(m, ch.TargetID) {
				return fmt.Errorf("delete %s %s: %w", ch.TargetType, ch.TargetID, ErrNotFound)
			}
		case "create":
			createIn(m, ch)
		default:
			return fmt.Errorf("unknown change action %q", ch.Action)
		}
	}
	return nil
}

func renameIn(m *domain.Model, id, name string) bool {
	for i := range m.BoundedContexts {
		if m.BoundedContexts[i].ID == id {
			m.BoundedContexts[i].Name = name
			return true
		}
	}
	for i := range m.Aggregates {
		if m.Aggregates[i].ID == id {
			m.Aggregates[i].Name = name
			return true
		}
	}
	for i := range m.Commands {
		if m.Commands[i].ID == id {
			m.Commands[i].Name = name
			return true
		}
	}
	for i := range m.Events {
		if m.Events[i].ID == id {
			m.Events[i].Name = name
			return true
		}
	}
	for i := range m.ReadModels {
		if m.ReadModels[i].ID == id {
			m.ReadModels[i].Name = name
			return true
		}
	}
	for i := range m.Policies {
		if m.Policies[i].ID == id {
			m.Policies[i].Name = name
			return true
		}
	}
	return false
}

func updateIn(m *domain.Model, id, description string) bool {
	for i := range m.BoundedContexts {
		if m.BoundedContexts[i].ID == id {
			m.BoundedContexts[i].Description = description
			return true
		}
	}
	for i := range m.Aggregates {
		if m.Aggregates[i].ID == id {
			m.Aggregates[i].Description = description
			return true
		}
	}
	for i := range m.Commands {
		if m.Commands[i].ID == id {
			m.Commands[i].Description = description
			return true
		}
	}
	for i := range m.Events {
		if m.Events[i].ID == id {
			m.Events[i].Description = description
			return true
		}
	}
	for i := range m.ReadModels {
		if m.ReadModels[i].ID == id {
			m.ReadModels[i].Description = description
			return true
		}
	}
	for i := range m.Policies {
		if m.Policies[i].ID == id {
			m.Policies[i].Description = description
			return true
		}
	}
	return false
}

func deleteIn(m *domain.Model, id string) bool {
	for i := range m.Aggregates {
		if m.Aggregates[i].ID == id {
			m.Aggregates = append(m.Aggregates[:i], m.Aggregates[i+1:]...)
			return true
		}
	}
	for i := range m.Commands {
		if m.Commands[i].ID == id {
			m.Commands = append(m.Commands[:i], m.Commands[i+1:]...)
			return true
		}
	}
	for i := range m.Events {
		if m.Events[i].ID == id {
			m.Events = append(m.Events[:i], m.Events[i+1:]...)
			return true
		}
	}
	for i := range m.ReadModels {
		if m.ReadModels[i].ID == id {
			m.ReadModels = append(m.ReadModels[:i], m.ReadModels[i+1:]...)
			return true
		}
	}
	for i := range m.Policies {
		if m.Policies[i].ID == id {
			m.Policies = append(m.Policies[:i], m.Policies[i+1:]...)
			return true
		}
	}
	for i := range m.BoundedContexts {
		if m.BoundedContexts[i].ID == id {
			m.BoundedContexts = append(m.BoundedContexts[:i], m.BoundedContexts[i+1:]...)
			return true
		}
	}
	return false
}

func createIn(m *domain.Model, ch domain.ChangeItem) {
	switch ch.TargetType {
	case "BoundedContext":
		m.BoundedContexts = append(m.BoundedContexts, domain.BoundedContext{
			ID: ch.TargetID, Name: ch.TargetName, Description: ch.Description,
		})
	case "Aggregate":
		m.Aggregates = append(m.Aggregates, domain.Aggregate{
			ID: ch.TargetID, Name: ch.TargetName, Description: ch.Description,
		})
	case "Command":
		m.Commands = append(m.Commands, domain.Command{
			ID: ch.TargetID, Name: ch.TargetName, Actor: "user", Description: ch.Description,
		})
	case "Event":
		m.Events = append(m.Events, domain.Event{
			ID: ch.TargetID, Name: ch.TargetName, Description: ch.Description,
		})
	case "ReadModel":
		m.ReadModels = append(m.ReadModels, domain.ReadModel{
			ID: ch.TargetID, Name: ch.TargetName, Description: ch.Description,
			ProvisioningType: "CQRS",
		})
	case "Policy":
		m.Policies = append(m.Policies, domain.Policy{
			ID: ch.TargetID, Name: ch.TargetName, Description: ch.Description,
		})
	}
}
