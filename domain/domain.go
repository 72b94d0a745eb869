// Package domain holds the event-storming model types shared by the
// workflows and the model store. All types are plain data with JSON tags so
// they survive checkpoint round-trips and LLM response decoding unchanged.
package domain

// UserStory is a raw requirement in "as a / I want / so that" form.
type UserStory struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Role    string `json:"role"`
	Action  string `json:"action"`
	Benefit string `json:"benefit"`
}

// Text renders the story in the canonical sentence used in prompts.
func (s UserStory) Text() string {
	return "As a " + s.Role + ", I want to " + s.Action + ", so that " + s.Benefit
}

// BoundedContext is a candidate bounded context identified from stories.
type BoundedContext struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Rationale    string   `json:"rationale"`
	UserStoryIDs []string `json:"user_story_ids,omitempty"`
}

// Aggregate is a candidate aggregate within a bounded context.
type Aggregate struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	RootEntity       string   `json:"root_entity"`
	Invariants       []string `json:"invariants,omitempty"`
	Description      string   `json:"description"`
	UserStoryIDs     []string `json:"user_story_ids,omitempty"`
	BoundedContextID string   `json:"bounded_context_id,omitempty"`
}

// Command is a candidate command on an aggregate.
type Command struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Actor        string   `json:"actor"`
	Description  string   `json:"description"`
	UserStoryIDs []string `json:"user_story_ids,omitempty"`
	AggregateID  string   `json:"aggregate_id,omitempty"`
}

// Event is a candidate domain event emitted by a command.
type Event struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	UserStoryIDs []string `json:"user_story_ids,omitempty"`
	AggregateID  string   `json:"aggregate_id,omitempty"`
}

// ReadModel is a query-side view a bounded context keeps to answer the
// questions its commands need answered. It is populated from events,
// typically ones emitted in other contexts. ProvisioningType is "CQRS",
// "API", "GraphQL" or "SharedDB".
type ReadModel struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Description        string   `json:"description"`
	ProvisioningType   string   `json:"provisioning_type,omitempty"`
	SourceBCIDs        []string `json:"source_bc_ids,omitempty"`
	SourceEventIDs     []string `json:"source_event_ids,omitempty"`
	SupportsCommandIDs []string `json:"supports_command_ids,omitempty"`
	UserStoryIDs       []string `json:"user_story_ids,omitempty"`
	BoundedContextID   string   `json:"bounded_context_id,omitempty"`
}

// Policy reacts to an event in one context by invoking a command in another.
type Policy struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	TriggerEvent  string `json:"trigger_event"`
	TargetBC      string `json:"target_bc"`
	InvokeCommand string `json:"invoke_command"`
	Description   string `json:"description"`
}

// StoryBreakdown is the analysis of one user story into finer-grained
// tasks and the domain concepts it surfaces.
type StoryBreakdown struct {
	UserStoryID         string   `json:"user_story_id"`
	SubTasks            []string `json:"sub_tasks"`
	DomainConcepts      []string `json:"domain_concepts"`
	PotentialAggregates []string `json:"potential_aggregates"`
	PotentialCommands   []string `json:"potential_commands"`
}

// ProposedObject is one planned addition to the model when a new story is
// folded into an existing design. Action is "create", "update" or
// "connect".
type ProposedObject struct {
	Action      string `json:"action"`
	TargetType  string `json:"target_type"`
	TargetID    string `json:"target_id"`
	TargetName  string `json:"target_name"`
	TargetBCID  string `json:"target_bc_id,omitempty"`
	Description string `json:"description,omitempty"`
	Reason      string `json:"reason,omitempty"`
	SourceID    string `json:"source_id,omitempty"`
	Actor       string `json:"actor,omitempty"`
}

// ChangeItem is one edit in a change-impact plan. Action is "rename",
// "update", "create" or "delete".
type ChangeItem struct {
	Action      string `json:"action"`
	TargetType  string `json:"target_type"`
	TargetID    string `json:"target_id"`
	TargetName  string `json:"target_name"`
	FromValue   string `json:"from_value,omitempty"`
	ToValue     string `json:"to_value,omitempty"`
	Description string `json:"description"`
	Reason      string `json:"reason"`
}

// Model is a complete event-storming design.
type Model struct {
	BoundedContexts []BoundedContext `json:"bounded_contexts"`
	Aggregates      []Aggregate      `json:"aggregates"`
	Commands        []Command        `json:"commands"`
	Events          []Event          `json:"events"`
	ReadModels      []ReadModel      `json:"readmodels,omitempty"`
	Policies        []Policy         `json:"policies"`
}
