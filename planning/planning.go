// Package planning folds one new user story into an existing model: it
// analyzes the story, matches it against the stored bounded contexts and
// proposes the domain objects to create. The walk is linear and never
// suspends.
package planning

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelstorm/stormflow/domain"
	"github.com/modelstorm/stormflow/flow"
	"github.com/modelstorm/stormflow/llm"
	"github.com/modelstorm/stormflow/log"
	"github.com/modelstorm/stormflow/modelstore"
)

// Planning scopes.
const (
	ScopeExistingBC = "existing_bc"
	ScopeNewBC      = "new_bc"
)

// State field names.
const (
	FieldRole            = "role"
	FieldAction          = "action"
	FieldBenefit         = "benefit"
	FieldStoryIntent     = "story_intent"
	FieldDomainKeywords  = "domain_keywords"
	FieldActionVerbs     = "action_verbs"
	FieldScope           = "scope"
	FieldScopeReasoning  = "scope_reasoning"
	FieldMatchedBCID     = "matched_bc_id"
	FieldMatchedBCName   = "matched_bc_name"
	FieldRelatedObjects  = "related_objects"
	FieldProposedObjects = "proposed_objects"
	FieldPlanSummary     = "plan_summary"
)

// Schema declares the planning state. All fields overwrite; the walk is a
// straight pipeline with no accumulation.
func Schema() *flow.MapSchema {
	s := flow.NewMapSchema()
	for _, f := range []string{
		FieldRole, FieldAction, FieldBenefit,
		FieldStoryIntent, FieldDomainKeywords, FieldActionVerbs,
		FieldScope, FieldScopeReasoning, FieldMatchedBCID, FieldMatchedBCName,
		FieldRelatedObjects, FieldProposedObjects, FieldPlanSummary,
	} {
		s.Field(f)
	}
	return s
}

// Workflow is the user story planning workflow.
type Workflow struct {
	llm    llm.Completer
	models modelstore.Store
	logger log.Logger
}

// New creates the workflow over a completer and a model store.
func New(c llm.Completer, models modelstore.Store) *Workflow {
	return &Workflow{
		llm:    c,
		models: models,
		logger: log.Default(),
	}
}

// SetLogger replaces the workflow's logger.
func (w *Workflow) SetLogger(l log.Logger) {
	w.logger = l
}

// Graph builds and compiles the three-step planning pipeline.
func (w *Workflow) Graph() (*flow.CompiledGraph[flow.MapState], error) {
	g := flow.NewGraph[flow.MapState](Schema())
	g.AddStep("analyze_story", "extract intent and domain concepts", w.analyzeStory)
	g.AddStep("find_matching_bc", "match the story against stored contexts", w.findMatchingBC)
	g.AddStep("generate_objects", "propose the domain objects to create", w.generateObjects)
	g.SetEntryPoint("analyze_story")
	g.AddEdge("analyze_story", "find_matching_bc")
	g.AddEdge("find_matching_bc", "generate_objects")
	g.AddEdge("generate_objects", flow.End)
	return g.Compile()
}

type storyAnalysis struct {
	Intent         string   `json:"intent"`
	DomainKeywords []string `json:"domain_keywords"`
	ActionVerbs    []string `json:"action_verbs"`
}

func (w *Workflow) analyzeStory(ctx context.Context, state flow.MapState) (flow.Delta, error) {
	prompt := fmt.Sprintf(`Analyze this user story and extract domain modeling information.

User story:
- As a: %s
- I want to: %s
- So that: %s

Extract the primary intent, domain keywords (nouns that could become
aggregates) and action verbs (that could become commands).

Respond with JSON: {"intent", "domain_keywords", "action_verbs"}`,
		flow.GetOr(state, FieldRole, ""),
		flow.GetOr(state, FieldAction, ""),
		flow.GetOr(state, FieldBenefit, ""))

	analysis, err := llm.CompleteJSON[storyAnalysis](ctx, w.llm, analysisSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("analyzing story: %w", err)
	}
	return flow.Delta{
		FieldStoryIntent:    analysis.Intent,
		FieldDomainKeywords: analysis.DomainKeywords,
		FieldActionVerbs:    analysis.ActionVerbs,
	}, nil
}

func (w *Workflow) findMatchingBC(ctx context.Context, state flow.MapState) (flow.Delta, error) {
	keywords := append(
		flow.GetOr(state, FieldDomainKeywords, []string(nil)),
		flow.GetOr(state, FieldActionVerbs, []string(nil))...)

	matches, err := w.models.SearchBoundedContexts(ctx, keywords)
	if err != nil {
		return nil, fmt.Errorf("searching bounded contexts: %w", err)
	}
	if len(matches) == 0 {
		return flow.Delta{
			FieldScope:          ScopeNewBC,
			FieldScopeReasoning: fmt.Sprintf("no context matches keywords %v; a new one is needed", keywords),
		}, nil
	}

	bc := matches[0]
	related, err := w.models.RelatedObjects(ctx, bc.ID)
	if err != nil {
		return nil, fmt.Errorf("loading related objects for %s: %w", bc.ID, err)
	}
	w.logger.Debug("story matched context %s with %d related objects", bc.ID, len(related))

	return flow.Delta{
		FieldScope:          ScopeExistingBC,
		FieldScopeReasoning: fmt.Sprintf("context %q matches keywords %v", bc.Name, keywords),
		FieldMatchedBCID:    bc.ID,
		FieldMatchedBCName:  bc.Name,
		FieldRelatedObjects: related,
	}, nil
}

type objectPlan struct {
	Summary string                  `json:"summary"`
	Objects []domain.ProposedObject `json:"objects"`
}

func (w *Workflow) generateObjects(ctx context.Context, state flow.MapState) (flow.Delta, error) {
	related, err := flow.Get[[]modelstore.RelatedObject](state, FieldRelatedObjects)
	if err != nil {
		return nil, err
	}
	relatedText := "None"
	if len(related) > 0 {
		var b strings.Builder
		for _, obj := range related {
			fmt.Fprintf(&b, "- %s: %s\n", obj.Type, obj.Name)
		}
		relatedText = b.String()
	}

	bcContext := "Need to create a new Bounded Context first."
	if flow.GetOr(state, FieldScope, "") == ScopeExistingBC {
		bcContext = fmt.Sprintf("Target context: %s (ID: %s)",
			flow.GetOr(state, FieldMatchedBCName, ""),
			flow.GetOr(state, FieldMatchedBCID, ""))
	}

	prompt := fmt.Sprintf(`Generate domain objects for this new user story.

User story:
- As a: %s
- I want to: %s
- So that: %s

Analysis:
- Intent: %s
- Domain keywords: %v
- Action verbs: %v

Context: %s

Existing related objects:
%s

Create or reuse an aggregate, then the command and its past-tense event.
Use ID prefixes BC-, AGG-, CMD-, EVT-. Reuse existing objects when they fit.

Respond with JSON: {"summary", "objects": [{"action", "target_type", "target_id", "target_name", "target_bc_id", "description", "reason", "actor"}]}`,
		flow.GetOr(state, FieldRole, ""),
		flow.GetOr(state, FieldAction, ""),
		flow.GetOr(state, FieldBenefit, ""),
		flow.GetOr(state, FieldStoryIntent, ""),
		flow.GetOr(state, FieldDomainKeywords, []string(nil)),
		flow.GetOr(state, FieldActionVerbs, []string(nil)),
		bcContext,
		relatedText)

	plan, err := llm.CompleteJSON[objectPlan](ctx, w.llm, generationSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("generating objects: %w", err)
	}

	matchedBC := flow.GetOr(state, FieldMatchedBCID, "")
	for i := range plan.Objects {
		if plan.Objects[i].TargetBCID == "" {
			plan.Objects[i].TargetBCID = matchedBC
		}
	}
	return flow.Delta{
		FieldProposedObjects: plan.Objects,
		FieldPlanSummary:     plan.Summary,
	}, nil
}

const analysisSystemPrompt = `You are a DDD expert analyzing user stories for domain modeling.
Always answer with a single JSON object matching the requested shape, with no surrounding prose.`

const generationSystemPrompt = `You are a DDD expert generating domain objects.
Aggregate names are nouns (Order), command names are verbs (PlaceOrder),
event names are past tense (OrderPlaced). Reuse existing objects when
appropriate. Always answer with a single JSON object matching the requested
shape, with no surrounding prose.`
