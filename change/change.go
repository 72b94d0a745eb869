// Package change implements change-impact planning: given an edited user
// story, it decides how far the change reaches, drafts an edit plan over
// the stored model, pauses for reviewer approval and applies the approved
// plan. Rejected plans are revised with the feedback and re-reviewed.
package change

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

// Change scopes.
const (
	ScopeLocal         = "local"
	ScopeCrossBC       = "cross_bc"
	ScopeNewCapability = "new_capability"
)

// State field names.
const (
	FieldUserStoryID       = "user_story_id"
	FieldOriginalStory     = "original_story"
	FieldEditedStory       = "edited_story"
	FieldChangeDescription = "change_description"
	FieldScope             = "scope"
	FieldScopeReasoning    = "scope_reasoning"
	FieldKeywords          = "keywords"
	FieldRelatedObjects    = "related_objects"
	FieldProposedChanges   = "proposed_changes"
	FieldPlanSummary       = "plan_summary"
	FieldRevisionCount     = "revision_count"
	FieldApplied           = "applied"
)

// Schema declares the change planning state.
func Schema() *flow.MapSchema {
	s := flow.NewMapSchema()
	for _, f := range []string{
		FieldUserStoryID, FieldOriginalStory, FieldEditedStory,
		FieldChangeDescription, FieldScope, FieldScopeReasoning,
		FieldKeywords, FieldRelatedObjects, FieldProposedChanges,
		FieldPlanSummary, FieldApplied,
	} {
		s.Field(f)
	}
	s.Field(FieldRevisionCount).Default(FieldRevisionCount, 0)
	return s
}

// Workflow is the change-impact planning workflow.
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

// Graph builds and compiles the change planning graph. The walk suspends
// before approve_plan so the reviewer can patch feedback in; a rejection
// routes through revise_plan and back to approval.
func (w *Workflow) Graph() (*flow.CompiledGraph[flow.MapState], error) {
	g := flow.NewGraph[flow.MapState](Schema())

	g.AddStep("analyze_scope", "decide how far the change reaches", w.analyzeScope)
	g.AddStep("search_related", "find model objects touched by the change", w.searchRelated)
	g.AddStep("generate_plan", "draft the edit plan", w.generatePlan)
	g.AddStep("approve_plan", "apply reviewer feedback to the plan", w.approvePlan)
	g.AddStep("revise_plan", "rework the plan with the feedback", w.revisePlan)
	g.AddStep("apply_changes", "apply the approved plan to the model", w.applyChanges)

	g.SetEntryPoint("analyze_scope")
	g.AddRouter("analyze_scope", w.routeAfterScope, map[string]string{
		"local":  "generate_plan",
		"search": "search_related",
	})
	g.AddEdge("search_related", "generate_plan")
	g.AddEdge("generate_plan", "approve_plan")
	g.AddRouter("approve_plan", w.routeAfterApproval, map[string]string{
		"apply":  "apply_changes",
		"revise": "revise_plan",
	})
	g.AddEdge("revise_plan", "approve_plan")
	g.AddEdge("apply_changes", flow.End)

	g.InterruptBefore("approve_plan")

	return g.Compile()
}

type scopeAnalysis struct {
	Scope             string   `json:"scope"`
	Reasoning         string   `json:"reasoning"`
	Keywords          []string `json:"keywords"`
	ChangeDescription string   `json:"change_description"`
}

func (w *Workflow) analyzeScope(ctx context.Context, state flow.MapState) (flow.Delta, error) {
	original, err := flow.Get[domain.UserStory](state, FieldOriginalStory)
	if err != nil {
		return nil, err
	}
	edited, err := flow.Get[domain.UserStory](state, FieldEditedStory)
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf(`Analyze this user story change and determine its scope.

Original: %s
Modified: %s

Scopes:
1. local: handled by modifying objects within the story's current context.
2. cross_bc: requires connecting to objects in a different bounded context.
3. new_capability: requires capabilities the model does not have yet.

Also list key terms to search the model for related objects.

Respond with JSON: {"scope", "reasoning", "keywords", "change_description"}`,
		original.Text(), edited.Text())

	analysis, err := llm.CompleteJSON[scopeAnalysis](ctx, w.llm, changeSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("analyzing change scope: %w", err)
	}
	scope := strings.ToLower(analysis.Scope)
	switch scope {
	case ScopeLocal, ScopeCrossBC, ScopeNewCapability:
	default:
		scope = ScopeLocal
	}
	w.logger.Info("change scope for story %s: %s", flow.GetOr(state, FieldUserStoryID, ""), scope)

	return flow.Delta{
		FieldScope:             scope,
		FieldScopeReasoning:    analysis.Reasoning,
		FieldKeywords:          analysis.Keywords,
		FieldChangeDescription: analysis.ChangeDescription,
	}, nil
}

func (w *Workflow) routeAfterScope(_ context.Context, state flow.MapState) string {
	if flow.GetOr(state, FieldScope, ScopeLocal) == ScopeLocal {
		return "local"
	}
	return "search"
}

func (w *Workflow) searchRelated(ctx context.Context, state flow.MapState) (flow.Delta, error) {
	keywords := flow.GetOr(state, FieldKeywords, []string(nil))
	contexts, err := w.models.SearchBoundedContexts(ctx, keywords)
	if err != nil {
		return nil, fmt.Errorf("searching contexts: %w", err)
	}

	var related []modelstore.RelatedObject
	for _, bc := range contexts {
		objs, err := w.models.RelatedObjects(ctx, bc.ID)
		if err != nil {
			return nil, fmt.Errorf("loading related objects for %s: %w", bc.ID, err)
		}
		related = append(related, modelstore.RelatedObject{
			Type: "BoundedContext", ID: bc.ID, Name: bc.Name,
			Description: bc.Description, Relation: "keyword_match",
		})
		related = append(related, objs...)
	}
	return flow.Delta{FieldRelatedObjects: related}, nil
}

type changePlan struct {
	Summary string              `json:"summary"`
	Changes []domain.ChangeItem `json:"changes"`
}

func (w *Workflow) generatePlan(ctx context.Context, state flow.MapState) (flow.Delta, error) {
	original, err := flow.Get[domain.UserStory](state, FieldOriginalStory)
	if err != nil {
		return nil, err
	}
	edited, err := flow.Get[domain.UserStory](state, FieldEditedStory)
	if err != nil {
		return nil, err
	}
	related, err := flow.Get[[]modelstore.RelatedObject](state, FieldRelatedObjects)
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf(`Plan the model edits for this user story change.

Original: %s
Modified: %s
Scope: %s (%s)

Potentially impacted objects:
%s

Propose the minimal set of edits. Each change has an action (rename,
update, create or delete), target_type, target_id, target_name, from_value
and to_value for renames, a description and a reason.

Respond with JSON: {"summary", "changes": [...]}`,
		original.Text(), edited.Text(),
		flow.GetOr(state, FieldScope, ScopeLocal),
		flow.GetOr(state, FieldScopeReasoning, ""),
		formatRelated(related))

	plan, err := llm.CompleteJSON[changePlan](ctx, w.llm, changeSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("generating change plan: %w", err)
	}
	return flow.Delta{
		FieldProposedChanges: plan.Changes,
		FieldPlanSummary:     plan.Summary,
	}, nil
}

// approvePlan consumes the reviewer's verdict. Empty feedback or "APPROVED"
// releases the plan for application; anything else sends it to revision.
func (w *Workflow) approvePlan(_ context.Context, state flow.MapState) (flow.Delta, error) {
	feedback := flow.GetOr(state, flow.FieldFeedback, "")
	if feedback == "" || strings.EqualFold(strings.TrimSpace(feedback), "APPROVED") {
		return flow.Delta{flow.FieldFeedback: ""}, nil
	}
	return flow.Delta{
		FieldRevisionCount: flow.GetOr(state, FieldRevisionCount, 0) + 1,
	}, nil
}

func (w *Workflow) routeAfterApproval(_ context.Context, state flow.MapState) string {
	// Feedback still present means the reviewer asked for changes.
	if flow.GetOr(state, flow.FieldFeedback, "") != "" {
		return "revise"
	}
	return "apply"
}

func (w *Workflow) revisePlan(ctx context.Context, state flow.MapState) (flow.Delta, error) {
	edited, err := flow.Get[domain.UserStory](state, FieldEditedStory)
	if err != nil {
		return nil, err
	}
	previous, err := flow.Get[[]domain.ChangeItem](state, FieldProposedChanges)
	if err != nil {
		return nil, err
	}
	feedback := flow.GetOr(state, flow.FieldFeedback, "")

	var b strings.Builder
	for _, ch := range previous {
		fmt.Fprintf(&b, "- %s %s %s: %s\n", ch.Action, ch.TargetType, ch.TargetID, ch.Description)
	}
	prompt := fmt.Sprintf(`Revise this change plan based on reviewer feedback.

User story: %s

Previous plan:
%s
Feedback: %s

Respond with JSON: {"summary", "changes": [...]}`,
		edited.Text(), b.String(), feedback)

	plan, err := llm.CompleteJSON[changePlan](ctx, w.llm, changeSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("revising change plan: %w", err)
	}
	return flow.Delta{
		FieldProposedChanges: plan.Changes,
		FieldPlanSummary:     plan.Summary,
		flow.FieldFeedback:   "",
	}, nil
}

func (w *Workflow) applyChanges(ctx context.Context, state flow.MapState) (flow.Delta, error) {
	changes, err := flow.Get[[]domain.ChangeItem](state, FieldProposedChanges)
	if err != nil {
		return nil, err
	}
	if err := w.models.ApplyChanges(ctx, changes); err != nil {
		return nil, fmt.Errorf("applying changes: %w", err)
	}
	w.logger.Info("applied %d model changes", len(changes))
	return flow.Delta{FieldApplied: true}, nil
}

func formatRelated(related []modelstore.RelatedObject) string {
	if len(related) == 0 {
		return "None"
	}
	var b strings.Builder
	for _, obj := range related {
		fmt.Fprintf(&b, "- %s %s (%s): %s\n", obj.Type, obj.Name, obj.ID, obj.Description)
	}
	return b.String()
}

const changeSystemPrompt = `You are a DDD expert analyzing change impact on an event-storming model.
Always answer with a single JSON object matching the requested shape, with no surrounding prose.`
