package storming

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/modelstorm/stormflow/domain"
	"github.com/modelstorm/stormflow/flow"
	"github.com/modelstorm/stormflow/llm"
	"github.com/modelstorm/stormflow/log"
	"github.com/modelstorm/stormflow/modelstore"
)

// Workflow is the event-storming extraction workflow: user stories in,
// approved bounded contexts, aggregates, commands, events and policies out,
// with a human approval gate after each strategic step.
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

type bcList struct {
	BoundedContexts []domain.BoundedContext `json:"bounded_contexts"`
}

type aggregateList struct {
	Aggregates []domain.Aggregate `json:"aggregates"`
}

type commandList struct {
	Commands []domain.Command `json:"commands"`
}

type readModelList struct {
	ReadModels []domain.ReadModel `json:"readmodels"`
}

type eventList struct {
	Events []domain.Event `json:"events"`
}

type policyList struct {
	Policies []domain.Policy `json:"policies"`
}

func (w *Workflow) initStep(_ context.Context, _ flow.MapState) (flow.Delta, error) {
	return flow.Delta{
		FieldPhase:    PhaseLoadStories,
		FieldMessages: []Message{ai("Starting event storming session.")},
	}, nil
}

func (w *Workflow) loadUserStories(ctx context.Context, _ flow.MapState) (flow.Delta, error) {
	stories, err := w.models.UserStories(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading user stories: %w", err)
	}
	if len(stories) == 0 {
		return flow.Delta{
			FieldPhase: PhaseComplete,
			FieldError: "no user stories found; load a backlog first",
		}, nil
	}

	var b strings.Builder
	for _, st := range stories {
		fmt.Fprintf(&b, "- [%s] %s\n", st.ID, st.Text())
	}
	return flow.Delta{
		FieldUserStories:  stories,
		FieldTotalStories: len(stories),
		FieldPhase:        PhaseIdentifyBC,
		FieldMessages: []Message{
			human(fmt.Sprintf("Loaded %d user stories:\n%s", len(stories), b.String())),
		},
	}, nil
}

func (w *Workflow) identifyBC(ctx context.Context, state flow.MapState) (flow.Delta, error) {
	stories, err := flow.Get[[]domain.UserStory](state, FieldUserStories)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	for _, st := range stories {
		fmt.Fprintf(&b, "[%s] %s\n", st.ID, st.Text())
	}
	notes := ""
	if revision := flow.GetOr(state, FieldRevisionNotes, ""); revision != "" {
		notes = fmt.Sprintf("\nReviewer feedback on the previous proposal, address it:\n%s\n", revision)
	}

	prompt := fmt.Sprintf(identifyBCPrompt, b.String(), notes)
	resp, err := llm.CompleteJSON[bcList](ctx, w.llm, systemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("identifying bounded contexts: %w", err)
	}
	w.logger.Info("identified %d bounded context candidates", len(resp.BoundedContexts))

	return flow.Delta{
		FieldBCCandidates:  resp.BoundedContexts,
		FieldRevisionNotes: "",
		FieldPhase:         PhaseIdentifyBC,
		FieldMessages: []Message{
			ai(fmt.Sprintf("Identified %d bounded context candidates. Please review.", len(resp.BoundedContexts))),
		},
	}, nil
}

// approveBC consumes the reviewer's feedback. Empty feedback or "APPROVED"
// promotes the candidates; anything else is kept as revision notes and the
// walk loops back to identification.
func (w *Workflow) approveBC(_ context.Context, state flow.MapState) (flow.Delta, error) {
	feedback := flow.GetOr(state, flow.FieldFeedback, "")
	if approved(feedback) {
		candidates, err := flow.Get[[]domain.BoundedContext](state, FieldBCCandidates)
		if err != nil {
			return nil, err
		}
		return flow.Delta{
			FieldApprovedBCs:    candidates,
			flow.FieldFeedback:  "",
			FieldPhase:          PhaseBreakdown,
			FieldCurrentBCIndex: 0,
			FieldMessages: []Message{
				human("APPROVED"),
				ai("Bounded contexts approved. Breaking down user stories."),
			},
		}, nil
	}
	return flow.Delta{
		flow.FieldFeedback: "",
		FieldRevisionNotes: feedback,
		FieldPhase:         PhaseIdentifyBC,
		FieldMessages: []Message{
			human(feedback),
			ai("Revising the bounded contexts based on your feedback."),
		},
	}, nil
}

// breakdownUserStory processes one approved bounded context per execution.
// The run that finds the index past the end is the loop exit: it rewinds
// the index and advances the phase instead of calling the model.
func (w *Workflow) breakdownUserStory(ctx context.Context, state flow.MapState) (flow.Delta, error) {
	approvedBCs, err := flow.Get[[]domain.BoundedContext](state, FieldApprovedBCs)
	if err != nil {
		return nil, err
	}
	idx := flow.GetOr(state, FieldCurrentBCIndex, 0)
	if idx >= len(approvedBCs) {
		return flow.Delta{
			FieldPhase:          PhaseExtractAggregates,
			FieldCurrentBCIndex: 0,
		}, nil
	}

	bc := approvedBCs[idx]
	stories, err := flow.Get[[]domain.UserStory](state, FieldUserStories)
	if err != nil {
		return nil, err
	}

	var breakdowns []domain.StoryBreakdown
	for _, st := range storiesIn(stories, bc.UserStoryIDs) {
		prompt := fmt.Sprintf(breakdownPrompt, fmt.Sprintf("[%s] %s", st.ID, st.Text()), bc.Name)
		bd, err := llm.CompleteJSON[domain.StoryBreakdown](ctx, w.llm, systemPrompt, prompt)
		if err != nil {
			return nil, fmt.Errorf("breaking down story %s: %w", st.ID, err)
		}
		bd.UserStoryID = st.ID
		breakdowns = append(breakdowns, bd)
	}

	return flow.Delta{
		FieldBreakdowns:     breakdowns,
		FieldCurrentBCIndex: idx + 1,
		FieldMessages: []Message{
			ai(fmt.Sprintf("Analyzed %d user stories in context %q.", len(breakdowns), bc.Name)),
		},
	}, nil
}

func (w *Workflow) extractAggregates(ctx context.Context, state flow.MapState) (flow.Delta, error) {
	approvedBCs, err := flow.Get[[]domain.BoundedContext](state, FieldApprovedBCs)
	if err != nil {
		return nil, err
	}
	idx := flow.GetOr(state, FieldCurrentBCIndex, 0)
	if idx >= len(approvedBCs) {
		return flow.Delta{
			FieldPhase:          PhaseApproveAggregates,
			FieldCurrentBCIndex: 0,
		}, nil
	}

	bc := approvedBCs[idx]
	breakdowns, err := flow.Get[[]domain.StoryBreakdown](state, FieldBreakdowns)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	for _, bd := range breakdowns {
		if !slices.Contains(bc.UserStoryIDs, bd.UserStoryID) {
			continue
		}
		fmt.Fprintf(&b, "Story %s\n  Sub-tasks: %s\n  Concepts: %s\n  Potential aggregates: %s\n",
			bd.UserStoryID,
			strings.Join(bd.SubTasks, ", "),
			strings.Join(bd.DomainConcepts, ", "),
			strings.Join(bd.PotentialAggregates, ", "))
	}

	short := strings.TrimPrefix(bc.ID, "BC-")
	prompt := fmt.Sprintf(extractAggregatesPrompt, bc.Name, bc.ID, bc.Description, b.String(), short)
	resp, err := llm.CompleteJSON[aggregateList](ctx, w.llm, systemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("extracting aggregates for %s: %w", bc.ID, err)
	}
	for i := range resp.Aggregates {
		resp.Aggregates[i].BoundedContextID = bc.ID
	}

	existing, err := flow.Get[[]domain.Aggregate](state, FieldAggregateCandidates)
	if err != nil {
		return nil, err
	}
	return flow.Delta{
		FieldAggregateCandidates: append(existing, resp.Aggregates...),
		FieldCurrentBCIndex:      idx + 1,
		FieldMessages: []Message{
			ai(fmt.Sprintf("Identified %d aggregates for context %q.", len(resp.Aggregates), bc.Name)),
		},
	}, nil
}

func (w *Workflow) approveAggregates(_ context.Context, state flow.MapState) (flow.Delta, error) {
	feedback := flow.GetOr(state, flow.FieldFeedback, "")
	if approved(feedback) {
		candidates, err := flow.Get[[]domain.Aggregate](state, FieldAggregateCandidates)
		if err != nil {
			return nil, err
		}
		return flow.Delta{
			FieldApprovedAggregates: candidates,
			flow.FieldFeedback:      "",
			FieldPhase:              PhaseExtractCommands,
			FieldMessages: []Message{
				human("APPROVED"),
				ai("Aggregates approved. Extracting commands."),
			},
		}, nil
	}
	// Re-extraction starts over, so discard the rejected candidates.
	return flow.Delta{
		flow.FieldFeedback:       "",
		FieldRevisionNotes:       feedback,
		FieldPhase:               PhaseExtractAggregates,
		FieldCurrentBCIndex:      0,
		FieldAggregateCandidates: []domain.Aggregate(nil),
		FieldMessages: []Message{
			human(feedback),
			ai("Revising the aggregates based on your feedback."),
		},
	}, nil
}

func (w *Workflow) extractCommands(ctx context.Context, state flow.MapState) (flow.Delta, error) {
	aggregates, err := flow.Get[[]domain.Aggregate](state, FieldApprovedAggregates)
	if err != nil {
		return nil, err
	}
	approvedBCs, err := flow.Get[[]domain.BoundedContext](state, FieldApprovedBCs)
	if err != nil {
		return nil, err
	}
	stories, err := flow.Get[[]domain.UserStory](state, FieldUserStories)
	if err != nil {
		return nil, err
	}

	var commands []domain.Command
	for _, agg := range aggregates {
		bc := contextByID(approvedBCs, agg.BoundedContextID)
		storyIDs := agg.UserStoryIDs
		if len(storyIDs) == 0 && bc != nil {
			storyIDs = bc.UserStoryIDs
		}
		var b strings.Builder
		for _, st := range storiesIn(stories, storyIDs) {
			fmt.Fprintf(&b, "[%s] %s\n", st.ID, st.Text())
		}

		bcName, short := "", ""
		if bc != nil {
			bcName = bc.Name
			short = strings.TrimPrefix(bc.ID, "BC-")
		}
		prompt := fmt.Sprintf(extractCommandsPrompt, agg.Name, agg.ID, bcName, b.String(), short)
		resp, err := llm.CompleteJSON[commandList](ctx, w.llm, systemPrompt, prompt)
		if err != nil {
			return nil, fmt.Errorf("extracting commands for %s: %w", agg.ID, err)
		}
		for i := range resp.Commands {
			resp.Commands[i].AggregateID = agg.ID
		}
		commands = append(commands, resp.Commands...)
	}

	return flow.Delta{
		FieldCommandCandidates: commands,
		FieldPhase:             PhaseExtractReadModels,
		FieldMessages: []Message{
			ai(fmt.Sprintf("Extracted %d commands across %d aggregates.", len(commands), len(aggregates))),
		},
	}, nil
}

// extractReadModels proposes query-side views per approved context. It runs
// before event extraction, so the candidate source events are only hinted
// at and source_event_ids may stay empty until then.
func (w *Workflow) extractReadModels(ctx context.Context, state flow.MapState) (flow.Delta, error) {
	approvedBCs, err := flow.Get[[]domain.BoundedContext](state, FieldApprovedBCs)
	if err != nil {
		return nil, err
	}
	aggregates, err := flow.Get[[]domain.Aggregate](state, FieldApprovedAggregates)
	if err != nil {
		return nil, err
	}
	commands, err := flow.Get[[]domain.Command](state, FieldCommandCandidates)
	if err != nil {
		return nil, err
	}
	stories, err := flow.Get[[]domain.UserStory](state, FieldUserStories)
	if err != nil {
		return nil, err
	}

	bcOfAggregate := make(map[string]string, len(aggregates))
	for _, agg := range aggregates {
		bcOfAggregate[agg.ID] = agg.BoundedContextID
	}

	var readModels []domain.ReadModel
	for _, bc := range approvedBCs {
		var cmdText strings.Builder
		for _, cmd := range commands {
			if bcOfAggregate[cmd.AggregateID] != bc.ID {
				continue
			}
			fmt.Fprintf(&cmdText, "- %s: %s (implements: %s)\n",
				cmd.Name, cmd.Description, strings.Join(cmd.UserStoryIDs, ", "))
		}
		if cmdText.Len() == 0 {
			continue
		}

		var storyText strings.Builder
		for _, st := range storiesIn(stories, bc.UserStoryIDs) {
			fmt.Fprintf(&storyText, "[%s] %s\n", st.ID, st.Text())
		}

		short := strings.TrimPrefix(bc.ID, "BC-")
		prompt := fmt.Sprintf(extractReadModelsPrompt, bc.Name, bc.ID, bc.Description,
			cmdText.String(), "(events not yet extracted; leave source_event_ids empty)",
			storyText.String(), short)
		resp, err := llm.CompleteJSON[readModelList](ctx, w.llm, systemPrompt, prompt)
		if err != nil {
			return nil, fmt.Errorf("extracting read models for %s: %w", bc.ID, err)
		}
		for i := range resp.ReadModels {
			resp.ReadModels[i].BoundedContextID = bc.ID
			if resp.ReadModels[i].ProvisioningType == "" {
				resp.ReadModels[i].ProvisioningType = "CQRS"
			}
		}
		readModels = append(readModels, resp.ReadModels...)
	}

	return flow.Delta{
		FieldReadModelCandidates: readModels,
		FieldPhase:               PhaseExtractEvents,
		FieldMessages: []Message{
			ai(fmt.Sprintf("Identified %d read models.", len(readModels))),
		},
	}, nil
}

func (w *Workflow) extractEvents(ctx context.Context, state flow.MapState) (flow.Delta, error) {
	aggregates, err := flow.Get[[]domain.Aggregate](state, FieldApprovedAggregates)
	if err != nil {
		return nil, err
	}
	approvedBCs, err := flow.Get[[]domain.BoundedContext](state, FieldApprovedBCs)
	if err != nil {
		return nil, err
	}
	commands, err := flow.Get[[]domain.Command](state, FieldCommandCandidates)
	if err != nil {
		return nil, err
	}

	var events []domain.Event
	for _, agg := range aggregates {
		var b strings.Builder
		for _, cmd := range commands {
			if cmd.AggregateID != agg.ID {
				continue
			}
			fmt.Fprintf(&b, "- %s: %s\n", cmd.Name, cmd.Description)
		}
		if b.Len() == 0 {
			continue
		}

		bcName, short := "", ""
		if bc := contextByID(approvedBCs, agg.BoundedContextID); bc != nil {
			bcName = bc.Name
			short = strings.TrimPrefix(bc.ID, "BC-")
		}
		prompt := fmt.Sprintf(extractEventsPrompt, agg.Name, bcName, b.String(), short)
		resp, err := llm.CompleteJSON[eventList](ctx, w.llm, systemPrompt, prompt)
		if err != nil {
			return nil, fmt.Errorf("extracting events for %s: %w", agg.ID, err)
		}
		for i := range resp.Events {
			resp.Events[i].AggregateID = agg.ID
		}
		events = append(events, resp.Events...)
	}

	return flow.Delta{
		FieldEventCandidates: events,
		FieldPhase:           PhaseIdentifyPolicies,
		FieldMessages: []Message{
			ai(fmt.Sprintf("Extracted %d events.", len(events))),
		},
	}, nil
}

func (w *Workflow) identifyPolicies(ctx context.Context, state flow.MapState) (flow.Delta, error) {
	approvedBCs, err := flow.Get[[]domain.BoundedContext](state, FieldApprovedBCs)
	if err != nil {
		return nil, err
	}
	aggregates, err := flow.Get[[]domain.Aggregate](state, FieldApprovedAggregates)
	if err != nil {
		return nil, err
	}
	commands, err := flow.Get[[]domain.Command](state, FieldCommandCandidates)
	if err != nil {
		return nil, err
	}
	events, err := flow.Get[[]domain.Event](state, FieldEventCandidates)
	if err != nil {
		return nil, err
	}

	bcOfAggregate := make(map[string]string, len(aggregates))
	for _, agg := range aggregates {
		bcOfAggregate[agg.ID] = agg.BoundedContextID
	}
	nameOfBC := make(map[string]string, len(approvedBCs))
	for _, bc := range approvedBCs {
		nameOfBC[bc.ID] = bc.Name
	}

	var bcText, eventText, commandText strings.Builder
	for _, bc := range approvedBCs {
		fmt.Fprintf(&bcText, "- %s: %s\n", bc.Name, bc.Description)
		fmt.Fprintf(&commandText, "%s:\n", bc.Name)
		for _, cmd := range commands {
			if bcOfAggregate[cmd.AggregateID] != bc.ID {
				continue
			}
			fmt.Fprintf(&commandText, "- %s: %s\n", cmd.Name, cmd.Description)
		}
	}
	for _, ev := range events {
		fmt.Fprintf(&eventText, "- %s (from %s): %s\n",
			ev.Name, nameOfBC[bcOfAggregate[ev.AggregateID]], ev.Description)
	}

	notes := flow.GetOr(state, FieldRevisionNotes, "")
	prompt := fmt.Sprintf(identifyPoliciesPrompt, bcText.String(), eventText.String(), commandText.String())
	if notes != "" {
		prompt += "\nReviewer feedback on the previous proposal, address it:\n" + notes
	}
	resp, err := llm.CompleteJSON[policyList](ctx, w.llm, systemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("identifying policies: %w", err)
	}

	return flow.Delta{
		FieldPolicyCandidates: resp.Policies,
		FieldRevisionNotes:    "",
		FieldPhase:            PhaseIdentifyPolicies,
		FieldMessages: []Message{
			ai(fmt.Sprintf("Identified %d cross-context policies. Please review.", len(resp.Policies))),
		},
	}, nil
}

func (w *Workflow) approvePolicies(_ context.Context, state flow.MapState) (flow.Delta, error) {
	feedback := flow.GetOr(state, flow.FieldFeedback, "")
	if approved(feedback) {
		candidates, err := flow.Get[[]domain.Policy](state, FieldPolicyCandidates)
		if err != nil {
			return nil, err
		}
		return flow.Delta{
			FieldApprovedPolicies: candidates,
			flow.FieldFeedback:    "",
			FieldPhase:            PhaseSaveModel,
			FieldMessages: []Message{
				human("APPROVED"),
				ai("Policies approved. Saving the model."),
			},
		}, nil
	}
	return flow.Delta{
		flow.FieldFeedback: "",
		FieldRevisionNotes: feedback,
		FieldPhase:         PhaseIdentifyPolicies,
		FieldMessages: []Message{
			human(feedback),
			ai("Revising the policies based on your feedback."),
		},
	}, nil
}

func (w *Workflow) saveModel(ctx context.Context, state flow.MapState) (flow.Delta, error) {
	model := domain.Model{}
	var err error
	if model.BoundedContexts, err = flow.Get[[]domain.BoundedContext](state, FieldApprovedBCs); err != nil {
		return nil, err
	}
	if model.Aggregates, err = flow.Get[[]domain.Aggregate](state, FieldApprovedAggregates); err != nil {
		return nil, err
	}
	if model.Commands, err = flow.Get[[]domain.Command](state, FieldCommandCandidates); err != nil {
		return nil, err
	}
	if model.Events, err = flow.Get[[]domain.Event](state, FieldEventCandidates); err != nil {
		return nil, err
	}
	if model.ReadModels, err = flow.Get[[]domain.ReadModel](state, FieldReadModelCandidates); err != nil {
		return nil, err
	}
	if model.Policies, err = flow.Get[[]domain.Policy](state, FieldApprovedPolicies); err != nil {
		return nil, err
	}

	if err := w.models.SaveModel(ctx, &model); err != nil {
		return nil, fmt.Errorf("saving model: %w", err)
	}
	w.logger.Info("saved model: %d contexts, %d aggregates, %d commands, %d events, %d read models, %d policies",
		len(model.BoundedContexts), len(model.Aggregates), len(model.Commands),
		len(model.Events), len(model.ReadModels), len(model.Policies))

	total := flow.GetOr(state, FieldTotalStories, 0)
	return flow.Delta{
		FieldPhase:            PhaseComplete,
		FieldProcessedStories: total,
		FieldMessages: []Message{
			ai("Model saved."),
		},
	}, nil
}

// approved treats empty feedback as consent so a bare resume moves the
// session forward.
func approved(feedback string) bool {
	return feedback == "" || strings.EqualFold(strings.TrimSpace(feedback), "APPROVED")
}

func storiesIn(stories []domain.UserStory, ids []string) []domain.UserStory {
	var out []domain.UserStory
	for _, st := range stories {
		if slices.Contains(ids, st.ID) {
			out = append(out, st)
		}
	}
	return out
}

func contextByID(contexts []domain.BoundedContext, id string) *domain.BoundedContext {
	for i := range contexts {
		if contexts[i].ID == id {
			return &contexts[i]
		}
	}
	return nil
}
