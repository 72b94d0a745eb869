package storming

import (
	"github.com/modelstorm/stormflow/flow"
)

// Workflow phases. Each producing step advances the phase as part of its
// delta; the routers read it back to decide where to go next.
const (
	PhaseLoadStories       = "load_user_stories"
	PhaseIdentifyBC        = "identify_bc"
	PhaseBreakdown         = "breakdown_user_story"
	PhaseExtractAggregates = "extract_aggregates"
	PhaseApproveAggregates = "approve_aggregates"
	PhaseExtractCommands   = "extract_commands"
	PhaseExtractReadModels = "extract_readmodels"
	PhaseExtractEvents     = "extract_events"
	PhaseIdentifyPolicies  = "identify_policies"
	PhaseSaveModel         = "save_model"
	PhaseComplete          = "complete"
)

// State field names.
const (
	FieldPhase               = "phase"
	FieldMessages            = "messages"
	FieldUserStories         = "user_stories"
	FieldTotalStories        = "total_user_stories"
	FieldProcessedStories    = "processed_user_stories"
	FieldBCCandidates        = "bc_candidates"
	FieldApprovedBCs         = "approved_bcs"
	FieldCurrentBCIndex      = "current_bc_index"
	FieldBreakdowns          = "breakdowns"
	FieldAggregateCandidates = "aggregate_candidates"
	FieldApprovedAggregates  = "approved_aggregates"
	FieldCommandCandidates   = "command_candidates"
	FieldReadModelCandidates = "readmodel_candidates"
	FieldEventCandidates     = "event_candidates"
	FieldPolicyCandidates    = "policy_candidates"
	FieldApprovedPolicies    = "approved_policies"
	FieldRevisionNotes       = "revision_notes"
	FieldError               = "error"
)

// Message is one entry in the session transcript.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Schema declares the extraction workflow's state fields. Messages and
// breakdowns are accumulators; everything else overwrites.
func Schema() *flow.MapSchema {
	s := flow.NewMapSchema()
	s.Field(FieldPhase).Default(FieldPhase, PhaseLoadStories)
	s.Accumulator(FieldMessages)
	s.Field(FieldUserStories)
	s.Field(FieldTotalStories).Default(FieldTotalStories, 0)
	s.Field(FieldProcessedStories).Default(FieldProcessedStories, 0)
	s.Field(FieldBCCandidates)
	s.Field(FieldApprovedBCs)
	s.Field(FieldCurrentBCIndex).Default(FieldCurrentBCIndex, 0)
	s.Accumulator(FieldBreakdowns)
	s.Field(FieldAggregateCandidates)
	s.Field(FieldApprovedAggregates)
	s.Field(FieldCommandCandidates)
	s.Field(FieldReadModelCandidates)
	s.Field(FieldEventCandidates)
	s.Field(FieldPolicyCandidates)
	s.Field(FieldApprovedPolicies)
	s.Field(FieldRevisionNotes)
	s.Field(FieldError)
	return s
}

func ai(content string) Message {
	return Message{Role: "assistant", Content: content}
}

func human(content string) Message {
	return Message{Role: "user", Content: content}
}
