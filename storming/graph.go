package storming

import (
	"context"

	"github.com/modelstorm/stormflow/flow"
)

// Graph builds and compiles the extraction graph. The three approval steps
// form the interrupt set; the walk suspends before each of them so a
// reviewer can patch feedback in.
func (w *Workflow) Graph() (*flow.CompiledGraph[flow.MapState], error) {
	g := flow.NewGraph[flow.MapState](Schema())

	g.AddStep("init", "seed the session transcript", w.initStep)
	g.AddStep("load_user_stories", "load the backlog from the model store", w.loadUserStories)
	g.AddStep("identify_bc", "propose bounded context candidates", w.identifyBC)
	g.AddStep("approve_bc", "apply reviewer feedback to the contexts", w.approveBC)
	g.AddStep("breakdown_user_story", "break down stories, one context per pass", w.breakdownUserStory)
	g.AddStep("extract_aggregates", "propose aggregates, one context per pass", w.extractAggregates)
	g.AddStep("approve_aggregates", "apply reviewer feedback to the aggregates", w.approveAggregates)
	g.AddStep("extract_commands", "propose commands for every aggregate", w.extractCommands)
	g.AddStep("extract_readmodels", "propose query-side views per context", w.extractReadModels)
	g.AddStep("extract_events", "propose events for every command", w.extractEvents)
	g.AddStep("identify_policies", "propose cross-context policies", w.identifyPolicies)
	g.AddStep("approve_policies", "apply reviewer feedback to the policies", w.approvePolicies)
	g.AddStep("save_model", "persist the approved model", w.saveModel)

	g.SetEntryPoint("init")
	g.AddEdge("init", "load_user_stories")

	g.AddRouter("load_user_stories", w.routeAfterLoad, map[string]string{
		"ok":    "identify_bc",
		"empty": flow.End,
	})

	g.AddEdge("identify_bc", "approve_bc")
	g.AddRouter("approve_bc", w.routeAfterBCApproval, map[string]string{
		"continue": "breakdown_user_story",
		"revise":   "identify_bc",
	})

	g.AddRouter("breakdown_user_story", w.routeBreakdown, map[string]string{
		"next": "breakdown_user_story",
		"done": "extract_aggregates",
	})
	g.AddRouter("extract_aggregates", w.routeAggregateExtraction, map[string]string{
		"next": "extract_aggregates",
		"done": "approve_aggregates",
	})
	g.AddRouter("approve_aggregates", w.routeAfterAggregateApproval, map[string]string{
		"continue": "extract_commands",
		"revise":   "extract_aggregates",
	})

	g.AddEdge("extract_commands", "extract_readmodels")
	g.AddEdge("extract_readmodels", "extract_events")
	g.AddEdge("extract_events", "identify_policies")
	g.AddEdge("identify_policies", "approve_policies")
	g.AddRouter("approve_policies", w.routeAfterPolicyApproval, map[string]string{
		"continue": "save_model",
		"revise":   "identify_policies",
	})

	g.AddEdge("save_model", flow.End)

	g.InterruptBefore("approve_bc", "approve_aggregates", "approve_policies")

	return g.Compile()
}

func (w *Workflow) routeAfterLoad(_ context.Context, state flow.MapState) string {
	if flow.GetOr(state, FieldError, "") != "" {
		return "empty"
	}
	return "ok"
}

func (w *Workflow) routeAfterBCApproval(_ context.Context, state flow.MapState) string {
	if flow.GetOr(state, FieldPhase, "") == PhaseIdentifyBC {
		return "revise"
	}
	return "continue"
}

func (w *Workflow) routeBreakdown(_ context.Context, state flow.MapState) string {
	if flow.GetOr(state, FieldPhase, "") == PhaseBreakdown {
		return "next"
	}
	return "done"
}

func (w *Workflow) routeAggregateExtraction(_ context.Context, state flow.MapState) string {
	if flow.GetOr(state, FieldPhase, "") == PhaseApproveAggregates {
		return "done"
	}
	return "next"
}

func (w *Workflow) routeAfterAggregateApproval(_ context.Context, state flow.MapState) string {
	if flow.GetOr(state, FieldPhase, "") == PhaseExtractAggregates {
		return "revise"
	}
	return "continue"
}

func (w *Workflow) routeAfterPolicyApproval(_ context.Context, state flow.MapState) string {
	if flow.GetOr(state, FieldPhase, "") == PhaseIdentifyPolicies {
		return "revise"
	}
	return "continue"
}
