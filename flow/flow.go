package flow

import "context"

// End is the terminal marker. An edge or router label pointing at End
// finishes the session.
const End = "END"

// Reserved state fields the engine itself reads and writes. Schemas used
// with an interrupting graph must declare both (MapSchema declares them
// automatically).
const (
	// FieldAwaitingInput is set to true when the engine suspends before an
	// interrupt step, and cleared when the step is finally executed.
	FieldAwaitingInput = "awaiting_input"

	// FieldFeedback is the slot callers write into via Runner.PatchState
	// while a session is suspended. The step that consumes it is expected
	// to clear it in its delta.
	FieldFeedback = "feedback"
)

// Delta is a partial state update returned by a step: the subset of fields
// the step wants changed, keyed by field name. How a field is combined with
// the accumulated state is decided by the schema's reducer for that field.
type Delta map[string]any

// StepFunc is the unit of computation in a graph. It reads the current
// state and returns a delta; it must not mutate the state it is given.
// Steps may perform external I/O (LLM calls, storage reads) but the engine
// treats them as pure with respect to its own bookkeeping.
type StepFunc[S any] func(ctx context.Context, state S) (Delta, error)

// Step is a named step declared on a graph.
type Step[S any] struct {
	Name        string
	Description string
	Run         StepFunc[S]
}

// Edge is an unconditional link between two steps.
type Edge struct {
	From string
	To   string
}

// RouterFunc picks the outgoing label after a step has executed. It is
// evaluated against the post-merge state and must return one of the labels
// declared for the step; anything else is a fatal RouterError.
type RouterFunc[S any] func(ctx context.Context, state S) string

// router pairs a router function with its declared label set.
type router[S any] struct {
	fn     RouterFunc[S]
	labels map[string]string // label -> target step or End
}
