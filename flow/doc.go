// Package flow implements the workflow execution engine: graphs of named
// steps with conditional routing, per-field state merging, durable
// checkpoints, and pre-step interrupts for external review.
//
// A Graph is built from steps, edges, routers and an interrupt set, then
// validated and frozen with Compile. A Runner drives sessions through the
// compiled graph against a checkpoint store, persisting the full state and
// the next step after every executed step. When the next step is in the
// interrupt set the runner suspends before running it and returns control;
// the caller inspects the state, deposits feedback with PatchState, and
// calls Resume to let the suspended step consume it.
//
// Steps return deltas, not whole states. The schema decides how each field
// merges: overwrite by default, append for declared accumulator fields.
// Deltas naming undeclared fields are rejected rather than silently kept.
package flow
