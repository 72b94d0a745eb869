package flow

import (
	"errors"
	"fmt"
)

var (
	// ErrEntryPointNotSet is returned by Compile when no entry step was set.
	ErrEntryPointNotSet = errors.New("entry point not set")

	// ErrNoSession is returned when a session has no checkpoint at all.
	ErrNoSession = errors.New("session not found")

	// ErrSessionExists is returned by Start when the session already has
	// checkpoints.
	ErrSessionExists = errors.New("session already started")

	// ErrSessionTerminal is returned when resuming or patching a session
	// that has already reached End.
	ErrSessionTerminal = errors.New("session is terminal")

	// ErrNotSuspended is returned by PatchState when the session is not
	// suspended at an interrupt step.
	ErrNotSuspended = errors.New("session is not suspended")
)

// GraphError describes a graph construction problem found at Compile time.
// It names the offending step, edge or label so the definition can be fixed.
type GraphError struct {
	Reason string
}

func (e *GraphError) Error() string {
	return "invalid graph: " + e.Reason
}

func graphErrorf(format string, args ...any) error {
	return &GraphError{Reason: fmt.Sprintf(format, args...)}
}

// StepError wraps a failure raised by a step after its retries were
// exhausted. The session's last-good checkpoint is untouched, so another
// Resume re-attempts the same step from the same state.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// RouterError reports a router returning a label outside its declared set.
// This is a programming error in the graph definition, never retried.
type RouterError struct {
	Step  string
	Label string
}

func (e *RouterError) Error() string {
	return fmt.Sprintf("router for step %s returned undeclared label %q", e.Step, e.Label)
}

// UnknownFieldError reports a delta touching a field the schema does not
// declare. Catching this at merge time keeps field-name typos from being
// silently dropped.
type UnknownFieldError struct {
	Field string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown state field %q", e.Field)
}
