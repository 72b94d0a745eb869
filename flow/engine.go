package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/modelstorm/stormflow/log"
	"github.com/modelstorm/stormflow/store"
)

// Snapshot is what an advance hands back to the caller: the session's
// state, where the walk stands, and whether it is waiting for external
// input or finished.
type Snapshot[S any] struct {
	SessionID string `json:"session_id"`
	Seq       int    `json:"seq"`
	State     S      `json:"state"`

	// Step is the step executed by this advance, empty when nothing ran
	// (suspension, terminal).
	Step string `json:"step,omitempty"`

	// NextStep is the step the session will run next, or End.
	NextStep string `json:"next_step"`

	AwaitingInput bool `json:"awaiting_input"`
	Terminal      bool `json:"terminal"`
}

// Engine drives a compiled graph against a checkpoint store, one step per
// Advance. It owns no session bookkeeping beyond what the store holds, so
// any process with the same graph and store can pick a session up.
type Engine[S any] struct {
	graph  *CompiledGraph[S]
	store  store.Store
	logger log.Logger
}

// NewEngine creates an engine over a compiled graph and a checkpoint store.
func NewEngine[S any](graph *CompiledGraph[S], st store.Store) *Engine[S] {
	return &Engine[S]{
		graph:  graph,
		store:  st,
		logger: log.Default(),
	}
}

// SetLogger replaces the engine's logger.
func (e *Engine[S]) SetLogger(l log.Logger) {
	e.logger = l
}

// Init writes the session's first checkpoint: default state (plus any
// caller overrides) and the entry step. It fails with ErrSessionExists if
// the session already has checkpoints.
func (e *Engine[S]) Init(ctx context.Context, sessionID string, overrides Delta) (*Snapshot[S], error) {
	if _, err := e.store.Latest(ctx, sessionID); err == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionExists)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("loading session %s: %w", sessionID, err)
	}

	state := e.graph.schema.Init()
	if len(overrides) > 0 {
		var err error
		state, err = e.graph.schema.Apply(state, overrides)
		if err != nil {
			return nil, fmt.Errorf("applying initial overrides: %w", err)
		}
	}

	cp := &store.Checkpoint{
		SessionID: sessionID,
		Seq:       0,
		NextStep:  e.graph.entryPoint,
		State:     state,
		Metadata:  map[string]any{store.MetaSource: "start"},
		CreatedAt: time.Now(),
	}
	if err := e.store.Put(ctx, cp); err != nil {
		return nil, fmt.Errorf("writing initial checkpoint for %s: %w", sessionID, err)
	}

	e.logger.Debug("session %s initialized at step %s", sessionID, e.graph.entryPoint)
	return &Snapshot[S]{
		SessionID: sessionID,
		Seq:       0,
		State:     state,
		NextStep:  e.graph.entryPoint,
	}, nil
}

// Advance performs one engine step for the session:
//
//  1. load the latest checkpoint
//  2. if the next step is End, report the session terminal
//  3. if the next step is in the interrupt set and this is not a resume,
//     suspend without executing it
//  4. otherwise execute the step, merge its delta, resolve the outgoing
//     edge and persist a new checkpoint
//
// A failing step persists nothing; the last-good checkpoint stays
// authoritative and a later call re-attempts the same step.
func (e *Engine[S]) Advance(ctx context.Context, sessionID string, resuming bool) (*Snapshot[S], error) {
	cp, err := e.store.Latest(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrNoSession)
		}
		return nil, fmt.Errorf("loading session %s: %w", sessionID, err)
	}

	state, err := e.decodeState(cp.State)
	if err != nil {
		return nil, fmt.Errorf("decoding state for session %s: %w", sessionID, err)
	}

	if cp.NextStep == End {
		return &Snapshot[S]{
			SessionID: sessionID,
			Seq:       cp.Seq,
			State:     state,
			NextStep:  End,
			Terminal:  true,
		}, nil
	}

	if e.graph.isInterrupt(cp.NextStep) && !resuming {
		return e.suspend(ctx, cp, state)
	}

	step, ok := e.graph.steps[cp.NextStep]
	if !ok {
		return nil, fmt.Errorf("session %s: checkpoint names undeclared step %q", sessionID, cp.NextStep)
	}

	if resuming && e.graph.isInterrupt(cp.NextStep) {
		state, err = e.graph.schema.Apply(state, Delta{FieldAwaitingInput: false})
		if err != nil {
			return nil, fmt.Errorf("clearing awaiting flag for session %s: %w", sessionID, err)
		}
	}

	e.logger.Debug("session %s executing step %s (seq %d)", sessionID, step.Name, cp.Seq)
	delta, err := runWithRetry(ctx, e.graph.retry, step, state)
	if err != nil {
		e.logger.Error("session %s step %s failed: %v", sessionID, step.Name, err)
		return nil, &StepError{Step: step.Name, Err: err}
	}

	merged, err := e.graph.schema.Apply(state, delta)
	if err != nil {
		return nil, fmt.Errorf("merging delta from step %s: %w", step.Name, err)
	}

	next, err := e.resolveNext(ctx, step.Name, merged)
	if err != nil {
		return nil, err
	}

	nextCP := &store.Checkpoint{
		SessionID: sessionID,
		Seq:       cp.Seq + 1,
		NextStep:  next,
		State:     merged,
		Metadata: map[string]any{
			store.MetaSource: "step",
			"step":           step.Name,
		},
		CreatedAt: time.Now(),
	}
	if err := e.store.Put(ctx, nextCP); err != nil {
		return nil, fmt.Errorf("persisting checkpoint after step %s: %w", step.Name, err)
	}

	e.logger.Debug("session %s completed step %s, next %s", sessionID, step.Name, next)
	return &Snapshot[S]{
		SessionID: sessionID,
		Seq:       nextCP.Seq,
		State:     merged,
		Step:      step.Name,
		NextStep:  next,
		Terminal:  next == End,
	}, nil
}

// suspend records the pause before an interrupt step. The suspension is
// idempotent: a second advance against an already-suspended session writes
// nothing and returns the same view.
func (e *Engine[S]) suspend(ctx context.Context, cp *store.Checkpoint, state S) (*Snapshot[S], error) {
	if cp.Suspended() {
		return &Snapshot[S]{
			SessionID:     cp.SessionID,
			Seq:           cp.Seq,
			State:         state,
			NextStep:      cp.NextStep,
			AwaitingInput: true,
		}, nil
	}

	patched, err := e.graph.schema.Apply(state, Delta{FieldAwaitingInput: true})
	if err != nil {
		return nil, fmt.Errorf("setting awaiting flag for session %s: %w", cp.SessionID, err)
	}

	suspendCP := &store.Checkpoint{
		SessionID: cp.SessionID,
		Seq:       cp.Seq + 1,
		NextStep:  cp.NextStep,
		State:     patched,
		Metadata: map[string]any{
			store.MetaSource:    "suspend",
			store.MetaSuspended: true,
		},
		CreatedAt: time.Now(),
	}
	if err := e.store.Put(ctx, suspendCP); err != nil {
		return nil, fmt.Errorf("persisting suspension for session %s: %w", cp.SessionID, err)
	}

	e.logger.Info("session %s suspended before step %s", cp.SessionID, cp.NextStep)
	return &Snapshot[S]{
		SessionID:     cp.SessionID,
		Seq:           suspendCP.Seq,
		State:         patched,
		NextStep:      cp.NextStep,
		AwaitingInput: true,
	}, nil
}

// resolveNext evaluates the executed step's outgoing edge against the
// post-merge state.
func (e *Engine[S]) resolveNext(ctx context.Context, from string, state S) (string, error) {
	if r, ok := e.graph.routers[from]; ok {
		label := r.fn(ctx, state)
		target, declared := r.labels[label]
		if !declared {
			return "", &RouterError{Step: from, Label: label}
		}
		return target, nil
	}
	return e.graph.next[from], nil
}

// decodeState converts a stored state back to S. States loaded from a
// durable backend come back as generic JSON values, so a round-trip
// through encoding/json restores the expected shape when the direct type
// assertion misses.
func (e *Engine[S]) decodeState(v any) (S, error) {
	if s, ok := v.(S); ok {
		return s, nil
	}
	var s S
	raw, err := json.Marshal(v)
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return s, err
	}
	return s, nil
}
