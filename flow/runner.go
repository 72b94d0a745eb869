package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelstorm/stormflow/log"
	"github.com/modelstorm/stormflow/store"
)

// Runner is the public façade over the engine: it starts sessions, drives
// them until they suspend or finish, accepts feedback patches while they
// are suspended, and resumes them.
//
// A session must be advanced by one runner at a time. Two runners racing on
// the same session are caught by the store's sequence check rather than
// corrupting state.
type Runner[S any] struct {
	engine    *Engine[S]
	store     store.Store
	listeners []Listener[S]
	logger    log.Logger
}

// NewRunner creates a runner over a compiled graph and checkpoint store.
func NewRunner[S any](graph *CompiledGraph[S], st store.Store) *Runner[S] {
	return &Runner[S]{
		engine: NewEngine(graph, st),
		store:  st,
		logger: log.Default(),
	}
}

// SetLogger replaces the runner's (and its engine's) logger.
func (r *Runner[S]) SetLogger(l log.Logger) {
	r.logger = l
	r.engine.SetLogger(l)
}

// AddListener registers a per-step listener.
func (r *Runner[S]) AddListener(l Listener[S]) {
	r.listeners = append(r.listeners, l)
}

// Start creates the session with the schema's defaults plus overrides and
// advances it until it suspends before an interrupt step or reaches End.
func (r *Runner[S]) Start(ctx context.Context, sessionID string, overrides Delta) (*Snapshot[S], error) {
	snap, err := r.engine.Init(ctx, sessionID, overrides)
	if err != nil {
		return nil, err
	}
	r.notify(ctx, snap)
	return r.drive(ctx, sessionID, false)
}

// Resume continues a suspended session: the suspended step is executed
// exactly once with the resume-in-progress flag set, then the walk
// continues to the next suspension or End.
//
// Resuming a session that is mid-flight (a previous advance failed before
// reaching a pause point) re-attempts the pending step from the last-good
// checkpoint; the failed attempt never persisted anything, so nothing runs
// twice. Resuming a terminal session is a usage error.
func (r *Runner[S]) Resume(ctx context.Context, sessionID string) (*Snapshot[S], error) {
	cp, err := r.latest(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if cp.NextStep == End {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionTerminal)
	}
	return r.drive(ctx, sessionID, cp.Suspended())
}

// PatchState merges caller-supplied fields (typically FieldFeedback) into
// the suspended session's state without advancing the engine. The patch is
// persisted as its own checkpoint, so a crash between PatchState and
// Resume loses nothing. Patching a session that is not suspended is a
// usage error.
func (r *Runner[S]) PatchState(ctx context.Context, sessionID string, delta Delta) error {
	cp, err := r.latest(ctx, sessionID)
	if err != nil {
		return err
	}
	if cp.NextStep == End {
		return fmt.Errorf("session %s: %w", sessionID, ErrSessionTerminal)
	}
	if !cp.Suspended() {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotSuspended)
	}

	state, err := r.engine.decodeState(cp.State)
	if err != nil {
		return fmt.Errorf("decoding state for session %s: %w", sessionID, err)
	}
	patched, err := r.engine.graph.schema.Apply(state, delta)
	if err != nil {
		return fmt.Errorf("applying patch to session %s: %w", sessionID, err)
	}

	patchCP := &store.Checkpoint{
		SessionID: sessionID,
		Seq:       cp.Seq + 1,
		NextStep:  cp.NextStep,
		State:     patched,
		Metadata: map[string]any{
			store.MetaSource:    "patch",
			store.MetaSuspended: true,
		},
		CreatedAt: time.Now(),
	}
	if err := r.store.Put(ctx, patchCP); err != nil {
		return fmt.Errorf("persisting patch for session %s: %w", sessionID, err)
	}
	r.logger.Debug("session %s patched while suspended at %s", sessionID, cp.NextStep)
	return nil
}

// GetState returns a read-only view of the session's latest checkpoint.
func (r *Runner[S]) GetState(ctx context.Context, sessionID string) (*Snapshot[S], error) {
	cp, err := r.latest(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	state, err := r.engine.decodeState(cp.State)
	if err != nil {
		return nil, fmt.Errorf("decoding state for session %s: %w", sessionID, err)
	}
	return &Snapshot[S]{
		SessionID:     sessionID,
		Seq:           cp.Seq,
		State:         state,
		NextStep:      cp.NextStep,
		AwaitingInput: cp.Suspended(),
		Terminal:      cp.NextStep == End,
	}, nil
}

// IsTerminal reports whether the session has reached End.
func (r *Runner[S]) IsTerminal(ctx context.Context, sessionID string) (bool, error) {
	cp, err := r.latest(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return cp.NextStep == End, nil
}

// drive advances until suspension or End, notifying listeners after every
// engine step. resuming applies to the first advance only.
func (r *Runner[S]) drive(ctx context.Context, sessionID string, resuming bool) (*Snapshot[S], error) {
	for {
		snap, err := r.engine.Advance(ctx, sessionID, resuming)
		if err != nil {
			return nil, err
		}
		resuming = false
		r.notify(ctx, snap)
		if snap.AwaitingInput || snap.Terminal {
			return snap, nil
		}
	}
}

func (r *Runner[S]) notify(ctx context.Context, snap *Snapshot[S]) {
	for _, l := range r.listeners {
		l.OnStep(ctx, snap)
	}
}

func (r *Runner[S]) latest(ctx context.Context, sessionID string) (*store.Checkpoint, error) {
	cp, err := r.store.Latest(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrNoSession)
		}
		return nil, fmt.Errorf("loading session %s: %w", sessionID, err)
	}
	return cp, nil
}
