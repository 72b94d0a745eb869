package store

import (
	"context"
	"errors"
	"time"
)

// Checkpoint is a durable snapshot of a session: the full state after a
// step plus the name of the next step to run. Checkpoints for a session
// form a strictly increasing sequence; the highest Seq is authoritative.
// A checkpoint is immutable once written.
type Checkpoint struct {
	SessionID string         `json:"session_id"`
	Seq       int            `json:"seq"`
	NextStep  string         `json:"next_step"`
	State     any            `json:"state"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Metadata keys the engine writes.
const (
	// MetaSource records what produced the checkpoint: "start", "step",
	// "suspend" or "patch".
	MetaSource = "source"

	// MetaSuspended marks the session as waiting at an interrupt step.
	MetaSuspended = "suspended"
)

// Suspended reports whether the checkpoint marks a suspended session.
func (c *Checkpoint) Suspended() bool {
	v, ok := c.Metadata[MetaSuspended].(bool)
	return ok && v
}

var (
	// ErrNotFound is returned when a session has no checkpoints.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStaleCheckpoint is returned by Put when the checkpoint's Seq is
	// not exactly one past the session's latest. It is the serialization
	// point that keeps two concurrent runners from double-advancing the
	// same session.
	ErrStaleCheckpoint = errors.New("stale checkpoint sequence")
)

// Store persists checkpoints keyed by session. Implementations must make
// Put behave as a per-session compare-and-swap on Seq: a first checkpoint
// must have Seq 0, every later one Seq == latest+1, anything else fails
// with ErrStaleCheckpoint.
type Store interface {
	// Put appends a checkpoint for its session.
	Put(ctx context.Context, cp *Checkpoint) error

	// Latest returns the highest-Seq checkpoint for the session, or
	// ErrNotFound.
	Latest(ctx context.Context, sessionID string) (*Checkpoint, error)

	// List returns all checkpoints for the session in Seq order.
	List(ctx context.Context, sessionID string) ([]*Checkpoint, error)

	// Clear removes all checkpoints for the session. Intended for
	// garbage-collecting terminal sessions; caller policy decides when.
	Clear(ctx context.Context, sessionID string) error
}
