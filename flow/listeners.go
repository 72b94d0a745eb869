package flow

import "context"

// Listener observes a session's progress: it is notified once per engine
// step on the runner that drives the session, including the suspension and
// terminal snapshots. Streaming surfaces (SSE, progress UIs) hang off this.
type Listener[S any] interface {
	OnStep(ctx context.Context, snap *Snapshot[S])
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc[S any] func(ctx context.Context, snap *Snapshot[S])

// OnStep calls the function.
func (f ListenerFunc[S]) OnStep(ctx context.Context, snap *Snapshot[S]) {
	f(ctx, snap)
}
