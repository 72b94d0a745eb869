// Package server exposes a workflow runner over HTTP. Sessions are started
// and resumed asynchronously; progress is streamed to reviewers over
// server-sent events, with suspensions surfaced as review_required events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/modelstorm/stormflow/flow"
	"github.com/modelstorm/stormflow/log"
)

// Event is one server-sent event describing an engine step.
type Event struct {
	Type      string        `json:"type"`
	SessionID string        `json:"session_id"`
	Seq       int           `json:"seq"`
	NextStep  string        `json:"next_step"`
	Terminal  bool          `json:"terminal"`
	State     flow.MapState `json:"state,omitempty"`
}

// Server drives map-state workflow sessions over HTTP.
type Server struct {
	runner *flow.Runner[flow.MapState]
	logger log.Logger

	mu   sync.Mutex
	subs map[string][]chan Event
}

// New creates a server over a runner. The server registers itself as a
// step listener, so construct it before starting any sessions.
func New(runner *flow.Runner[flow.MapState]) *Server {
	s := &Server{
		runner: runner,
		logger: log.Default(),
		subs:   make(map[string][]chan Event),
	}
	runner.AddListener(flow.ListenerFunc[flow.MapState](s.onStep))
	return s
}

// SetLogger replaces the server's logger.
func (s *Server) SetLogger(l log.Logger) {
	s.logger = l
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sessions", s.handleStart)
	mux.HandleFunc("POST /api/sessions/{id}/feedback", s.handleFeedback)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleState)
	mux.HandleFunc("GET /api/sessions/{id}/events", s.handleEvents)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	return mux
}

// ListenAndServe starts the server on addr.
func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info("listening on %s", addr)
	return http.ListenAndServe(addr, s.Handler())
}

type startRequest struct {
	Overrides map[string]any `json:"overrides"`
}

type feedbackRequest struct {
	Feedback string `json:"feedback"`
}

// handleStart creates a session and drives it in the background. The
// response carries only the session id; progress arrives on the event
// stream.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sessionID := uuid.NewString()
	go func() {
		if _, err := s.runner.Start(context.Background(), sessionID, flow.Delta(req.Overrides)); err != nil {
			s.logger.Error("session %s failed: %v", sessionID, err)
			s.publish(Event{Type: "error", SessionID: sessionID, NextStep: err.Error()})
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"session_id": sessionID})
}

// handleFeedback patches the reviewer's feedback into the suspended session
// and resumes it in the background.
func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Feedback != "" {
		err := s.runner.PatchState(r.Context(), sessionID, flow.Delta{flow.FieldFeedback: req.Feedback})
		if err != nil {
			writeRunnerError(w, err)
			return
		}
	}
	go func() {
		if _, err := s.runner.Resume(context.Background(), sessionID); err != nil {
			s.logger.Error("resuming session %s failed: %v", sessionID, err)
			s.publish(Event{Type: "error", SessionID: sessionID, NextStep: err.Error()})
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"session_id": sessionID})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	snap, err := s.runner.GetState(r.Context(), r.PathValue("id"))
	if err != nil {
		writeRunnerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleEvents streams session progress as server-sent events until the
// client goes away. The latest snapshot is replayed first, so a subscriber
// that arrives between steps still sees where the session stands.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sessionID := r.PathValue("id")
	ch, cancel := s.subscribe(sessionID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	write := func(ev Event) bool {
		data, err := json.Marshal(ev)
		if err != nil {
			return true
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
		flusher.Flush()
		return !ev.Terminal
	}

	// No checkpoint yet means the session has not taken its first step;
	// there is nothing to replay.
	lastSeq := -1
	if snap, err := s.runner.GetState(r.Context(), sessionID); err == nil {
		ev := eventFor(snap)
		lastSeq = ev.Seq
		if !write(ev) {
			return
		}
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-ch:
			// The replayed snapshot may race a live event for the same
			// step; seq ordering filters the duplicate.
			if ev.Type != "error" && ev.Seq <= lastSeq {
				continue
			}
			lastSeq = ev.Seq
			if !write(ev) {
				return
			}
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// onStep translates engine snapshots into stream events.
func (s *Server) onStep(_ context.Context, snap *flow.Snapshot[flow.MapState]) {
	s.publish(eventFor(snap))
}

// eventFor maps a snapshot to its stream event. A suspension becomes
// review_required so clients know feedback is expected.
func eventFor(snap *flow.Snapshot[flow.MapState]) Event {
	eventType := "step"
	switch {
	case snap.AwaitingInput:
		eventType = "review_required"
	case snap.Terminal:
		eventType = "complete"
	}
	return Event{
		Type:      eventType,
		SessionID: snap.SessionID,
		Seq:       snap.Seq,
		NextStep:  snap.NextStep,
		Terminal:  snap.Terminal,
		State:     snap.State,
	}
}

func (s *Server) subscribe(sessionID string) (<-chan Event, func()) {
	ch := make(chan Event, 16)
	s.mu.Lock()
	s.subs[sessionID] = append(s.subs[sessionID], ch)
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		subs := s.subs[sessionID]
		for i, sub := range subs {
			if sub == ch {
				s.subs[sessionID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(s.subs[sessionID]) == 0 {
			delete(s.subs, sessionID)
		}
	}
	return ch, cancel
}

func (s *Server) publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs[ev.SessionID] {
		select {
		case ch <- ev:
		default:
			// Slow consumer, drop rather than stall the engine.
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeRunnerError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, flow.ErrNoSession):
		status = http.StatusNotFound
	case errors.Is(err, flow.ErrSessionTerminal), errors.Is(err, flow.ErrNotSuspended):
		status = http.StatusConflict
	}
	http.Error(w, err.Error(), status)
}
