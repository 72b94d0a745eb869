package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelstorm/stormflow/flow"
	"github.com/modelstorm/stormflow/log"
	"github.com/modelstorm/stormflow/store/memory"
)

// reviewGraph drafts, pauses for review and publishes. One interrupt, the
// same shape the real workflows use.
func reviewGraph(t *testing.T) *flow.CompiledGraph[flow.MapState] {
	t.Helper()

	schema := flow.NewMapSchema()
	schema.Field("draft")
	schema.Field("status")

	g := flow.NewGraph[flow.MapState](schema)
	g.AddStep("draft", "", func(_ context.Context, _ flow.MapState) (flow.Delta, error) {
		return flow.Delta{"draft": "proposal v1"}, nil
	})
	g.AddStep("review", "", func(_ context.Context, state flow.MapState) (flow.Delta, error) {
		feedback := flow.GetOr(state, flow.FieldFeedback, "")
		status := "approved"
		if feedback != "" && !strings.EqualFold(feedback, "APPROVED") {
			status = "rejected"
		}
		return flow.Delta{"status": status, flow.FieldFeedback: ""}, nil
	})
	g.AddStep("publish", "", func(_ context.Context, _ flow.MapState) (flow.Delta, error) {
		return flow.Delta{"status": "published"}, nil
	})
	g.SetEntryPoint("draft")
	g.AddEdge("draft", "review")
	g.AddRouter("review", func(_ context.Context, state flow.MapState) string {
		if flow.GetOr(state, "status", "") == "approved" {
			return "ok"
		}
		return "again"
	}, map[string]string{"ok": "publish", "again": "draft"})
	g.AddEdge("publish", flow.End)
	g.InterruptBefore("review")

	cg, err := g.Compile()
	require.NoError(t, err)
	return cg
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	runner := flow.NewRunner(reviewGraph(t), memory.New())
	runner.SetLogger(log.NopLogger{})
	srv := New(runner)
	srv.SetLogger(log.NopLogger{})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

type stateResponse struct {
	SessionID     string        `json:"session_id"`
	Seq           int           `json:"seq"`
	State         flow.MapState `json:"state"`
	NextStep      string        `json:"next_step"`
	AwaitingInput bool          `json:"awaiting_input"`
	Terminal      bool          `json:"terminal"`
}

func startSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/sessions", "application/json", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body["session_id"])
	return body["session_id"]
}

// pollState polls until pred holds; sessions advance in the background.
func pollState(t *testing.T, ts *httptest.Server, id string, pred func(stateResponse) bool) stateResponse {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(ts.URL + "/api/sessions/" + id)
		require.NoError(t, err)
		if resp.StatusCode == http.StatusOK {
			var st stateResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
			resp.Body.Close()
			if pred(st) {
				return st
			}
		} else {
			resp.Body.Close()
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("session never reached the expected state")
	return stateResponse{}
}

func sendFeedback(t *testing.T, ts *httptest.Server, id, feedback string) *http.Response {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"feedback": feedback})
	resp, err := http.Post(ts.URL+"/api/sessions/"+id+"/feedback", "application/json", bytes.NewBuffer(body))
	require.NoError(t, err)
	return resp
}

func TestSessionLifecycle(t *testing.T) {
	ts := newTestServer(t)
	id := startSession(t, ts)

	// The session suspends at the review gate.
	st := pollState(t, ts, id, func(s stateResponse) bool { return s.AwaitingInput })
	assert.Equal(t, "review", st.NextStep)
	assert.Equal(t, "proposal v1", st.State["draft"])

	// Approve: the walk runs to the end.
	resp := sendFeedback(t, ts, id, "APPROVED")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	st = pollState(t, ts, id, func(s stateResponse) bool { return s.Terminal })
	assert.Equal(t, "published", st.State["status"])
}

func TestRejectionLoopsBackToReview(t *testing.T) {
	ts := newTestServer(t)
	id := startSession(t, ts)

	first := pollState(t, ts, id, func(s stateResponse) bool { return s.AwaitingInput })

	resp := sendFeedback(t, ts, id, "not good enough")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	// A new draft, a new suspension, a higher sequence number.
	st := pollState(t, ts, id, func(s stateResponse) bool {
		return s.AwaitingInput && s.Seq > first.Seq
	})
	assert.Equal(t, "review", st.NextStep)
}

func TestStateUnknownSession(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/sessions/ghost")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFeedbackOnTerminalSession(t *testing.T) {
	ts := newTestServer(t)
	id := startSession(t, ts)

	pollState(t, ts, id, func(s stateResponse) bool { return s.AwaitingInput })
	resp := sendFeedback(t, ts, id, "APPROVED")
	resp.Body.Close()
	pollState(t, ts, id, func(s stateResponse) bool { return s.Terminal })

	resp = sendFeedback(t, ts, id, "too late")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestFeedbackInvalidBody(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/sessions/x/feedback", "application/json", bytes.NewBufferString("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestEventStream(t *testing.T) {
	ts := newTestServer(t)
	id := startSession(t, ts)
	pollState(t, ts, id, func(s stateResponse) bool { return s.AwaitingInput })

	// Subscribe before resuming so the stream sees the remaining steps.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/sessions/"+id+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	approve := sendFeedback(t, ts, id, "APPROVED")
	approve.Body.Close()

	var types []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			types = append(types, strings.TrimPrefix(line, "event: "))
		}
		if strings.HasPrefix(line, "event: complete") {
			break
		}
	}
	require.NotEmpty(t, types)
	assert.Equal(t, "review_required", types[0])
	assert.Contains(t, types, "step")
	assert.Equal(t, "complete", types[len(types)-1])
}

// A subscriber that connects after the session already suspended must not
// hang waiting for activity; the current snapshot is replayed immediately.
func TestEventStreamLateSubscriber(t *testing.T) {
	ts := newTestServer(t)
	id := startSession(t, ts)
	pollState(t, ts, id, func(s stateResponse) bool { return s.AwaitingInput })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/sessions/"+id+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var eventType, data string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			eventType = strings.TrimPrefix(line, "event: ")
		}
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	require.Equal(t, "review_required", eventType)

	var ev Event
	require.NoError(t, json.Unmarshal([]byte(data), &ev))
	assert.Equal(t, id, ev.SessionID)
	assert.Equal(t, "review", ev.NextStep)
	assert.False(t, ev.Terminal)
	assert.Equal(t, "proposal v1", ev.State["draft"])
}
