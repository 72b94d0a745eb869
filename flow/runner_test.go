package flow

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/modelstorm/stormflow/store/memory"
)

func TestRunnerRejectThenApprove(t *testing.T) {
	reviewRuns := 0
	runner := NewRunner(approvalGraph(t, &reviewRuns), memory.New())
	ctx := context.Background()

	// A: start runs until the suspension before review.
	snap, err := runner.Start(ctx, "s1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !snap.AwaitingInput || snap.NextStep != "review" {
		t.Fatalf("expected suspension before review, got %+v", snap)
	}
	if reviewRuns != 0 {
		t.Fatalf("review ran before any resume")
	}

	// B: reject; the walk loops back to generate and suspends again.
	if err := runner.PatchState(ctx, "s1", Delta{FieldFeedback: "shorter please"}); err != nil {
		t.Fatal(err)
	}
	snap, err = runner.Resume(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if !snap.AwaitingInput || snap.NextStep != "review" {
		t.Fatalf("expected second suspension, got %+v", snap)
	}
	if reviewRuns != 1 {
		t.Errorf("expected review to have run once, ran %d times", reviewRuns)
	}
	if GetOr(snap.State, "revisions", 0) != 1 {
		t.Errorf("expected one revision, got %v", snap.State["revisions"])
	}

	// C: approve; the walk runs to End.
	if err := runner.PatchState(ctx, "s1", Delta{FieldFeedback: "APPROVED"}); err != nil {
		t.Fatal(err)
	}
	snap, err = runner.Resume(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if !snap.Terminal {
		t.Fatalf("expected terminal session, got %+v", snap)
	}
	if GetOr(snap.State, "result", "") != "done" {
		t.Errorf("expected result done, got %v", snap.State["result"])
	}
	if reviewRuns != 2 {
		t.Errorf("expected review to have run twice, ran %d times", reviewRuns)
	}

	terminal, err := runner.IsTerminal(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if !terminal {
		t.Error("IsTerminal reported false for a finished session")
	}
}

func TestRunnerResumeTerminalSession(t *testing.T) {
	runner := NewRunner(approvalGraph(t, nil), memory.New())
	ctx := context.Background()

	if _, err := runner.Start(ctx, "s1", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := runner.Resume(ctx, "s1"); err != nil {
		t.Fatal(err)
	}

	if _, err := runner.Resume(ctx, "s1"); !errors.Is(err, ErrSessionTerminal) {
		t.Errorf("expected ErrSessionTerminal, got %v", err)
	}
	if err := runner.PatchState(ctx, "s1", Delta{FieldFeedback: "x"}); !errors.Is(err, ErrSessionTerminal) {
		t.Errorf("expected ErrSessionTerminal from PatchState, got %v", err)
	}
}

func TestRunnerPatchRequiresSuspension(t *testing.T) {
	// A graph with no interrupts never suspends, so PatchState has no
	// window to hit.
	schema := NewMapSchema()
	g := NewGraph[MapState](schema)
	block := make(chan struct{})
	g.AddStep("a", "", func(_ context.Context, _ MapState) (Delta, error) {
		<-block
		return nil, nil
	})
	g.SetEntryPoint("a")
	g.AddEdge("a", End)
	cg, err := g.Compile()
	if err != nil {
		t.Fatal(err)
	}

	st := memory.New()
	runner := NewRunner(cg, st)
	ctx := context.Background()

	// Initialize without driving so the session exists mid-flight.
	if _, err := runner.engine.Init(ctx, "s1", nil); err != nil {
		t.Fatal(err)
	}
	if err := runner.PatchState(ctx, "s1", Delta{FieldFeedback: "x"}); !errors.Is(err, ErrNotSuspended) {
		t.Errorf("expected ErrNotSuspended, got %v", err)
	}
	close(block)
}

func TestRunnerUnknownSession(t *testing.T) {
	runner := NewRunner(approvalGraph(t, nil), memory.New())
	ctx := context.Background()

	if _, err := runner.Resume(ctx, "ghost"); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession, got %v", err)
	}
	if _, err := runner.GetState(ctx, "ghost"); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession, got %v", err)
	}
}

func TestRunnerStartDuplicate(t *testing.T) {
	runner := NewRunner(approvalGraph(t, nil), memory.New())
	ctx := context.Background()

	if _, err := runner.Start(ctx, "s1", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := runner.Start(ctx, "s1", nil); !errors.Is(err, ErrSessionExists) {
		t.Errorf("expected ErrSessionExists, got %v", err)
	}
}

// iterationGraph processes items one per execution via a self edge.
func iterationGraph(t *testing.T, items []string, processed *[]string) *CompiledGraph[MapState] {
	t.Helper()

	schema := NewMapSchema()
	schema.Field("items").Default("items", items)
	schema.Field("index").Default("index", 0)

	g := NewGraph[MapState](schema)
	g.AddStep("process", "", func(_ context.Context, state MapState) (Delta, error) {
		all := GetOr(state, "items", []string(nil))
		idx := GetOr(state, "index", 0)
		if idx >= len(all) {
			return Delta{"index": 0}, nil
		}
		*processed = append(*processed, all[idx])
		return Delta{"index": idx + 1}, nil
	})
	g.SetEntryPoint("process")
	g.AddRouter("process", func(_ context.Context, state MapState) string {
		if GetOr(state, "index", 0) == 0 {
			return "done"
		}
		return "next"
	}, map[string]string{"next": "process", "done": End})

	cg, err := g.Compile()
	if err != nil {
		t.Fatal(err)
	}
	return cg
}

func TestRunnerBoundedIteration(t *testing.T) {
	items := []string{"a", "b", "c"}
	var processed []string

	var selfEdges int
	runner := NewRunner(iterationGraph(t, items, &processed), memory.New())
	runner.AddListener(ListenerFunc[MapState](func(_ context.Context, snap *Snapshot[MapState]) {
		if snap.Step == "process" && snap.NextStep == "process" {
			selfEdges++
		}
	}))

	snap, err := runner.Start(context.Background(), "s1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !snap.Terminal {
		t.Fatalf("expected terminal, got %+v", snap)
	}
	if !reflect.DeepEqual(processed, items) {
		t.Errorf("expected %v processed, got %v", items, processed)
	}
	if selfEdges != len(items) {
		t.Errorf("expected self edge taken %d times, got %d", len(items), selfEdges)
	}
}

func TestRunnerDeterministicReplay(t *testing.T) {
	run := func() MapState {
		var processed []string
		runner := NewRunner(iterationGraph(t, []string{"x", "y"}, &processed), memory.New())
		snap, err := runner.Start(context.Background(), "s1", nil)
		if err != nil {
			t.Fatal(err)
		}
		return snap.State
	}

	first := run()
	second := run()
	if !reflect.DeepEqual(first, second) {
		t.Errorf("replayed run diverged: %v vs %v", first, second)
	}
}

func TestRunnerConcurrentResumersSerialize(t *testing.T) {
	// Two runners over the same store: the second resume of the same
	// suspension finds the step already executed.
	st := memory.New()
	reviewRuns := 0
	g := approvalGraph(t, &reviewRuns)
	r1 := NewRunner(g, st)
	r2 := NewRunner(g, st)
	ctx := context.Background()

	if _, err := r1.Start(ctx, "s1", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := r1.Resume(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	if _, err := r2.Resume(ctx, "s1"); !errors.Is(err, ErrSessionTerminal) {
		t.Errorf("expected ErrSessionTerminal for the losing resumer, got %v", err)
	}
	if reviewRuns != 1 {
		t.Errorf("review ran %d times across racing resumers", reviewRuns)
	}
}

func TestRunnerStartWithOverrides(t *testing.T) {
	schema := NewMapSchema()
	schema.Field("who").Default("who", "nobody")

	g := NewGraph[MapState](schema)
	g.AddStep("greet", "", func(_ context.Context, state MapState) (Delta, error) {
		return nil, nil
	})
	g.SetEntryPoint("greet")
	g.AddEdge("greet", End)
	cg, err := g.Compile()
	if err != nil {
		t.Fatal(err)
	}

	runner := NewRunner(cg, memory.New())
	snap, err := runner.Start(context.Background(), "s1", Delta{"who": "reviewer"})
	if err != nil {
		t.Fatal(err)
	}
	if GetOr(snap.State, "who", "") != "reviewer" {
		t.Errorf("override lost: %v", snap.State["who"])
	}
}
