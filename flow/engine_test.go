package flow

import (
	"context"
	"errors"
	"testing"

	"github.com/modelstorm/stormflow/store/memory"
)

// approvalGraph is a generate/review/finalize workflow with an interrupt
// before review: the shape used by all the suspension tests.
func approvalGraph(t *testing.T, reviewRuns *int) *CompiledGraph[MapState] {
	t.Helper()

	schema := NewMapSchema()
	schema.Field("candidates")
	schema.Field("result")
	schema.Field("revisions").Default("revisions", 0)

	g := NewGraph[MapState](schema)
	g.AddStep("generate", "", func(_ context.Context, state MapState) (Delta, error) {
		n := GetOr(state, "revisions", 0)
		return Delta{"candidates": []string{"draft"}, "revisions": n}, nil
	})
	g.AddStep("review", "", func(_ context.Context, state MapState) (Delta, error) {
		if reviewRuns != nil {
			*reviewRuns++
		}
		feedback := GetOr(state, FieldFeedback, "")
		if feedback != "" && feedback != "APPROVED" {
			return Delta{FieldFeedback: "", "revisions": GetOr(state, "revisions", 0) + 1}, nil
		}
		return Delta{FieldFeedback: "", "result": "accepted"}, nil
	})
	g.AddStep("finalize", "", func(_ context.Context, _ MapState) (Delta, error) {
		return Delta{"result": "done"}, nil
	})

	g.SetEntryPoint("generate")
	g.AddEdge("generate", "review")
	g.AddRouter("review", func(_ context.Context, state MapState) string {
		if GetOr(state, "result", "") == "accepted" {
			return "accept"
		}
		return "revise"
	}, map[string]string{"accept": "finalize", "revise": "generate"})
	g.AddEdge("finalize", End)
	g.InterruptBefore("review")

	cg, err := g.Compile()
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	return cg
}

func TestEngineSuspendsBeforeInterruptWithoutRunningIt(t *testing.T) {
	reviewRuns := 0
	engine := NewEngine(approvalGraph(t, &reviewRuns), memory.New())
	ctx := context.Background()

	if _, err := engine.Init(ctx, "s1", nil); err != nil {
		t.Fatal(err)
	}

	// generate
	snap, err := engine.Advance(ctx, "s1", false)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Step != "generate" || snap.NextStep != "review" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	// engine must suspend before review, not execute it
	snap, err = engine.Advance(ctx, "s1", false)
	if err != nil {
		t.Fatal(err)
	}
	if !snap.AwaitingInput {
		t.Error("expected AwaitingInput after reaching interrupt step")
	}
	if reviewRuns != 0 {
		t.Errorf("interrupt step ran %d times before resume", reviewRuns)
	}
	if got := GetOr(snap.State, FieldAwaitingInput, false); !got {
		t.Error("awaiting_input flag not set in state")
	}
}

func TestEngineSuspensionIsIdempotent(t *testing.T) {
	st := memory.New()
	engine := NewEngine(approvalGraph(t, nil), st)
	ctx := context.Background()

	if _, err := engine.Init(ctx, "s1", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Advance(ctx, "s1", false); err != nil {
		t.Fatal(err)
	}

	first, err := engine.Advance(ctx, "s1", false)
	if err != nil {
		t.Fatal(err)
	}
	second, err := engine.Advance(ctx, "s1", false)
	if err != nil {
		t.Fatal(err)
	}
	if first.Seq != second.Seq {
		t.Errorf("repeated suspension advanced seq: %d then %d", first.Seq, second.Seq)
	}

	cps, err := st.List(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	// start, generate, suspend; the second suspend call writes nothing.
	if len(cps) != 3 {
		t.Errorf("expected 3 checkpoints, got %d", len(cps))
	}
}

func TestEngineResumeExecutesInterruptExactlyOnce(t *testing.T) {
	reviewRuns := 0
	engine := NewEngine(approvalGraph(t, &reviewRuns), memory.New())
	ctx := context.Background()

	if _, err := engine.Init(ctx, "s1", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Advance(ctx, "s1", false); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Advance(ctx, "s1", false); err != nil {
		t.Fatal(err)
	}

	snap, err := engine.Advance(ctx, "s1", true)
	if err != nil {
		t.Fatal(err)
	}
	if reviewRuns != 1 {
		t.Errorf("expected review to run once, ran %d times", reviewRuns)
	}
	if snap.Step != "review" || snap.NextStep != "finalize" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if got := GetOr(snap.State, FieldAwaitingInput, true); got {
		t.Error("awaiting_input not cleared on resume")
	}
}

func TestEngineFailedStepPersistsNothing(t *testing.T) {
	schema := NewMapSchema()
	schema.Field("n").Default("n", 0)

	attempts := 0
	g := NewGraph[MapState](schema)
	g.AddStep("flaky", "", func(_ context.Context, state MapState) (Delta, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("transient")
		}
		return Delta{"n": GetOr(state, "n", 0) + 1}, nil
	})
	g.SetEntryPoint("flaky")
	g.AddEdge("flaky", End)
	cg, err := g.Compile()
	if err != nil {
		t.Fatal(err)
	}

	st := memory.New()
	engine := NewEngine(cg, st)
	ctx := context.Background()

	if _, err := engine.Init(ctx, "s1", nil); err != nil {
		t.Fatal(err)
	}

	_, err = engine.Advance(ctx, "s1", false)
	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Step != "flaky" {
		t.Fatalf("expected StepError for flaky, got %v", err)
	}

	cps, _ := st.List(ctx, "s1")
	if len(cps) != 1 {
		t.Fatalf("failed step persisted a checkpoint: %d checkpoints", len(cps))
	}

	// Re-attempt succeeds and runs the step only this once more.
	snap, err := engine.Advance(ctx, "s1", false)
	if err != nil {
		t.Fatal(err)
	}
	if GetOr(snap.State, "n", 0) != 1 {
		t.Errorf("expected n=1, got %v", snap.State["n"])
	}
}

func TestEngineStepRetries(t *testing.T) {
	schema := NewMapSchema()
	attempts := 0

	g := NewGraph[MapState](schema)
	g.AddStep("flaky", "", func(_ context.Context, _ MapState) (Delta, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("transient")
		}
		return nil, nil
	})
	g.SetEntryPoint("flaky")
	g.AddEdge("flaky", End)
	g.SetRetryConfig(&RetryConfig{MaxAttempts: 3})
	cg, err := g.Compile()
	if err != nil {
		t.Fatal(err)
	}

	engine := NewEngine(cg, memory.New())
	ctx := context.Background()
	if _, err := engine.Init(ctx, "s1", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Advance(ctx, "s1", false); err != nil {
		t.Fatalf("expected retries to succeed, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestEngineRouterUndeclaredLabel(t *testing.T) {
	schema := NewMapSchema()
	g := NewGraph[MapState](schema)
	g.AddStep("a", "", func(_ context.Context, _ MapState) (Delta, error) { return nil, nil })
	g.SetEntryPoint("a")
	g.AddRouter("a", func(_ context.Context, _ MapState) string { return "surprise" },
		map[string]string{"done": End})
	cg, err := g.Compile()
	if err != nil {
		t.Fatal(err)
	}

	engine := NewEngine(cg, memory.New())
	ctx := context.Background()
	if _, err := engine.Init(ctx, "s1", nil); err != nil {
		t.Fatal(err)
	}

	_, err = engine.Advance(ctx, "s1", false)
	var routerErr *RouterError
	if !errors.As(err, &routerErr) {
		t.Fatalf("expected RouterError, got %v", err)
	}
	if routerErr.Label != "surprise" {
		t.Errorf("expected label surprise, got %s", routerErr.Label)
	}
}

func TestEngineInitDuplicateSession(t *testing.T) {
	engine := NewEngine(approvalGraph(t, nil), memory.New())
	ctx := context.Background()

	if _, err := engine.Init(ctx, "s1", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Init(ctx, "s1", nil); !errors.Is(err, ErrSessionExists) {
		t.Errorf("expected ErrSessionExists, got %v", err)
	}
}

func TestEngineAdvanceUnknownSession(t *testing.T) {
	engine := NewEngine(approvalGraph(t, nil), memory.New())

	if _, err := engine.Advance(context.Background(), "ghost", false); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession, got %v", err)
	}
}
