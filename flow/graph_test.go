package flow

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func noopStep(_ context.Context, _ MapState) (Delta, error) {
	return nil, nil
}

func TestCompileLinearGraph(t *testing.T) {
	g := NewGraph[MapState](NewMapSchema())
	g.AddStep("a", "", noopStep)
	g.AddStep("b", "", noopStep)
	g.SetEntryPoint("a")
	g.AddEdge("a", "b")
	g.AddEdge("b", End)

	cg, err := g.Compile()
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if cg.EntryPoint() != "a" {
		t.Errorf("expected entry point a, got %s", cg.EntryPoint())
	}
	if len(cg.Steps()) != 2 {
		t.Errorf("expected 2 steps, got %d", len(cg.Steps()))
	}
}

func TestCompileWithoutEntryPoint(t *testing.T) {
	g := NewGraph[MapState](NewMapSchema())
	g.AddStep("a", "", noopStep)
	g.AddEdge("a", End)

	if _, err := g.Compile(); !errors.Is(err, ErrEntryPointNotSet) {
		t.Errorf("expected ErrEntryPointNotSet, got %v", err)
	}
}

func TestCompileUndeclaredEdgeTarget(t *testing.T) {
	g := NewGraph[MapState](NewMapSchema())
	g.AddStep("a", "", noopStep)
	g.SetEntryPoint("a")
	g.AddEdge("a", "ghost")

	_, err := g.Compile()
	if err == nil || !strings.Contains(err.Error(), "undeclared step") {
		t.Errorf("expected undeclared step error, got %v", err)
	}
}

func TestCompileStepWithoutOutgoing(t *testing.T) {
	g := NewGraph[MapState](NewMapSchema())
	g.AddStep("a", "", noopStep)
	g.AddStep("b", "", noopStep)
	g.SetEntryPoint("a")
	g.AddEdge("a", End)

	_, err := g.Compile()
	if err == nil || !strings.Contains(err.Error(), "no outgoing edge") {
		t.Errorf("expected no outgoing edge error, got %v", err)
	}
}

func TestCompileStaticEdgeAndRouterConflict(t *testing.T) {
	g := NewGraph[MapState](NewMapSchema())
	g.AddStep("a", "", noopStep)
	g.SetEntryPoint("a")
	g.AddEdge("a", End)
	g.AddRouter("a", func(_ context.Context, _ MapState) string { return "x" },
		map[string]string{"x": End})

	_, err := g.Compile()
	if err == nil || !strings.Contains(err.Error(), "both") {
		t.Errorf("expected conflict error, got %v", err)
	}
}

func TestCompileMultipleStaticEdges(t *testing.T) {
	g := NewGraph[MapState](NewMapSchema())
	g.AddStep("a", "", noopStep)
	g.AddStep("b", "", noopStep)
	g.SetEntryPoint("a")
	g.AddEdge("a", "b")
	g.AddEdge("a", End)
	g.AddEdge("b", End)

	_, err := g.Compile()
	if err == nil || !strings.Contains(err.Error(), "multiple static edges") {
		t.Errorf("expected multiple edges error, got %v", err)
	}
}

func TestCompileRouterLabelTargetsUndeclared(t *testing.T) {
	g := NewGraph[MapState](NewMapSchema())
	g.AddStep("a", "", noopStep)
	g.SetEntryPoint("a")
	g.AddRouter("a", func(_ context.Context, _ MapState) string { return "go" },
		map[string]string{"go": "ghost", "stop": End})

	_, err := g.Compile()
	if err == nil || !strings.Contains(err.Error(), "undeclared step") {
		t.Errorf("expected undeclared target error, got %v", err)
	}
}

func TestCompileUnreachableEnd(t *testing.T) {
	g := NewGraph[MapState](NewMapSchema())
	g.AddStep("a", "", noopStep)
	g.AddStep("b", "", noopStep)
	g.SetEntryPoint("a")
	g.AddEdge("a", "b")
	g.AddEdge("b", "a")

	_, err := g.Compile()
	if err == nil || !strings.Contains(err.Error(), "unreachable") {
		t.Errorf("expected unreachable error, got %v", err)
	}
}

func TestCompileInterruptMustBeDeclared(t *testing.T) {
	g := NewGraph[MapState](NewMapSchema())
	g.AddStep("a", "", noopStep)
	g.SetEntryPoint("a")
	g.AddEdge("a", End)
	g.InterruptBefore("ghost")

	_, err := g.Compile()
	if err == nil || !strings.Contains(err.Error(), "interrupt") {
		t.Errorf("expected interrupt error, got %v", err)
	}
}

func TestCompileCycleThroughRouterIsAllowed(t *testing.T) {
	// Loops are fine as long as some label leads to End.
	g := NewGraph[MapState](NewMapSchema())
	g.AddStep("work", "", noopStep)
	g.SetEntryPoint("work")
	g.AddRouter("work", func(_ context.Context, _ MapState) string { return "again" },
		map[string]string{"again": "work", "done": End})

	if _, err := g.Compile(); err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
}
