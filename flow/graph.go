package flow

import (
	"slices"
	"sort"
)

// Graph is a mutable workflow definition: steps, edges, routers, the entry
// step and the interrupt set. Compile validates it and produces the
// immutable CompiledGraph the engine executes.
type Graph[S any] struct {
	schema     Schema[S]
	steps      map[string]Step[S]
	edges      []Edge
	routers    map[string]router[S]
	entryPoint string
	interrupts []string
	retry      *RetryConfig
}

// NewGraph creates a new graph definition over the given schema.
func NewGraph[S any](schema Schema[S]) *Graph[S] {
	return &Graph[S]{
		schema:  schema,
		steps:   make(map[string]Step[S]),
		routers: make(map[string]router[S]),
	}
}

// AddStep declares a named step.
func (g *Graph[S]) AddStep(name, description string, fn StepFunc[S]) {
	g.steps[name] = Step[S]{
		Name:        name,
		Description: description,
		Run:         fn,
	}
}

// AddEdge adds an unconditional edge between two steps. The target may be
// End.
func (g *Graph[S]) AddEdge(from, to string) {
	g.edges = append(g.edges, Edge{From: from, To: to})
}

// AddRouter adds a conditional edge: after from executes, fn is evaluated
// against the merged state and its returned label is resolved through
// labels. Every label target must be a declared step or End; a label the
// map does not contain is a construction-time error, not a runtime one.
func (g *Graph[S]) AddRouter(from string, fn RouterFunc[S], labels map[string]string) {
	g.routers[from] = router[S]{fn: fn, labels: labels}
}

// SetEntryPoint sets the entry step for the graph.
func (g *Graph[S]) SetEntryPoint(name string) {
	g.entryPoint = name
}

// InterruptBefore adds steps to the interrupt set. The engine suspends
// before executing any of them and returns control to the caller.
func (g *Graph[S]) InterruptBefore(names ...string) {
	g.interrupts = append(g.interrupts, names...)
}

// SetRetryConfig sets the retry policy applied to every step execution.
func (g *Graph[S]) SetRetryConfig(cfg *RetryConfig) {
	g.retry = cfg
}

// CompiledGraph is an immutable, validated graph ready for execution.
type CompiledGraph[S any] struct {
	schema     Schema[S]
	steps      map[string]Step[S]
	next       map[string]string // static single successor
	routers    map[string]router[S]
	entryPoint string
	interrupts []string
	retry      *RetryConfig
}

// Compile validates the definition and freezes it. It fails fast with a
// descriptive error when an edge references an undeclared step, a step has
// both or neither kind of outgoing edge, a router label targets an
// undeclared step, the entry step is missing, or End is unreachable.
func (g *Graph[S]) Compile() (*CompiledGraph[S], error) {
	if g.entryPoint == "" {
		return nil, ErrEntryPointNotSet
	}
	if _, ok := g.steps[g.entryPoint]; !ok {
		return nil, graphErrorf("entry step %q is not declared", g.entryPoint)
	}

	next := make(map[string]string, len(g.edges))
	for _, e := range g.edges {
		if _, ok := g.steps[e.From]; !ok {
			return nil, graphErrorf("edge %s -> %s starts at undeclared step", e.From, e.To)
		}
		if e.To != End {
			if _, ok := g.steps[e.To]; !ok {
				return nil, graphErrorf("edge %s -> %s targets undeclared step", e.From, e.To)
			}
		}
		if prev, dup := next[e.From]; dup {
			return nil, graphErrorf("step %q has multiple static edges (%s, %s); use a router", e.From, prev, e.To)
		}
		if _, routed := g.routers[e.From]; routed {
			return nil, graphErrorf("step %q has both a static edge and a router", e.From)
		}
		next[e.From] = e.To
	}

	for from, r := range g.routers {
		if _, ok := g.steps[from]; !ok {
			return nil, graphErrorf("router declared for undeclared step %q", from)
		}
		if len(r.labels) == 0 {
			return nil, graphErrorf("router for step %q declares no labels", from)
		}
		for label, target := range r.labels {
			if target == End {
				continue
			}
			if _, ok := g.steps[target]; !ok {
				return nil, graphErrorf("router label %q on step %q targets undeclared step %q", label, from, target)
			}
		}
	}

	for name := range g.steps {
		_, hasEdge := next[name]
		_, hasRouter := g.routers[name]
		if !hasEdge && !hasRouter {
			return nil, graphErrorf("step %q has no outgoing edge", name)
		}
	}

	for _, name := range g.interrupts {
		if _, ok := g.steps[name]; !ok {
			return nil, graphErrorf("interrupt set names undeclared step %q", name)
		}
	}

	if !reachesEnd(g.entryPoint, next, g.routers) {
		return nil, graphErrorf("terminal marker is unreachable from entry step %q", g.entryPoint)
	}

	interrupts := slices.Clone(g.interrupts)
	sort.Strings(interrupts)

	return &CompiledGraph[S]{
		schema:     g.schema,
		steps:      g.steps,
		next:       next,
		routers:    g.routers,
		entryPoint: g.entryPoint,
		interrupts: interrupts,
		retry:      g.retry,
	}, nil
}

// reachesEnd walks the transitive closure of edges and router label targets
// from entry and reports whether End is reachable.
func reachesEnd[S any](entry string, next map[string]string, routers map[string]router[S]) bool {
	seen := make(map[string]bool)
	queue := []string{entry}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == End {
			return true
		}
		if seen[cur] {
			continue
		}
		seen[cur] = true

		if to, ok := next[cur]; ok {
			queue = append(queue, to)
		}
		if r, ok := routers[cur]; ok {
			for _, target := range r.labels {
				queue = append(queue, target)
			}
		}
	}
	return false
}

// EntryPoint returns the entry step name.
func (cg *CompiledGraph[S]) EntryPoint() string {
	return cg.entryPoint
}

// Interrupts returns the interrupt set.
func (cg *CompiledGraph[S]) Interrupts() []string {
	return slices.Clone(cg.interrupts)
}

// Steps returns the declared step names.
func (cg *CompiledGraph[S]) Steps() []string {
	names := make([]string, 0, len(cg.steps))
	for name := range cg.steps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (cg *CompiledGraph[S]) isInterrupt(name string) bool {
	_, found := slices.BinarySearch(cg.interrupts, name)
	return found
}
