// Stormflow - Checkpointed Workflow Graphs with Human Review in Go
//
// Stormflow executes business workflows expressed as directed graphs of named
// steps with conditional routing, iteration loops, and mandatory pause points
// where an external reviewer approves or redirects progress before the
// workflow resumes. Every executed step produces a durable checkpoint, so a
// suspended session can be resumed later, from another process, against the
// same state.
//
// The engine lives in the flow package:
//
//	schema := flow.NewMapSchema()
//	schema.Accumulator("log")
//
//	g := flow.NewGraph(schema)
//	g.AddStep("draft", "Produce a draft", draftStep)
//	g.AddStep("review", "Consume reviewer feedback", reviewStep)
//	g.AddEdge("draft", "review")
//	g.AddRouter("review", routeReview, map[string]string{
//		"approved": flow.End,
//		"revise":   "draft",
//	})
//	g.SetEntryPoint("draft")
//	g.InterruptBefore("review")
//
//	compiled, err := g.Compile()
//	runner := flow.NewRunner(compiled, memory.New())
//
//	snap, err := runner.Start(ctx, "session-1", nil)   // suspends before "review"
//	err = runner.PatchState(ctx, "session-1", flow.Delta{flow.FieldFeedback: "APPROVED"})
//	snap, err = runner.Resume(ctx, "session-1")
//
// Checkpoint persistence backends live under store/ (memory, SQLite,
// PostgreSQL, Redis). The storming, planning and change packages build the
// domain-model extraction workflows on top of the engine, and server exposes
// them over HTTP/SSE.
package stormflow
