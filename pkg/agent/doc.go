// Package agent implements the per-user planning engine: an LLM tool loop
// with provider failover, a clarifying-question tool, and human review of
// sensitive tool calls.
//
// Invariants:
// - A review-gated call never runs without an approve action for its thread.
// - A parked review expires after the review timeout and is dropped by the
//   next free-text turn on the same thread.
// - Tool calls route through toolexecutor only.
//
// Usage:
//
//	pool, _ := agent.NewProfilePool(profiles, nil, logger)
//	factory, _ := agent.NewPlannerFactory(cfg, tools, hist, pool, logger)
//	engine, _ := factory.NewEngine(ctx, userID, wallet)
//	reply, _ := engine.Execute(ctx, agent.ExecuteRequest{Input: "stake 1 BNB", ThreadID: thread})
package agent
