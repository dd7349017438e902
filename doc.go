// Package duragraph is a durable workflow-graph execution engine.
//
// A workflow is a named Graph of Nodes. Each Node transforms a shared
// State record; the Engine drives a Graph to completion for one Run,
// committing a ledger entry after every Node so that a crashed or
// restarted worker resumes from the last successful Node instead of
// re-executing the whole plan.
//
// The module is organized into subpackages by domain:
//
//   - ledger: durable run ledger (in-memory and SQLite backends)
//   - worker: worker runtime that registers graphs and executes assigned runs
//   - controlplane: client for the control-plane service
//   - auth: API keys and JWT session tokens for worker authentication
//   - history: thread-scoped conversation store used by chat-style nodes
//   - notify: notification services (log, webhook)
//   - testutil: test utilities and a fake control plane
//
// # Quick Start
//
//	graph, err := duragraph.NewGraph("hello-world").
//	    AddNode("greet", greetNode).
//	    AddNode("farewell", farewellNode).
//	    AddEdge("greet", "farewell").
//	    AddEdge("farewell", duragraph.END).
//	    SetEntry("greet").
//	    Compile()
//
//	engine := duragraph.NewEngine(ledger.NewMemoryStore())
//	run := duragraph.NewRun("hello-world", duragraph.State{"name": "World"})
//	final, err := engine.Execute(ctx, graph, run)
//
// See the worker package for the control loop that accepts run
// assignments from a control plane, and examples/ for complete workers.
package duragraph
