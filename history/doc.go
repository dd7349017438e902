// Package history stores conversation messages keyed by thread ID.
//
// Runs that share a thread ID share a conversation: a node loads the
// thread's messages at the start of a run and appends new ones at the
// end. The store is application state, injected into nodes at graph
// construction; the execution engine never touches it. The in-memory
// implementation suits a single worker process, a persistent store
// belongs behind the same surface in production.
package history
