// Package ledger provides the durable run ledger: an append-only record
// of per-node outcomes that makes workflow runs resumable.
//
// Each entry records one node invocation for one run: the node's name,
// its sequence index, the state snapshot it produced, and whether it
// succeeded. The entry with the highest sequence index and a success
// outcome is the resume point; a restarted worker continues from that
// snapshot instead of re-executing completed nodes.
//
// Two backends are provided: MemoryStore for tests and examples, and
// SQLiteStore for durability across process restarts. Stores must accept
// concurrent appends for distinct runs; a single run's engine serializes
// its own appends.
package ledger
