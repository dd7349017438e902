package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Outcome is the result of one node invocation.
type Outcome string

// Outcome constants.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Store errors.
var (
	// ErrDuplicateEntry indicates an entry already exists for the
	// run and sequence index.
	ErrDuplicateEntry = errors.New("duplicate ledger entry")

	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("ledger store closed")
)

// Entry is one append-only ledger record.
type Entry struct {
	// RunID identifies the run this entry belongs to.
	RunID string `json:"runId"`

	// Seq is the entry's position within the run. Entries for a run
	// are monotonically ordered by Seq.
	Seq int `json:"seq"`

	// Node is the name of the node that was invoked.
	Node string `json:"node"`

	// Outcome records whether the node succeeded.
	Outcome Outcome `json:"outcome"`

	// Snapshot is the JSON-encoded state after the node ran. Empty for
	// failure entries.
	Snapshot json.RawMessage `json:"snapshot,omitempty"`

	// Error describes the failure for failure entries.
	Error string `json:"error,omitempty"`

	// Timestamp records when the entry was committed.
	Timestamp time.Time `json:"timestamp"`
}

// Store is the durable ledger interface the engine depends on.
//
// Append is the single commit point that makes a node's effect visible
// to future resumption: the engine appends before reporting a node as
// done to the rest of the plan.
type Store interface {
	// Append commits an entry. It fails with ErrDuplicateEntry if an
	// entry already exists for (RunID, Seq).
	Append(ctx context.Context, entry Entry) error

	// LatestSuccess returns the entry with the highest Seq and a
	// success outcome for the run, or nil if the run has none.
	LatestSuccess(ctx context.Context, runID string) (*Entry, error)

	// Entries returns all entries for the run ordered by Seq.
	Entries(ctx context.Context, runID string) ([]Entry, error)
}
