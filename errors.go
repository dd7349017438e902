package duragraph

import (
	"errors"
	"fmt"
	"strings"
)

// Graph construction errors
var (
	// ErrEmptyGraph indicates the graph has no nodes.
	ErrEmptyGraph = errors.New("graph has no nodes")

	// ErrNoEntry indicates the graph has no entry node set.
	ErrNoEntry = errors.New("graph has no entry node")

	// ErrGraphNotFound indicates no graph is registered under the name.
	ErrGraphNotFound = errors.New("graph not found")
)

// Run errors
var (
	// ErrRunCancelled indicates the control plane cancelled the run.
	ErrRunCancelled = errors.New("run cancelled")

	// ErrRunNotFound indicates the run does not exist.
	ErrRunNotFound = errors.New("run not found")
)

// =============================================================================
// ValidationError
// =============================================================================

// ValidationError reports an invalid graph at construction time. It is
// fatal to registration, never to an in-flight run.
type ValidationError struct {
	Graph string // Graph name
	Msg   string // What is wrong
	Err   error  // Underlying error, if any
}

// Error implements error.
func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("graph %q: %s: %v", e.Graph, e.Msg, e.Err)
	}
	return fmt.Sprintf("graph %q: %s", e.Graph, e.Msg)
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error { return e.Err }

// =============================================================================
// CycleError
// =============================================================================

// CycleError reports a cycle in a graph's plan. It carries the offending
// cycle as the sequence of node names that closes the loop.
type CycleError struct {
	Graph string
	Cycle []string // e.g. ["a", "b", "a"]
}

// Error implements error.
func (e *CycleError) Error() string {
	return fmt.Sprintf("graph %q: cycle detected: %s", e.Graph, strings.Join(e.Cycle, " -> "))
}

// =============================================================================
// NodeError
// =============================================================================

// NodeError reports a node failure during execution. The engine records
// the failure in the run ledger and marks the run failed; it does not
// retry past a failed node.
type NodeError struct {
	Graph string
	Node  string // Failing node name
	Index int    // Sequence index within the plan
	Err   error
}

// Error implements error.
func (e *NodeError) Error() string {
	return fmt.Sprintf("node %q (index %d) in graph %q: %v", e.Node, e.Index, e.Graph, e.Err)
}

// Unwrap returns the node's underlying error.
func (e *NodeError) Unwrap() error { return e.Err }

// =============================================================================
// StorageError
// =============================================================================

// StorageError reports a run ledger failure. The engine never silently
// skips a ledger commit; a storage failure fails the run.
type StorageError struct {
	Op    string // Operation that failed (e.g. "append", "latest_success")
	RunID string
	Err   error
}

// Error implements error.
func (e *StorageError) Error() string {
	return fmt.Sprintf("ledger %s for run %q: %v", e.Op, e.RunID, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error { return e.Err }

// =============================================================================
// TransportError
// =============================================================================

// TransportError reports a control-plane communication failure. The worker
// runtime logs it and retries the control loop iteration rather than
// crashing the process.
type TransportError struct {
	Op  string // Operation that failed (e.g. "claim", "report")
	URL string
	Err error
}

// Error implements error.
func (e *TransportError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("control plane %s (%s): %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("control plane %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error { return e.Err }
