package duragraph

import (
	"fmt"
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// =============================================================================
// Run Status
// =============================================================================

// RunStatus is the lifecycle state of a run.
type RunStatus string

// Run status constants.
const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled:
		return true
	}
	return false
}

// =============================================================================
// Run
// =============================================================================

// Run is one execution instance of a graph.
type Run struct {
	// ID uniquely identifies the run.
	ID string `json:"runId"`

	// GraphName references a registered graph.
	GraphName string `json:"graphName"`

	// ThreadID optionally groups runs that share externally persisted
	// context, such as a conversation history. The engine never
	// interprets it; nodes and application stores do.
	ThreadID string `json:"threadId,omitempty"`

	// InitialState is the state handed to the first node when the run
	// ledger holds no prior progress.
	InitialState State `json:"initialState"`

	// Status is the run's current lifecycle state.
	Status RunStatus `json:"status"`

	// CreatedAt records when the run was created.
	CreatedAt time.Time `json:"createdAt"`
}

// NewRun creates a pending run with a generated ID.
func NewRun(graphName string, initial State) *Run {
	return &Run{
		ID:           generateRunID(graphName),
		GraphName:    graphName,
		InitialState: initial,
		Status:       RunPending,
		CreatedAt:    time.Now(),
	}
}

// WithThreadID sets the thread identifier and returns the run for chaining.
func (r *Run) WithThreadID(threadID string) *Run {
	r.ThreadID = threadID
	return r
}

// generateRunID creates a unique run ID: date, graph name, random suffix.
func generateRunID(graphName string) string {
	suffix, err := nanoid.Generate("0123456789abcdefghijklmnopqrstuvwxyz", 8)
	if err != nil {
		// nanoid only fails when the system entropy source does;
		// fall back to a timestamp suffix.
		suffix = fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%s-%s", time.Now().Format("2006-01-02"), graphName, suffix)
}

// =============================================================================
// Assignment and Result
// =============================================================================

// Assignment is a unit of work handed to a worker by the control plane.
type Assignment struct {
	RunID        string `json:"runId"`
	GraphName    string `json:"graphName"`
	ThreadID     string `json:"threadId,omitempty"`
	InitialState State  `json:"initialState"`
}

// Run converts the assignment into a Run ready for execution.
func (a Assignment) Run() *Run {
	initial := a.InitialState
	if initial == nil {
		initial = State{}
	}
	return &Run{
		ID:           a.RunID,
		GraphName:    a.GraphName,
		ThreadID:     a.ThreadID,
		InitialState: initial,
		Status:       RunPending,
		CreatedAt:    time.Now(),
	}
}

// Result is the terminal outcome of a run, reported to the control plane.
type Result struct {
	RunID      string    `json:"runId"`
	GraphName  string    `json:"graphName"`
	Status     RunStatus `json:"status"`
	FinalState State     `json:"finalState,omitempty"`

	// Error describes the failure for failed runs.
	Error string `json:"error,omitempty"`

	// FailedNode and FailedIndex identify the failing node for diagnosis.
	FailedNode  string `json:"failedNode,omitempty"`
	FailedIndex int    `json:"failedIndex,omitempty"`
}
