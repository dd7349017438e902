package controlplane

import (
	"context"

	"github.com/randalmurphal/duragraph"
)

// GraphInfo describes one registered graph to the control plane.
type GraphInfo struct {
	Name    string   `json:"name"`
	Version string   `json:"version"`
	Nodes   []string `json:"nodes"`
}

// WorkerRegistration announces a worker and its graphs.
type WorkerRegistration struct {
	WorkerName string      `json:"workerName"`
	Graphs     []GraphInfo `json:"graphs"`
}

// Client is the interface the worker runtime depends on. Implementations
// must round-trip initial and final state without losing key/value pairs.
type Client interface {
	// RegisterWorker announces the worker and its graphs.
	RegisterWorker(ctx context.Context, reg WorkerRegistration) error

	// ClaimRun asks for a run assignment. It returns (nil, nil) when no
	// work is available.
	ClaimRun(ctx context.Context, workerName string) (*duragraph.Assignment, error)

	// ReportResult pushes a run's terminal status and final state or
	// error back to the control plane.
	ReportResult(ctx context.Context, result duragraph.Result) error

	// RunCancelled reports whether the control plane has cancelled the
	// run. The engine consults this between nodes.
	RunCancelled(ctx context.Context, runID string) (bool, error)
}

// GraphInfoFor builds the registration record for a compiled graph.
func GraphInfoFor(g *duragraph.Graph) GraphInfo {
	return GraphInfo{
		Name:    g.Name(),
		Version: g.Version(),
		Nodes:   g.NodeNames(),
	}
}
