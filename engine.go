package duragraph

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/randalmurphal/duragraph/ledger"
)

// tracerName identifies this module's spans.
const tracerName = "github.com/randalmurphal/duragraph"

// CancelCheck reports whether the control plane has cancelled a run.
// The engine consults it between nodes; in-flight nodes are never
// forcibly interrupted.
type CancelCheck func(ctx context.Context, runID string) (bool, error)

// =============================================================================
// Engine
// =============================================================================

// Engine drives a graph to completion for one run. It owns no graphs and
// no runs; callers hand it both. The only resource it shares across runs
// is the ledger store.
type Engine struct {
	store     ledger.Store
	logger    *slog.Logger
	tracer    trace.Tracer
	cancelled CancelCheck
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine's logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// WithCancelCheck sets the hook the engine consults between nodes to
// honor control-plane cancellation.
func WithCancelCheck(check CancelCheck) EngineOption {
	return func(e *Engine) { e.cancelled = check }
}

// NewEngine creates an engine backed by the given ledger store.
func NewEngine(store ledger.Store, opts ...EngineOption) *Engine {
	e := &Engine{
		store:  store,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// =============================================================================
// Execute
// =============================================================================

// Execute runs the graph for the given run, resuming from the run ledger
// when prior progress exists. It returns the final state on completion.
// On node failure it records a failure entry, marks the run failed, and
// returns a NodeError; it never retries past a failed node.
//
// A node invoked again after a crash between node completion and ledger
// commit sees at-least-once invocation; the ledger append is the
// at-most-once commit point.
func (e *Engine) Execute(ctx context.Context, graph *Graph, run *Run) (State, error) {
	ctx, span := e.tracer.Start(ctx, "duragraph.execute",
		trace.WithAttributes(
			attribute.String("run.id", run.ID),
			attribute.String("graph.name", graph.Name()),
			attribute.String("graph.version", graph.Version()),
		))
	defer span.End()

	run.Status = RunRunning

	state, completed, successes, nextSeq, err := e.resumePoint(ctx, run)
	if err != nil {
		run.Status = RunFailed
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if len(completed) > 0 {
		e.logger.Info("resuming run from ledger",
			"run_id", run.ID,
			"graph", graph.Name(),
			"completed_nodes", len(completed),
		)
	}

	for _, level := range graph.Plan() {
		pending := make([]string, 0, len(level))
		for _, name := range level {
			if !completed[name] {
				pending = append(pending, name)
			}
		}
		if len(pending) == 0 {
			continue
		}

		if err := e.checkCancelled(ctx, run); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return state, err
		}

		// A resumed level may already hold committed nodes; their writes
		// keep their merge claims over the re-run nodes.
		var claimed map[string]bool
		if len(pending) < len(level) {
			claimed = committedWrites(run.InitialState, successes, level, state)
		}

		merged, seq, err := e.executeLevel(ctx, graph, run, pending, state, nextSeq, claimed)
		if err != nil {
			run.Status = RunFailed
			span.SetStatus(codes.Error, err.Error())
			return state, err
		}
		state = merged
		nextSeq = seq
		for _, name := range pending {
			completed[name] = true
		}
	}

	run.Status = RunCompleted
	return state, nil
}

// successEntry is one committed node success from the ledger: the node
// and the cumulative state snapshot it committed.
type successEntry struct {
	node  string
	state State
}

// resumePoint loads the run's ledger entries and derives the state to
// continue from, the set of completed nodes, the committed successes in
// sequence order, and the next sequence index.
func (e *Engine) resumePoint(ctx context.Context, run *Run) (State, map[string]bool, []successEntry, int, error) {
	entries, err := e.store.Entries(ctx, run.ID)
	if err != nil {
		return nil, nil, nil, 0, &StorageError{Op: "entries", RunID: run.ID, Err: err}
	}

	completed := make(map[string]bool)
	var successes []successEntry
	state := run.InitialState.Clone()
	nextSeq := 0

	for _, entry := range entries {
		if entry.Seq >= nextSeq {
			nextSeq = entry.Seq + 1
		}
		if entry.Outcome != ledger.OutcomeSuccess {
			continue
		}
		completed[entry.Node] = true
		snapshot, err := UnmarshalSnapshot(entry.Snapshot)
		if err != nil {
			return nil, nil, nil, 0, &StorageError{Op: "entries", RunID: run.ID, Err: err}
		}
		successes = append(successes, successEntry{node: entry.Node, state: snapshot})
		// Entries are ordered by Seq; the last success wins.
		state = snapshot
	}

	return state, completed, successes, nextSeq, nil
}

// committedWrites rebuilds the merge claims held by a level's already
// committed nodes. Levels commit in sequence order, so the last success
// recorded outside the level is the state the level started from; every
// key written or removed since then belongs to a committed node and
// must keep winning over the re-run nodes, exactly as it did in the
// attempt that committed it.
func committedWrites(initial State, successes []successEntry, level []string, resumed State) map[string]bool {
	inLevel := make(map[string]bool, len(level))
	for _, name := range level {
		inLevel[name] = true
	}

	pre := initial.Clone()
	for _, s := range successes {
		if !inLevel[s.node] {
			pre = s.state
		}
	}

	d := diffState(pre, resumed)
	claimed := make(map[string]bool, len(d.written)+len(d.removed))
	for k := range d.written {
		claimed[k] = true
	}
	for _, k := range d.removed {
		claimed[k] = true
	}
	return claimed
}

// executeLevel runs one plan level's pending nodes against base state and
// commits their ledger entries. Nodes in a level have no path between
// them and run concurrently; their outputs merge deterministically, the
// earliest-declared node winning contested keys regardless of completion
// order. Keys in claimed belong to nodes committed by a prior attempt of
// this level and stay theirs. Returns the merged state and the next free
// sequence index.
func (e *Engine) executeLevel(ctx context.Context, graph *Graph, run *Run, pending []string, base State, nextSeq int, claimed map[string]bool) (State, int, error) {
	results := make([]nodeResult, len(pending))

	if len(pending) == 1 {
		results[0] = e.invokeNode(ctx, graph, run, pending[0], base)
	} else {
		var wg sync.WaitGroup
		for i, name := range pending {
			wg.Add(1)
			go func(i int, name string) {
				defer wg.Done()
				results[i] = e.invokeNode(ctx, graph, run, name, base)
			}(i, name)
		}
		wg.Wait()
	}

	// Commit successes in declared order so snapshots accumulate with
	// the declared-order merge policy, then record the first failure.
	var succeeded []State
	var failed *nodeResult
	for i := range results {
		r := &results[i]
		if r.err != nil {
			if failed == nil {
				failed = r
			}
			continue
		}
		succeeded = append(succeeded, r.state)

		snapshot := mergeStates(base, succeeded, claimed)
		data, err := snapshot.MarshalSnapshot()
		if err != nil {
			// The node returned a non-serializable state; that is
			// the node's failure, not the store's.
			r.err = err
			if failed == nil {
				failed = r
			}
			succeeded = succeeded[:len(succeeded)-1]
			continue
		}

		entry := ledger.Entry{
			RunID:     run.ID,
			Seq:       nextSeq,
			Node:      r.name,
			Outcome:   ledger.OutcomeSuccess,
			Snapshot:  data,
			Timestamp: time.Now(),
		}
		if err := e.store.Append(ctx, entry); err != nil {
			return base, nextSeq, &StorageError{Op: "append", RunID: run.ID, Err: err}
		}
		nextSeq++
	}

	if failed != nil {
		nodeErr := &NodeError{
			Graph: graph.Name(),
			Node:  failed.name,
			Index: graph.declaredIndex(failed.name),
			Err:   failed.err,
		}
		entry := ledger.Entry{
			RunID:     run.ID,
			Seq:       nextSeq,
			Node:      failed.name,
			Outcome:   ledger.OutcomeFailure,
			Error:     failed.err.Error(),
			Timestamp: time.Now(),
		}
		if err := e.store.Append(ctx, entry); err != nil {
			return base, nextSeq, &StorageError{Op: "append", RunID: run.ID, Err: err}
		}
		return base, nextSeq + 1, nodeErr
	}

	return mergeStates(base, succeeded, claimed), nextSeq, nil
}

type nodeResult struct {
	name  string
	state State
	err   error
}

// invokeNode calls one node with its own copy of the state, tracing the
// call and converting panics into node failures so a misbehaving node
// cannot take the worker down.
func (e *Engine) invokeNode(ctx context.Context, graph *Graph, run *Run, name string, base State) (result nodeResult) {
	result.name = name

	ctx, span := e.tracer.Start(ctx, "duragraph.node",
		trace.WithAttributes(
			attribute.String("run.id", run.ID),
			attribute.String("node.name", name),
		))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			result.err = fmt.Errorf("node panicked: %v\n%s", r, debug.Stack())
			span.SetStatus(codes.Error, "panic")
		}
	}()

	start := time.Now()
	state, err := graph.node(name)(ctx, base.Clone())
	if err != nil {
		e.logger.Warn("node failed",
			"run_id", run.ID,
			"graph", graph.Name(),
			"node", name,
			"error", err,
		)
		span.SetStatus(codes.Error, err.Error())
		result.err = err
		return result
	}

	e.logger.Debug("node completed",
		"run_id", run.ID,
		"node", name,
		"duration", time.Since(start),
	)
	result.state = state
	return result
}

// checkCancelled stops scheduling further nodes once the context is done
// or the control plane has cancelled the run.
func (e *Engine) checkCancelled(ctx context.Context, run *Run) error {
	if err := ctx.Err(); err != nil {
		run.Status = RunCancelled
		return fmt.Errorf("%w: %v", ErrRunCancelled, err)
	}
	if e.cancelled == nil {
		return nil
	}
	cancelled, err := e.cancelled(ctx, run.ID)
	if err != nil {
		// A cancel-check failure must not kill the run; log and keep going.
		e.logger.Warn("cancel check failed", "run_id", run.ID, "error", err)
		return nil
	}
	if cancelled {
		run.Status = RunCancelled
		return ErrRunCancelled
	}
	return nil
}
