package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/randalmurphal/duragraph"
	"github.com/randalmurphal/duragraph/auth"
	"github.com/randalmurphal/duragraph/controlplane"
	"github.com/randalmurphal/duragraph/ledger"
	"github.com/randalmurphal/duragraph/notify"
)

// =============================================================================
// Worker
// =============================================================================

// Worker registers graphs and executes assigned runs. Create one with
// New, Register graphs, then call Run.
type Worker struct {
	name     string
	client   controlplane.Client
	engine   *duragraph.Engine
	logger   *slog.Logger
	notifier notify.Notifier

	pollInterval  time.Duration
	maxConcurrent int

	mu     sync.RWMutex
	graphs map[string]*duragraph.Graph

	wg  sync.WaitGroup
	sem chan struct{}
}

// Options configures a Worker.
type Options struct {
	// Name identifies the worker to the control plane.
	Name string

	// Client talks to the control plane. Required.
	Client controlplane.Client

	// Store is the run ledger backing resumable execution. Required.
	Store ledger.Store

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Notifier receives run lifecycle events. Defaults to no-op.
	Notifier notify.Notifier

	// MaxConcurrentRuns bounds simultaneously executing runs.
	MaxConcurrentRuns int

	// PollInterval is the wait between claim attempts when no work is
	// available.
	PollInterval time.Duration
}

// New creates a worker.
func New(opts Options) (*Worker, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("worker: control plane client required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("worker: ledger store required")
	}

	name := opts.Name
	if name == "" {
		name = DefaultWorkerName
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	maxConcurrent := opts.MaxConcurrentRuns
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentRuns
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	w := &Worker{
		name:          name,
		client:        opts.Client,
		logger:        logger,
		notifier:      notifier,
		pollInterval:  pollInterval,
		maxConcurrent: maxConcurrent,
		graphs:        make(map[string]*duragraph.Graph),
		sem:           make(chan struct{}, maxConcurrent),
	}
	w.engine = duragraph.NewEngine(opts.Store,
		duragraph.WithLogger(logger),
		duragraph.WithCancelCheck(opts.Client.RunCancelled),
	)
	return w, nil
}

// NewFromConfig builds a worker wired per cfg: an HTTP control-plane
// client, plus a SQLite ledger when LedgerPath is set or an in-memory
// ledger otherwise. With JWTSecret set the client mints short-lived
// worker tokens; otherwise it sends the static APIKey.
func NewFromConfig(cfg Config, logger *slog.Logger) (*Worker, error) {
	clientCfg := controlplane.HTTPClientConfig{
		BaseURL: cfg.url(),
		APIKey:  cfg.APIKey,
	}
	if cfg.JWTSecret != "" {
		// Graphs register after construction, so the token carries no
		// graph scope; an unscoped token authorizes all of the worker's
		// graphs.
		clientCfg.TokenSource = auth.NewTokenSource(auth.TokenConfig{
			Secret: []byte(cfg.JWTSecret),
		}, cfg.workerName(), nil)
	}
	client := controlplane.NewHTTPClient(clientCfg)

	var store ledger.Store
	if cfg.LedgerPath != "" {
		s, err := ledger.NewSQLiteStore(cfg.LedgerPath)
		if err != nil {
			return nil, fmt.Errorf("open ledger %s: %w", cfg.LedgerPath, err)
		}
		store = s
	} else {
		store = ledger.NewMemoryStore()
	}

	return New(Options{
		Name:              cfg.workerName(),
		Client:            client,
		Store:             store,
		Logger:            logger,
		MaxConcurrentRuns: cfg.maxConcurrentRuns(),
		PollInterval:      cfg.pollInterval(),
	})
}

// Register adds a compiled graph to the worker's registry. Registering a
// name again replaces the prior graph; runs already executing keep the
// graph they started with.
func (w *Worker) Register(graph *duragraph.Graph) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if prior, ok := w.graphs[graph.Name()]; ok && prior.Version() != graph.Version() {
		w.logger.Warn("replacing registered graph",
			"graph", graph.Name(),
			"old_version", prior.Version(),
			"new_version", graph.Version(),
		)
	}
	w.graphs[graph.Name()] = graph
}

// Graph returns the registered graph for name.
func (w *Worker) Graph(name string) (*duragraph.Graph, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	g, ok := w.graphs[name]
	return g, ok
}

// registration builds the announcement for all registered graphs.
func (w *Worker) registration() controlplane.WorkerRegistration {
	w.mu.RLock()
	defer w.mu.RUnlock()

	reg := controlplane.WorkerRegistration{WorkerName: w.name}
	for _, g := range w.graphs {
		reg.Graphs = append(reg.Graphs, controlplane.GraphInfoFor(g))
	}
	return reg
}

// =============================================================================
// Control Loop
// =============================================================================

// Run is the blocking control loop. It announces registered graphs,
// then claims and executes assignments until ctx is cancelled. Errors
// from a single run or from the transport are logged and survived.
func (w *Worker) Run(ctx context.Context) error {
	w.mu.RLock()
	registered := len(w.graphs)
	w.mu.RUnlock()
	if registered == 0 {
		return fmt.Errorf("worker %s: no graphs registered", w.name)
	}

	if err := w.announce(ctx); err != nil {
		return err
	}

	w.logger.Info("worker started", "worker", w.name, "graphs", registered)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping", "worker", w.name)
			w.wg.Wait()
			return nil
		default:
		}

		assignment, err := w.client.ClaimRun(ctx, w.name)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Warn("claim failed", "worker", w.name, "error", err)
			w.sleep(ctx, w.pollInterval)
			continue
		}
		if assignment == nil {
			w.sleep(ctx, w.pollInterval)
			continue
		}

		// Bound concurrency, then dispatch the run on its own
		// goroutine so a slow run never blocks claiming.
		select {
		case w.sem <- struct{}{}:
		case <-ctx.Done():
			continue
		}
		w.wg.Add(1)
		go func(a duragraph.Assignment) {
			defer w.wg.Done()
			defer func() { <-w.sem }()
			w.executeAssignment(ctx, a)
		}(*assignment)
	}
}

// announce registers the worker's graphs, retrying transport failures
// until ctx is cancelled. Registration must succeed before the worker
// can claim work.
func (w *Worker) announce(ctx context.Context) error {
	reg := w.registration()
	for {
		err := w.client.RegisterWorker(ctx, reg)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.logger.Warn("registration failed, retrying", "worker", w.name, "error", err)
		w.sleep(ctx, w.pollInterval)
	}
}

// executeAssignment runs one assignment end to end and reports the
// outcome. Nothing it does may crash the worker.
func (w *Worker) executeAssignment(ctx context.Context, a duragraph.Assignment) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("run dispatch panicked", "run_id", a.RunID, "panic", r)
		}
	}()

	logger := w.logger.With("run_id", a.RunID, "graph", a.GraphName)

	graph, ok := w.Graph(a.GraphName)
	if !ok {
		logger.Error("assignment references unregistered graph")
		w.report(ctx, duragraph.Result{
			RunID:     a.RunID,
			GraphName: a.GraphName,
			Status:    duragraph.RunFailed,
			Error:     fmt.Sprintf("graph %q not registered on worker %s", a.GraphName, w.name),
		})
		return
	}

	run := a.Run()
	logger.Info("run started", "thread_id", run.ThreadID)
	w.notify(ctx, notify.Event{
		Type:      notify.EventRunStarted,
		RunID:     run.ID,
		GraphName: a.GraphName,
		Message:   "run started",
		Severity:  notify.SeverityInfo,
		Timestamp: time.Now(),
	})

	final, err := w.engine.Execute(notify.WithNotifier(ctx, w.notifier), graph, run)

	result := duragraph.Result{
		RunID:      run.ID,
		GraphName:  a.GraphName,
		Status:     run.Status,
		FinalState: final,
	}

	switch {
	case err == nil:
		logger.Info("run completed")
		w.notify(ctx, notify.Event{
			Type:      notify.EventRunCompleted,
			RunID:     run.ID,
			GraphName: a.GraphName,
			Message:   "run completed",
			Severity:  notify.SeverityInfo,
			Timestamp: time.Now(),
		})

	case duragraph.IsCancelled(err):
		logger.Info("run cancelled")
		result.Status = duragraph.RunCancelled
		w.notify(ctx, notify.Event{
			Type:      notify.EventRunCancelled,
			RunID:     run.ID,
			GraphName: a.GraphName,
			Message:   "run cancelled",
			Severity:  notify.SeverityWarning,
			Timestamp: time.Now(),
		})

	default:
		logger.Error("run failed", "error", err)
		result.Status = duragraph.RunFailed
		result.Error = err.Error()
		if ne := asNodeError(err); ne != nil {
			result.FailedNode = ne.Node
			result.FailedIndex = ne.Index
		}
		w.notify(ctx, notify.Event{
			Type:      notify.EventRunFailed,
			RunID:     run.ID,
			GraphName: a.GraphName,
			NodeID:    result.FailedNode,
			Message:   "run failed: " + err.Error(),
			Severity:  notify.SeverityError,
			Timestamp: time.Now(),
		})
	}

	w.report(ctx, result)
}

// report pushes a result to the control plane. A report failure is
// logged; the control plane re-assigns unreported runs, and resumption
// from the ledger makes that safe.
func (w *Worker) report(ctx context.Context, result duragraph.Result) {
	if err := w.client.ReportResult(ctx, result); err != nil {
		w.logger.Error("report failed", "run_id", result.RunID, "error", err)
	}
}

func (w *Worker) notify(ctx context.Context, event notify.Event) {
	if err := w.notifier.Notify(ctx, event); err != nil {
		w.logger.Warn("notifier failed", "event_type", event.Type, "error", err)
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func asNodeError(err error) *duragraph.NodeError {
	var ne *duragraph.NodeError
	if errors.As(err, &ne) {
		return ne
	}
	return nil
}
