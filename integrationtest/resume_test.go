package integrationtest

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/randalmurphal/duragraph"
	"github.com/randalmurphal/duragraph/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestResumeAcrossProcesses simulates a worker crash: the first engine
// fails mid-run, a second engine with a fresh handle on the same SQLite
// ledger finishes the run without repeating completed work.
func TestResumeAcrossProcesses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	var expensiveCalls atomic.Int32
	var failSecond atomic.Bool
	failSecond.Store(true)

	buildGraph := func() *duragraph.Graph {
		graph, err := duragraph.NewGraph("resumable").
			AddNode("expensive", func(_ context.Context, state duragraph.State) (duragraph.State, error) {
				expensiveCalls.Add(1)
				return state.Set("expensive", "done"), nil
			}).
			AddNode("flaky", func(_ context.Context, state duragraph.State) (duragraph.State, error) {
				if failSecond.Load() {
					return nil, errors.New("transient outage")
				}
				return state.Set("flaky", "done"), nil
			}).
			AddEdge("expensive", "flaky").
			SetEntry("expensive").
			Compile()
		require.NoError(t, err)
		return graph
	}

	// First process: runs, fails at the second node.
	store1, err := ledger.NewSQLiteStore(path)
	require.NoError(t, err)
	engine1 := duragraph.NewEngine(store1, duragraph.WithLogger(slog.New(slog.DiscardHandler)))

	run1 := duragraph.Assignment{RunID: "run-resume", GraphName: "resumable"}.Run()
	_, err = engine1.Execute(ctx, buildGraph(), run1)
	require.Error(t, err)
	assert.True(t, duragraph.IsNodeFailure(err))
	require.NoError(t, store1.Close())

	// Second process: same ledger file, the outage is over.
	failSecond.Store(false)
	store2, err := ledger.NewSQLiteStore(path)
	require.NoError(t, err)
	defer store2.Close()
	engine2 := duragraph.NewEngine(store2, duragraph.WithLogger(slog.New(slog.DiscardHandler)))

	run2 := duragraph.Assignment{RunID: "run-resume", GraphName: "resumable"}.Run()
	final, err := engine2.Execute(ctx, buildGraph(), run2)
	require.NoError(t, err)

	assert.Equal(t, "done", final.GetString("expensive", ""))
	assert.Equal(t, "done", final.GetString("flaky", ""))
	assert.Equal(t, int32(1), expensiveCalls.Load(), "completed node must not re-execute")

	entries, err := store2.Entries(ctx, "run-resume")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, ledger.OutcomeSuccess, entries[0].Outcome)
	assert.Equal(t, ledger.OutcomeFailure, entries[1].Outcome)
	assert.Equal(t, ledger.OutcomeSuccess, entries[2].Outcome)
	assert.Equal(t, "flaky", entries[2].Node)
}
