package integrationtest

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/randalmurphal/duragraph"
	"github.com/randalmurphal/duragraph/ledger"
	"github.com/randalmurphal/duragraph/testutil"
	"github.com/randalmurphal/duragraph/worker"
	"github.com/stretchr/testify/require"
)

// startWorker runs a worker against the fake control plane until the
// test ends.
func startWorker(t *testing.T, cp *testutil.FakeControlPlane, store ledger.Store, graphs ...*duragraph.Graph) {
	t.Helper()

	w, err := worker.New(worker.Options{
		Name:         "integration-worker",
		Client:       cp.Client(),
		Store:        store,
		Logger:       slog.New(slog.DiscardHandler),
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	for _, g := range graphs {
		w.Register(g)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("worker did not stop")
		}
	})
}
