// Package testutil provides helpers for testing workers and graphs: an
// in-process fake control plane and common graph fixtures.
package testutil

import (
	"context"
	"testing"
)

// TestContext returns a context cancelled when the test ends, so worker
// control loops and other goroutines started by the test shut down with
// it.
func TestContext(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	return ctx
}
