package duragraph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/randalmurphal/duragraph/notify"
)

// =============================================================================
// Node Wrappers
// =============================================================================

// WithRetry wraps a node with retry logic. The engine itself never
// retries past a failed node; retries inside a node are the node
// author's policy and invisible to the ledger. A maxRetries below 1 is
// treated as 1: the node always gets at least one attempt.
func WithRetry(node NodeFunc, maxRetries int) NodeFunc {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return func(ctx context.Context, state State) (State, error) {
		var lastErr error
		for i := 0; i < maxRetries; i++ {
			result, err := node(ctx, state)
			if err == nil {
				return result, nil
			}
			lastErr = err
			if ctx.Err() != nil {
				break
			}
		}
		return state, fmt.Errorf("after %d retries: %w", maxRetries, lastErr)
	}
}

// WithTiming wraps a node with timing metrics logged via slog.
func WithTiming(node NodeFunc, nodeName string) NodeFunc {
	return func(ctx context.Context, state State) (State, error) {
		start := time.Now()
		result, err := node(ctx, state)
		slog.Debug("node execution completed",
			"node", nodeName,
			"duration", time.Since(start),
			"failed", err != nil,
		)
		return result, err
	}
}

// WithEvents wraps a node with lifecycle notifications. Events go to the
// notifier in the context; without one the wrapper is a passthrough.
// Notification failures are logged, never propagated into the run.
func WithEvents(node NodeFunc, runID, nodeName string) NodeFunc {
	return func(ctx context.Context, state State) (State, error) {
		n := notify.NotifierFromContext(ctx)
		if n == nil {
			return node(ctx, state)
		}

		emit(ctx, n, notify.Event{
			Type:      notify.EventNodeStarted,
			RunID:     runID,
			NodeID:    nodeName,
			Message:   fmt.Sprintf("node %s started", nodeName),
			Severity:  notify.SeverityInfo,
			Timestamp: time.Now(),
		})

		result, err := node(ctx, state)
		if err != nil {
			emit(ctx, n, notify.Event{
				Type:      notify.EventNodeFailed,
				RunID:     runID,
				NodeID:    nodeName,
				Message:   fmt.Sprintf("node %s failed: %v", nodeName, err),
				Severity:  notify.SeverityError,
				Timestamp: time.Now(),
			})
			return result, err
		}

		emit(ctx, n, notify.Event{
			Type:      notify.EventNodeCompleted,
			RunID:     runID,
			NodeID:    nodeName,
			Message:   fmt.Sprintf("node %s completed", nodeName),
			Severity:  notify.SeverityInfo,
			Timestamp: time.Now(),
		})
		return result, nil
	}
}

func emit(ctx context.Context, n notify.Notifier, event notify.Event) {
	if err := n.Notify(ctx, event); err != nil {
		slog.Warn("notifier failed", "event_type", event.Type, "error", err)
	}
}
