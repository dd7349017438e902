// Package notify provides notification services for workflow run events.
//
// Core types:
//   - Notifier: Interface for sending notifications
//   - Event: Notification event with type, message, and metadata
//   - EventType: Type of event (run_started, node_failed, etc.)
//
// Implementations:
//   - WebhookNotifier: Sends notifications to generic webhooks
//   - LogNotifier: Logs notifications (for testing/debugging)
//   - MultiNotifier: Combines multiple notifiers
//   - NopNotifier: No-op notifier (for testing)
//
// Example usage:
//
//	notifier := notify.NewWebhookNotifier(url, nil)
//	err := notifier.Notify(ctx, notify.Event{
//	    Type:    notify.EventRunCompleted,
//	    RunID:   run.ID,
//	    Message: "run completed",
//	})
package notify
