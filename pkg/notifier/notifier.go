// Package notifier delivers escalation notifications to the human-interface
// service and verifies MFA tokens. The webhook implementation signs every
// payload with a shared-secret HMAC; the local implementation logs
// notifications and verifies TOTP codes in-process for development.
package notifier

import (
	"context"
	"log/slog"
)

// Notifier is the human-interface adapter contract.
type Notifier interface {
	// Notify announces a new or re-escalated workflow to its approvers.
	Notify(ctx context.Context, escalationID string, approvers []string, reason string, details map[string]any, priority int) error

	// Reminder nudges approvers before the workflow times out.
	Reminder(ctx context.Context, escalationID string, approvers []string, timeRemaining int) error

	// Resolved reports the final outcome of a workflow.
	Resolved(ctx context.Context, escalationID string, approved bool, resolver, notes string) error

	// VerifyMFA checks a user's second factor for one escalation.
	VerifyMFA(ctx context.Context, userID, token, escalationID string) (bool, error)

	// Name identifies the implementation in health output.
	Name() string
}

// Noop drops every notification and accepts no MFA token. It backs tests
// that exercise the orchestrator without a human interface.
type Noop struct{}

func (Noop) Notify(context.Context, string, []string, string, map[string]any, int) error {
	return nil
}

func (Noop) Reminder(context.Context, string, []string, int) error { return nil }

func (Noop) Resolved(context.Context, string, bool, string, string) error { return nil }

func (Noop) VerifyMFA(context.Context, string, string, string) (bool, error) {
	return false, nil
}

func (Noop) Name() string { return "noop" }

var _ Notifier = Noop{}

func logger() *slog.Logger {
	return slog.Default().With("component", "notifier")
}
