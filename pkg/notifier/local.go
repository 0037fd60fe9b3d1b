package notifier

import (
	"context"
	"sync"

	"github.com/pquerna/otp/totp"
)

// Local is the in-process fallback notifier. Notifications become log
// lines; MFA verification checks TOTP codes against per-user secrets
// registered at startup. Suitable for development and single-node
// deployments without a human-interface service.
type Local struct {
	mu      sync.RWMutex
	secrets map[string]string // userID -> base32 TOTP secret
}

// NewLocal builds the fallback notifier.
func NewLocal() *Local {
	return &Local{secrets: make(map[string]string)}
}

// RegisterMFASecret associates a base32 TOTP secret with a user. Existing
// secrets are replaced.
func (l *Local) RegisterMFASecret(userID, secret string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.secrets[userID] = secret
}

// EnrollMFA generates a fresh TOTP key for a user and registers it,
// returning the base32 secret for delivery to the user's authenticator.
func (l *Local) EnrollMFA(userID string) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "argus-supervision",
		AccountName: userID,
	})
	if err != nil {
		return "", err
	}
	l.RegisterMFASecret(userID, key.Secret())
	return key.Secret(), nil
}

func (l *Local) Notify(ctx context.Context, escalationID string, approvers []string, reason string, details map[string]any, priority int) error {
	logger().InfoContext(ctx, "escalation created",
		"escalation_id", escalationID, "approvers", approvers,
		"reason", reason, "priority", priority)
	return nil
}

func (l *Local) Reminder(ctx context.Context, escalationID string, approvers []string, timeRemaining int) error {
	logger().InfoContext(ctx, "escalation reminder",
		"escalation_id", escalationID, "approvers", approvers,
		"time_remaining_seconds", timeRemaining)
	return nil
}

func (l *Local) Resolved(ctx context.Context, escalationID string, approved bool, resolver, notes string) error {
	logger().InfoContext(ctx, "escalation resolved",
		"escalation_id", escalationID, "approved", approved,
		"resolver", resolver, "notes", notes)
	return nil
}

func (l *Local) VerifyMFA(_ context.Context, userID, token, _ string) (bool, error) {
	l.mu.RLock()
	secret, ok := l.secrets[userID]
	l.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return totp.Validate(token, secret), nil
}

func (l *Local) Name() string { return "local" }

var _ Notifier = (*Local)(nil)
