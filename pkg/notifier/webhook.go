package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/arguslabs/argus/core/pkg/crypto"
	"github.com/arguslabs/argus/core/pkg/errcode"
)

// signatureHeader carries the hex HMAC-SHA256 of the request body.
const signatureHeader = "X-Argus-Signature"

// Webhook delivers notifications to a remote human-interface service as
// signed JSON POSTs. MFA verification defers to the same service.
type Webhook struct {
	url    string
	secret []byte
	client *http.Client
}

// NewWebhook builds a webhook notifier for the given endpoint. The secret
// keys the payload HMAC shared with the receiving service.
func NewWebhook(url string, secret []byte) *Webhook {
	return &Webhook{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type webhookEnvelope struct {
	Kind         string         `json:"kind"`
	EscalationID string         `json:"escalation_id"`
	Approvers    []string       `json:"approvers,omitempty"`
	Reason       string         `json:"reason,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	Priority     int            `json:"priority,omitempty"`
	TimeLeft     int            `json:"time_remaining_seconds,omitempty"`
	Approved     *bool          `json:"approved,omitempty"`
	Resolver     string         `json:"resolver,omitempty"`
	Notes        string         `json:"notes,omitempty"`
	UserID       string         `json:"user_id,omitempty"`
	Token        string         `json:"token,omitempty"`
	SentAt       time.Time      `json:"sent_at"`
}

func (w *Webhook) Notify(ctx context.Context, escalationID string, approvers []string, reason string, details map[string]any, priority int) error {
	_, err := w.post(ctx, webhookEnvelope{
		Kind:         "escalation_created",
		EscalationID: escalationID,
		Approvers:    approvers,
		Reason:       reason,
		Details:      details,
		Priority:     priority,
	})
	return err
}

func (w *Webhook) Reminder(ctx context.Context, escalationID string, approvers []string, timeRemaining int) error {
	_, err := w.post(ctx, webhookEnvelope{
		Kind:         "escalation_reminder",
		EscalationID: escalationID,
		Approvers:    approvers,
		TimeLeft:     timeRemaining,
	})
	return err
}

func (w *Webhook) Resolved(ctx context.Context, escalationID string, approved bool, resolver, notes string) error {
	_, err := w.post(ctx, webhookEnvelope{
		Kind:         "escalation_resolved",
		EscalationID: escalationID,
		Approved:     &approved,
		Resolver:     resolver,
		Notes:        notes,
	})
	return err
}

func (w *Webhook) VerifyMFA(ctx context.Context, userID, token, escalationID string) (bool, error) {
	body, err := w.post(ctx, webhookEnvelope{
		Kind:         "mfa_verify",
		EscalationID: escalationID,
		UserID:       userID,
		Token:        token,
	})
	if err != nil {
		return false, err
	}
	var reply struct {
		Verified bool `json:"verified"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return false, fmt.Errorf("mfa reply: %w", err)
	}
	return reply.Verified, nil
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) post(ctx context.Context, env webhookEnvelope) ([]byte, error) {
	env.SentAt = time.Now().UTC()
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", env.Kind, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signatureHeader, crypto.SignPayload(w.secret, payload))

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, errcode.Wrap(errcode.CodeNotifierUnreachable, "notifier webhook", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errcode.Wrap(errcode.CodeNotifierUnreachable, "notifier webhook read", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errcode.Newf(errcode.CodeNotificationFailed, "notifier webhook returned %d", resp.StatusCode)
	}
	return body, nil
}

var _ Notifier = (*Webhook)(nil)
