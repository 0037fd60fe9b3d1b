package escalation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arguslabs/argus/core/pkg/audit"
	"github.com/arguslabs/argus/core/pkg/contracts"
	"github.com/arguslabs/argus/core/pkg/crypto"
	"github.com/arguslabs/argus/core/pkg/datastore"
	"github.com/arguslabs/argus/core/pkg/errcode"
)

// recNotifier counts deliveries and verifies a fixed MFA token.
type recNotifier struct {
	mu        sync.Mutex
	notifies  int
	reminders int
	resolves  int
	failFirst int // initial Notify calls to fail
	mfaErr    error
}

func (n *recNotifier) Notify(context.Context, string, []string, string, map[string]any, int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifies++
	if n.notifies <= n.failFirst {
		return errors.New("gateway unavailable")
	}
	return nil
}

func (n *recNotifier) Reminder(context.Context, string, []string, int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reminders++
	return nil
}

func (n *recNotifier) Resolved(context.Context, string, bool, string, string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resolves++
	return nil
}

func (n *recNotifier) VerifyMFA(_ context.Context, _, token, _ string) (bool, error) {
	if n.mfaErr != nil {
		return false, n.mfaErr
	}
	return token == "123456", nil
}

func (n *recNotifier) Name() string { return "recording" }

func (n *recNotifier) counts() (int, int, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.notifies, n.reminders, n.resolves
}

func waitForStatus(t *testing.T, o *Orchestrator, id string, want contracts.EscalationStatus, within time.Duration) *contracts.EscalationWorkflow {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		w, err := o.Get(context.Background(), id)
		require.NoError(t, err)
		if w.Status == want {
			return w
		}
		time.Sleep(5 * time.Millisecond)
	}
	w, _ := o.Get(context.Background(), id)
	t.Fatalf("workflow %s never reached %s (stuck at %s)", id, want, w.Status)
	return nil
}

func TestCreateRequiresApprovers(t *testing.T) {
	o := NewOrchestrator(datastore.NewMemoryStore(), &recNotifier{}, nil, Options{Timeout: time.Minute})
	defer o.Close()

	_, err := o.CreateEscalation(context.Background(), "dec_1", "why", nil, nil, 1)
	assert.Equal(t, errcode.CodeNoApprover, errcode.CodeOf(err))
}

func TestCreateNotifiesApprovers(t *testing.T) {
	n := &recNotifier{}
	o := NewOrchestrator(datastore.NewMemoryStore(), n, nil, Options{Timeout: time.Minute})
	defer o.Close()

	w, err := o.CreateEscalation(context.Background(), "dec_1", "high cost", map[string]any{"cost": 5000},
		[]string{"alice", "bob"}, 2)
	require.NoError(t, err)
	assert.Equal(t, contracts.EscalationPending, w.Status)
	assert.Equal(t, 1, w.EscalationLevel)
	assert.False(t, w.TimeoutAt.IsZero())

	got := waitForStatus(t, o, w.WorkflowID, contracts.EscalationNotified, time.Second)
	assert.False(t, got.NotifiedAt.IsZero())
	assert.Equal(t, 1, o.Pending())
}

func TestNotificationRetriesWithBackoff(t *testing.T) {
	n := &recNotifier{failFirst: 2}
	o := NewOrchestrator(datastore.NewMemoryStore(), n, nil, Options{
		Timeout: time.Minute, RetryCount: 3, RetryDelay: 5 * time.Millisecond,
	})
	defer o.Close()

	w, err := o.CreateEscalation(context.Background(), "dec_1", "r", nil, []string{"alice"}, 1)
	require.NoError(t, err)

	waitForStatus(t, o, w.WorkflowID, contracts.EscalationNotified, time.Second)
	notifies, _, _ := n.counts()
	assert.Equal(t, 3, notifies)
}

func TestNotificationExhaustionLeavesPending(t *testing.T) {
	n := &recNotifier{failFirst: 100}
	o := NewOrchestrator(datastore.NewMemoryStore(), n, nil, Options{
		Timeout: time.Minute, RetryCount: 2, RetryDelay: time.Millisecond,
	})

	w, err := o.CreateEscalation(context.Background(), "dec_1", "r", nil, []string{"alice"}, 1)
	require.NoError(t, err)
	o.Close() // waits for the notify goroutine

	got, err := o.Get(context.Background(), w.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, contracts.EscalationPending, got.Status)
	notifies, _, _ := n.counts()
	assert.Equal(t, 3, notifies, "one attempt plus two retries")
}

func TestResolveWithMFA(t *testing.T) {
	n := &recNotifier{}
	o := NewOrchestrator(datastore.NewMemoryStore(), n, nil, Options{
		Timeout: time.Minute, RequireMFA: true,
	})
	defer o.Close()
	ctx := context.Background()

	w, err := o.CreateEscalation(ctx, "dec_1", "r", nil, []string{"alice"}, 1)
	require.NoError(t, err)

	_, err = o.Resolve(ctx, w.WorkflowID, true, "alice", "lgtm", "")
	assert.Equal(t, errcode.CodeMFARequired, errcode.CodeOf(err))

	_, err = o.Resolve(ctx, w.WorkflowID, true, "alice", "lgtm", "000000")
	assert.Equal(t, errcode.CodeMFAFailed, errcode.CodeOf(err))

	resolved, err := o.Resolve(ctx, w.WorkflowID, true, "alice", "lgtm", "123456")
	require.NoError(t, err)
	assert.Equal(t, contracts.EscalationApproved, resolved.Status)
	assert.True(t, resolved.MFAVerified)
	assert.Equal(t, "alice", resolved.ResolvedBy)
	assert.Equal(t, 0, o.Pending(), "resolution cancels the monitor")

	// terminal workflows reject further resolution
	_, err = o.Resolve(ctx, w.WorkflowID, false, "bob", "", "123456")
	assert.Equal(t, errcode.CodeAlreadyResolved, errcode.CodeOf(err))
}

func TestResolveMFABackendError(t *testing.T) {
	n := &recNotifier{mfaErr: errors.New("otp service down")}
	o := NewOrchestrator(datastore.NewMemoryStore(), n, nil, Options{
		Timeout: time.Minute, RequireMFA: true,
	})
	defer o.Close()

	w, err := o.CreateEscalation(context.Background(), "dec_1", "r", nil, []string{"alice"}, 1)
	require.NoError(t, err)
	_, err = o.Resolve(context.Background(), w.WorkflowID, true, "alice", "", "123456")
	assert.Equal(t, errcode.CodeMFAFailed, errcode.CodeOf(err))
}

func TestAssignAndReviewBranch(t *testing.T) {
	o := NewOrchestrator(datastore.NewMemoryStore(), &recNotifier{}, nil, Options{Timeout: time.Minute})
	defer o.Close()
	ctx := context.Background()

	w, err := o.CreateEscalation(ctx, "dec_1", "r", nil, []string{"alice"}, 1)
	require.NoError(t, err)

	// review requires assignment first
	_, err = o.StartReview(ctx, w.WorkflowID, "alice")
	assert.Equal(t, errcode.CodeInvalidState, errcode.CodeOf(err))

	assigned, err := o.Assign(ctx, w.WorkflowID, "alice")
	require.NoError(t, err)
	assert.Equal(t, contracts.EscalationAssigned, assigned.Status)
	assert.Equal(t, "alice", assigned.AssignedTo)

	reviewing, err := o.StartReview(ctx, w.WorkflowID, "alice")
	require.NoError(t, err)
	assert.Equal(t, contracts.EscalationInReview, reviewing.Status)

	resolved, err := o.Resolve(ctx, w.WorkflowID, false, "alice", "not justified", "")
	require.NoError(t, err)
	assert.Equal(t, contracts.EscalationRejected, resolved.Status)

	_, err = o.Assign(ctx, w.WorkflowID, "bob")
	assert.Equal(t, errcode.CodeAlreadyResolved, errcode.CodeOf(err))
}

func TestGetUnknownWorkflow(t *testing.T) {
	o := NewOrchestrator(datastore.NewMemoryStore(), &recNotifier{}, nil, Options{Timeout: time.Minute})
	defer o.Close()
	_, err := o.Get(context.Background(), "esc_missing")
	assert.Equal(t, errcode.CodeEscalationNotFound, errcode.CodeOf(err))
}

func TestAutoEscalationThenTimeout(t *testing.T) {
	store := datastore.NewMemoryStore()
	signer, err := crypto.NewEd25519Signer("k")
	require.NoError(t, err)
	log, err := audit.New(context.Background(), store, signer)
	require.NoError(t, err)

	n := &recNotifier{}
	o := NewOrchestrator(store, n, log, Options{
		Timeout: 60 * time.Millisecond, MaxLevel: 2,
	})
	defer o.Close()

	w, err := o.CreateEscalation(context.Background(), "dec_1", "r", nil, []string{"alice"}, 1)
	require.NoError(t, err)

	got := waitForStatus(t, o, w.WorkflowID, contracts.EscalationTimedOut, 2*time.Second)
	assert.Equal(t, 2, got.EscalationLevel, "one auto-escalation before the final timeout")
	assert.Equal(t, 2, got.Priority)
	assert.Equal(t, timedOutNotes, got.ResolutionNotes)
	assert.False(t, got.ResolvedAt.IsZero())

	// exactly one timeout entry and one auto-escalation entry in the journal
	entries, err := log.Query(context.Background(), contracts.AuditFilter{ResourceID: w.WorkflowID}, 100, 0)
	require.NoError(t, err)
	timeouts, escalations := 0, 0
	for _, e := range entries {
		switch e.Action {
		case "escalation_timeout":
			timeouts++
		case "escalation_escalated":
			escalations++
		}
	}
	assert.Equal(t, 1, timeouts)
	assert.Equal(t, 1, escalations)

	// both levels notified
	notifies, _, _ := n.counts()
	assert.GreaterOrEqual(t, notifies, 2)
}

func TestRemindersBeforeTimeout(t *testing.T) {
	n := &recNotifier{}
	o := NewOrchestrator(datastore.NewMemoryStore(), n, nil, Options{
		Timeout: 120 * time.Millisecond, MaxLevel: 1,
	})
	defer o.Close()

	w, err := o.CreateEscalation(context.Background(), "dec_1", "r", nil, []string{"alice"}, 1)
	require.NoError(t, err)

	waitForStatus(t, o, w.WorkflowID, contracts.EscalationTimedOut, 2*time.Second)
	_, reminders, _ := n.counts()
	assert.Equal(t, 2, reminders, "reminders fire at 50% and 80%")
}

func TestResolutionCancelsTimeout(t *testing.T) {
	o := NewOrchestrator(datastore.NewMemoryStore(), &recNotifier{}, nil, Options{
		Timeout: 50 * time.Millisecond, MaxLevel: 1,
	})
	defer o.Close()
	ctx := context.Background()

	w, err := o.CreateEscalation(ctx, "dec_1", "r", nil, []string{"alice"}, 1)
	require.NoError(t, err)
	resolved, err := o.Resolve(ctx, w.WorkflowID, true, "alice", "", "")
	require.NoError(t, err)
	assert.Equal(t, contracts.EscalationApproved, resolved.Status)

	// well past the original deadline the resolution must stand
	time.Sleep(150 * time.Millisecond)
	got, err := o.Get(ctx, w.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, contracts.EscalationApproved, got.Status)
	assert.NotEqual(t, timedOutNotes, got.ResolutionNotes)
}
