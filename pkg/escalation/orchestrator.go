// Package escalation drives human-approval workflows: creation,
// notification with retries, assignment, MFA-gated resolution, and
// deadline-driven auto-escalation. Exactly one timeout monitor goroutine
// runs per live workflow.
package escalation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/arguslabs/argus/core/pkg/audit"
	"github.com/arguslabs/argus/core/pkg/contracts"
	"github.com/arguslabs/argus/core/pkg/datastore"
	"github.com/arguslabs/argus/core/pkg/errcode"
	"github.com/arguslabs/argus/core/pkg/notifier"
)

// timedOutNotes is the resolution text recorded on final timeout.
const timedOutNotes = "Automatically timed out after maximum escalation level"

// Options parameterize the orchestrator.
type Options struct {
	Timeout    time.Duration // per-level approval deadline
	RetryCount int           // notification retries after the first attempt
	RetryDelay time.Duration // base backoff, doubled per attempt
	MaxLevel   int           // auto-escalation ceiling
	RequireMFA bool          // gate Resolve on a verified second factor
	Clock      func() time.Time
}

func (o *Options) defaults() {
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Minute
	}
	if o.RetryCount < 0 {
		o.RetryCount = 0
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 2 * time.Second
	}
	if o.MaxLevel < 1 {
		o.MaxLevel = 3
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

// Orchestrator owns the escalation workflow lifecycle. Safe for concurrent
// use; one instance per process.
type Orchestrator struct {
	store    datastore.Store
	notify   notifier.Notifier
	auditLog *audit.Log
	opts     Options
	logger   *slog.Logger

	// stateMu serialises every read-modify-write of workflow state so a
	// resolver and a firing monitor cannot interleave.
	stateMu sync.Mutex

	monMu    sync.Mutex
	monitors map[string]context.CancelFunc
	wg       sync.WaitGroup
	closed   bool
}

// NewOrchestrator builds an orchestrator. auditLog may be nil in tests.
func NewOrchestrator(store datastore.Store, n notifier.Notifier, auditLog *audit.Log, opts Options) *Orchestrator {
	opts.defaults()
	return &Orchestrator{
		store:    store,
		notify:   n,
		auditLog: auditLog,
		opts:     opts,
		logger:   slog.Default().With("component", "escalation_orchestrator"),
		monitors: make(map[string]context.CancelFunc),
	}
}

// CreateEscalation persists a new PENDING workflow, spawns its timeout
// monitor, and notifies approvers asynchronously.
func (o *Orchestrator) CreateEscalation(ctx context.Context, decisionID, reason string, wfContext map[string]any, approvers []string, priority int) (*contracts.EscalationWorkflow, error) {
	if len(approvers) == 0 {
		return nil, errcode.New(errcode.CodeNoApprover, "escalation needs at least one approver")
	}
	if priority < 1 {
		priority = 1
	}
	if priority > 3 {
		priority = 3
	}

	now := o.opts.Clock().UTC()
	w := &contracts.EscalationWorkflow{
		WorkflowID:      contracts.NewID("esc"),
		DecisionID:      decisionID,
		Reason:          reason,
		Context:         wfContext,
		Status:          contracts.EscalationPending,
		EscalationLevel: 1,
		Priority:        priority,
		Approvers:       append([]string(nil), approvers...),
		CreatedAt:       now,
		TimeoutAt:       now.Add(o.opts.Timeout),
	}
	if err := o.store.PutWorkflow(ctx, w); err != nil {
		return nil, errcode.Wrap(errcode.CodeEscalationFailed, "persist workflow", err)
	}
	o.auditEvent(ctx, "escalation_created", "system", contracts.ActorSystem, w.WorkflowID, map[string]any{
		"decision_id": decisionID,
		"reason":      reason,
		"priority":    priority,
		"approvers":   approvers,
	})

	o.startMonitor(w.WorkflowID, w.TimeoutAt)
	o.notifyAsync(w.Clone())
	return w.Clone(), nil
}

// Assign hands the workflow to one reviewer.
func (o *Orchestrator) Assign(ctx context.Context, workflowID, reviewer string) (*contracts.EscalationWorkflow, error) {
	return o.transition(ctx, workflowID, contracts.EscalationAssigned, "escalation_assigned", reviewer,
		func(w *contracts.EscalationWorkflow) {
			w.AssignedTo = reviewer
		})
}

// StartReview marks an assigned workflow as under active review.
func (o *Orchestrator) StartReview(ctx context.Context, workflowID, reviewer string) (*contracts.EscalationWorkflow, error) {
	return o.transition(ctx, workflowID, contracts.EscalationInReview, "escalation_review_started", reviewer, nil)
}

// transition performs one guarded state change under stateMu.
func (o *Orchestrator) transition(ctx context.Context, workflowID string, to contracts.EscalationStatus, action, actor string, mutate func(*contracts.EscalationWorkflow)) (*contracts.EscalationWorkflow, error) {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()

	w, err := o.load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if w.Status.Terminal() {
		return nil, errcode.Newf(errcode.CodeAlreadyResolved, "workflow %s is %s", workflowID, w.Status)
	}
	if !contracts.CanTransition(w.Status, to) {
		return nil, errcode.Newf(errcode.CodeInvalidState, "cannot move %s from %s to %s", workflowID, w.Status, to)
	}
	w.Status = to
	if mutate != nil {
		mutate(w)
	}
	if err := o.store.PutWorkflow(ctx, w); err != nil {
		return nil, errcode.Wrap(errcode.CodeEscalationFailed, "persist workflow", err)
	}
	o.auditEvent(ctx, action, actor, contracts.ActorUser, workflowID, map[string]any{"status": to})
	return w.Clone(), nil
}

// Resolve finishes a workflow as approved or rejected. With MFA required, a
// missing token is E8208 and a failed verification E8209.
func (o *Orchestrator) Resolve(ctx context.Context, workflowID string, approved bool, approverID, notes, mfaToken string) (*contracts.EscalationWorkflow, error) {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()

	w, err := o.load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if w.Status.Terminal() {
		return nil, errcode.Newf(errcode.CodeAlreadyResolved, "workflow %s is already %s", workflowID, w.Status)
	}

	mfaVerified := false
	if o.opts.RequireMFA {
		if mfaToken == "" {
			return nil, errcode.New(errcode.CodeMFARequired, "resolution requires an MFA token")
		}
		ok, err := o.notify.VerifyMFA(ctx, approverID, mfaToken, workflowID)
		if err != nil {
			return nil, errcode.Wrap(errcode.CodeMFAFailed, "MFA verification unavailable", err)
		}
		if !ok {
			return nil, errcode.New(errcode.CodeMFAFailed, "MFA token rejected")
		}
		mfaVerified = true
	}

	o.stopMonitor(workflowID)

	target := contracts.EscalationRejected
	if approved {
		target = contracts.EscalationApproved
	}
	if !contracts.CanTransition(w.Status, target) {
		return nil, errcode.Newf(errcode.CodeInvalidState, "cannot move %s from %s to %s", workflowID, w.Status, target)
	}
	w.Status = target
	w.ResolvedAt = o.opts.Clock().UTC()
	w.ResolvedBy = approverID
	w.ResolutionNotes = notes
	w.MFAVerified = mfaVerified
	if err := o.store.PutWorkflow(ctx, w); err != nil {
		return nil, errcode.Wrap(errcode.CodeEscalationFailed, "persist resolution", err)
	}

	o.auditEvent(ctx, "escalation_resolved", approverID, contracts.ActorUser, workflowID, map[string]any{
		"approved":     approved,
		"notes":        notes,
		"mfa_verified": mfaVerified,
	})

	resolved := w.Clone()
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.notify.Resolved(context.Background(), resolved.WorkflowID, approved, approverID, notes); err != nil {
			o.logger.Warn("resolution notification failed", "workflow_id", resolved.WorkflowID, "error", err)
		}
	}()
	return resolved, nil
}

// Get returns the workflow, E8204 when unknown.
func (o *Orchestrator) Get(ctx context.Context, workflowID string) (*contracts.EscalationWorkflow, error) {
	return o.load(ctx, workflowID)
}

// List returns workflows filtered by status ("" for all).
func (o *Orchestrator) List(ctx context.Context, status contracts.EscalationStatus, limit int) ([]*contracts.EscalationWorkflow, error) {
	return o.store.ListWorkflows(ctx, status, limit)
}

// Pending reports how many monitors are live; surfaced by Stats().
func (o *Orchestrator) Pending() int {
	o.monMu.Lock()
	defer o.monMu.Unlock()
	return len(o.monitors)
}

// Close cancels every monitor and waits for background work to finish.
func (o *Orchestrator) Close() {
	o.monMu.Lock()
	o.closed = true
	for id, cancel := range o.monitors {
		cancel()
		delete(o.monitors, id)
	}
	o.monMu.Unlock()
	o.wg.Wait()
}

func (o *Orchestrator) load(ctx context.Context, workflowID string) (*contracts.EscalationWorkflow, error) {
	w, err := o.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		if datastore.IsNotFound(err) {
			return nil, errcode.Newf(errcode.CodeEscalationNotFound, "workflow %s not found", workflowID)
		}
		return nil, errcode.Wrap(errcode.CodeDataStoreUnreachable, "load workflow", err)
	}
	return w, nil
}

// notifyAsync delivers the initial notification with exponential backoff.
// Success moves PENDING → NOTIFIED; exhausted retries leave the workflow
// PENDING.
func (o *Orchestrator) notifyAsync(w *contracts.EscalationWorkflow) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx := context.Background()

		var lastErr error
		for attempt := 0; attempt <= o.opts.RetryCount; attempt++ {
			if attempt > 0 {
				time.Sleep(o.opts.RetryDelay << (attempt - 1))
			}
			lastErr = o.notify.Notify(ctx, w.WorkflowID, w.Approvers, w.Reason, w.Context, w.Priority)
			if lastErr == nil {
				o.markNotified(ctx, w.WorkflowID)
				return
			}
		}
		o.logger.Error("notification retries exhausted",
			"workflow_id", w.WorkflowID, "code", errcode.CodeNotificationFailed, "error", lastErr)
	}()
}

func (o *Orchestrator) markNotified(ctx context.Context, workflowID string) {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()

	w, err := o.load(ctx, workflowID)
	if err != nil || w.Status.Terminal() {
		return
	}
	if !contracts.CanTransition(w.Status, contracts.EscalationNotified) {
		return
	}
	w.Status = contracts.EscalationNotified
	w.NotifiedAt = o.opts.Clock().UTC()
	if err := o.store.PutWorkflow(ctx, w); err != nil {
		o.logger.Error("persist NOTIFIED failed", "workflow_id", workflowID, "error", err)
	}
}

// startMonitor replaces any existing monitor for the workflow.
func (o *Orchestrator) startMonitor(workflowID string, timeoutAt time.Time) {
	o.monMu.Lock()
	defer o.monMu.Unlock()
	if o.closed {
		return
	}
	if cancel, ok := o.monitors[workflowID]; ok {
		cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.monitors[workflowID] = cancel

	o.wg.Add(1)
	go o.runMonitor(ctx, workflowID, timeoutAt)
}

func (o *Orchestrator) stopMonitor(workflowID string) {
	o.monMu.Lock()
	defer o.monMu.Unlock()
	if cancel, ok := o.monitors[workflowID]; ok {
		cancel()
		delete(o.monitors, workflowID)
	}
}

// runMonitor sends reminders at 50% and 80% of the deadline, then either
// auto-escalates or times the workflow out.
func (o *Orchestrator) runMonitor(ctx context.Context, workflowID string, timeoutAt time.Time) {
	defer o.wg.Done()

	total := timeoutAt.Sub(o.opts.Clock())
	if total < 0 {
		total = 0
	}
	marks := []time.Duration{total / 2, total * 4 / 5, total}

	start := o.opts.Clock()
	for i, mark := range marks {
		wait := mark - o.opts.Clock().Sub(start)
		if wait > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
		if i < len(marks)-1 {
			o.sendReminder(ctx, workflowID, timeoutAt)
			continue
		}
		o.handleTimeout(ctx, workflowID)
	}
}

func (o *Orchestrator) sendReminder(ctx context.Context, workflowID string, timeoutAt time.Time) {
	w, err := o.load(ctx, workflowID)
	if err != nil || w.Status.Terminal() {
		return
	}
	remaining := int(timeoutAt.Sub(o.opts.Clock()).Seconds())
	if err := o.notify.Reminder(ctx, workflowID, w.Approvers, remaining); err != nil {
		o.logger.Warn("reminder failed", "workflow_id", workflowID, "error", err)
	}
}

func (o *Orchestrator) handleTimeout(ctx context.Context, workflowID string) {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	if ctx.Err() != nil {
		// resolved while we waited for the lock
		return
	}

	w, err := o.load(context.Background(), workflowID)
	if err != nil || w.Status.Terminal() {
		return
	}

	if w.EscalationLevel < o.opts.MaxLevel {
		w.EscalationLevel++
		if w.Priority < 3 {
			w.Priority++
		}
		w.TimeoutAt = o.opts.Clock().UTC().Add(o.opts.Timeout)
		if err := o.store.PutWorkflow(context.Background(), w); err != nil {
			o.logger.Error("persist auto-escalation failed", "workflow_id", workflowID, "error", err)
			return
		}
		o.auditEvent(context.Background(), "escalation_escalated", "system", contracts.ActorSystem, workflowID, map[string]any{
			"escalation_level": w.EscalationLevel,
			"priority":         w.Priority,
		})
		o.startMonitor(workflowID, w.TimeoutAt)
		o.notifyAsync(w.Clone())
		return
	}

	w.Status = contracts.EscalationTimedOut
	w.ResolvedAt = o.opts.Clock().UTC()
	w.ResolutionNotes = timedOutNotes
	if err := o.store.PutWorkflow(context.Background(), w); err != nil {
		o.logger.Error("persist timeout failed", "workflow_id", workflowID, "error", err)
		return
	}
	o.auditEvent(context.Background(), "escalation_timeout", "system", contracts.ActorSystem, workflowID, map[string]any{
		"escalation_level": w.EscalationLevel,
	})
	o.stopMonitor(workflowID)
}

func (o *Orchestrator) auditEvent(ctx context.Context, action, actorID string, actorType contracts.ActorType, workflowID string, details map[string]any) {
	if o.auditLog == nil {
		return
	}
	if _, err := o.auditLog.Log(ctx, action, actorID, actorType, "workflow", workflowID, details, ""); err != nil {
		o.logger.Error("audit append failed", "action", action, "workflow_id", workflowID, "error", err)
	}
}
