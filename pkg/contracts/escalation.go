package contracts

import "time"

// EscalationStatus is the authoritative state of an approval workflow.
type EscalationStatus string

const (
	EscalationPending  EscalationStatus = "PENDING"
	EscalationNotified EscalationStatus = "NOTIFIED"
	EscalationWaiting  EscalationStatus = "WAITING"
	EscalationAssigned EscalationStatus = "ASSIGNED"
	EscalationInReview EscalationStatus = "IN_REVIEW"
	EscalationApproved EscalationStatus = "APPROVED"
	EscalationRejected EscalationStatus = "REJECTED"
	EscalationTimedOut EscalationStatus = "TIMED_OUT"
)

// Terminal reports whether the status has no outgoing transitions.
func (s EscalationStatus) Terminal() bool {
	switch s {
	case EscalationApproved, EscalationRejected, EscalationTimedOut:
		return true
	}
	return false
}

// escalationEdges is the full transition relation of the workflow state
// machine: PENDING → NOTIFIED → WAITING → terminal, with the ASSIGNED →
// IN_REVIEW review branch reachable from any pre-terminal state.
var escalationEdges = map[EscalationStatus][]EscalationStatus{
	EscalationPending:  {EscalationNotified, EscalationWaiting, EscalationAssigned, EscalationApproved, EscalationRejected, EscalationTimedOut},
	EscalationNotified: {EscalationWaiting, EscalationAssigned, EscalationApproved, EscalationRejected, EscalationTimedOut},
	EscalationWaiting:  {EscalationAssigned, EscalationApproved, EscalationRejected, EscalationTimedOut},
	EscalationAssigned: {EscalationInReview, EscalationApproved, EscalationRejected, EscalationTimedOut},
	EscalationInReview: {EscalationApproved, EscalationRejected, EscalationTimedOut},
}

// CanTransition reports whether from → to is a legal workflow edge.
func CanTransition(from, to EscalationStatus) bool {
	for _, next := range escalationEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// EscalationWorkflow is one human-approval request. Priority runs 1..3 and
// rises on auto-escalation; EscalationLevel runs 1..max_escalation_level.
type EscalationWorkflow struct {
	WorkflowID      string           `json:"workflow_id"`
	DecisionID      string           `json:"decision_id"`
	Reason          string           `json:"reason"`
	Context         map[string]any   `json:"context,omitempty"`
	Status          EscalationStatus `json:"status"`
	EscalationLevel int              `json:"escalation_level"`
	Priority        int              `json:"priority"`
	Approvers       []string         `json:"approvers"`
	AssignedTo      string           `json:"assigned_to,omitempty"`
	MFAVerified     bool             `json:"mfa_verified"`
	CreatedAt       time.Time        `json:"created_at"`
	NotifiedAt      time.Time        `json:"notified_at,omitempty"`
	TimeoutAt       time.Time        `json:"timeout_at"`
	ResolvedAt      time.Time        `json:"resolved_at,omitempty"`
	ResolvedBy      string           `json:"resolved_by,omitempty"`
	ResolutionNotes string           `json:"resolution_notes,omitempty"`
}

// Clone returns a deep enough copy for safe hand-off across goroutines.
func (w *EscalationWorkflow) Clone() *EscalationWorkflow {
	cp := *w
	cp.Approvers = append([]string(nil), w.Approvers...)
	if w.Context != nil {
		cp.Context = make(map[string]any, len(w.Context))
		for k, v := range w.Context {
			cp.Context[k] = v
		}
	}
	return &cp
}
