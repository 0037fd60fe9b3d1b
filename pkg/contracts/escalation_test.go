package contracts

import "testing"

func TestTerminalStatesHaveNoEdges(t *testing.T) {
	all := []EscalationStatus{
		EscalationPending, EscalationNotified, EscalationWaiting,
		EscalationAssigned, EscalationInReview,
		EscalationApproved, EscalationRejected, EscalationTimedOut,
	}
	for _, term := range []EscalationStatus{EscalationApproved, EscalationRejected, EscalationTimedOut} {
		if !term.Terminal() {
			t.Fatalf("%s should be terminal", term)
		}
		for _, to := range all {
			if CanTransition(term, to) {
				t.Errorf("terminal %s must not transition to %s", term, to)
			}
		}
	}
}

func TestHappyPathTransitions(t *testing.T) {
	path := []EscalationStatus{
		EscalationPending, EscalationNotified, EscalationWaiting, EscalationApproved,
	}
	for i := 0; i+1 < len(path); i++ {
		if !CanTransition(path[i], path[i+1]) {
			t.Errorf("expected %s -> %s to be legal", path[i], path[i+1])
		}
	}
}

func TestReviewBranch(t *testing.T) {
	if !CanTransition(EscalationNotified, EscalationAssigned) {
		t.Error("NOTIFIED -> ASSIGNED should be legal")
	}
	if !CanTransition(EscalationAssigned, EscalationInReview) {
		t.Error("ASSIGNED -> IN_REVIEW should be legal")
	}
	if !CanTransition(EscalationInReview, EscalationRejected) {
		t.Error("IN_REVIEW -> REJECTED should be legal")
	}
	if CanTransition(EscalationInReview, EscalationPending) {
		t.Error("IN_REVIEW -> PENDING must be illegal")
	}
	if CanTransition(EscalationWaiting, EscalationNotified) {
		t.Error("WAITING -> NOTIFIED must be illegal")
	}
}

func TestActionPrecedence(t *testing.T) {
	if ActionDeny.Precedence() <= ActionEscalate.Precedence() {
		t.Error("DENY must outrank ESCALATE")
	}
	if ActionEscalate.Precedence() <= ActionAllow.Precedence() {
		t.Error("ESCALATE must outrank ALLOW")
	}
}

func TestWorkflowClone(t *testing.T) {
	w := &EscalationWorkflow{
		WorkflowID: "wf_1",
		Approvers:  []string{"a", "b"},
		Context:    map[string]any{"op": "write"},
	}
	cp := w.Clone()
	cp.Approvers[0] = "mutated"
	cp.Context["op"] = "mutated"

	if w.Approvers[0] != "a" || w.Context["op"] != "write" {
		t.Fatal("Clone must not share backing storage")
	}
}
