package datastore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arguslabs/argus/core/pkg/contracts"
)

// MemoryStore keeps everything in process-local maps. It is the development
// and test fallback; a restart loses all state.
type MemoryStore struct {
	mu sync.RWMutex

	agents      map[string]*contracts.AgentRecord
	policies    map[string]map[string]*contracts.PolicyDefinition // policy_id -> version -> def
	constraints map[string]*contracts.Constraint
	violations  []*contracts.ConstraintViolation
	anomalies   map[string]*contracts.Anomaly
	anomalyLog  []*contracts.Anomaly
	acks        map[string]*contracts.AnomalyAcknowledgement
	workflows   map[string]*contracts.EscalationWorkflow
	audit       []*contracts.AuditEntry
	auditByID   map[string]*contracts.AuditEntry
}

// NewMemoryStore builds an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:      make(map[string]*contracts.AgentRecord),
		policies:    make(map[string]map[string]*contracts.PolicyDefinition),
		constraints: make(map[string]*contracts.Constraint),
		anomalies:   make(map[string]*contracts.Anomaly),
		acks:        make(map[string]*contracts.AnomalyAcknowledgement),
		workflows:   make(map[string]*contracts.EscalationWorkflow),
		auditByID:   make(map[string]*contracts.AuditEntry),
	}
}

func (s *MemoryStore) PutAgent(_ context.Context, agent *contracts.AgentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *agent
	s.agents[agent.AgentID] = &cp
	return nil
}

func (s *MemoryStore) GetAgent(_ context.Context, agentID string) (*contracts.AgentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[agentID]
	if !ok {
		return nil, NotFound("agent " + agentID)
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) PutPolicy(_ context.Context, def *contracts.PolicyDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions, ok := s.policies[def.PolicyID]
	if !ok {
		versions = make(map[string]*contracts.PolicyDefinition)
		s.policies[def.PolicyID] = versions
	}
	cp := clonePolicy(def)
	if cp.Active {
		// one active version per policy
		for v, d := range versions {
			if d.Active && v != cp.Version {
				old := clonePolicy(d)
				old.Active = false
				versions[v] = old
			}
		}
	}
	versions[def.Version] = cp
	return nil
}

func (s *MemoryStore) GetPolicy(_ context.Context, policyID, version string) (*contracts.PolicyDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d, ok := s.policies[policyID][version]; ok {
		return clonePolicy(d), nil
	}
	return nil, NotFound(fmt.Sprintf("policy %s@%s", policyID, version))
}

func (s *MemoryStore) GetActivePolicy(_ context.Context, policyID string) (*contracts.PolicyDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.policies[policyID] {
		if d.Active {
			return clonePolicy(d), nil
		}
	}
	return nil, NotFound("policy " + policyID)
}

func (s *MemoryStore) ListActivePolicies(_ context.Context) ([]*contracts.PolicyDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*contracts.PolicyDefinition
	for _, versions := range s.policies {
		for _, d := range versions {
			if d.Active {
				out = append(out, clonePolicy(d))
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PolicyID < out[j].PolicyID })
	return out, nil
}

func (s *MemoryStore) ListPolicyVersions(_ context.Context, policyID string) ([]*contracts.PolicyDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*contracts.PolicyDefinition
	for _, d := range s.policies[policyID] {
		out = append(out, clonePolicy(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) DeletePolicyVersion(_ context.Context, policyID, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[policyID][version]; !ok {
		return NotFound(fmt.Sprintf("policy %s@%s", policyID, version))
	}
	delete(s.policies[policyID], version)
	return nil
}

func (s *MemoryStore) PutConstraint(_ context.Context, c *contracts.Constraint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.constraints[c.ConstraintID] = &cp
	return nil
}

func (s *MemoryStore) GetConstraint(_ context.Context, constraintID string) (*contracts.Constraint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.constraints[constraintID]
	if !ok {
		return nil, NotFound("constraint " + constraintID)
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) ListConstraints(_ context.Context) ([]*contracts.Constraint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*contracts.Constraint, 0, len(s.constraints))
	for _, c := range s.constraints {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConstraintID < out[j].ConstraintID })
	return out, nil
}

func (s *MemoryStore) AppendViolation(_ context.Context, v *contracts.ConstraintViolation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *v
	s.violations = append(s.violations, &cp)
	return nil
}

func (s *MemoryStore) ListViolations(_ context.Context, agentID string, limit int) ([]*contracts.ConstraintViolation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*contracts.ConstraintViolation
	for i := len(s.violations) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		v := s.violations[i]
		if agentID == "" || v.AgentID == agentID {
			cp := *v
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) AppendAnomaly(_ context.Context, a *contracts.Anomaly) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.anomalies[a.AnomalyID] = &cp
	s.anomalyLog = append(s.anomalyLog, &cp)
	return nil
}

func (s *MemoryStore) GetAnomaly(_ context.Context, anomalyID string) (*contracts.Anomaly, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.anomalies[anomalyID]
	if !ok {
		return nil, NotFound("anomaly " + anomalyID)
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) ListAnomalies(_ context.Context, agentID string, limit int) ([]*contracts.Anomaly, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*contracts.Anomaly
	for i := len(s.anomalyLog) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		a := s.anomalyLog[i]
		if agentID == "" || a.AgentID == agentID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) AppendAcknowledgement(_ context.Context, ack *contracts.AnomalyAcknowledgement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.anomalies[ack.AnomalyID]; !ok {
		return NotFound("anomaly " + ack.AnomalyID)
	}
	cp := *ack
	s.acks[ack.AnomalyID] = &cp
	return nil
}

func (s *MemoryStore) GetAcknowledgement(_ context.Context, anomalyID string) (*contracts.AnomalyAcknowledgement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ack, ok := s.acks[anomalyID]
	if !ok {
		return nil, NotFound("acknowledgement for " + anomalyID)
	}
	cp := *ack
	return &cp, nil
}

func (s *MemoryStore) PutWorkflow(_ context.Context, w *contracts.EscalationWorkflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[w.WorkflowID] = w.Clone()
	return nil
}

func (s *MemoryStore) GetWorkflow(_ context.Context, workflowID string) (*contracts.EscalationWorkflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workflows[workflowID]
	if !ok {
		return nil, NotFound("workflow " + workflowID)
	}
	return w.Clone(), nil
}

func (s *MemoryStore) ListWorkflows(_ context.Context, status contracts.EscalationStatus, limit int) ([]*contracts.EscalationWorkflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*contracts.EscalationWorkflow
	for _, w := range s.workflows {
		if status == "" || w.Status == status {
			out = append(out, w.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) AppendAudit(_ context.Context, e *contracts.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.audit); n > 0 && e.Seq <= s.audit[n-1].Seq {
		return fmt.Errorf("audit seq %d not after %d", e.Seq, s.audit[n-1].Seq)
	}
	cp := *e
	s.audit = append(s.audit, &cp)
	s.auditByID[e.AuditID] = &cp
	return nil
}

func (s *MemoryStore) GetAudit(_ context.Context, auditID string) (*contracts.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.auditByID[auditID]
	if !ok {
		return nil, NotFound("audit entry " + auditID)
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) QueryAudit(_ context.Context, f contracts.AuditFilter, limit, offset int) ([]*contracts.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*contracts.AuditEntry
	skipped := 0
	for _, e := range s.audit {
		if !auditMatches(e, f) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		cp := *e
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) AuditRange(_ context.Context, fromSeq, toSeq uint64) ([]*contracts.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*contracts.AuditEntry
	for _, e := range s.audit {
		if fromSeq > 0 && e.Seq < fromSeq {
			continue
		}
		if toSeq > 0 && e.Seq > toSeq {
			break
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) LastAudit(_ context.Context) (*contracts.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.audit) == 0 {
		return nil, nil
	}
	cp := *s.audit[len(s.audit)-1]
	return &cp, nil
}

func (s *MemoryStore) AuditBefore(_ context.Context, cutoff time.Time) ([]*contracts.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*contracts.AuditEntry
	for _, e := range s.audit {
		if e.Timestamp.Before(cutoff) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

// TamperAudit rewrites the details of a stored audit entry in place. It
// exists for chain-verification tests only.
func (s *MemoryStore) TamperAudit(auditID string, details map[string]any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.auditByID[auditID]
	if !ok {
		return false
	}
	e.Details = details
	return true
}

func auditMatches(e *contracts.AuditEntry, f contracts.AuditFilter) bool {
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.ResourceType != "" && e.ResourceType != f.ResourceType {
		return false
	}
	if f.ResourceID != "" && e.ResourceID != f.ResourceID {
		return false
	}
	if f.CorrelationID != "" {
		cid, _ := e.Details["correlation_id"].(string)
		if !strings.EqualFold(cid, f.CorrelationID) {
			return false
		}
	}
	if !f.Start.IsZero() && e.Timestamp.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && e.Timestamp.After(f.End) {
		return false
	}
	return true
}

func clonePolicy(d *contracts.PolicyDefinition) *contracts.PolicyDefinition {
	cp := *d
	cp.Rules = append([]contracts.PolicyRule(nil), d.Rules...)
	if d.Metadata != nil {
		cp.Metadata = make(map[string]any, len(d.Metadata))
		for k, v := range d.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
