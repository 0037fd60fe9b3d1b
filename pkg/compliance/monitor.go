// Package compliance keeps running per-entity aggregates of supervision
// outcomes and derives a 0..100 compliance score with a banded risk level.
// Aggregates are in-memory; they rebuild from the audit journal on restart
// if historical continuity is needed.
package compliance

import (
	"sync"
	"time"

	"github.com/arguslabs/argus/core/pkg/contracts"
)

// Severity penalty weights for anomalies.
const (
	weightLow      = 1.0
	weightMedium   = 2.0
	weightHigh     = 3.0
	weightCritical = 4.0
)

// Additional penalty weights for non-anomaly events.
const (
	weightViolation         = 2.0
	weightEscalationTimeout = 3.0
	weightEscalationReject  = 1.0
)

// tally is the raw counter set for one entity.
type tally struct {
	contracts.ComplianceStatus
	penalty float64
}

// Monitor accumulates compliance aggregates. The empty entity ID addresses
// the deployment-wide aggregate; every event feeds both views. Safe for
// concurrent use.
type Monitor struct {
	mu       sync.RWMutex
	entities map[string]*tally
	clock    func() time.Time
}

// NewMonitor builds an empty monitor.
func NewMonitor(clock func() time.Time) *Monitor {
	if clock == nil {
		clock = time.Now
	}
	return &Monitor{entities: make(map[string]*tally), clock: clock}
}

func (m *Monitor) apply(entityID string, f func(*tally)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock().UTC()
	for _, id := range []string{entityID, ""} {
		t, ok := m.entities[id]
		if !ok {
			t = &tally{}
			t.EntityID = id
			m.entities[id] = t
		}
		f(t)
		t.UpdatedAt = now
		if id == "" && entityID == "" {
			break
		}
	}
}

// RecordDecision counts one policy evaluation outcome.
func (m *Monitor) RecordDecision(entityID string, verdict contracts.Verdict) {
	m.apply(entityID, func(t *tally) {
		t.Evaluations++
		switch verdict {
		case contracts.VerdictAllow:
			t.Allowed++
		case contracts.VerdictDeny:
			t.Denied++
		case contracts.VerdictEscalate:
			t.Escalated++
		}
	})
}

// RecordViolation counts one constraint denial.
func (m *Monitor) RecordViolation(entityID string) {
	m.apply(entityID, func(t *tally) {
		t.Violations++
		t.penalty += weightViolation
	})
}

// RecordAnomaly counts one detected anomaly, weighted by severity.
func (m *Monitor) RecordAnomaly(entityID string, severity contracts.Severity) {
	m.apply(entityID, func(t *tally) {
		t.Anomalies++
		t.AnomaliesUnacked++
		if severity == contracts.SeverityCritical {
			t.AnomaliesCritical++
		}
		t.penalty += anomalyWeight(severity)
	})
}

// RecordAcknowledgement marks one previously counted anomaly as reviewed.
func (m *Monitor) RecordAcknowledgement(entityID string) {
	m.apply(entityID, func(t *tally) {
		if t.AnomaliesUnacked > 0 {
			t.AnomaliesUnacked--
		}
	})
}

// RecordEscalationCreated counts a new pending escalation.
func (m *Monitor) RecordEscalationCreated(entityID string) {
	m.apply(entityID, func(t *tally) {
		t.EscalationPending++
	})
}

// RecordEscalationOutcome settles one pending escalation.
func (m *Monitor) RecordEscalationOutcome(entityID string, outcome contracts.EscalationStatus) {
	m.apply(entityID, func(t *tally) {
		if t.EscalationPending > 0 {
			t.EscalationPending--
		}
		switch outcome {
		case contracts.EscalationApproved:
			t.EscalationApproved++
		case contracts.EscalationRejected:
			t.EscalationRejected++
			t.penalty += weightEscalationReject
		case contracts.EscalationTimedOut:
			t.EscalationTimeout++
			t.penalty += weightEscalationTimeout
		}
	})
}

// Status returns the aggregate for one entity, or the deployment-wide view
// for the empty ID. Unknown entities report a pristine score of 100.
func (m *Monitor) Status(entityID string) *contracts.ComplianceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.entities[entityID]
	if !ok {
		return &contracts.ComplianceStatus{
			EntityID:        entityID,
			ComplianceScore: 100,
			RiskLevel:       contracts.RiskLow,
			UpdatedAt:       m.clock().UTC(),
		}
	}

	out := t.ComplianceStatus
	out.ComplianceScore = score(t)
	out.RiskLevel = band(out.ComplianceScore)
	return &out
}

// Entities lists every entity ID with a recorded aggregate (excluding the
// deployment-wide view).
func (m *Monitor) Entities() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.entities))
	for id := range m.entities {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// score maps accumulated penalty against evaluation volume: 100 with no
// penalties, floored at 0.
func score(t *tally) float64 {
	base := float64(t.Evaluations)
	if base < 1 {
		base = 1
	}
	s := 100 * (1 - t.penalty/base)
	if s < 0 {
		return 0
	}
	return s
}

func band(score float64) contracts.RiskLevel {
	switch {
	case score >= 90:
		return contracts.RiskLow
	case score >= 70:
		return contracts.RiskMedium
	case score >= 50:
		return contracts.RiskHigh
	default:
		return contracts.RiskCritical
	}
}

func anomalyWeight(s contracts.Severity) float64 {
	switch s {
	case contracts.SeverityCritical:
		return weightCritical
	case contracts.SeverityHigh:
		return weightHigh
	case contracts.SeverityMedium:
		return weightMedium
	default:
		return weightLow
	}
}
