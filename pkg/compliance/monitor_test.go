package compliance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/arguslabs/argus/core/pkg/contracts"
)

func TestPristineEntityScoresFull(t *testing.T) {
	m := NewMonitor(nil)
	s := m.Status("a_new")
	assert.Equal(t, 100.0, s.ComplianceScore)
	assert.Equal(t, contracts.RiskLow, s.RiskLevel)
	assert.Zero(t, s.Evaluations)
}

func TestCountersAndScore(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := NewMonitor(func() time.Time { return now })

	for i := 0; i < 90; i++ {
		m.RecordDecision("a1", contracts.VerdictAllow)
	}
	for i := 0; i < 8; i++ {
		m.RecordDecision("a1", contracts.VerdictDeny)
	}
	m.RecordDecision("a1", contracts.VerdictEscalate)
	m.RecordDecision("a1", contracts.VerdictEscalate)

	m.RecordViolation("a1")
	m.RecordAnomaly("a1", contracts.SeverityCritical)
	m.RecordAnomaly("a1", contracts.SeverityLow)

	s := m.Status("a1")
	assert.Equal(t, uint64(100), s.Evaluations)
	assert.Equal(t, uint64(90), s.Allowed)
	assert.Equal(t, uint64(8), s.Denied)
	assert.Equal(t, uint64(2), s.Escalated)
	assert.Equal(t, uint64(1), s.Violations)
	assert.Equal(t, uint64(2), s.Anomalies)
	assert.Equal(t, uint64(1), s.AnomaliesCritical)
	assert.Equal(t, uint64(2), s.AnomaliesUnacked)
	// penalty = 2 (violation) + 4 (critical) + 1 (low) = 7 over 100 evals
	assert.InDelta(t, 93.0, s.ComplianceScore, 1e-9)
	assert.Equal(t, contracts.RiskLow, s.RiskLevel)
	assert.Equal(t, now.UTC(), s.UpdatedAt)
}

func TestEscalationLifecycleCounters(t *testing.T) {
	m := NewMonitor(nil)

	m.RecordEscalationCreated("a1")
	m.RecordEscalationCreated("a1")
	m.RecordEscalationCreated("a1")
	s := m.Status("a1")
	assert.Equal(t, uint64(3), s.EscalationPending)

	m.RecordEscalationOutcome("a1", contracts.EscalationApproved)
	m.RecordEscalationOutcome("a1", contracts.EscalationRejected)
	m.RecordEscalationOutcome("a1", contracts.EscalationTimedOut)

	s = m.Status("a1")
	assert.Equal(t, uint64(0), s.EscalationPending)
	assert.Equal(t, uint64(1), s.EscalationApproved)
	assert.Equal(t, uint64(1), s.EscalationRejected)
	assert.Equal(t, uint64(1), s.EscalationTimeout)
}

func TestAcknowledgementReducesUnacked(t *testing.T) {
	m := NewMonitor(nil)
	m.RecordAnomaly("a1", contracts.SeverityHigh)
	m.RecordAnomaly("a1", contracts.SeverityHigh)
	m.RecordAcknowledgement("a1")

	s := m.Status("a1")
	assert.Equal(t, uint64(2), s.Anomalies)
	assert.Equal(t, uint64(1), s.AnomaliesUnacked)

	// acknowledging more than was recorded never underflows
	m.RecordAcknowledgement("a1")
	m.RecordAcknowledgement("a1")
	assert.Equal(t, uint64(0), m.Status("a1").AnomaliesUnacked)
}

func TestRiskBands(t *testing.T) {
	cases := []struct {
		score float64
		want  contracts.RiskLevel
	}{
		{100, contracts.RiskLow},
		{90, contracts.RiskLow},
		{89.9, contracts.RiskMedium},
		{70, contracts.RiskMedium},
		{69.9, contracts.RiskHigh},
		{50, contracts.RiskHigh},
		{49.9, contracts.RiskCritical},
		{0, contracts.RiskCritical},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, band(tc.score), "score %.1f", tc.score)
	}
}

func TestScoreFloorsAtZero(t *testing.T) {
	m := NewMonitor(nil)
	m.RecordDecision("a1", contracts.VerdictDeny)
	for i := 0; i < 50; i++ {
		m.RecordAnomaly("a1", contracts.SeverityCritical)
	}
	s := m.Status("a1")
	assert.Equal(t, 0.0, s.ComplianceScore)
	assert.Equal(t, contracts.RiskCritical, s.RiskLevel)
}

func TestGlobalAggregateFeedsFromAllEntities(t *testing.T) {
	m := NewMonitor(nil)
	m.RecordDecision("a1", contracts.VerdictAllow)
	m.RecordDecision("a2", contracts.VerdictDeny)
	m.RecordViolation("a2")

	global := m.Status("")
	assert.Equal(t, uint64(2), global.Evaluations)
	assert.Equal(t, uint64(1), global.Allowed)
	assert.Equal(t, uint64(1), global.Denied)
	assert.Equal(t, uint64(1), global.Violations)

	assert.ElementsMatch(t, []string{"a1", "a2"}, m.Entities())
}
