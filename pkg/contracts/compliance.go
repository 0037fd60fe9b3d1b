package contracts

import "time"

// ComplianceStatus is the derived compliance aggregate for one entity (or
// for the whole deployment when EntityID is empty). Score runs 0..100 with
// 100 meaning no observed violations; RiskLevel bands the score.
type ComplianceStatus struct {
	EntityID string `json:"entity_id,omitempty"`

	Evaluations        uint64 `json:"evaluations"`
	Allowed            uint64 `json:"allowed"`
	Denied             uint64 `json:"denied"`
	Escalated          uint64 `json:"escalated"`
	Violations         uint64 `json:"violations"`
	EscalationApproved uint64 `json:"escalations_approved"`
	EscalationRejected uint64 `json:"escalations_rejected"`
	EscalationPending  uint64 `json:"escalations_pending"`
	EscalationTimeout  uint64 `json:"escalations_timeout"`
	Anomalies          uint64 `json:"anomalies"`
	AnomaliesCritical  uint64 `json:"anomalies_critical"`
	AnomaliesUnacked   uint64 `json:"anomalies_unacknowledged"`

	ComplianceScore float64   `json:"compliance_score"`
	RiskLevel       RiskLevel `json:"risk_level"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// AgentRecord is the stored profile of a supervised agent; it becomes the
// "agent" object visible to policy conditions.
type AgentRecord struct {
	AgentID    string         `json:"agent_id"`
	Name       string         `json:"name,omitempty"`
	Team       string         `json:"team,omitempty"`
	TrustLevel string         `json:"trust_level,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
