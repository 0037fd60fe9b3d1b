// Package contracts defines the data contracts of the supervision core:
// policy rules and decisions, constraints and violations, anomalies and
// baselines, escalation workflows, audit entries, and compliance aggregates.
// Every type here crosses a component boundary; owning components never
// expose their internal state directly.
package contracts

import "github.com/google/uuid"

// Verdict is the final outcome of a policy evaluation.
type Verdict string

const (
	VerdictAllow    Verdict = "ALLOW"
	VerdictDeny     Verdict = "DENY"
	VerdictEscalate Verdict = "ESCALATE"
)

// RuleAction is the action a matching policy rule contributes. Conflict
// resolution is deny-wins: DENY > ESCALATE > ALLOW.
type RuleAction string

const (
	ActionAllow    RuleAction = "ALLOW"
	ActionDeny     RuleAction = "DENY"
	ActionEscalate RuleAction = "ESCALATE"
)

// Precedence orders actions for conflict resolution; higher wins.
func (a RuleAction) Precedence() int {
	switch a {
	case ActionDeny:
		return 3
	case ActionEscalate:
		return 2
	case ActionAllow:
		return 1
	default:
		return 0
	}
}

// ConstraintType selects the enforcement algorithm for a constraint.
type ConstraintType string

const (
	ConstraintRateLimit            ConstraintType = "RATE_LIMIT"
	ConstraintQuota                ConstraintType = "QUOTA"
	ConstraintResourceCap          ConstraintType = "RESOURCE_CAP"
	ConstraintOperationRestriction ConstraintType = "OPERATION_RESTRICTION"
	ConstraintTemporal             ConstraintType = "TEMPORAL"
)

// Severity classifies anomalies and risks.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank orders severities; higher is worse.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// ActorType identifies who performed an audited action.
type ActorType string

const (
	ActorAgent  ActorType = "agent"
	ActorUser   ActorType = "user"
	ActorSystem ActorType = "system"
)

// RiskLevel is the compliance risk classification of an entity.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// NewID mints an opaque identifier with a type prefix, e.g. "dec_3f2a…".
func NewID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}
