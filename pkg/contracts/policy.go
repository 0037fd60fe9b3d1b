package contracts

import "time"

// PolicyRule is a single condition/action pair inside a policy. Conditions
// are boolean expressions over the request context (see pkg/policy for the
// grammar). Within one policy, higher Priority evaluates first.
type PolicyRule struct {
	RuleID    string     `json:"rule_id"`
	Name      string     `json:"name"`
	Condition string     `json:"condition"`
	Action    RuleAction `json:"action"`
	Priority  int        `json:"priority"`
	Enabled   bool       `json:"enabled"`
	Tags      []string   `json:"tags,omitempty"`
}

// PolicyDefinition is a versioned set of rules. Only active definitions
// participate in evaluation; updates mint a new semver Version and retain
// prior versions up to the configured history depth.
type PolicyDefinition struct {
	PolicyID  string         `json:"policy_id"`
	Name      string         `json:"name"`
	Version   string         `json:"version"`
	Scope     string         `json:"scope"` // "global", "agent:<id>", "team:<id>"
	Active    bool           `json:"active"`
	Rules     []PolicyRule   `json:"rules"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// MatchedRule records one rule that fired during an evaluation.
type MatchedRule struct {
	PolicyID string     `json:"policy_id"`
	RuleID   string     `json:"rule_id"`
	RuleName string     `json:"rule_name"`
	Action   RuleAction `json:"action"`
}

// PolicyDecision is the immutable outcome of one evaluation. Confidence is
// 1.0 when at least one rule matched and 0.5 for the default-allow case.
type PolicyDecision struct {
	DecisionID        string         `json:"decision_id"`
	AgentID           string         `json:"agent_id"`
	RequestContext    map[string]any `json:"request_context,omitempty"`
	Verdict           Verdict        `json:"verdict"`
	MatchedRules      []MatchedRule  `json:"matched_rules,omitempty"`
	Explanation       string         `json:"explanation"`
	Confidence        float64        `json:"confidence"`
	EvaluationLatency float64        `json:"evaluation_latency_ms"`
	Timestamp         time.Time      `json:"timestamp"`
	AuditEventID      string         `json:"audit_event_id,omitempty"`
}
