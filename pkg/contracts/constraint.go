package contracts

import "time"

// TemporalConfig gates a constraint by wall-clock time. Days use 0=Monday
// through 6=Sunday. Hours are evaluated in Timezone (IANA name).
type TemporalConfig struct {
	BusinessHoursOnly bool   `json:"business_hours_only"`
	StartHour         int    `json:"start_hour"`
	EndHour           int    `json:"end_hour"`
	AllowedDays       []int  `json:"allowed_days,omitempty"`
	Timezone          string `json:"timezone,omitempty"`
}

// Constraint is a named limit on agent behavior. Limit and WindowSeconds
// parameterize RATE_LIMIT (token bucket: capacity = Limit, refill =
// Limit/WindowSeconds per second); QUOTA and RESOURCE_CAP compare caller
// supplied usage against Limit; OPERATION_RESTRICTION matches against
// Operations; TEMPORAL applies TemporalConfig. A TemporalConfig on a
// non-temporal constraint acts as a pre-filter.
type Constraint struct {
	ConstraintID   string          `json:"constraint_id"`
	Name           string          `json:"name"`
	ConstraintType ConstraintType  `json:"constraint_type"`
	Limit          float64         `json:"limit"`
	WindowSeconds  int             `json:"window_seconds"`
	Scope          string          `json:"scope"`
	AgentID        string          `json:"agent_id,omitempty"`
	Operations     []string        `json:"operations,omitempty"`
	TemporalConfig *TemporalConfig `json:"temporal_config,omitempty"`
	Enabled        bool            `json:"enabled"`
}

// ConstraintViolation is the append-only record of one denied check.
type ConstraintViolation struct {
	ViolationID   string         `json:"violation_id"`
	ConstraintID  string         `json:"constraint_id"`
	AgentID       string         `json:"agent_id"`
	CurrentUsage  float64        `json:"current_usage"`
	Limit         float64        `json:"limit"`
	ViolationType ConstraintType `json:"violation_type"`
	Details       map[string]any `json:"details,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// CheckOptions carries the caller-supplied inputs of a constraint check.
// Requested defaults to 1 for rate limits; CurrentUsage feeds QUOTA,
// ResourceCount feeds RESOURCE_CAP, Operation feeds OPERATION_RESTRICTION.
type CheckOptions struct {
	Requested     int     `json:"requested,omitempty"`
	CurrentUsage  float64 `json:"current_usage,omitempty"`
	ResourceCount float64 `json:"resource_count,omitempty"`
	Operation     string  `json:"operation,omitempty"`
}

// CheckResult is the outcome of one constraint check. Remaining is only
// meaningful for RATE_LIMIT (tokens left) and QUOTA/RESOURCE_CAP (headroom).
type CheckResult struct {
	Allowed   bool    `json:"allowed"`
	Remaining float64 `json:"remaining"`
	Code      string  `json:"code,omitempty"`
	Reason    string  `json:"reason,omitempty"`
}
