// Package constraint enforces rate, quota, resource, operation, and
// temporal limits on agent behavior. Rate limits consume capacity through a
// single atomic CounterStore call; every denial is recorded as a violation
// and an audit entry.
package constraint

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/arguslabs/argus/core/pkg/audit"
	"github.com/arguslabs/argus/core/pkg/canonicalize"
	"github.com/arguslabs/argus/core/pkg/contracts"
	"github.com/arguslabs/argus/core/pkg/counterstore"
	"github.com/arguslabs/argus/core/pkg/datastore"
	"github.com/arguslabs/argus/core/pkg/errcode"
)

// Options parameterize the enforcer.
type Options struct {
	// AllowOnConsensusFail selects fail-open (true) or fail-closed (false)
	// behavior when the counter store is unreachable.
	AllowOnConsensusFail bool
	Clock                func() time.Time
}

// Enforcer checks proposed actions against stored constraints.
type Enforcer struct {
	store    datastore.Store
	counters counterstore.Store
	auditLog *audit.Log
	opts     Options
	logger   *slog.Logger
}

// NewEnforcer builds an enforcer. auditLog may be nil in tests.
func NewEnforcer(store datastore.Store, counters counterstore.Store, auditLog *audit.Log, opts Options) *Enforcer {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Enforcer{
		store:    store,
		counters: counters,
		auditLog: auditLog,
		opts:     opts,
		logger:   slog.Default().With("component", "constraint_enforcer"),
	}
}

// RegisterConstraint validates and stores a constraint definition.
func (e *Enforcer) RegisterConstraint(ctx context.Context, c *contracts.Constraint) error {
	if c.ConstraintID == "" {
		c.ConstraintID = contracts.NewID("con")
	}
	if c.Scope == "" {
		c.Scope = "global"
	}
	if err := validateConstraint(c); err != nil {
		return err
	}
	if err := e.store.PutConstraint(ctx, c); err != nil {
		return errcode.Wrap(errcode.CodeDataStoreUnreachable, "store constraint", err)
	}
	return nil
}

func validateConstraint(c *contracts.Constraint) error {
	switch c.ConstraintType {
	case contracts.ConstraintRateLimit:
		if c.Limit <= 0 || c.WindowSeconds <= 0 {
			return errcode.New(errcode.CodeConstraintInvalid, "RATE_LIMIT needs positive limit and window_seconds")
		}
	case contracts.ConstraintQuota, contracts.ConstraintResourceCap:
		if c.Limit < 0 {
			return errcode.Newf(errcode.CodeConstraintInvalid, "%s limit must not be negative", c.ConstraintType)
		}
	case contracts.ConstraintOperationRestriction:
		if len(c.Operations) == 0 {
			return errcode.New(errcode.CodeConstraintInvalid, "OPERATION_RESTRICTION needs a non-empty operation set")
		}
	case contracts.ConstraintTemporal:
		if c.TemporalConfig == nil {
			return errcode.New(errcode.CodeConstraintInvalid, "TEMPORAL needs temporal_config")
		}
	default:
		return errcode.Newf(errcode.CodeConstraintInvalid, "unknown constraint type %q", c.ConstraintType)
	}
	if tc := c.TemporalConfig; tc != nil {
		if tc.BusinessHoursOnly && (tc.StartHour < 0 || tc.EndHour > 24 || tc.StartHour >= tc.EndHour) {
			return errcode.New(errcode.CodeConstraintInvalid, "temporal hours must satisfy 0 <= start < end <= 24")
		}
		for _, d := range tc.AllowedDays {
			if d < 0 || d > 6 {
				return errcode.Newf(errcode.CodeConstraintInvalid, "allowed day %d out of range 0..6", d)
			}
		}
		if tc.Timezone != "" {
			if _, err := time.LoadLocation(tc.Timezone); err != nil {
				return errcode.Wrap(errcode.CodeConstraintInvalid, "bad timezone", err)
			}
		}
	}
	return nil
}

// Check decides whether agentID may proceed under the named constraint,
// atomically consuming rate-limit capacity on accept. Denials are recorded
// before the result is returned.
func (e *Enforcer) Check(ctx context.Context, agentID, constraintID string, opts contracts.CheckOptions) (*contracts.CheckResult, error) {
	c, err := e.store.GetConstraint(ctx, constraintID)
	if err != nil {
		if datastore.IsNotFound(err) {
			return nil, errcode.Newf(errcode.CodeConstraintNotFound, "constraint %s not found", constraintID)
		}
		return nil, errcode.Wrap(errcode.CodeDataStoreUnreachable, "load constraint", err)
	}

	if !c.Enabled {
		return &contracts.CheckResult{Allowed: true, Reason: "constraint disabled"}, nil
	}
	if c.AgentID != "" && c.AgentID != agentID {
		return &contracts.CheckResult{Allowed: true, Reason: "constraint scoped to another agent"}, nil
	}

	now := e.opts.Clock()

	// a temporal_config on a non-temporal constraint gates the whole check
	if c.ConstraintType != contracts.ConstraintTemporal && c.TemporalConfig != nil {
		if ok, code, reason := temporalOK(c.TemporalConfig, now); !ok {
			res := &contracts.CheckResult{Allowed: false, Code: code, Reason: reason}
			e.recordDenial(ctx, c, agentID, 0, res)
			return res, nil
		}
	}

	var res *contracts.CheckResult
	var usage float64

	switch c.ConstraintType {
	case contracts.ConstraintRateLimit:
		res, usage, err = e.checkRateLimit(ctx, c, agentID, opts, now)
		if err != nil {
			return nil, err
		}
	case contracts.ConstraintQuota:
		usage = opts.CurrentUsage
		res = compareAgainstLimit(usage, c.Limit, errcode.CodeQuotaExceeded,
			fmt.Sprintf("usage %.2f exceeds quota %.2f", usage, c.Limit))
	case contracts.ConstraintResourceCap:
		usage = opts.ResourceCount
		res = compareAgainstLimit(usage, c.Limit, errcode.CodeResourceCapExceeded,
			fmt.Sprintf("resource count %.0f exceeds cap %.0f", usage, c.Limit))
	case contracts.ConstraintOperationRestriction:
		res = checkOperation(c, opts.Operation)
	case contracts.ConstraintTemporal:
		ok, code, reason := temporalOK(c.TemporalConfig, now)
		res = &contracts.CheckResult{Allowed: ok, Code: code, Reason: reason}
	default:
		return nil, errcode.Newf(errcode.CodeConstraintInvalid, "unknown constraint type %q", c.ConstraintType)
	}

	if !res.Allowed {
		e.recordDenial(ctx, c, agentID, usage, res)
	}
	return res, nil
}

func (e *Enforcer) checkRateLimit(ctx context.Context, c *contracts.Constraint, agentID string, opts contracts.CheckOptions, now time.Time) (*contracts.CheckResult, float64, error) {
	requested := opts.Requested
	if requested <= 0 {
		requested = 1
	}
	key := fmt.Sprintf("ratelimit:%s:%s", agentID, c.ConstraintID)
	rate := c.Limit / float64(c.WindowSeconds)

	allowed, remaining, err := e.counters.TokenBucket(ctx, key, requested, c.Limit, rate, now)
	if err != nil {
		if e.opts.AllowOnConsensusFail {
			e.logger.Warn("counter store unreachable, failing open",
				"constraint_id", c.ConstraintID, "agent_id", agentID, "error", err)
			return &contracts.CheckResult{Allowed: true, Reason: "counter store unreachable (fail-open)"}, 0, nil
		}
		res := &contracts.CheckResult{
			Allowed: false,
			Code:    errcode.CodeCounterStoreUnreachable,
			Reason:  "counter store unreachable (fail-closed)",
		}
		e.recordDenial(ctx, c, agentID, 0, res)
		return res, 0, nil
	}

	if !allowed {
		return &contracts.CheckResult{
			Allowed:   false,
			Remaining: remaining,
			Code:      errcode.CodeRateLimitExceeded,
			Reason:    fmt.Sprintf("rate limit %s exhausted, %.2f tokens remain", c.ConstraintID, remaining),
		}, c.Limit - remaining, nil
	}
	return &contracts.CheckResult{Allowed: true, Remaining: remaining}, c.Limit - remaining, nil
}

func compareAgainstLimit(usage, limit float64, code, reason string) *contracts.CheckResult {
	remaining := limit - usage
	if remaining < 0 {
		remaining = 0
	}
	if usage > limit {
		return &contracts.CheckResult{Allowed: false, Remaining: remaining, Code: code, Reason: reason}
	}
	return &contracts.CheckResult{Allowed: true, Remaining: remaining}
}

func checkOperation(c *contracts.Constraint, operation string) *contracts.CheckResult {
	op := canonicalize.Identifier(operation)
	for _, allowed := range c.Operations {
		if canonicalize.Identifier(allowed) == op {
			return &contracts.CheckResult{Allowed: true}
		}
	}
	return &contracts.CheckResult{
		Allowed: false,
		Code:    errcode.CodeConstraintViolation,
		Reason:  fmt.Sprintf("operation %q is not in the allowed set of %s", operation, c.ConstraintID),
	}
}

// temporalOK evaluates a temporal gate at the given instant. Days count
// 0=Monday through 6=Sunday.
func temporalOK(tc *contracts.TemporalConfig, now time.Time) (bool, string, string) {
	loc := time.UTC
	if tc.Timezone != "" {
		if l, err := time.LoadLocation(tc.Timezone); err == nil {
			loc = l
		}
	}
	local := now.In(loc)

	if len(tc.AllowedDays) > 0 {
		day := (int(local.Weekday()) + 6) % 7
		ok := false
		for _, d := range tc.AllowedDays {
			if d == day {
				ok = true
				break
			}
		}
		if !ok {
			return false, errcode.CodeTemporalViolation,
				fmt.Sprintf("%s is not an allowed day", local.Weekday())
		}
	}

	if tc.BusinessHoursOnly {
		h := local.Hour()
		if h < tc.StartHour || h >= tc.EndHour {
			return false, errcode.CodeBusinessHoursViolation,
				fmt.Sprintf("hour %02d is outside business hours %02d:00-%02d:00", h, tc.StartHour, tc.EndHour)
		}
	}
	return true, "", ""
}

// recordDenial appends the violation and audit entry for a failed check.
// Recording failures are logged, never surfaced: the denial stands on its
// own.
func (e *Enforcer) recordDenial(ctx context.Context, c *contracts.Constraint, agentID string, usage float64, res *contracts.CheckResult) {
	v := &contracts.ConstraintViolation{
		ViolationID:   contracts.NewID("vio"),
		ConstraintID:  c.ConstraintID,
		AgentID:       agentID,
		CurrentUsage:  usage,
		Limit:         c.Limit,
		ViolationType: c.ConstraintType,
		Details:       map[string]any{"code": res.Code, "reason": res.Reason},
		Timestamp:     e.opts.Clock().UTC(),
	}
	if err := e.store.AppendViolation(ctx, v); err != nil {
		e.logger.Error("append violation failed", "violation_id", v.ViolationID, "error", err)
	}
	if e.auditLog != nil {
		_, err := e.auditLog.Log(ctx, "constraint_violated", agentID, contracts.ActorAgent,
			"constraint", c.ConstraintID, map[string]any{
				"violation_id": v.ViolationID,
				"code":         res.Code,
				"reason":       res.Reason,
				"usage":        usage,
				"limit":        c.Limit,
			}, "")
		if err != nil {
			e.logger.Error("audit constraint denial failed", "violation_id", v.ViolationID, "error", err)
		}
	}
}

// Violations lists the most recent violations for an agent.
func (e *Enforcer) Violations(ctx context.Context, agentID string, limit int) ([]*contracts.ConstraintViolation, error) {
	return e.store.ListViolations(ctx, agentID, limit)
}
