// Package supervisor composes the policy engine, constraint enforcer,
// anomaly detector, escalation orchestrator, compliance monitor, and audit
// chain behind a single service façade. The façade is the process-wide
// holder of all adapters: build it once in cmd/argus, tear it down with
// Close.
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/arguslabs/argus/core/pkg/anomaly"
	"github.com/arguslabs/argus/core/pkg/audit"
	"github.com/arguslabs/argus/core/pkg/canonicalize"
	"github.com/arguslabs/argus/core/pkg/compliance"
	"github.com/arguslabs/argus/core/pkg/config"
	"github.com/arguslabs/argus/core/pkg/constraint"
	"github.com/arguslabs/argus/core/pkg/contracts"
	"github.com/arguslabs/argus/core/pkg/counterstore"
	"github.com/arguslabs/argus/core/pkg/crypto"
	"github.com/arguslabs/argus/core/pkg/datastore"
	"github.com/arguslabs/argus/core/pkg/errcode"
	"github.com/arguslabs/argus/core/pkg/escalation"
	"github.com/arguslabs/argus/core/pkg/notifier"
	"github.com/arguslabs/argus/core/pkg/observability"
	"github.com/arguslabs/argus/core/pkg/policy"
)

// Adapters bundles the external capability implementations. Data is
// required; the rest fall back to in-process implementations.
type Adapters struct {
	Data      datastore.Store
	Counters  counterstore.Store
	Signer    crypto.Signer
	Notifier  notifier.Notifier
	Telemetry *observability.Provider
}

// Options tune façade behavior not covered by config.
type Options struct {
	// DefaultApprovers receive escalations auto-created from ESCALATE
	// verdicts. Default ["operator"].
	DefaultApprovers []string
	// DefaultPriority for auto-created escalations, 1..3. Default 2.
	DefaultPriority int
	Clock           func() time.Time
}

func (o *Options) defaults() {
	if len(o.DefaultApprovers) == 0 {
		o.DefaultApprovers = []string{"operator"}
	}
	if o.DefaultPriority < 1 || o.DefaultPriority > 3 {
		o.DefaultPriority = 2
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

// HealthReport is the result of a Health probe. Status is "ok" unless an
// adapter is unreachable, in which case it is "degraded" and the failing
// component's entry carries the error text.
type HealthReport struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
	CheckedAt  time.Time         `json:"checked_at"`
}

// Service is the supervision entry point. All methods are safe for
// concurrent callers.
type Service struct {
	cfg      *config.Config
	adapters Adapters
	opts     Options

	auditLog    *audit.Log
	engine      *policy.Engine
	enforcer    *constraint.Enforcer
	anomalies   *anomaly.Detector
	escalations *escalation.Orchestrator
	compliance  *compliance.Monitor
	logger      *slog.Logger

	closeOnce sync.Once
	closed    atomic.Bool
}

// New assembles the service. Seed documents under cfg.PolicySeedDir are
// applied before New returns.
func New(ctx context.Context, cfg *config.Config, ad Adapters, opts Options) (*Service, error) {
	if cfg == nil {
		return nil, errcode.New(errcode.CodeConfigMissing, "nil config")
	}
	if ad.Data == nil {
		return nil, errcode.New(errcode.CodeConfigMissing, "datastore adapter is required")
	}
	opts.defaults()

	if ad.Counters == nil {
		ad.Counters = counterstore.NewLocalStore()
	}
	if ad.Notifier == nil {
		ad.Notifier = notifier.Noop{}
	}
	if ad.Signer == nil {
		signer, err := crypto.NewEd25519Signer(cfg.AuditSigningKeyID)
		if err != nil {
			return nil, errcode.Wrap(errcode.CodeSignerUnreachable, "build default signer", err)
		}
		ad.Signer = signer
	}
	if ad.Telemetry == nil {
		// inert provider; instruments become no-ops
		telemetry, err := observability.New(ctx, &observability.Config{LogLevel: cfg.LogLevel})
		if err != nil {
			return nil, err
		}
		ad.Telemetry = telemetry
	}

	auditOpts := []audit.Option{audit.WithClock(opts.Clock)}
	if cfg.AuditSigningEnabled {
		auditOpts = append(auditOpts, audit.WithSigning(cfg.AuditSigningKeyID))
	}
	auditLog, err := audit.New(ctx, ad.Data, ad.Signer, auditOpts...)
	if err != nil {
		return nil, err
	}

	engine, err := policy.NewEngine(ad.Data, policy.Options{
		CacheTTL:          time.Duration(cfg.PolicyCacheTTLSeconds) * time.Second,
		CacheMaxSize:      cfg.PolicyCacheMaxSize,
		EvaluationTimeout: time.Duration(cfg.PolicyEvaluationTimeoutMs) * time.Millisecond,
		DenyWins:          cfg.DenyWinsRule,
		MaxVersionHistory: cfg.MaxPolicyVersionHistory,
		Clock:             opts.Clock,
	})
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:      cfg,
		adapters: ad,
		opts:     opts,
		auditLog: auditLog,
		engine:   engine,
		enforcer: constraint.NewEnforcer(ad.Data, ad.Counters, auditLog, constraint.Options{
			AllowOnConsensusFail: cfg.AllowOnConsensusFail,
			Clock:                opts.Clock,
		}),
		anomalies: anomaly.NewDetector(ad.Data, auditLog, anomaly.Options{
			BaselineSampleSize: cfg.BaselineSampleSize,
			MinBaselineSamples: cfg.MinBaselineSamples,
			ZScoreThreshold:    cfg.ZScoreThreshold,
			IQRMultiplier:      cfg.IQRMultiplier,
			Clock:              opts.Clock,
		}),
		escalations: escalation.NewOrchestrator(ad.Data, ad.Notifier, auditLog, escalation.Options{
			Timeout:    time.Duration(cfg.EscalationTimeoutSeconds) * time.Second,
			RetryCount: cfg.EscalationRetryCount,
			RetryDelay: time.Duration(cfg.EscalationRetryDelaySeconds) * time.Second,
			MaxLevel:   cfg.MaxEscalationLevel,
			RequireMFA: cfg.RequireMFAForApproval,
			Clock:      opts.Clock,
		}),
		compliance: compliance.NewMonitor(opts.Clock),
		logger:     slog.Default().With("component", "supervisor"),
	}

	if err := ad.Telemetry.RegisterEscalationsGauge(func() int64 {
		return int64(s.escalations.Pending())
	}); err != nil {
		s.logger.Warn("register escalation gauge failed", "error", err)
	}

	if cfg.PolicySeedDir != "" {
		if err := s.ApplySeeds(ctx, cfg.PolicySeedDir); err != nil {
			s.escalations.Close()
			return nil, err
		}
	}
	return s, nil
}

// ApplySeeds loads policy_*.yaml and constraint_*.yaml documents from dir
// and upserts them. Re-running with the same files is a no-op: seed IDs are
// stable, already-registered policies are skipped, constraints overwrite
// in place.
func (s *Service) ApplySeeds(ctx context.Context, dir string) error {
	defs, err := config.LoadPolicySeeds(dir)
	if err != nil {
		return errcode.Wrap(errcode.CodeConfigInvalid, "load policy seeds", err)
	}
	for i := range defs {
		def := defs[i]
		if existing, err := s.adapters.Data.ListPolicyVersions(ctx, def.PolicyID); err == nil && len(existing) > 0 {
			continue
		}
		if _, err := s.engine.RegisterPolicy(ctx, &def); err != nil {
			return errcode.Wrap(errcode.CodeConfigInvalid, "seed policy "+def.PolicyID, err)
		}
		s.auditMutation(ctx, "policy_registered", "seed", def.PolicyID, map[string]any{
			"version": def.Version, "source": "seed",
		})
	}

	cons, err := config.LoadConstraintSeeds(dir)
	if err != nil {
		return errcode.Wrap(errcode.CodeConfigInvalid, "load constraint seeds", err)
	}
	for i := range cons {
		c := cons[i]
		if err := s.enforcer.RegisterConstraint(ctx, &c); err != nil {
			return errcode.Wrap(errcode.CodeConfigInvalid, "seed constraint "+c.ConstraintID, err)
		}
	}
	s.logger.Info("seeds applied", "dir", dir, "policies", len(defs), "constraints", len(cons))
	return nil
}

// EvaluateRequest renders a policy decision for one proposed action. An
// ESCALATE verdict opens an approval workflow before the decision returns.
// Every decision is referenced by exactly one audit entry, whose ID is set
// on the decision.
func (s *Service) EvaluateRequest(ctx context.Context, agentID, operation string, resource, extra map[string]any) (decision *contracts.PolicyDecision, err error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	agentID = canonicalize.Identifier(agentID)
	operation = canonicalize.Identifier(operation)

	ctx, done := s.adapters.Telemetry.TrackOperation(ctx, "evaluate_request",
		attribute.String("operation", operation))
	defer func() { done(err) }()

	decision, err = s.engine.Evaluate(ctx, agentID, operation, resource, extra)
	if err != nil {
		return nil, err
	}
	s.adapters.Telemetry.RecordEvaluationLatency(ctx, decision.EvaluationLatency)

	details := map[string]any{
		"verdict":               decision.Verdict,
		"confidence":            decision.Confidence,
		"matched_rules":         len(decision.MatchedRules),
		"evaluation_latency_ms": decision.EvaluationLatency,
		"operation":             operation,
	}

	if decision.Verdict == contracts.VerdictEscalate {
		wf, werr := s.escalations.CreateEscalation(ctx, decision.DecisionID, decision.Explanation,
			map[string]any{"agent_id": agentID, "operation": operation},
			s.opts.DefaultApprovers, s.opts.DefaultPriority)
		if werr != nil {
			return nil, errcode.Wrap(errcode.CodeEscalationFailed, "open escalation for decision", werr)
		}
		details["workflow_id"] = wf.WorkflowID
		s.compliance.RecordEscalationCreated(agentID)
	}

	s.compliance.RecordDecision(agentID, decision.Verdict)

	entry, aerr := s.auditLog.Log(ctx, "policy_decision", agentID, contracts.ActorAgent,
		"decision", decision.DecisionID, details, "")
	if aerr != nil {
		return nil, aerr
	}
	decision.AuditEventID = entry.AuditID
	return decision, nil
}

// CheckConstraint enforces a named constraint against a proposed action.
// Denials are recorded as violations by the enforcer and counted against
// the agent's compliance standing.
func (s *Service) CheckConstraint(ctx context.Context, agentID, constraintID string, opts contracts.CheckOptions) (res *contracts.CheckResult, err error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	agentID = canonicalize.Identifier(agentID)

	ctx, done := s.adapters.Telemetry.TrackOperation(ctx, "check_constraint")
	defer func() { done(err) }()

	res, err = s.enforcer.Check(ctx, agentID, constraintID, opts)
	if err != nil {
		return nil, err
	}
	if !res.Allowed {
		s.compliance.RecordViolation(agentID)
	}
	return res, nil
}

// RecordMetric ingests one observation. With detect true it also runs
// anomaly detection against the baseline as it stood before the
// observation; detected anomalies count against compliance.
func (s *Service) RecordMetric(ctx context.Context, agentID, metric string, value float64, detect bool) (as []*contracts.Anomaly, err error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	agentID = canonicalize.Identifier(agentID)
	metric = canonicalize.Identifier(metric)

	if !detect {
		s.anomalies.Record(agentID, metric, value)
		return nil, nil
	}

	ctx, done := s.adapters.Telemetry.TrackOperation(ctx, "record_metric")
	defer func() { done(err) }()

	as, err = s.anomalies.Detect(ctx, agentID, metric, value)
	for _, a := range as {
		s.compliance.RecordAnomaly(agentID, a.Severity)
	}
	return as, err
}

// SetBaseline seeds the rolling baseline for one metric from history.
func (s *Service) SetBaseline(ctx context.Context, agentID, metric string, values []float64) error {
	if err := s.guard(); err != nil {
		return err
	}
	agentID = canonicalize.Identifier(agentID)
	metric = canonicalize.Identifier(metric)
	if err := s.anomalies.SetBaseline(agentID, metric, values); err != nil {
		return err
	}
	s.auditMutation(ctx, "baseline_set", agentID, metric, map[string]any{"samples": len(values)})
	return nil
}

// GetBaseline returns the current baseline statistics for one metric.
func (s *Service) GetBaseline(agentID, metric string) (*contracts.BaselineStats, error) {
	return s.anomalies.Baseline(canonicalize.Identifier(agentID), canonicalize.Identifier(metric))
}

// AcknowledgeAnomaly marks an anomaly as reviewed by an operator.
func (s *Service) AcknowledgeAnomaly(ctx context.Context, anomalyID, actorID string) error {
	if err := s.guard(); err != nil {
		return err
	}
	a, err := s.anomalies.Get(ctx, anomalyID)
	if err != nil {
		return err
	}
	if err := s.anomalies.Acknowledge(ctx, anomalyID, actorID); err != nil {
		return err
	}
	s.compliance.RecordAcknowledgement(a.AgentID)
	return nil
}

// CreateEscalation opens an approval workflow directly, outside the
// evaluation hot path.
func (s *Service) CreateEscalation(ctx context.Context, decisionID, reason string, wfContext map[string]any, approvers []string) (*contracts.EscalationWorkflow, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	wf, err := s.escalations.CreateEscalation(ctx, decisionID, reason, wfContext, approvers, s.opts.DefaultPriority)
	if err != nil {
		return nil, err
	}
	s.compliance.RecordEscalationCreated(contextAgent(wfContext))
	return wf, nil
}

// Resolve closes an escalation workflow with an approve/reject outcome.
func (s *Service) Resolve(ctx context.Context, workflowID string, approved bool, approverID, notes, mfaToken string) (wf *contracts.EscalationWorkflow, err error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	ctx, done := s.adapters.Telemetry.TrackOperation(ctx, "resolve_escalation")
	defer func() { done(err) }()

	wf, err = s.escalations.Resolve(ctx, workflowID, approved, approverID, notes, mfaToken)
	if err != nil {
		return nil, err
	}
	s.compliance.RecordEscalationOutcome(contextAgent(wf.Context), wf.Status)
	return wf, nil
}

// GetEscalation returns one workflow by ID.
func (s *Service) GetEscalation(ctx context.Context, workflowID string) (*contracts.EscalationWorkflow, error) {
	return s.escalations.Get(ctx, workflowID)
}

// RegisterPolicy validates, versions, and activates a new policy.
func (s *Service) RegisterPolicy(ctx context.Context, def *contracts.PolicyDefinition) (*contracts.PolicyDefinition, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	stored, err := s.engine.RegisterPolicy(ctx, def)
	if err != nil {
		return nil, err
	}
	s.auditMutation(ctx, "policy_registered", "admin", stored.PolicyID, map[string]any{"version": stored.Version})
	return stored, nil
}

// UpdatePolicy activates a new version of an existing policy.
func (s *Service) UpdatePolicy(ctx context.Context, def *contracts.PolicyDefinition) (*contracts.PolicyDefinition, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	stored, err := s.engine.UpdatePolicy(ctx, def)
	if err != nil {
		return nil, err
	}
	s.auditMutation(ctx, "policy_updated", "admin", stored.PolicyID, map[string]any{"version": stored.Version})
	return stored, nil
}

// RollbackPolicy re-activates an earlier version under a fresh version
// number.
func (s *Service) RollbackPolicy(ctx context.Context, policyID, targetVersion string) (*contracts.PolicyDefinition, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	restored, err := s.engine.RollbackPolicy(ctx, policyID, targetVersion)
	if err != nil {
		return nil, err
	}
	s.auditMutation(ctx, "policy_rolled_back", "admin", policyID, map[string]any{
		"restored_from": targetVersion, "version": restored.Version,
	})
	return restored, nil
}

// ListPolicyVersions returns all stored versions of a policy, newest first.
func (s *Service) ListPolicyVersions(ctx context.Context, policyID string) ([]*contracts.PolicyDefinition, error) {
	return s.engine.ListPolicyVersions(ctx, policyID)
}

// RegisterConstraint validates and stores a constraint.
func (s *Service) RegisterConstraint(ctx context.Context, c *contracts.Constraint) error {
	if err := s.guard(); err != nil {
		return err
	}
	if err := s.enforcer.RegisterConstraint(ctx, c); err != nil {
		return err
	}
	s.auditMutation(ctx, "constraint_registered", "admin", c.ConstraintID, map[string]any{
		"constraint_type": c.ConstraintType,
	})
	return nil
}

// QueryAudit returns audit entries matching the filter, oldest first.
func (s *Service) QueryAudit(ctx context.Context, f contracts.AuditFilter, limit, offset int) ([]*contracts.AuditEntry, error) {
	return s.auditLog.Query(ctx, f, limit, offset)
}

// VerifyAuditChain re-derives the hash chain over [fromSeq, toSeq]; zero
// bounds cover the whole chain.
func (s *Service) VerifyAuditChain(ctx context.Context, fromSeq, toSeq uint64) (*contracts.ChainVerification, error) {
	return s.auditLog.VerifyChain(ctx, fromSeq, toSeq)
}

// GetCompliance returns the compliance aggregate for one entity, or the
// global aggregate when entityID is empty.
func (s *Service) GetCompliance(entityID string) *contracts.ComplianceStatus {
	if entityID != "" {
		entityID = canonicalize.Identifier(entityID)
	}
	return s.compliance.Status(entityID)
}

// Health probes every adapter. A failing probe degrades the report but
// never fails the call; a non-production signer is flagged without
// degrading.
func (s *Service) Health(ctx context.Context) *HealthReport {
	report := &HealthReport{
		Status:     "ok",
		Components: map[string]string{},
		CheckedAt:  s.opts.Clock().UTC(),
	}
	if s.closed.Load() {
		report.Status = "degraded"
		report.Components["service"] = "shutting down"
		return report
	}

	if err := s.adapters.Data.Ping(ctx); err != nil {
		report.Status = "degraded"
		report.Components["datastore"] = err.Error()
	} else {
		report.Components["datastore"] = "ok"
	}
	if err := s.adapters.Counters.Ping(ctx); err != nil {
		report.Status = "degraded"
		report.Components["counterstore"] = err.Error()
	} else {
		report.Components["counterstore"] = "ok"
	}

	if s.adapters.Signer.Production() {
		report.Components["signer"] = s.adapters.Signer.Algorithm()
	} else {
		report.Components["signer"] = "fallback (" + s.adapters.Signer.Algorithm() + ")"
	}
	report.Components["notifier"] = s.adapters.Notifier.Name()
	return report
}

// Stats aggregates per-component counters for the ops surface.
func (s *Service) Stats() map[string]any {
	global := s.compliance.Status("")
	head, seq := s.auditLog.Head()
	return map[string]any{
		"evaluations": map[string]any{
			"total":     global.Evaluations,
			"allowed":   global.Allowed,
			"denied":    global.Denied,
			"escalated": global.Escalated,
		},
		"violations": global.Violations,
		"anomalies": map[string]any{
			"total":          global.Anomalies,
			"critical":       global.AnomaliesCritical,
			"unacknowledged": global.AnomaliesUnacked,
		},
		"escalations": map[string]any{
			"approved":  global.EscalationApproved,
			"rejected":  global.EscalationRejected,
			"pending":   global.EscalationPending,
			"timed_out": global.EscalationTimeout,
			"monitored": s.escalations.Pending(),
		},
		"audit": map[string]any{
			"entries":   seq,
			"head_hash": head,
		},
		"policy_cache": map[string]any{
			"compiled_conditions": s.engine.CacheLen(),
		},
		"compliance_score": global.ComplianceScore,
		"risk_level":       global.RiskLevel,
	}
}

// Close cancels escalation monitors, waits for in-flight background work,
// and closes the adapters. Idempotent.
func (s *Service) Close() error {
	var errData, errCounters error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.escalations.Close()
		errCounters = s.adapters.Counters.Close()
		errData = s.adapters.Data.Close()
	})
	if errData != nil {
		return errData
	}
	return errCounters
}

func (s *Service) guard() error {
	if s.closed.Load() {
		return errcode.New(errcode.CodeShutdownInProgress, "service is closed")
	}
	return nil
}

// auditMutation records an administrative mutation. Audit failures on
// mutations are logged, not surfaced: the mutation itself already took
// effect.
func (s *Service) auditMutation(ctx context.Context, action, actorID, resourceID string, details map[string]any) {
	_, err := s.auditLog.Log(ctx, action, actorID, contracts.ActorSystem, "admin", resourceID, details, "")
	if err != nil {
		s.logger.Error("audit mutation failed", "action", action, "resource_id", resourceID, "error", err)
	}
}

func contextAgent(wfContext map[string]any) string {
	agent, _ := wfContext["agent_id"].(string)
	return agent
}
