// Package datastore provides durable storage for policies, constraints,
// agents, workflows, anomalies, violations, and audit entries. Three
// backends implement the same contract: Postgres for production, SQLite for
// lite mode, and an in-process map store for tests and development.
//
// Audit entries and violations are append-only. Audit appends carry a
// caller-assigned strictly increasing sequence; the store rejects reuse so
// the hash chain can never fork.
package datastore

import (
	"context"
	"errors"
	"time"

	"github.com/arguslabs/argus/core/pkg/contracts"
)

// Store is the data layer contract.
type Store interface {
	// Agents.
	PutAgent(ctx context.Context, agent *contracts.AgentRecord) error
	GetAgent(ctx context.Context, agentID string) (*contracts.AgentRecord, error)

	// Policies are keyed by (policy_id, version); at most one version of a
	// policy is active at a time.
	PutPolicy(ctx context.Context, def *contracts.PolicyDefinition) error
	GetPolicy(ctx context.Context, policyID, version string) (*contracts.PolicyDefinition, error)
	GetActivePolicy(ctx context.Context, policyID string) (*contracts.PolicyDefinition, error)
	ListActivePolicies(ctx context.Context) ([]*contracts.PolicyDefinition, error)
	ListPolicyVersions(ctx context.Context, policyID string) ([]*contracts.PolicyDefinition, error)
	DeletePolicyVersion(ctx context.Context, policyID, version string) error

	// Constraints.
	PutConstraint(ctx context.Context, c *contracts.Constraint) error
	GetConstraint(ctx context.Context, constraintID string) (*contracts.Constraint, error)
	ListConstraints(ctx context.Context) ([]*contracts.Constraint, error)

	// Violations (append-only).
	AppendViolation(ctx context.Context, v *contracts.ConstraintViolation) error
	ListViolations(ctx context.Context, agentID string, limit int) ([]*contracts.ConstraintViolation, error)

	// Anomalies (append-only) and their acknowledgements.
	AppendAnomaly(ctx context.Context, a *contracts.Anomaly) error
	GetAnomaly(ctx context.Context, anomalyID string) (*contracts.Anomaly, error)
	ListAnomalies(ctx context.Context, agentID string, limit int) ([]*contracts.Anomaly, error)
	AppendAcknowledgement(ctx context.Context, ack *contracts.AnomalyAcknowledgement) error
	GetAcknowledgement(ctx context.Context, anomalyID string) (*contracts.AnomalyAcknowledgement, error)

	// Escalation workflows.
	PutWorkflow(ctx context.Context, w *contracts.EscalationWorkflow) error
	GetWorkflow(ctx context.Context, workflowID string) (*contracts.EscalationWorkflow, error)
	ListWorkflows(ctx context.Context, status contracts.EscalationStatus, limit int) ([]*contracts.EscalationWorkflow, error)

	// Audit entries (append-only, totally ordered by Seq).
	AppendAudit(ctx context.Context, e *contracts.AuditEntry) error
	GetAudit(ctx context.Context, auditID string) (*contracts.AuditEntry, error)
	QueryAudit(ctx context.Context, f contracts.AuditFilter, limit, offset int) ([]*contracts.AuditEntry, error)
	AuditRange(ctx context.Context, fromSeq, toSeq uint64) ([]*contracts.AuditEntry, error)
	LastAudit(ctx context.Context) (*contracts.AuditEntry, error)
	AuditBefore(ctx context.Context, cutoff time.Time) ([]*contracts.AuditEntry, error)

	Ping(ctx context.Context) error
	Close() error
}

// notFoundError is returned by Get operations when no row matches. Callers
// wrap it into the resource-specific E8xxx code.
type notFoundError struct{ what string }

func (e *notFoundError) Error() string { return e.what + " not found" }

// NotFound builds a not-found error for the given resource.
func NotFound(what string) error { return &notFoundError{what: what} }

// IsNotFound reports whether err is a datastore not-found error anywhere in
// its chain.
func IsNotFound(err error) bool {
	var nf *notFoundError
	return errors.As(err, &nf)
}
