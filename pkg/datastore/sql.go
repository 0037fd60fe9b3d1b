package datastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/arguslabs/argus/core/pkg/contracts"
)

// SQLStore implements Store over database/sql. Rows hold the full DTO as a
// JSON document plus the columns queries filter on; the document is the
// source of truth on read. The same statements serve both dialects: SQLite
// takes them as written, Postgres gets `?` placeholders rebound to `$n`.
type SQLStore struct {
	db       *sql.DB
	postgres bool
}

// NewSQLite opens (or creates) the lite-mode database at path.
func NewSQLite(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent appends.
	db.SetMaxOpenConns(1)
	s := &SQLStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgres connects to the production database.
func NewPostgres(dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	s := &SQLStore{db: db, postgres: true}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStoreFromDB wraps an existing handle; used by tests.
func NewSQLStoreFromDB(db *sql.DB, postgres bool) *SQLStore {
	return &SQLStore{db: db, postgres: postgres}
}

func (s *SQLStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			agent_id TEXT PRIMARY KEY,
			doc TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS policies (
			policy_id TEXT NOT NULL,
			version TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			doc TEXT NOT NULL,
			PRIMARY KEY (policy_id, version)
		)`,
		`CREATE TABLE IF NOT EXISTS constraints (
			constraint_id TEXT PRIMARY KEY,
			doc TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS violations (
			violation_id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			ts TEXT NOT NULL,
			doc TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS anomalies (
			anomaly_id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			detected_at TEXT NOT NULL,
			doc TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS anomaly_acks (
			anomaly_id TEXT PRIMARY KEY,
			doc TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS workflows (
			workflow_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL,
			doc TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS audit_entries (
			seq INTEGER PRIMARY KEY,
			audit_id TEXT NOT NULL UNIQUE,
			action TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			resource_type TEXT NOT NULL,
			resource_id TEXT NOT NULL,
			correlation_id TEXT NOT NULL DEFAULT '',
			ts TEXT NOT NULL,
			doc TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_entries (actor_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_resource ON audit_entries (resource_type, resource_id)`,
		`CREATE INDEX IF NOT EXISTS idx_violations_agent ON violations (agent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_anomalies_agent ON anomalies (agent_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(context.Background(), stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// rebind converts `?` placeholders to `$n` for Postgres.
func (s *SQLStore) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) upsert(ctx context.Context, table, keyCols, cols string, vals ...any) error {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(vals)), ", ")
	setList := make([]string, 0)
	for _, c := range strings.Split(cols, ", ") {
		if !strings.Contains(keyCols, c) {
			setList = append(setList, fmt.Sprintf("%s = excluded.%s", c, c))
		}
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		table, cols, placeholders, keyCols, strings.Join(setList, ", "),
	)
	_, err := s.db.ExecContext(ctx, s.rebind(query), vals...)
	return err
}

func marshalDoc(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal doc: %w", err)
	}
	return string(raw), nil
}

func (s *SQLStore) getDoc(ctx context.Context, query string, target any, what string, args ...any) error {
	var doc string
	err := s.db.QueryRowContext(ctx, s.rebind(query), args...).Scan(&doc)
	if err == sql.ErrNoRows {
		return NotFound(what)
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(doc), target)
}

func (s *SQLStore) PutAgent(ctx context.Context, agent *contracts.AgentRecord) error {
	doc, err := marshalDoc(agent)
	if err != nil {
		return err
	}
	return s.upsert(ctx, "agents", "agent_id", "agent_id, doc", agent.AgentID, doc)
}

func (s *SQLStore) GetAgent(ctx context.Context, agentID string) (*contracts.AgentRecord, error) {
	var a contracts.AgentRecord
	err := s.getDoc(ctx, "SELECT doc FROM agents WHERE agent_id = ?", &a, "agent "+agentID, agentID)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *SQLStore) PutPolicy(ctx context.Context, def *contracts.PolicyDefinition) error {
	doc, err := marshalDoc(def)
	if err != nil {
		return err
	}
	active := 0
	if def.Active {
		active = 1
		// one active version per policy
		deactivate := "UPDATE policies SET active = 0 WHERE policy_id = ? AND version <> ?"
		if _, err := s.db.ExecContext(ctx, s.rebind(deactivate), def.PolicyID, def.Version); err != nil {
			return err
		}
	}
	return s.upsert(ctx, "policies", "policy_id, version",
		"policy_id, version, active, created_at, doc",
		def.PolicyID, def.Version, active, def.CreatedAt.UTC().Format(time.RFC3339Nano), doc)
}

func (s *SQLStore) GetPolicy(ctx context.Context, policyID, version string) (*contracts.PolicyDefinition, error) {
	var d contracts.PolicyDefinition
	err := s.getDoc(ctx, "SELECT doc FROM policies WHERE policy_id = ? AND version = ?",
		&d, fmt.Sprintf("policy %s@%s", policyID, version), policyID, version)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *SQLStore) GetActivePolicy(ctx context.Context, policyID string) (*contracts.PolicyDefinition, error) {
	var d contracts.PolicyDefinition
	err := s.getDoc(ctx, "SELECT doc FROM policies WHERE policy_id = ? AND active = 1",
		&d, "policy "+policyID, policyID)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *SQLStore) ListActivePolicies(ctx context.Context) ([]*contracts.PolicyDefinition, error) {
	return s.listPolicies(ctx, "SELECT doc FROM policies WHERE active = 1 ORDER BY policy_id")
}

func (s *SQLStore) ListPolicyVersions(ctx context.Context, policyID string) ([]*contracts.PolicyDefinition, error) {
	return s.listPolicies(ctx, "SELECT doc FROM policies WHERE policy_id = ? ORDER BY created_at", policyID)
}

func (s *SQLStore) listPolicies(ctx context.Context, query string, args ...any) ([]*contracts.PolicyDefinition, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.PolicyDefinition
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var d contracts.PolicyDefinition
		if err := json.Unmarshal([]byte(doc), &d); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (s *SQLStore) DeletePolicyVersion(ctx context.Context, policyID, version string) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind("DELETE FROM policies WHERE policy_id = ? AND version = ?"), policyID, version)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NotFound(fmt.Sprintf("policy %s@%s", policyID, version))
	}
	return nil
}

func (s *SQLStore) PutConstraint(ctx context.Context, c *contracts.Constraint) error {
	doc, err := marshalDoc(c)
	if err != nil {
		return err
	}
	return s.upsert(ctx, "constraints", "constraint_id", "constraint_id, doc", c.ConstraintID, doc)
}

func (s *SQLStore) GetConstraint(ctx context.Context, constraintID string) (*contracts.Constraint, error) {
	var c contracts.Constraint
	err := s.getDoc(ctx, "SELECT doc FROM constraints WHERE constraint_id = ?",
		&c, "constraint "+constraintID, constraintID)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SQLStore) ListConstraints(ctx context.Context) ([]*contracts.Constraint, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT doc FROM constraints ORDER BY constraint_id")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.Constraint
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var c contracts.Constraint
		if err := json.Unmarshal([]byte(doc), &c); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (s *SQLStore) AppendViolation(ctx context.Context, v *contracts.ConstraintViolation) error {
	doc, err := marshalDoc(v)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		s.rebind("INSERT INTO violations (violation_id, agent_id, ts, doc) VALUES (?, ?, ?, ?)"),
		v.ViolationID, v.AgentID, v.Timestamp.UTC().Format(time.RFC3339Nano), doc)
	return err
}

func (s *SQLStore) ListViolations(ctx context.Context, agentID string, limit int) ([]*contracts.ConstraintViolation, error) {
	query := "SELECT doc FROM violations WHERE (? = '' OR agent_id = ?) ORDER BY ts DESC"
	args := []any{agentID, agentID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.ConstraintViolation
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var v contracts.ConstraintViolation
		if err := json.Unmarshal([]byte(doc), &v); err != nil {
			return nil, err
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

func (s *SQLStore) AppendAnomaly(ctx context.Context, a *contracts.Anomaly) error {
	doc, err := marshalDoc(a)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		s.rebind("INSERT INTO anomalies (anomaly_id, agent_id, detected_at, doc) VALUES (?, ?, ?, ?)"),
		a.AnomalyID, a.AgentID, a.DetectedAt.UTC().Format(time.RFC3339Nano), doc)
	return err
}

func (s *SQLStore) GetAnomaly(ctx context.Context, anomalyID string) (*contracts.Anomaly, error) {
	var a contracts.Anomaly
	err := s.getDoc(ctx, "SELECT doc FROM anomalies WHERE anomaly_id = ?",
		&a, "anomaly "+anomalyID, anomalyID)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *SQLStore) ListAnomalies(ctx context.Context, agentID string, limit int) ([]*contracts.Anomaly, error) {
	query := "SELECT doc FROM anomalies WHERE (? = '' OR agent_id = ?) ORDER BY detected_at DESC"
	args := []any{agentID, agentID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.Anomaly
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var a contracts.Anomaly
		if err := json.Unmarshal([]byte(doc), &a); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *SQLStore) AppendAcknowledgement(ctx context.Context, ack *contracts.AnomalyAcknowledgement) error {
	if _, err := s.GetAnomaly(ctx, ack.AnomalyID); err != nil {
		return err
	}
	doc, err := marshalDoc(ack)
	if err != nil {
		return err
	}
	return s.upsert(ctx, "anomaly_acks", "anomaly_id", "anomaly_id, doc", ack.AnomalyID, doc)
}

func (s *SQLStore) GetAcknowledgement(ctx context.Context, anomalyID string) (*contracts.AnomalyAcknowledgement, error) {
	var ack contracts.AnomalyAcknowledgement
	err := s.getDoc(ctx, "SELECT doc FROM anomaly_acks WHERE anomaly_id = ?",
		&ack, "acknowledgement for "+anomalyID, anomalyID)
	if err != nil {
		return nil, err
	}
	return &ack, nil
}

func (s *SQLStore) PutWorkflow(ctx context.Context, w *contracts.EscalationWorkflow) error {
	doc, err := marshalDoc(w)
	if err != nil {
		return err
	}
	return s.upsert(ctx, "workflows", "workflow_id", "workflow_id, status, created_at, doc",
		w.WorkflowID, string(w.Status), w.CreatedAt.UTC().Format(time.RFC3339Nano), doc)
}

func (s *SQLStore) GetWorkflow(ctx context.Context, workflowID string) (*contracts.EscalationWorkflow, error) {
	var w contracts.EscalationWorkflow
	err := s.getDoc(ctx, "SELECT doc FROM workflows WHERE workflow_id = ?",
		&w, "workflow "+workflowID, workflowID)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *SQLStore) ListWorkflows(ctx context.Context, status contracts.EscalationStatus, limit int) ([]*contracts.EscalationWorkflow, error) {
	query := "SELECT doc FROM workflows WHERE (? = '' OR status = ?) ORDER BY created_at"
	args := []any{string(status), string(status)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.EscalationWorkflow
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var w contracts.EscalationWorkflow
		if err := json.Unmarshal([]byte(doc), &w); err != nil {
			return nil, err
		}
		out = append(out, &w)
	}
	return out, rows.Err()
}

func (s *SQLStore) AppendAudit(ctx context.Context, e *contracts.AuditEntry) error {
	doc, err := marshalDoc(e)
	if err != nil {
		return err
	}
	cid, _ := e.Details["correlation_id"].(string)
	_, err = s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO audit_entries
		(seq, audit_id, action, actor_id, resource_type, resource_id, correlation_id, ts, doc)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		e.Seq, e.AuditID, e.Action, e.ActorID, e.ResourceType, e.ResourceID, cid,
		e.Timestamp.UTC().Format(time.RFC3339Nano), doc)
	return err
}

func (s *SQLStore) GetAudit(ctx context.Context, auditID string) (*contracts.AuditEntry, error) {
	var e contracts.AuditEntry
	err := s.getDoc(ctx, "SELECT doc FROM audit_entries WHERE audit_id = ?",
		&e, "audit entry "+auditID, auditID)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *SQLStore) QueryAudit(ctx context.Context, f contracts.AuditFilter, limit, offset int) ([]*contracts.AuditEntry, error) {
	query := "SELECT doc FROM audit_entries WHERE 1=1"
	var args []any
	if f.ActorID != "" {
		query += " AND actor_id = ?"
		args = append(args, f.ActorID)
	}
	if f.Action != "" {
		query += " AND action = ?"
		args = append(args, f.Action)
	}
	if f.ResourceType != "" {
		query += " AND resource_type = ?"
		args = append(args, f.ResourceType)
	}
	if f.ResourceID != "" {
		query += " AND resource_id = ?"
		args = append(args, f.ResourceID)
	}
	if f.CorrelationID != "" {
		query += " AND correlation_id = ?"
		args = append(args, f.CorrelationID)
	}
	if !f.Start.IsZero() {
		query += " AND ts >= ?"
		args = append(args, f.Start.UTC().Format(time.RFC3339Nano))
	}
	if !f.End.IsZero() {
		query += " AND ts <= ?"
		args = append(args, f.End.UTC().Format(time.RFC3339Nano))
	}
	query += " ORDER BY seq"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	if offset > 0 {
		query += " OFFSET ?"
		args = append(args, offset)
	}
	return s.listAudit(ctx, query, args...)
}

func (s *SQLStore) AuditRange(ctx context.Context, fromSeq, toSeq uint64) ([]*contracts.AuditEntry, error) {
	query := "SELECT doc FROM audit_entries WHERE 1=1"
	var args []any
	if fromSeq > 0 {
		query += " AND seq >= ?"
		args = append(args, fromSeq)
	}
	if toSeq > 0 {
		query += " AND seq <= ?"
		args = append(args, toSeq)
	}
	query += " ORDER BY seq"
	return s.listAudit(ctx, query, args...)
}

func (s *SQLStore) LastAudit(ctx context.Context) (*contracts.AuditEntry, error) {
	entries, err := s.listAudit(ctx, "SELECT doc FROM audit_entries ORDER BY seq DESC LIMIT 1")
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return entries[0], nil
}

func (s *SQLStore) AuditBefore(ctx context.Context, cutoff time.Time) ([]*contracts.AuditEntry, error) {
	return s.listAudit(ctx, "SELECT doc FROM audit_entries WHERE ts < ? ORDER BY seq",
		cutoff.UTC().Format(time.RFC3339Nano))
}

func (s *SQLStore) listAudit(ctx context.Context, query string, args ...any) ([]*contracts.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.AuditEntry
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var e contracts.AuditEntry
		if err := json.Unmarshal([]byte(doc), &e); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
