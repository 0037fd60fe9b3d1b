package datastore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arguslabs/argus/core/pkg/contracts"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	lite, err := NewSQLite(filepath.Join(t.TempDir(), "argus_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = lite.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": lite,
	}
}

func TestPolicyVersioning(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := contracts.PolicyDefinition{
				PolicyID:  "pol_1",
				Name:      "baseline",
				Version:   "1.0.0",
				Scope:     "global",
				Active:    true,
				Rules:     []contracts.PolicyRule{{RuleID: "r1", Condition: `op == "read"`, Action: contracts.ActionAllow, Priority: 10, Enabled: true}},
				CreatedAt: time.Now().UTC(),
			}
			require.NoError(t, s.PutPolicy(ctx, &base))

			v2 := base
			v2.Version = "1.1.0"
			v2.CreatedAt = base.CreatedAt.Add(time.Second)
			require.NoError(t, s.PutPolicy(ctx, &v2))

			// activating 1.1.0 deactivated 1.0.0
			active, err := s.GetActivePolicy(ctx, "pol_1")
			require.NoError(t, err)
			assert.Equal(t, "1.1.0", active.Version)

			old, err := s.GetPolicy(ctx, "pol_1", "1.0.0")
			require.NoError(t, err)
			assert.False(t, old.Active)

			versions, err := s.ListPolicyVersions(ctx, "pol_1")
			require.NoError(t, err)
			assert.Len(t, versions, 2)

			require.NoError(t, s.DeletePolicyVersion(ctx, "pol_1", "1.0.0"))
			_, err = s.GetPolicy(ctx, "pol_1", "1.0.0")
			assert.True(t, IsNotFound(err))
		})
	}
}

func TestAuditAppendOrderAndQuery(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Now().UTC()
			for i := 1; i <= 5; i++ {
				e := &contracts.AuditEntry{
					Seq:          uint64(i),
					AuditID:      contracts.NewID("aud"),
					Action:       "policy_evaluated",
					ActorID:      "a1",
					ActorType:    contracts.ActorAgent,
					ResourceType: "decision",
					ResourceID:   contracts.NewID("dec"),
					Timestamp:    base.Add(time.Duration(i) * time.Millisecond),
				}
				if i == 3 {
					e.Action = "constraint_violated"
					e.Details = map[string]any{"correlation_id": "corr-9"}
				}
				require.NoError(t, s.AppendAudit(ctx, e))
			}

			last, err := s.LastAudit(ctx)
			require.NoError(t, err)
			assert.Equal(t, uint64(5), last.Seq)

			byAction, err := s.QueryAudit(ctx, contracts.AuditFilter{Action: "constraint_violated"}, 0, 0)
			require.NoError(t, err)
			require.Len(t, byAction, 1)
			assert.Equal(t, uint64(3), byAction[0].Seq)

			byCorr, err := s.QueryAudit(ctx, contracts.AuditFilter{CorrelationID: "corr-9"}, 0, 0)
			require.NoError(t, err)
			assert.Len(t, byCorr, 1)

			window, err := s.AuditRange(ctx, 2, 4)
			require.NoError(t, err)
			require.Len(t, window, 3)
			assert.Equal(t, uint64(2), window[0].Seq)

			paged, err := s.QueryAudit(ctx, contracts.AuditFilter{ActorID: "a1"}, 2, 2)
			require.NoError(t, err)
			require.Len(t, paged, 2)
			assert.Equal(t, uint64(3), paged[0].Seq)
		})
	}
}

func TestAnomalyAcknowledgementRoundTrip(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := &contracts.Anomaly{
				AnomalyID:     contracts.NewID("anm"),
				AgentID:       "a1",
				MetricName:    "latency",
				Severity:      contracts.SeverityHigh,
				ObservedValue: 500,
				DetectedAt:    time.Now().UTC(),
			}
			require.NoError(t, s.AppendAnomaly(ctx, a))

			// acknowledging a missing anomaly fails
			err := s.AppendAcknowledgement(ctx, &contracts.AnomalyAcknowledgement{AnomalyID: "anm_missing"})
			assert.True(t, IsNotFound(err))

			ack := &contracts.AnomalyAcknowledgement{
				AnomalyID:      a.AnomalyID,
				AcknowledgedBy: "operator1",
				AcknowledgedAt: time.Now().UTC(),
			}
			require.NoError(t, s.AppendAcknowledgement(ctx, ack))

			got, err := s.GetAcknowledgement(ctx, a.AnomalyID)
			require.NoError(t, err)
			assert.Equal(t, "operator1", got.AcknowledgedBy)

			// the anomaly row itself is untouched
			stored, err := s.GetAnomaly(ctx, a.AnomalyID)
			require.NoError(t, err)
			assert.False(t, stored.Acknowledged)
		})
	}
}

func TestWorkflowLifecycleRoundTrip(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			w := &contracts.EscalationWorkflow{
				WorkflowID:      contracts.NewID("wf"),
				DecisionID:      "dec1",
				Reason:          "pii write",
				Status:          contracts.EscalationPending,
				EscalationLevel: 1,
				Priority:        1,
				Approvers:       []string{"admin"},
				CreatedAt:       time.Now().UTC(),
				TimeoutAt:       time.Now().UTC().Add(5 * time.Minute),
			}
			require.NoError(t, s.PutWorkflow(ctx, w))

			w.Status = contracts.EscalationApproved
			w.ResolvedBy = "admin"
			require.NoError(t, s.PutWorkflow(ctx, w))

			got, err := s.GetWorkflow(ctx, w.WorkflowID)
			require.NoError(t, err)
			assert.Equal(t, contracts.EscalationApproved, got.Status)

			pending, err := s.ListWorkflows(ctx, contracts.EscalationPending, 0)
			require.NoError(t, err)
			assert.Empty(t, pending)
		})
	}
}

func TestMemoryAuditRejectsSeqReuse(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.AppendAudit(ctx, &contracts.AuditEntry{Seq: 1, AuditID: "aud_1"}))
	err := s.AppendAudit(ctx, &contracts.AuditEntry{Seq: 1, AuditID: "aud_2"})
	assert.Error(t, err)
}

func TestSQLStoreSurfacesDriverErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := NewSQLStoreFromDB(db, false)
	mock.ExpectExec("INSERT INTO violations").WillReturnError(assert.AnError)

	err = s.AppendViolation(context.Background(), &contracts.ConstraintViolation{
		ViolationID: "vio_1",
		AgentID:     "a1",
		Timestamp:   time.Now(),
	})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
