// Package audit provides the append-only, hash-chained journal every
// supervision component writes through. Entries are canonicalised with RFC
// 8785, chained by SHA-256, optionally signed, and persisted before the
// chain head advances — the chain never has gaps.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arguslabs/argus/core/pkg/canonicalize"
	"github.com/arguslabs/argus/core/pkg/contracts"
	"github.com/arguslabs/argus/core/pkg/crypto"
	"github.com/arguslabs/argus/core/pkg/datastore"
	"github.com/arguslabs/argus/core/pkg/errcode"
)

// ringCapacity bounds the in-memory tail kept for fast verification.
const ringCapacity = 1024

// Log is the audit chain writer. All appends serialise on one mutex: the
// {canonicalise, hash, persist, advance} tuple is a single critical
// section, so concurrent writers observe a total order.
type Log struct {
	store  datastore.Store
	signer crypto.Signer

	signingEnabled bool
	signingKeyID   string
	clock          func() time.Time

	mu       sync.Mutex
	lastHash string
	lastSeq  uint64
	ring     []*contracts.AuditEntry
}

// Option configures a Log.
type Option func(*Log)

// WithClock overrides the clock for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(l *Log) { l.clock = clock }
}

// WithSigning enables entry signatures under the given key.
func WithSigning(keyID string) Option {
	return func(l *Log) {
		l.signingEnabled = true
		l.signingKeyID = keyID
	}
}

// New builds the audit log, recovering the chain head from the store so a
// restarted node extends the existing chain. The chain seed before the
// first entry is the empty string.
func New(ctx context.Context, store datastore.Store, signer crypto.Signer, opts ...Option) (*Log, error) {
	l := &Log{
		store:  store,
		signer: signer,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	last, err := store.LastAudit(ctx)
	if err != nil {
		return nil, errcode.Wrap(errcode.CodeDataStoreUnreachable, "recover audit head", err)
	}
	if last != nil {
		l.lastHash = last.IntegrityHash
		l.lastSeq = last.Seq
		l.ring = append(l.ring, last)
	}
	return l, nil
}

// auditCanonical is the canonicalisation view of an entry: every field
// except integrity_hash, signature, and signature_algorithm.
type auditCanonical struct {
	AuditID       string         `json:"audit_id"`
	Seq           uint64         `json:"seq"`
	Action        string         `json:"action"`
	ActorID       string         `json:"actor_id"`
	ActorType     string         `json:"actor_type"`
	ResourceType  string         `json:"resource_type"`
	ResourceID    string         `json:"resource_id"`
	Details       map[string]any `json:"details,omitempty"`
	ParentAuditID string         `json:"parent_audit_id,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// Canonical returns the RFC 8785 form of an entry with the integrity and
// signature fields excluded.
func Canonical(e *contracts.AuditEntry) ([]byte, error) {
	return canonicalize.JCS(auditCanonical{
		AuditID:       e.AuditID,
		Seq:           e.Seq,
		Action:        e.Action,
		ActorID:       e.ActorID,
		ActorType:     string(e.ActorType),
		ResourceType:  e.ResourceType,
		ResourceID:    e.ResourceID,
		Details:       e.Details,
		ParentAuditID: e.ParentAuditID,
		Timestamp:     e.Timestamp,
	})
}

// Log appends one entry and returns it with its chain hash (and signature
// when signing is enabled) populated. Success means the store confirmed
// persistence; on failure the chain head is unchanged.
func (l *Log) Log(ctx context.Context, action, actorID string, actorType contracts.ActorType, resourceType, resourceID string, details map[string]any, parentAuditID string) (*contracts.AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := &contracts.AuditEntry{
		AuditID:       contracts.NewID("aud"),
		Seq:           l.lastSeq + 1,
		Action:        action,
		ActorID:       actorID,
		ActorType:     actorType,
		ResourceType:  resourceType,
		ResourceID:    resourceID,
		Details:       details,
		ParentAuditID: parentAuditID,
		Timestamp:     l.clock().UTC(),
	}

	canonical, err := Canonical(entry)
	if err != nil {
		return nil, errcode.Wrap(errcode.CodeAuditWriteFailed, "canonicalise entry", err)
	}

	chainInput := l.lastHash + ":" + string(canonical)
	entry.IntegrityHash = l.signer.Hash([]byte(chainInput))

	if l.signingEnabled {
		sigInput := string(canonical) + ":" + entry.IntegrityHash
		sig, err := l.signer.Sign(l.signingKeyID, []byte(sigInput))
		if err != nil {
			return nil, errcode.Wrap(errcode.CodeSignerUnreachable, "sign entry", err)
		}
		entry.Signature = sig
		entry.SignatureAlgorithm = l.signer.Algorithm()
	}

	if err := l.store.AppendAudit(ctx, entry); err != nil {
		return nil, errcode.Wrap(errcode.CodeAuditWriteFailed, "persist entry", err)
	}

	// persistence confirmed; advance the head
	l.lastHash = entry.IntegrityHash
	l.lastSeq = entry.Seq
	l.ring = append(l.ring, entry)
	if len(l.ring) > ringCapacity {
		l.ring = l.ring[len(l.ring)-ringCapacity:]
	}

	cp := *entry
	return &cp, nil
}

// Head returns the current chain head hash and sequence.
func (l *Log) Head() (string, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastHash, l.lastSeq
}

// GetByID fetches one entry.
func (l *Log) GetByID(ctx context.Context, auditID string) (*contracts.AuditEntry, error) {
	e, err := l.store.GetAudit(ctx, auditID)
	if err != nil {
		if datastore.IsNotFound(err) {
			return nil, errcode.Wrap(errcode.CodeAuditEntryNotFound, auditID, err)
		}
		return nil, errcode.Wrap(errcode.CodeAuditQueryFailed, "get entry", err)
	}
	return e, nil
}

// Query returns entries matching the filter in chain order.
func (l *Log) Query(ctx context.Context, f contracts.AuditFilter, limit, offset int) ([]*contracts.AuditEntry, error) {
	entries, err := l.store.QueryAudit(ctx, f, limit, offset)
	if err != nil {
		return nil, errcode.Wrap(errcode.CodeAuditQueryFailed, "query", err)
	}
	return entries, nil
}

func entrySummary(e *contracts.AuditEntry) string {
	return fmt.Sprintf("%s seq=%d action=%s", e.AuditID, e.Seq, e.Action)
}
