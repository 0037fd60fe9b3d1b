package contracts

import "time"

// AuditEntry is one record in the append-only journal. Entries form a hash
// chain: IntegrityHash covers the canonical form of this entry concatenated
// with the previous entry's IntegrityHash, so any retroactive edit breaks
// verification from that point on. Signature is present only when audit
// signing is enabled.
type AuditEntry struct {
	AuditID            string         `json:"audit_id"`
	Seq                uint64         `json:"seq"`
	Action             string         `json:"action"`
	ActorID            string         `json:"actor_id"`
	ActorType          ActorType      `json:"actor_type"`
	ResourceType       string         `json:"resource_type"`
	ResourceID         string         `json:"resource_id"`
	Details            map[string]any `json:"details,omitempty"`
	ParentAuditID      string         `json:"parent_audit_id,omitempty"`
	Timestamp          time.Time      `json:"timestamp"`
	IntegrityHash      string         `json:"integrity_hash"`
	Signature          string         `json:"signature,omitempty"`
	SignatureAlgorithm string         `json:"signature_algorithm,omitempty"`
}

// AuditFilter selects entries for Query. Zero fields match everything;
// Start/End bound Timestamp inclusively.
type AuditFilter struct {
	ActorID       string    `json:"actor_id,omitempty"`
	Action        string    `json:"action,omitempty"`
	ResourceType  string    `json:"resource_type,omitempty"`
	ResourceID    string    `json:"resource_id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Start         time.Time `json:"start,omitempty"`
	End           time.Time `json:"end,omitempty"`
}

// ChainVerification is the result of walking the hash chain.
type ChainVerification struct {
	Valid           bool   `json:"valid"`
	EntriesVerified int    `json:"entries_verified"`
	FirstInvalidID  string `json:"first_invalid_id,omitempty"`
}
