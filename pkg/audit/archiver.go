package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/arguslabs/argus/core/pkg/canonicalize"
	"github.com/arguslabs/argus/core/pkg/contracts"
	"github.com/arguslabs/argus/core/pkg/datastore"
	"github.com/arguslabs/argus/core/pkg/errcode"
)

// ObjectStore is the archival target: a content-addressed put. Implemented
// by S3Store, GCSStore (build tag gcp), and FileStore.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Name() string
}

// Archiver exports audit entries older than the retention horizon as JSONL
// segments. Export never deletes from the live chain; pruning is a
// downstream operator action.
type Archiver struct {
	store         datastore.Store
	objects       ObjectStore
	retentionDays int
	clock         func() time.Time
	logger        *slog.Logger
}

// NewArchiver builds an archiver over the given object store.
func NewArchiver(store datastore.Store, objects ObjectStore, retentionDays int) *Archiver {
	return &Archiver{
		store:         store,
		objects:       objects,
		retentionDays: retentionDays,
		clock:         time.Now,
		logger:        slog.Default().With("component", "audit_archiver"),
	}
}

// WithClock overrides the clock for deterministic tests.
func (a *Archiver) WithClock(clock func() time.Time) *Archiver {
	a.clock = clock
	return a
}

// SegmentInfo describes one exported segment.
type SegmentInfo struct {
	Key      string `json:"key"`
	Entries  int    `json:"entries"`
	FirstSeq uint64 `json:"first_seq"`
	LastSeq  uint64 `json:"last_seq"`
}

// Run exports every entry past the retention horizon as one JSONL segment.
// The object key is derived from the content hash, so a re-run of the same
// horizon is idempotent. Returns nil SegmentInfo when nothing is due.
func (a *Archiver) Run(ctx context.Context) (*SegmentInfo, error) {
	cutoff := a.clock().UTC().AddDate(0, 0, -a.retentionDays)
	entries, err := a.store.AuditBefore(ctx, cutoff)
	if err != nil {
		return nil, errcode.Wrap(errcode.CodeAuditQueryFailed, "load archivable entries", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return nil, errcode.Wrap(errcode.CodeAuditWriteFailed, "encode segment", err)
		}
	}

	first, last := entries[0].Seq, entries[len(entries)-1].Seq
	key := fmt.Sprintf("audit/%06d-%06d.%s.jsonl", first, last, canonicalize.HashBytes(buf.Bytes())[:16])

	if err := a.objects.Put(ctx, key, buf.Bytes()); err != nil {
		return nil, errcode.Wrap(errcode.CodeAuditWriteFailed, "put segment", err)
	}

	info := &SegmentInfo{Key: key, Entries: len(entries), FirstSeq: first, LastSeq: last}
	a.logger.InfoContext(ctx, "audit segment exported",
		"key", key, "entries", info.Entries, "backend", a.objects.Name())
	return info, nil
}

// ReadSegment decodes a JSONL segment back into entries; used by offline
// verifiers.
func ReadSegment(data []byte) ([]*contracts.AuditEntry, error) {
	var out []*contracts.AuditEntry
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var e contracts.AuditEntry
		if err := dec.Decode(&e); err != nil {
			return nil, fmt.Errorf("decode segment: %w", err)
		}
		out = append(out, &e)
	}
	return out, nil
}

// FileStore writes segments under a local directory. The development
// archival backend.
type FileStore struct {
	dir string
}

// NewFileStore builds a directory-backed object store.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) Put(_ context.Context, key string, data []byte) error {
	path := filepath.Join(f.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return nil // content-addressed keys make re-puts no-ops
	}
	return os.WriteFile(path, data, 0o640)
}

func (f *FileStore) Name() string { return "file" }
