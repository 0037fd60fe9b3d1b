package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/arguslabs/argus/core/pkg/audit"
	"github.com/arguslabs/argus/core/pkg/config"
)

// runArchive exports audit entries older than the retention horizon as one
// JSONL segment. Export never deletes from the live chain.
func runArchive(_ []string, stdout, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "invalid config: %v\n", err)
		return 1
	}

	ctx := context.Background()
	objects, err := buildObjectStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "build archive backend: %v\n", err)
		return 1
	}

	adapters, err := buildAdapters(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "build adapters: %v\n", err)
		return 1
	}
	defer func() {
		_ = adapters.Counters.Close()
		_ = adapters.Data.Close()
	}()

	info, err := audit.NewArchiver(adapters.Data, objects, cfg.AuditRetentionDays).Run(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "archive: %v\n", err)
		return 1
	}
	if info == nil {
		fmt.Fprintln(stdout, "nothing to archive")
		return 0
	}
	_ = json.NewEncoder(stdout).Encode(info)
	return 0
}

func buildObjectStore(ctx context.Context, cfg *config.Config) (audit.ObjectStore, error) {
	switch cfg.ArchiveBackend {
	case "file":
		dir := cfg.ArchiveDir
		if dir == "" {
			dir = "archive"
		}
		return audit.NewFileStore(dir)
	case "s3":
		return audit.NewS3Store(ctx, audit.S3Config{
			Bucket:   cfg.ArchiveBucket,
			Region:   cfg.ArchiveRegion,
			Endpoint: cfg.ArchiveEndpoint,
			Prefix:   cfg.ArchivePrefix,
		})
	case "gcs":
		return newGCSObjectStore(ctx, cfg)
	case "":
		return nil, fmt.Errorf("ARCHIVE_BACKEND is not set")
	default:
		return nil, fmt.Errorf("unknown ARCHIVE_BACKEND %q", cfg.ArchiveBackend)
	}
}
