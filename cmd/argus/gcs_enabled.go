//go:build gcp

package main

import (
	"context"

	"github.com/arguslabs/argus/core/pkg/audit"
	"github.com/arguslabs/argus/core/pkg/config"
)

func newGCSObjectStore(ctx context.Context, cfg *config.Config) (audit.ObjectStore, error) {
	return audit.NewGCSStore(ctx, cfg.ArchiveBucket, cfg.ArchivePrefix)
}
