//go:build !gcp

package main

import (
	"context"
	"fmt"

	"github.com/arguslabs/argus/core/pkg/audit"
	"github.com/arguslabs/argus/core/pkg/config"
)

func newGCSObjectStore(_ context.Context, _ *config.Config) (audit.ObjectStore, error) {
	return nil, fmt.Errorf("gcs archive backend requires a build with -tags gcp")
}
