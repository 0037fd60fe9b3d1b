//go:build gcp

package audit

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/storage"
)

// GCSStore archives audit segments to a Google Cloud Storage bucket. Built
// only with the gcp tag to keep the default binary free of the GCP SDK.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSStore builds the GCS backend using application default credentials.
func NewGCSStore(ctx context.Context, bucket, prefix string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket, prefix: prefix}, nil
}

func (g *GCSStore) Put(ctx context.Context, key string, data []byte) error {
	obj := g.client.Bucket(g.bucket).Object(g.prefix + key)

	// content-addressed keys: skip the upload when the object exists
	if _, err := obj.Attrs(ctx); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcs head %s: %w", key, err)
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/jsonl"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs close %s: %w", key, err)
	}
	return nil
}

func (g *GCSStore) Name() string { return "gcs" }
