package supabase

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	storage_go "github.com/supabase-community/storage-go"

	"github.com/lalchand07/Auditly/internal/audit"
)

const defaultBucket = "reports"

// ArtifactStore uploads reports to a Supabase Storage bucket.
type ArtifactStore struct {
	client *storage_go.Client
	bucket string
}

var _ audit.ArtifactStore = (*ArtifactStore)(nil)

// NewArtifactStore builds a Storage client for cfg.
func NewArtifactStore(cfg Config) (*ArtifactStore, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = defaultBucket
	}
	client := storage_go.NewClient(cfg.endpoint("/storage/v1"), cfg.ServiceKey, map[string]string{
		"apikey": cfg.ServiceKey,
	})
	return &ArtifactStore{client: client, bucket: bucket}, nil
}

// Put uploads data with upsert so a rerun replaces the previous report.
func (s *ArtifactStore) Put(ctx context.Context, path, contentType string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("path is required")
	}
	upsert := true
	_, err := s.client.UploadFile(s.bucket, path, bytes.NewReader(data), storage_go.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return fmt.Errorf("upload %s/%s: %w", s.bucket, path, err)
	}
	return nil
}

// PublicURL returns the bucket's public object URL.
func (s *ArtifactStore) PublicURL(_ context.Context, path string) (string, error) {
	resp := s.client.GetPublicUrl(s.bucket, path)
	if resp.SignedURL == "" {
		return "", fmt.Errorf("empty public url for %s/%s", s.bucket, path)
	}
	return resp.SignedURL, nil
}
