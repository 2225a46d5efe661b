// Package gcs provides an artifact store backed by Google Cloud Storage.
package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/lalchand07/Auditly/internal/audit"
)

const defaultPublicHost = "https://storage.googleapis.com"

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	// PublicBaseURL overrides https://storage.googleapis.com/{bucket},
	// e.g. for a CDN in front of the bucket.
	PublicBaseURL string
}

// ObjectWriter opens a writer for bucket/object. The storage client
// satisfies it through ClientWriter.
type ObjectWriter interface {
	NewWriter(ctx context.Context, bucket, object, contentType string) io.WriteCloser
	Exists(ctx context.Context, bucket, object string) (bool, error)
}

// BlobStore writes artifacts to a configured GCS bucket.
type BlobStore struct {
	objects ObjectWriter
	bucket  string
	baseURL string
}

var _ audit.ArtifactStore = (*BlobStore)(nil)

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	return NewWithWriter(ClientWriter{Client: client}, cfg)
}

// NewWithWriter builds a store around any ObjectWriter.
func NewWithWriter(objects ObjectWriter, cfg Config) (*BlobStore, error) {
	if objects == nil {
		return nil, fmt.Errorf("object writer is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	base := strings.TrimRight(cfg.PublicBaseURL, "/")
	if base == "" {
		base = defaultPublicHost + "/" + cfg.Bucket
	}
	return &BlobStore{objects: objects, bucket: cfg.Bucket, baseURL: base}, nil
}

// Put uploads data, replacing any existing object.
func (s *BlobStore) Put(ctx context.Context, path, contentType string, data []byte) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("path is required")
	}
	writer := s.objects.NewWriter(ctx, s.bucket, path, contentType)
	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// PublicURL returns the object's HTTPS address once it exists.
func (s *BlobStore) PublicURL(ctx context.Context, path string) (string, error) {
	ok, err := s.objects.Exists(ctx, s.bucket, path)
	if err != nil {
		return "", fmt.Errorf("stat object: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("object gs://%s/%s not found", s.bucket, path)
	}
	return s.baseURL + "/" + escapePath(path), nil
}

func escapePath(path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// ClientWriter adapts *storage.Client to ObjectWriter.
type ClientWriter struct {
	Client *storage.Client
}

// NewWriter implements ObjectWriter.
func (c ClientWriter) NewWriter(ctx context.Context, bucket, object, contentType string) io.WriteCloser {
	w := c.Client.Bucket(bucket).Object(object).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	return w
}

// Exists implements ObjectWriter.
func (c ClientWriter) Exists(ctx context.Context, bucket, object string) (bool, error) {
	_, err := c.Client.Bucket(bucket).Object(object).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
