// Package memory keeps jobs and report artifacts in process memory for
// development and tests.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/lalchand07/Auditly/internal/audit"
)

// BlobStore stores artifacts in-memory and returns pseudo URIs.
type BlobStore struct {
	mu      sync.RWMutex
	data    map[string][]byte
	types   map[string]string
	baseURL string
}

var _ audit.ArtifactStore = (*BlobStore)(nil)

// NewBlobStore creates a new in-memory blob store. Public URLs are baseURL
// joined with the path, or memory:// URIs when baseURL is empty.
func NewBlobStore(baseURL string) *BlobStore {
	return &BlobStore{
		data:    make(map[string][]byte),
		types:   make(map[string]string),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Put stores a copy of data, replacing any previous object at path.
func (s *BlobStore) Put(ctx context.Context, path, contentType string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("path is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = append([]byte(nil), data...)
	s.types[path] = contentType
	return nil
}

// PublicURL resolves path if it has been written.
func (s *BlobStore) PublicURL(_ context.Context, path string) (string, error) {
	s.mu.RLock()
	_, ok := s.data[path]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("object %s not found", path)
	}
	if s.baseURL == "" {
		return fmt.Sprintf("memory://%s", path), nil
	}
	return s.baseURL + "/" + path, nil
}

// Object returns a copy of the stored bytes and content type.
func (s *BlobStore) Object(path string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[path]
	if !ok {
		return nil, "", false
	}
	return append([]byte(nil), data...), s.types[path], true
}
