// Package local_test tests the local filesystem blob store.
package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lalchand07/Auditly/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "reports")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		assert.DirExists(t, dir)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		tempFile, err := os.CreateTemp(t.TempDir(), "testfile")
		require.NoError(t, err)
		require.NoError(t, tempFile.Close())

		_, err = local.New(local.Config{BaseDir: tempFile.Name()})
		assert.Error(t, err)
	})

	t.Run("BaseDirNotWritable", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("root ignores directory permissions")
		}
		tempDir := t.TempDir()
		// #nosec G302 -- directory permissions adjusted intentionally for test coverage.
		require.NoError(t, os.Chmod(tempDir, 0o500))
		t.Cleanup(func() {
			// #nosec G302 -- reverting permissions to allow cleanup in the test environment.
			_ = os.Chmod(tempDir, 0o700)
		})

		_, err := local.New(local.Config{BaseDir: tempDir})
		assert.Error(t, err)
	})
}

func TestPutAndPublicURL(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("WritesReport", func(t *testing.T) {
		path := "ws-1/job-1.pdf"
		data := []byte("%PDF-1.4 report")
		require.NoError(t, store.Put(ctx, path, "application/pdf", data))

		// #nosec G304 -- test reads from the controlled temp directory.
		readData, err := os.ReadFile(filepath.Join(tempDir, path))
		require.NoError(t, err)
		assert.Equal(t, data, readData)

		uri, err := store.PublicURL(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, "file://"+filepath.ToSlash(filepath.Join(tempDir, path)), uri)
	})

	t.Run("Overwrites", func(t *testing.T) {
		path := "ws-1/job-2.pdf"
		require.NoError(t, store.Put(ctx, path, "application/pdf", []byte("first")))
		require.NoError(t, store.Put(ctx, path, "application/pdf", []byte("second")))

		// #nosec G304 -- test reads from the controlled temp directory.
		readData, err := os.ReadFile(filepath.Join(tempDir, path))
		require.NoError(t, err)
		assert.Equal(t, "second", string(readData))
	})

	t.Run("EmptyPath", func(t *testing.T) {
		assert.Error(t, store.Put(ctx, "", "application/pdf", []byte("data")))
	})

	t.Run("PathTraversal", func(t *testing.T) {
		assert.Error(t, store.Put(ctx, "../escape.pdf", "application/pdf", []byte("data")))
	})

	t.Run("UnknownArtifact", func(t *testing.T) {
		_, err := store.PublicURL(ctx, "ws-1/missing.pdf")
		assert.Error(t, err)
	})
}

func TestPublicBaseURL(t *testing.T) {
	store, err := local.New(local.Config{BaseDir: t.TempDir(), PublicBaseURL: "http://localhost:8080/reports/"})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "ws/job.pdf", "application/pdf", []byte("pdf")))
	uri, err := store.PublicURL(ctx, "ws/job.pdf")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/reports/ws/job.pdf", uri)
}
