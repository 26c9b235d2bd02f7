// Package local_test tests the local filesystem store.
package local_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/journal-harvester/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "root")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		assert.DirExists(t, dir)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})

	t.Run("BaseDirNotWritable", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("root ignores directory permissions")
		}
		tempDir := t.TempDir()
		// #nosec G302 -- directory permissions adjusted intentionally for test coverage.
		require.NoError(t, os.Chmod(tempDir, 0o500))
		t.Cleanup(func() { _ = os.Chmod(tempDir, 0o750) }) // #nosec G302

		_, err := local.New(local.Config{BaseDir: tempDir})
		assert.Error(t, err)
	})
}

func TestPut(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("ValidPut", func(t *testing.T) {
		data := []byte("hello world")
		full, err := store.Put(ctx, "a/b/object.txt", bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(tempDir, "a/b/object.txt"), full)

		// #nosec G304 -- test reads from the controlled temp directory.
		got, err := os.ReadFile(full)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("OverwriteLeavesNoTemps", func(t *testing.T) {
		_, err := store.WriteFile(ctx, "over.txt", []byte("one"))
		require.NoError(t, err)
		full, err := store.WriteFile(ctx, "over.txt", []byte("two"))
		require.NoError(t, err)

		got, err := os.ReadFile(full) // #nosec G304
		require.NoError(t, err)
		assert.Equal(t, "two", string(got))

		matches, err := filepath.Glob(filepath.Join(tempDir, ".over.txt.tmp-*"))
		require.NoError(t, err)
		assert.Empty(t, matches)
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.Put(ctx, "", bytes.NewReader([]byte("data")))
		assert.Error(t, err)
	})

	t.Run("Traversal", func(t *testing.T) {
		_, err := store.Put(ctx, "../escape.txt", bytes.NewReader([]byte("data")))
		assert.ErrorIs(t, err, local.ErrPathTraversal)
	})

	t.Run("CanceledContext", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := store.Put(cctx, "never.txt", bytes.NewReader(nil))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRemoveAndMkdir(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)

	dir, err := store.MkdirAll("set/record/MASTER")
	require.NoError(t, err)
	assert.DirExists(t, dir)

	_, err = store.WriteFile(context.Background(), "set/record/MASTER/1.pdf", []byte("pdf"))
	require.NoError(t, err)

	require.NoError(t, store.Remove("set/record/MASTER/1.pdf"))
	require.NoError(t, store.Remove("set/record/MASTER/1.pdf"), "missing file is fine")

	require.NoError(t, store.RemoveAll("set/record"))
	assert.NoDirExists(t, filepath.Join(tempDir, "set/record"))
}
