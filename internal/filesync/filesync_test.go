package filesync

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSyncer(t *testing.T) (*Syncer, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)
	return s, dir
}

func TestWriteCreatesParentsAndTruncates(t *testing.T) {
	s, root := newTestSyncer(t)

	require.NoError(t, s.Write("pkg/sub/main.go", []byte("package main")))
	got, err := os.ReadFile(filepath.Join(root, "pkg/sub/main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main", string(got))

	require.NoError(t, s.Write("pkg/sub/main.go", []byte("x")))
	got, err = os.ReadFile(filepath.Join(root, "pkg/sub/main.go"))
	require.NoError(t, err)
	assert.Equal(t, "x", string(got))
}

func TestWriteRejectsPathTraversal(t *testing.T) {
	s, _ := newTestSyncer(t)
	err := s.Write("../outside.go", []byte("x"))
	assert.Error(t, err)
}

func TestWriteRejectsAbsolutePath(t *testing.T) {
	s, _ := newTestSyncer(t)
	err := s.Write("/etc/passwd", []byte("x"))
	assert.Error(t, err)
}

func TestWriteRejectsSymlinkEscape(t *testing.T) {
	s, root := newTestSyncer(t)
	outside := t.TempDir()

	require.NoError(t, os.Symlink(outside, filepath.Join(root, "escape")))

	err := s.Write("escape/file.go", []byte("x"))
	assert.Error(t, err)

	_, statErr := os.Stat(filepath.Join(outside, "file.go"))
	assert.True(t, os.IsNotExist(statErr), "write must not have landed outside the root")
}

func TestCreateIsIdempotentAndDoesNotTruncate(t *testing.T) {
	s, root := newTestSyncer(t)

	require.NoError(t, s.Create("new.go"))
	require.NoError(t, os.WriteFile(filepath.Join(root, "new.go"), []byte("keepme"), 0o644))

	require.NoError(t, s.Create("new.go"))
	got, err := os.ReadFile(filepath.Join(root, "new.go"))
	require.NoError(t, err)
	assert.Equal(t, "keepme", string(got))
}

func TestRenameMovesFileAndCreatesParents(t *testing.T) {
	s, root := newTestSyncer(t)
	require.NoError(t, s.Write("old.go", []byte("data")))

	require.NoError(t, s.Rename("old.go", "moved/new.go"))

	_, err := os.Stat(filepath.Join(root, "old.go"))
	assert.True(t, os.IsNotExist(err))

	got, err := os.ReadFile(filepath.Join(root, "moved/new.go"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(got))
}

func TestRemoveFileSucceedsAndEmptyDirSucceeds(t *testing.T) {
	s, root := newTestSyncer(t)
	require.NoError(t, s.Write("file.go", []byte("x")))
	require.NoError(t, s.Remove("file.go"))
	_, err := os.Stat(filepath.Join(root, "file.go"))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, os.Mkdir(filepath.Join(root, "emptydir"), 0o755))
	require.NoError(t, s.Remove("emptydir"))
}

func TestRemoveNonEmptyDirFails(t *testing.T) {
	s, root := newTestSyncer(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "full/child"), 0o755))

	err := s.Remove("full")
	assert.Error(t, err)
}

func TestNewResolvesSymlinkRoot(t *testing.T) {
	real := t.TempDir()
	link := filepath.Join(t.TempDir(), "link")
	require.NoError(t, os.Symlink(real, link))

	s, err := New(link)
	require.NoError(t, err)
	assert.Equal(t, s.Root(), real)
}
