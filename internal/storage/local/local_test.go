package local

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"attachr/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadDelete(t *testing.T) {
	base := t.TempDir()
	s := New(base, "/system")
	ctx := context.Background()

	loc, err := s.Write(ctx, "users/avatars/000/000/001/thumb/me.png", strings.NewReader("png"), storage.WriteOptions{ContentType: "image/png"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "users/avatars/000/000/001/thumb/me.png"), loc.Path)
	assert.Equal(t, "/system/users/avatars/000/000/001/thumb/me.png", loc.URL)

	info, err := os.Stat(loc.Path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(loc.Path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")

	ok, err := s.Exists(ctx, "users/avatars/000/000/001/thumb/me.png")
	require.NoError(t, err)
	assert.True(t, ok)

	rc, err := s.Read(ctx, "users/avatars/000/000/001/thumb/me.png")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "png", string(data))

	require.NoError(t, s.Delete(ctx, "users/avatars/000/000/001/thumb/me.png"))
	_, err = os.Stat(filepath.Join(base, "users"))
	assert.True(t, os.IsNotExist(err), "emptied directories are pruned")
	_, err = os.Stat(base)
	assert.NoError(t, err, "base directory is kept")
}

func TestDelete_KeepsNonEmptyDirs(t *testing.T) {
	base := t.TempDir()
	s := New(base, "")
	ctx := context.Background()

	_, err := s.Write(ctx, "a/b/one.txt", strings.NewReader("1"), storage.WriteOptions{})
	require.NoError(t, err)
	_, err = s.Write(ctx, "a/two.txt", strings.NewReader("2"), storage.WriteOptions{})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "a/b/one.txt"))
	_, err = os.Stat(filepath.Join(base, "a", "two.txt"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(base, "a", "b"))
	assert.True(t, os.IsNotExist(err))
}

func TestMissingObjects(t *testing.T) {
	s := New(t.TempDir(), "")
	ctx := context.Background()

	_, err := s.Read(ctx, "nope.txt")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	err = s.Delete(ctx, "nope.txt")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	ok, err := s.Exists(ctx, "nope.txt")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, s.URL("nope.txt"))
}

func TestKeysStayInsideBaseDir(t *testing.T) {
	base := t.TempDir()
	s := New(base, "")

	loc, err := s.Write(context.Background(), "../../escape.txt", strings.NewReader("x"), storage.WriteOptions{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "escape.txt"), loc.Path)
}

func TestWrite_FailureLeavesNoFile(t *testing.T) {
	base := t.TempDir()
	s := New(base, "")

	_, err := s.Write(context.Background(), "dir/broken.txt", failingReader{}, storage.WriteOptions{})
	require.Error(t, err)

	entries, err := os.ReadDir(filepath.Join(base, "dir"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("boom") }
