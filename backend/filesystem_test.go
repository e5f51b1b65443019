package backend

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFilesystem(t *testing.T, files map[string]string) *Filesystem {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	fs, err := NewFilesystem(root)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })
	return fs
}

func TestNewFilesystemRequiresExistingRoot(t *testing.T) {
	_, err := NewFilesystem(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestFilesystemRead(t *testing.T) {
	fs := newTestFilesystem(t, map[string]string{
		"konA.jpg":        "jpeg-bytes",
		"nested/konB.png": "png-bytes",
	})
	ctx := context.Background()

	rc, info, err := fs.Read(ctx, "konA.jpg")
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(got))
	assert.Equal(t, int64(len("jpeg-bytes")), info.Size)
	assert.Equal(t, "image/jpeg", info.ContentType)
	assert.False(t, info.LastModified.IsZero())

	rc2, info, err := fs.Read(ctx, "nested/konB.png")
	require.NoError(t, err)
	_ = rc2.Close()
	assert.Equal(t, "image/png", info.ContentType)
}

func TestFilesystemReadNotFound(t *testing.T) {
	fs := newTestFilesystem(t, map[string]string{"nested/a.bin": "x"})
	ctx := context.Background()

	for _, key := range []string{"nonexistent/key", "", "/", "nested"} {
		_, _, err := fs.Read(ctx, key)
		require.ErrorIs(t, err, ErrNotFound, key)
	}
}

func TestFilesystemTraversalStaysInRoot(t *testing.T) {
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("secret"), 0o644))

	fs := newTestFilesystem(t, nil)
	rel, err := filepath.Rel(fs.Root(), filepath.Join(outside, "secret.txt"))
	require.NoError(t, err)

	_, _, err = fs.Read(context.Background(), filepath.ToSlash(rel))
	require.Error(t, err)
}

func TestFilesystemStat(t *testing.T) {
	fs := newTestFilesystem(t, map[string]string{"data.unknownext": "12345"})
	ctx := context.Background()

	info, err := fs.Stat(ctx, "data.unknownext")
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size)
	assert.Equal(t, defaultContentType, info.ContentType)

	_, err = fs.Stat(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}
