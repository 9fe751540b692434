package filesystem

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealFileSystem_WriteAndRead(t *testing.T) {
	t.Parallel()
	fs := NewRealFileSystem()
	path := filepath.Join(t.TempDir(), "marker.yaml")

	require.NoError(t, fs.WriteFile(path, []byte("name: libtorch\n"), 0o644))

	data, err := fs.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "name: libtorch\n", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not be left behind")
}

func TestRealFileSystem_ExistsAndIsDir(t *testing.T) {
	t.Parallel()
	fs := NewRealFileSystem()
	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	assert.True(t, fs.Exists(dir))
	assert.True(t, fs.IsDir(dir))
	assert.True(t, fs.Exists(file))
	assert.False(t, fs.IsDir(file))
	assert.False(t, fs.Exists(filepath.Join(dir, "missing")))
}

func TestRealFileSystem_MkdirRenameRemove(t *testing.T) {
	t.Parallel()
	fs := NewRealFileSystem()
	base := t.TempDir()
	src := filepath.Join(base, "a", "b")
	dst := filepath.Join(base, "c")

	require.NoError(t, fs.MkdirAll(src, 0o755))
	require.NoError(t, fs.Rename(src, dst))
	assert.True(t, fs.IsDir(dst))
	require.NoError(t, fs.Remove(dst))
	assert.False(t, fs.Exists(dst))
}

func TestRealFileSystem_MkdirTempAndRemoveAll(t *testing.T) {
	t.Parallel()
	fs := NewRealFileSystem()
	parent := t.TempDir()

	staging, err := fs.MkdirTemp(parent, ".onnxruntime.staging-*")
	require.NoError(t, err)
	assert.Equal(t, parent, filepath.Dir(staging))
	assert.True(t, fs.IsDir(staging))

	require.NoError(t, os.MkdirAll(filepath.Join(staging, "lib"), 0o755))
	require.NoError(t, fs.WriteFile(filepath.Join(staging, "lib", "libonnxruntime.so"), []byte("ELF"), 0o644))
	require.NoError(t, fs.RemoveAll(staging))
	assert.False(t, fs.Exists(staging))
	assert.NoError(t, fs.RemoveAll(staging), "removing a missing tree is not an error")
}
