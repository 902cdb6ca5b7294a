package filex

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDir(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "a", "b")

	got, err := EnsureDir(dir)
	require.NoError(t, err)
	info, err := os.Stat(got)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	// second call is a no-op
	_, err = EnsureDir(dir)
	require.NoError(t, err)
}

func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "img.jpg")

	require.NoError(t, WriteAtomic(path, []byte("hello")))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), b)

	// overwrite
	require.NoError(t, WriteAtomic(path, []byte("world")))
	b, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("world"), b)

	// no temp files left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDirSize(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a"), []byte("12345"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b"), []byte("123"), 0o600))

	n, err := DirSize(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(8), n)
}
