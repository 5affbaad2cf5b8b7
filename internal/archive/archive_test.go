package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0640))
	}
}

func TestPackDirAndExtract(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"attachments/a/1.bin": "attachment",
		"rsa_key.pem":         "key",
		"db.sqlite3":          "live",
		"db.sqlite3-wal":      "wal",
		"tmp/cache":           "cache",
	})

	dest := filepath.Join(t.TempDir(), "data.tar.gz")
	n, err := PackDir(context.Background(), src, dest, []string{"db.sqlite3*", "tmp"})
	require.NoError(t, err)
	assert.Greater(t, n, 0)

	names, err := ListFile(dest)
	require.NoError(t, err)
	assert.Contains(t, names, "rsa_key.pem")
	assert.Contains(t, names, "attachments/a/1.bin")
	assert.NotContains(t, names, "db.sqlite3")
	assert.NotContains(t, names, "db.sqlite3-wal")
	assert.NotContains(t, names, "tmp/cache")

	out := t.TempDir()
	files, err := ExtractFile(context.Background(), dest, out)
	require.NoError(t, err)
	assert.Len(t, files, 2)

	data, err := os.ReadFile(filepath.Join(out, "attachments", "a", "1.bin"))
	require.NoError(t, err)
	assert.Equal(t, "attachment", string(data))
}

func TestExtractRejectsTraversal(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "../escape.txt", Mode: 0644, Size: 3, Typeflag: tar.TypeReg}))
	_, err := tw.Write([]byte("bad"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	parent := t.TempDir()
	dest := filepath.Join(parent, "scratch")
	_, err = Extract(context.Background(), &buf, dest)
	require.ErrorIs(t, err, ErrUnsafePath)

	_, statErr := os.Stat(filepath.Join(parent, "escape.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestExtractHonoursCancellation(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "a"})
	dest := filepath.Join(t.TempDir(), "x.tar.gz")
	_, err := PackDir(context.Background(), src, dest, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ExtractFile(ctx, dest, t.TempDir())
	require.ErrorIs(t, err, context.Canceled)
}

func TestWriterAddFileReturnsDigest(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "db.sql")
	require.NoError(t, os.WriteFile(src, []byte("CREATE TABLE users (id TEXT);\n"), 0600))

	dest := filepath.Join(dir, "bundle.tar.gz")
	w, err := Create(dest)
	require.NoError(t, err)
	sum, size, err := w.AddFile(src, "database/db.sql")
	require.NoError(t, err)
	require.NoError(t, w.AddBytes("MANIFEST.json", []byte("{}")))
	require.NoError(t, w.Close())

	assert.Len(t, sum, 64)
	assert.Equal(t, int64(30), size)

	names, err := ListFile(dest)
	require.NoError(t, err)
	assert.Equal(t, []string{"database/db.sql", "MANIFEST.json"}, names)
}

func TestExcluded(t *testing.T) {
	assert.True(t, Excluded("db.sqlite3-shm", []string{"db.sqlite3*"}))
	assert.True(t, Excluded("sub/icon_cache", []string{"icon_cache"}))
	assert.False(t, Excluded("attachments/x", []string{"icon_cache"}))
}
