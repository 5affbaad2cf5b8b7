package bundle

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/aelpxy/vaultkeep/internal/checksum"
	"github.com/aelpxy/vaultkeep/internal/crypt"
	"github.com/aelpxy/vaultkeep/internal/logging"
	"github.com/aelpxy/vaultkeep/internal/utils"
	"github.com/aelpxy/vaultkeep/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func workspace(t *testing.T) (string, *models.Manifest) {
	t.Helper()
	work := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(work, "database"), 0700))
	require.NoError(t, os.WriteFile(filepath.Join(work, models.BundleDatabaseFile), []byte("BEGIN TRANSACTION;\nCOMMIT;\n"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(work, models.BundleSystemInfoFile), []byte("host: test\n"), 0600))

	m := &models.Manifest{
		Name:        "vaultwarden-backup-20260101-000000",
		CreatedAt:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Host:        "test",
		ServiceName: "vaultwarden",
		Components: []models.ComponentInfo{
			{Name: models.ComponentDatabase, File: models.BundleDatabaseFile},
			{Name: models.ComponentSystemInfo, File: models.BundleSystemInfoFile},
		},
	}
	return work, m
}

func TestBuildPlaintext(t *testing.T) {
	work, m := workspace(t)
	out := t.TempDir()

	arc, err := NewBuilder(work, out, nil, logging.Discard()).Build(context.Background(), m)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(out, m.Name+".tar.gz"), arc.Path)
	assert.False(t, arc.Encrypted)
	for _, sc := range checksum.SidecarPaths(arc.Path) {
		assert.FileExists(t, sc)
	}
	assert.NoFileExists(t, filepath.Join(work, m.Name+".tar.gz"))

	sums, err := checksum.Compute(arc.Path)
	require.NoError(t, err)
	assert.Equal(t, sums, arc.Checksums)

	recorded, err := checksum.ReadSidecar(arc.Path + checksum.SHA256Ext)
	require.NoError(t, err)
	assert.Equal(t, sums.Strong, recorded)

	contents, err := Inspect(arc.Path, nil)
	require.NoError(t, err)
	require.NotNil(t, contents.Manifest)
	assert.True(t, contents.Has(models.BundleDatabaseFile))
	assert.True(t, contents.Has(models.BundleManifestFile))
	assert.Equal(t, models.ManifestFormatVersion, contents.Manifest.FormatVersion)

	db, ok := contents.Manifest.Component(models.ComponentDatabase)
	require.True(t, ok)
	assert.Len(t, db.SHA256, 64)
	assert.EqualValues(t, len("BEGIN TRANSACTION;\nCOMMIT;\n"), db.SizeBytes)

	text, err := os.ReadFile(arc.Path + ".manifest.txt")
	require.NoError(t, err)
	assert.Contains(t, string(text), "vaultkeep restore "+arc.Path)
	assert.Regexp(t, `total\s+`+regexp.QuoteMeta(utils.FormatBytes(contents.Manifest.TotalSize())), string(text))
}

func TestBuildEncrypted(t *testing.T) {
	work, m := workspace(t)
	out := t.TempDir()
	enc, err := crypt.NewEncryptor("correct horse", 10)
	require.NoError(t, err)

	arc, err := NewBuilder(work, out, enc, logging.Discard()).Build(context.Background(), m)
	require.NoError(t, err)
	assert.True(t, arc.Encrypted)
	assert.Equal(t, ".age", filepath.Ext(arc.Path))
	assert.True(t, crypt.IsEncryptedFile(arc.Path))
	assert.NoFileExists(t, filepath.Join(work, m.Name+".tar.gz"))

	_, err = Inspect(arc.Path, nil)
	require.ErrorIs(t, err, crypt.ErrNoPassphrase)
	require.ErrorIs(t, err, models.ErrPrecondition)

	wrong, err := crypt.NewEncryptor("wrong", 10)
	require.NoError(t, err)
	_, err = Inspect(arc.Path, wrong)
	require.ErrorIs(t, err, crypt.ErrWrongKey)

	contents, err := Inspect(arc.Path, enc)
	require.NoError(t, err)
	assert.True(t, contents.Has(models.BundleSystemInfoFile))

	dest := t.TempDir()
	files, err := Extract(context.Background(), arc.Path, enc, dest)
	require.NoError(t, err)
	assert.Contains(t, files, models.BundleDatabaseFile)
	assert.FileExists(t, filepath.Join(dest, models.BundleManifestFile))
}

func TestBuildMissingComponentLeavesNothing(t *testing.T) {
	work, m := workspace(t)
	m.Components = append(m.Components, models.ComponentInfo{Name: models.ComponentData, File: models.BundleDataFile})
	out := t.TempDir()

	_, err := NewBuilder(work, out, nil, logging.Discard()).Build(context.Background(), m)
	require.Error(t, err)

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBaseName(t *testing.T) {
	assert.Equal(t, "vw-1", BaseName("/x/vw-1.tar.gz.age"))
	assert.Equal(t, "vw-1", BaseName("vw-1.tar.gz"))
	assert.True(t, IsBundle("vw-1.tar.gz.age"))
	assert.False(t, IsBundle("vw-1.tar.gz.sha256"))
}

func TestScanNewestFirst(t *testing.T) {
	dir := t.TempDir()
	for i, name := range []string{"vw-a.tar.gz", "vw-b.tar.gz.age", "vw-c.tar.gz"} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte("x"), 0600))
		ts := time.Now().Add(time.Duration(i) * time.Hour)
		require.NoError(t, os.Chtimes(p, ts, ts))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vw-c.tar.gz.sha256"), []byte("x"), 0600))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".work-vw-d"), 0700))

	entries, err := Scan(dir)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "vw-c", entries[0].Name)
	assert.True(t, entries[1].Encrypted)

	latest, err := Latest(dir)
	require.NoError(t, err)
	assert.Equal(t, "vw-c", latest.Name)

	require.NoError(t, Remove(latest.Path))
	assert.NoFileExists(t, filepath.Join(dir, "vw-c.tar.gz.sha256"))

	_, err = Latest(t.TempDir())
	assert.ErrorIs(t, err, models.ErrPrecondition)
}
