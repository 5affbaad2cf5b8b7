package rehearsal

import (
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aelpxy/vaultkeep/internal/backup"
	"github.com/aelpxy/vaultkeep/internal/checksum"
	"github.com/aelpxy/vaultkeep/internal/config"
	"github.com/aelpxy/vaultkeep/internal/crypt"
	"github.com/aelpxy/vaultkeep/internal/lock"
	"github.com/aelpxy/vaultkeep/internal/logging"
	"github.com/aelpxy/vaultkeep/internal/notify"
	"github.com/aelpxy/vaultkeep/internal/snapshot"
	"github.com/aelpxy/vaultkeep/internal/sqlitedb"
	"github.com/aelpxy/vaultkeep/internal/testutil"
	"github.com/aelpxy/vaultkeep/internal/validate"
	"github.com/aelpxy/vaultkeep/pkg/models"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	events []notify.Event
}

func (r *recorder) Notify(_ context.Context, e notify.Event) error {
	r.events = append(r.events, e)
	return nil
}

// setup returns a config whose only rehearsal location is an empty dir.
func setup(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.StateDir = filepath.Join(root, "state")
	cfg.Rehearsal.Locations = []string{filepath.Join(root, "backups")}
	cfg.Rehearsal.ReportDir = filepath.Join(root, "reports")
	require.NoError(t, os.MkdirAll(cfg.Rehearsal.Locations[0], 0700))
	return cfg
}

func harness(t *testing.T, cfg *config.Config, enc *crypt.Encryptor) (*Harness, *recorder, string) {
	t.Helper()
	locks, err := lock.NewManager(cfg.LockDir())
	require.NoError(t, err)
	rec := &recorder{}
	scratch := t.TempDir()
	h := NewHarness(Deps{
		Config:      cfg,
		Encryptor:   enc,
		Notifier:    rec,
		Locks:       locks,
		Logger:      logging.Discard(),
		ScratchRoot: scratch,
	})
	return h, rec, scratch
}

// writeDump dumps a seeded vault into the first location under name.
func writeDump(t *testing.T, cfg *config.Config, name string, v testutil.Vault) string {
	t.Helper()
	src := testutil.CreateVaultDB(t, filepath.Join(t.TempDir(), "db.sqlite3"), v)
	path := filepath.Join(cfg.Rehearsal.Locations[0], name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, sqlitedb.DumpFile(context.Background(), src, f))
	return path
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestThreeUsersTwelveCiphers(t *testing.T) {
	cfg := setup(t)
	writeDump(t, cfg, "vaultwarden-20260101.sql", testutil.Vault{Users: 3, Ciphers: 12})
	h, rec, scratch := harness(t, cfg, nil)

	report, err := h.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.DRSuccess, report.TestResult, "warnings %v errors %v", report.Warnings, report.Errors)
	assert.Equal(t, 4, report.DatabaseStats.EssentialTablesFound)
	assert.Equal(t, 4, report.DatabaseStats.EssentialTablesExpected)
	assert.Equal(t, int64(3), report.DatabaseStats.RowCounts["users"])
	assert.Equal(t, int64(12), report.DatabaseStats.RowCounts["ciphers"])
	assert.Equal(t, "ok", report.DatabaseStats.Integrity)
	assert.Equal(t, "sql", report.BackupInfo.Format)
	assert.Equal(t, len(DefaultQueries), report.Performance.QueriesPassed)
	assert.NotEmpty(t, report.TestID)

	require.Len(t, rec.events, 1)
	assert.Equal(t, notify.LevelInfo, rec.events[0].Level)
	assertEmptyDir(t, scratch)
}

func TestMissingEssentialTableFails(t *testing.T) {
	cfg := setup(t)
	writeDump(t, cfg, "nofolders.sql", testutil.Vault{Users: 3, Ciphers: 12, SkipTables: []string{"folders"}})
	h, rec, scratch := harness(t, cfg, nil)

	report, err := h.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.DRFailure, report.TestResult)
	assert.Equal(t, models.ExitFailure, report.TestResult.ExitCode())
	assert.Equal(t, []string{"folders"}, report.DatabaseStats.MissingTables)
	assert.Equal(t, 3, report.DatabaseStats.EssentialTablesFound)

	require.Len(t, rec.events, 1)
	assert.Equal(t, notify.LevelCritical, rec.events[0].Level)
	assertEmptyDir(t, scratch)
}

func TestEmptyKeyTablesWarn(t *testing.T) {
	cfg := setup(t)
	writeDump(t, cfg, "empty.sql", testutil.Vault{})
	h, _, _ := harness(t, cfg, nil)

	report, err := h.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.DRWarning, report.TestResult)
	assert.Equal(t, models.ExitWarning, report.TestResult.ExitCode())
	assert.Equal(t, 4, report.DatabaseStats.EssentialTablesFound)
	assert.Contains(t, report.Warnings, "table users has no rows")
	assert.Contains(t, report.Warnings, "table ciphers has no rows")
}

func TestSlowRestorationWarns(t *testing.T) {
	cfg := setup(t)
	cfg.Rehearsal.MaxRestoreSeconds = 1e-9
	writeDump(t, cfg, "slow.sql", testutil.Vault{Users: 3, Ciphers: 12})
	h, _, _ := harness(t, cfg, nil)

	report, err := h.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.DRWarning, report.TestResult)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "restoration took")
}

func TestNoBackupFails(t *testing.T) {
	cfg := setup(t)
	h, _, _ := harness(t, cfg, nil)

	report, err := h.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.DRFailure, report.TestResult)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "no backup found")
}

func TestNewestBackupWins(t *testing.T) {
	cfg := setup(t)
	old := writeDump(t, cfg, "old.sql", testutil.Vault{Users: 1, Ciphers: 1, SkipTables: []string{"folders"}})
	newest := writeDump(t, cfg, "new.sql", testutil.Vault{Users: 3, Ciphers: 12})

	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	cand, err := Locate(cfg.Rehearsal.Locations)
	require.NoError(t, err)
	assert.Equal(t, newest, cand.Path)
}

func TestCompressedSQLiteFile(t *testing.T) {
	cfg := setup(t)
	src := testutil.CreateVaultDB(t, filepath.Join(t.TempDir(), "db.sqlite3"), testutil.Vault{Users: 3, Ciphers: 12, Folders: 1, Orgs: 1})

	in, err := os.Open(src)
	require.NoError(t, err)
	defer in.Close()
	out, err := os.Create(filepath.Join(cfg.Rehearsal.Locations[0], "db-20260101.sqlite3.gz"))
	require.NoError(t, err)
	gz := gzip.NewWriter(out)
	_, err = io.Copy(gz, in)
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, out.Close())

	h, _, scratch := harness(t, cfg, nil)
	report, err := h.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.DRSuccess, report.TestResult, "warnings %v errors %v", report.Warnings, report.Errors)
	assert.Equal(t, "sqlite3.gz", report.BackupInfo.Format)
	assert.Equal(t, int64(12), report.DatabaseStats.RowCounts["ciphers"])
	assertEmptyDir(t, scratch)
}

func TestEncryptedDump(t *testing.T) {
	cfg := setup(t)
	plain := writeDump(t, cfg, "vault.sql", testutil.Vault{Users: 3, Ciphers: 12})
	enc, err := crypt.NewEncryptor("correct horse", 10)
	require.NoError(t, err)
	require.NoError(t, enc.EncryptFile(plain, plain+crypt.Extension))
	require.NoError(t, os.Remove(plain))

	h, _, _ := harness(t, cfg, nil)
	report, err := h.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.DRFailure, report.TestResult)
	assert.Contains(t, report.Errors[0], "passphrase")

	h, _, scratch := harness(t, cfg, enc)
	report, err = h.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.DRSuccess, report.TestResult, "warnings %v errors %v", report.Warnings, report.Errors)
	assert.Equal(t, "sql.age", report.BackupInfo.Format)
	assertEmptyDir(t, scratch)
}

// orchestratedBundle writes one real bundle into the deployment's backup dir.
func orchestratedBundle(t *testing.T) (*config.Config, string) {
	t.Helper()
	cfg := testutil.Deployment(t, testutil.Vault{Users: 3, Ciphers: 12, Folders: 2, Orgs: 1})
	locks, err := lock.NewManager(cfg.LockDir())
	require.NoError(t, err)
	o := backup.NewOrchestrator(backup.Deps{
		Config: cfg,
		Dumper: snapshot.NewDumper(logging.Discard(), time.Minute, &snapshot.DirectStrategy{Path: cfg.Service.DatabasePath()}),
		Locks:  locks,
		Logger: logging.Discard(),
	})
	run, err := o.Run(context.Background(), backup.Options{Force: true})
	require.NoError(t, err)
	require.NotNil(t, run.Archive)
	return cfg, run.Archive.Path
}

func TestRehearseBundle(t *testing.T) {
	cfg, _ := orchestratedBundle(t)

	h, _, scratch := harness(t, cfg, nil)
	report, err := h.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.DRSuccess, report.TestResult, "warnings %v errors %v", report.Warnings, report.Errors)
	assert.Equal(t, "tar.gz", report.BackupInfo.Format)
	assert.Equal(t, int64(2), report.DatabaseStats.RowCounts["folders"])
	assertEmptyDir(t, scratch)
}

func TestBundleDigestMismatchFails(t *testing.T) {
	cfg, archive := orchestratedBundle(t)
	zero := strings.Repeat("0", 64) + "  " + filepath.Base(archive) + "\n"
	require.NoError(t, os.WriteFile(archive+checksum.SHA256Ext, []byte(zero), 0644))
	require.NoError(t, os.WriteFile(archive+checksum.XXH64Ext, []byte(zero[48:]), 0644))

	h, rec, scratch := harness(t, cfg, nil)
	report, err := h.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.DRFailure, report.TestResult)
	require.Len(t, report.Errors, 2, report.Errors)
	assert.Contains(t, report.Errors[0], validate.CheckSHA256)
	assert.Contains(t, report.Errors[1], validate.CheckXXH64)
	assert.Empty(t, report.DatabaseStats.RowCounts)
	require.Len(t, rec.events, 1)
	assert.Equal(t, notify.LevelCritical, rec.events[0].Level)
	assertEmptyDir(t, scratch)
}

func TestBundleMissingSidecarsWarn(t *testing.T) {
	cfg, archive := orchestratedBundle(t)
	require.NoError(t, os.Remove(archive+checksum.XXH64Ext))

	h, _, _ := harness(t, cfg, nil)
	report, err := h.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.DRWarning, report.TestResult, "errors %v", report.Errors)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], validate.CheckXXH64)
}

func TestReportPersistedAndAppended(t *testing.T) {
	cfg := setup(t)
	writeDump(t, cfg, "vault.sql", testutil.Vault{Users: 3, Ciphers: 12})
	h, _, _ := harness(t, cfg, nil)

	first, err := h.Run(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(ReportPath(cfg.Rehearsal.ReportDir, first))
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	for _, key := range []string{"test_date", "test_id", "test_result", "backup_info", "database_stats", "performance"} {
		assert.Contains(t, decoded, key)
	}

	second, err := h.Run(context.Background())
	require.NoError(t, err)

	history, err := History(cfg.Rehearsal.ReportDir)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, first.TestID, history[0].TestID)
	assert.Equal(t, second.TestID, history[1].TestID)
}

func TestConcurrentRehearsalRefused(t *testing.T) {
	cfg := setup(t)
	h, _, _ := harness(t, cfg, nil)
	held, err := h.Locks.TryLock(lock.Rehearsal)
	require.NoError(t, err)
	defer held.Release()

	_, err = h.Run(context.Background())
	assert.ErrorIs(t, err, lock.ErrAlreadyRunning)
}
