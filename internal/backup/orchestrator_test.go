package backup

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aelpxy/vaultkeep/internal/bundle"
	"github.com/aelpxy/vaultkeep/internal/config"
	"github.com/aelpxy/vaultkeep/internal/crypt"
	"github.com/aelpxy/vaultkeep/internal/lock"
	"github.com/aelpxy/vaultkeep/internal/logging"
	"github.com/aelpxy/vaultkeep/internal/metrics"
	"github.com/aelpxy/vaultkeep/internal/notify"
	"github.com/aelpxy/vaultkeep/internal/remote"
	"github.com/aelpxy/vaultkeep/internal/snapshot"
	"github.com/aelpxy/vaultkeep/internal/testutil"
	"github.com/aelpxy/vaultkeep/pkg/models"
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

// brokenStore refuses uploads but answers listings, so retention still runs.
type brokenStore struct{}

func (brokenStore) Put(context.Context, string, io.ReadSeeker) error {
	return errors.New("bucket unreachable")
}

func (brokenStore) Get(context.Context, string) (io.ReadCloser, error) {
	return nil, os.ErrNotExist
}

func (brokenStore) List(context.Context) ([]remote.Object, error) { return nil, nil }
func (brokenStore) Delete(context.Context, string) error          { return nil }
func (brokenStore) URI(key string) string                         { return "broken://" + key }

func orchestrator(t *testing.T, cfg *config.Config, mutate func(*Deps)) (*Orchestrator, *recorder) {
	t.Helper()
	locks, err := lock.NewManager(cfg.LockDir())
	require.NoError(t, err)
	registry, err := NewRunRegistry(cfg.StateDir)
	require.NoError(t, err)

	rec := &recorder{}
	d := Deps{
		Config:   cfg,
		Dumper:   snapshot.NewDumper(logging.Discard(), time.Minute, &snapshot.DirectStrategy{Path: cfg.Service.DatabasePath()}),
		Notifier: rec,
		Locks:    locks,
		Registry: registry,
		Metrics:  metrics.NewTextfile(filepath.Join(cfg.StateDir, "metrics")),
		Logger:   logging.Discard(),
		Version:  "test",
	}
	if mutate != nil {
		mutate(&d)
	}
	return NewOrchestrator(d), rec
}

func TestRunProducesCompleteArchive(t *testing.T) {
	cfg := testutil.Deployment(t, testutil.Vault{Users: 3, Ciphers: 12, Folders: 2, Orgs: 1})
	o, rec := orchestrator(t, cfg, nil)

	run, err := o.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSuccess, run.Outcome)
	require.NotNil(t, run.Archive)
	assert.FileExists(t, run.Archive.Path)
	assert.ElementsMatch(t, []string{"database", "data", "config", "tls", "sysinfo"}, run.Archive.ComponentNames())

	contents, err := bundle.Inspect(run.Archive.Path, nil)
	require.NoError(t, err)
	for _, f := range []string{models.BundleDatabaseFile, models.BundleDataFile, models.BundleConfigFile, models.BundleTLSFile, models.BundleSystemInfoFile, models.BundleManifestFile} {
		assert.True(t, contents.Has(f), f)
	}
	assert.False(t, contents.Manifest.DatabaseEmpty)

	entries, err := os.ReadDir(cfg.Backup.Dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".work-")
	}

	require.Len(t, rec.events, 1)
	assert.Equal(t, notify.LevelInfo, rec.events[0].Level)
	assert.Equal(t, run.Archive.Name, rec.events[0].Fields["archive"])

	assert.FileExists(t, filepath.Join(cfg.StateDir, "metrics", "vaultkeep_backup.prom"))
	assert.Len(t, o.Registry.List(), 1)
}

func TestRunMissingDatabaseIsEmptyBackup(t *testing.T) {
	cfg := testutil.Deployment(t, testutil.Vault{})
	require.NoError(t, os.Remove(cfg.Service.DatabasePath()))
	o, _ := orchestrator(t, cfg, nil)

	run, err := o.Run(context.Background(), Options{})
	require.NoError(t, err)

	contents, err := bundle.Inspect(run.Archive.Path, nil)
	require.NoError(t, err)
	assert.True(t, contents.Manifest.DatabaseEmpty)
}

func TestRunEncryptsWhenConfigured(t *testing.T) {
	cfg := testutil.Deployment(t, testutil.Vault{Users: 1})
	cfg.Backup.Encrypt = true
	enc, err := crypt.NewEncryptor("passphrase", 10)
	require.NoError(t, err)
	o, _ := orchestrator(t, cfg, func(d *Deps) { d.Encryptor = enc })

	run, err := o.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.True(t, run.Archive.Encrypted)
	assert.True(t, crypt.IsEncryptedFile(run.Archive.Path))
}

func TestRunFailsWithoutPassphrase(t *testing.T) {
	cfg := testutil.Deployment(t, testutil.Vault{Users: 1})
	cfg.Backup.Encrypt = true
	o, rec := orchestrator(t, cfg, nil)

	run, err := o.Run(context.Background(), Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrPrecondition)
	assert.Equal(t, models.OutcomeFailed, run.Outcome)
	assert.Equal(t, StagePreflight, run.FailedStage)

	require.Len(t, rec.events, 1)
	assert.Equal(t, notify.LevelCritical, rec.events[0].Level)
	assert.Equal(t, StagePreflight, rec.events[0].Fields["stage"])
}

func TestRunFailedStageLeavesNoWorkspace(t *testing.T) {
	cfg := testutil.Deployment(t, testutil.Vault{Users: 1})
	cfg.Service.ConfigDir = filepath.Join(t.TempDir(), "missing")
	o, _ := orchestrator(t, cfg, nil)

	run, err := o.Run(context.Background(), Options{})
	require.Error(t, err)
	assert.Equal(t, StageConfig, run.FailedStage)
	assert.Nil(t, run.Archive)

	entries, err := os.ReadDir(cfg.Backup.Dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunReplicationFailureIsPartial(t *testing.T) {
	cfg := testutil.Deployment(t, testutil.Vault{Users: 1})
	o, rec := orchestrator(t, cfg, func(d *Deps) {
		d.Replicator = remote.NewReplicator(brokenStore{}, 2, 0, time.Second, logging.Discard())
	})

	run, err := o.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomePartial, run.Outcome)
	assert.Equal(t, models.ExitWarning, run.Outcome.ExitCode())
	assert.Contains(t, run.ReplicationError, "bucket unreachable")
	assert.FileExists(t, run.Archive.Path)
	require.Len(t, rec.events, 1)
	assert.Equal(t, notify.LevelWarning, rec.events[0].Level)
}

// cancellingStore interrupts the run while the upload is in flight.
type cancellingStore struct {
	brokenStore
	cancel context.CancelFunc
}

func (s cancellingStore) Put(ctx context.Context, _ string, _ io.ReadSeeker) error {
	s.cancel()
	return ctx.Err()
}

func TestRunInterruptedReplicationIsPartial(t *testing.T) {
	cfg := testutil.Deployment(t, testutil.Vault{Users: 1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o, rec := orchestrator(t, cfg, func(d *Deps) {
		d.Replicator = remote.NewReplicator(cancellingStore{cancel: cancel}, 3, 0, time.Second, logging.Discard())
	})

	run, err := o.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomePartial, run.Outcome)
	assert.Contains(t, run.ReplicationError, "interrupted")
	assert.Empty(t, run.FailedStage)
	require.NotNil(t, run.Archive)
	assert.FileExists(t, run.Archive.Path)
	require.Len(t, rec.events, 1)
	assert.Equal(t, notify.LevelWarning, rec.events[0].Level)
}

func TestRunReplicatesToLocalRemote(t *testing.T) {
	cfg := testutil.Deployment(t, testutil.Vault{Users: 1})
	remoteDir := t.TempDir()
	store, err := remote.NewLocalStore(remoteDir, "vw")
	require.NoError(t, err)
	o, _ := orchestrator(t, cfg, func(d *Deps) {
		d.Replicator = remote.NewReplicator(store, 1, 0, time.Second, logging.Discard())
	})

	run, err := o.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSuccess, run.Outcome)
	assert.FileExists(t, filepath.Join(remoteDir, "vw", filepath.Base(run.Archive.Path)))
	assert.NotEmpty(t, run.Archive.RemoteURI)
}

func TestRunHonoursMinInterval(t *testing.T) {
	cfg := testutil.Deployment(t, testutil.Vault{Users: 1})
	cfg.Backup.MinInterval = time.Hour
	o, _ := orchestrator(t, cfg, nil)

	first, err := o.Run(context.Background(), Options{})
	require.NoError(t, err)
	require.NotNil(t, first.Archive)

	second, err := o.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.True(t, second.Skipped)

	o.now = func() time.Time { return time.Now().Add(time.Second) }
	forced, err := o.Run(context.Background(), Options{Force: true})
	require.NoError(t, err)
	assert.False(t, forced.Skipped)
	assert.NotEqual(t, first.Archive.Path, forced.Archive.Path)
}

func TestRunPrunesExpiredArchives(t *testing.T) {
	cfg := testutil.Deployment(t, testutil.Vault{Users: 1})
	cfg.Backup.RetentionDays = 7
	require.NoError(t, os.MkdirAll(cfg.Backup.Dir, 0700))
	old := filepath.Join(cfg.Backup.Dir, "vaultwarden-backup-20200101-000000.tar.gz")
	require.NoError(t, os.WriteFile(old, []byte("old"), 0600))
	require.NoError(t, os.WriteFile(old+".sha256", []byte("x  y\n"), 0600))
	stamp := time.Now().Add(-30 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(old, stamp, stamp))

	o, _ := orchestrator(t, cfg, nil)
	run, err := o.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{old}, run.Pruned)
	assert.NoFileExists(t, old)
	assert.NoFileExists(t, old+".sha256")
	assert.FileExists(t, run.Archive.Path)
}

func TestRunRefusesConcurrentRun(t *testing.T) {
	cfg := testutil.Deployment(t, testutil.Vault{Users: 1})
	o, _ := orchestrator(t, cfg, nil)

	held, err := o.Locks.TryLock(lock.Pipeline)
	require.NoError(t, err)
	defer held.Release()

	_, err = o.Run(context.Background(), Options{})
	require.ErrorIs(t, err, lock.ErrAlreadyRunning)
}
