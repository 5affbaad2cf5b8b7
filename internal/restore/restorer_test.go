package restore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aelpxy/vaultkeep/internal/backup"
	"github.com/aelpxy/vaultkeep/internal/config"
	"github.com/aelpxy/vaultkeep/internal/docker"
	"github.com/aelpxy/vaultkeep/internal/lock"
	"github.com/aelpxy/vaultkeep/internal/logging"
	"github.com/aelpxy/vaultkeep/internal/snapshot"
	"github.com/aelpxy/vaultkeep/internal/sqlitedb"
	"github.com/aelpxy/vaultkeep/internal/testutil"
	"github.com/aelpxy/vaultkeep/internal/validate"
	"github.com/aelpxy/vaultkeep/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var vault = testutil.Vault{Users: 3, Ciphers: 12, Folders: 2, Orgs: 1}

func makeBackup(t *testing.T, cfg *config.Config) string {
	t.Helper()
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
	return run.Archive.Path
}

func freshTarget(t *testing.T, cfg *config.Config) models.RestoreTarget {
	t.Helper()
	root := t.TempDir()
	configDir := filepath.Join(root, "vaultwarden")
	dataDir := filepath.Join(configDir, "data")
	return models.RestoreTarget{
		DataDir:      dataDir,
		DatabasePath: filepath.Join(dataDir, cfg.Service.DatabaseFile),
		ConfigDir:    configDir,
		TLSDir:       filepath.Join(configDir, "certs"),
		UID:          os.Getuid(),
		GID:          os.Getgid(),
	}
}

func newRestorer(t *testing.T, cfg *config.Config, mutate func(*Deps)) (*Restorer, string) {
	t.Helper()
	locks, err := lock.NewManager(cfg.LockDir())
	require.NoError(t, err)
	scratch := t.TempDir()
	d := Deps{
		Config:      cfg,
		Validator:   validate.New(cfg.Validate.MinSizeBytes, cfg.Rehearsal.EssentialTables, nil, t.TempDir(), logging.Discard()),
		Locks:       locks,
		Logger:      logging.Discard(),
		ScratchRoot: scratch,
	}
	if mutate != nil {
		mutate(&d)
	}
	return NewRestorer(d), scratch
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRestoreRoundTrip(t *testing.T) {
	cfg := testutil.Deployment(t, vault)
	path := makeBackup(t, cfg)
	target := freshTarget(t, cfg)

	r, scratch := newRestorer(t, cfg, nil)
	plan, err := r.Restore(context.Background(), path, target, Options{})
	require.NoError(t, err)

	assert.True(t, plan.Completed())
	assert.Equal(t, models.ExitOK, plan.ExitCode())
	assert.Equal(t, "direct", plan.Method)

	for _, table := range []string{"users", "ciphers", "folders", "organizations"} {
		assert.Equal(t, testutil.CountRows(t, cfg.Service.DatabasePath(), table), testutil.CountRows(t, target.DatabasePath, table), table)
	}

	body, err := os.ReadFile(filepath.Join(target.DataDir, "attachments", "cipher-0", "att-1"))
	require.NoError(t, err)
	assert.Equal(t, "attachment bytes", string(body))
	assert.FileExists(t, filepath.Join(target.ConfigDir, ".env"))
	assert.FileExists(t, filepath.Join(target.TLSDir, "fullchain.pem"))

	info, err := os.Stat(filepath.Join(target.ConfigDir, ".env"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	assert.Contains(t, plan.Advisories, "ADMIN_TOKEN is stored in plain text; replace it with an argon2 hash (vaultwarden hash)")
	assertEmptyDir(t, scratch)
}

func TestRestoreIsIdempotent(t *testing.T) {
	cfg := testutil.Deployment(t, vault)
	path := makeBackup(t, cfg)
	target := freshTarget(t, cfg)
	r, _ := newRestorer(t, cfg, nil)

	_, err := r.Restore(context.Background(), path, target, Options{})
	require.NoError(t, err)
	// stray files from a previous life of the host must not survive
	require.NoError(t, os.WriteFile(filepath.Join(target.DataDir, "stray"), []byte("x"), 0600))

	plan, err := r.Restore(context.Background(), path, target, Options{})
	require.NoError(t, err)
	assert.True(t, plan.Completed())

	assert.NoFileExists(t, filepath.Join(target.DataDir, "stray"))
	assert.Equal(t, int64(vault.Ciphers), testutil.CountRows(t, target.DatabasePath, "ciphers"))
	assert.Equal(t, int64(vault.Users), testutil.CountRows(t, target.DatabasePath, "users"))
}

type cancellingLoad struct {
	cancel context.CancelFunc
}

func (cancellingLoad) Name() string { return "cancelling" }

func (c cancellingLoad) Load(ctx context.Context, dumpPath, dbPath string) error {
	if err := os.WriteFile(dbPath, []byte("partial"), 0600); err != nil {
		return err
	}
	c.cancel()
	<-ctx.Done()
	return ctx.Err()
}

func TestCancelDuringDatabaseRestoreCleansUp(t *testing.T) {
	cfg := testutil.Deployment(t, vault)
	path := makeBackup(t, cfg)
	target := freshTarget(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r, scratch := newRestorer(t, cfg, func(d *Deps) {
		d.Strategies = []LoadStrategy{cancellingLoad{cancel: cancel}, DirectLoad{}}
	})
	plan, err := r.Restore(ctx, path, target, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, models.StateFailed, plan.State(models.StageRestoreDatabase))
	assert.Equal(t, models.StatePending, plan.State(models.StageRestoreConfig))
	assert.False(t, plan.Completed())
	assert.Equal(t, models.ExitFailure, plan.ExitCode())

	assert.NoFileExists(t, target.DatabasePath)
	assertEmptyDir(t, scratch)

	locks, err := lock.NewManager(cfg.LockDir())
	require.NoError(t, err)
	assert.False(t, locks.IsLocked(lock.Pipeline))
}

func TestMissingTLSIsSkipped(t *testing.T) {
	cfg := testutil.Deployment(t, vault)
	require.NoError(t, os.RemoveAll(cfg.Service.TLSDir))
	path := makeBackup(t, cfg)
	target := freshTarget(t, cfg)

	r, _ := newRestorer(t, cfg, nil)
	plan, err := r.Restore(context.Background(), path, target, Options{})
	require.NoError(t, err)

	assert.Equal(t, models.StateSkipped, plan.State(models.StageRestoreTLS))
	assert.Equal(t, models.StateCompleted, plan.State(models.StageRestoreConfig))
	assert.True(t, plan.Completed())
}

func TestCorruptArchiveStopsAtValidate(t *testing.T) {
	cfg := testutil.Deployment(t, vault)
	path := makeBackup(t, cfg)
	target := freshTarget(t, cfg)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)/2] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0600))

	r, _ := newRestorer(t, cfg, nil)
	plan, err := r.Restore(context.Background(), path, target, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrIntegrity)
	assert.Equal(t, models.StageValidate, plan.FailedStage())
	assert.NoFileExists(t, target.DatabasePath)
}

type fakeRuntime struct {
	running bool
	stopped bool
	specs   []docker.DisposableSpec
}

func (f *fakeRuntime) IsRunning(context.Context, string) (bool, error) { return f.running, nil }

func (f *fakeRuntime) StopContainer(context.Context, string, time.Duration) error {
	f.stopped = true
	f.running = false
	return nil
}

func (f *fakeRuntime) EnsureImage(context.Context, string, io.Writer) error { return nil }

// RunDisposable plays the sqlite3 container against the bound directories.
func (f *fakeRuntime) RunDisposable(ctx context.Context, spec docker.DisposableSpec) (string, error) {
	f.specs = append(f.specs, spec)
	var db, dump string
	if _, err := fmt.Sscanf(spec.Cmd[0], "sqlite3 /restore/%s < /dump/%s", &db, &dump); err != nil {
		return "", err
	}
	in, err := os.Open(filepath.Join(spec.Mounts[1].Source, dump))
	if err != nil {
		return "", err
	}
	defer in.Close()
	return "", sqlitedb.Load(ctx, filepath.Join(spec.Mounts[0].Source, db), in)
}

type brokenLoad struct{}

func (brokenLoad) Name() string { return "broken" }

func (brokenLoad) Load(_ context.Context, _, dbPath string) error {
	os.WriteFile(dbPath, []byte("garbage"), 0600)
	return errors.New("sqlite3: not found")
}

func TestContainerTierFallback(t *testing.T) {
	cfg := testutil.Deployment(t, vault)
	path := makeBackup(t, cfg)
	target := freshTarget(t, cfg)
	rt := &fakeRuntime{}

	r, _ := newRestorer(t, cfg, func(d *Deps) {
		d.Runtime = rt
		d.Strategies = []LoadStrategy{brokenLoad{}, &ContainerLoad{Runtime: rt, Image: "keinos/sqlite3:latest", UID: 1000, GID: 1000}}
	})
	plan, err := r.Restore(context.Background(), path, target, Options{})
	require.NoError(t, err)

	assert.Equal(t, "container", plan.Method)
	require.Len(t, rt.specs, 1)
	assert.Equal(t, "1000:1000", rt.specs[0].User)
	assert.True(t, rt.specs[0].Mounts[1].ReadOnly)
	assert.False(t, rt.specs[0].Mounts[0].ReadOnly)
	assert.Equal(t, int64(vault.Ciphers), testutil.CountRows(t, target.DatabasePath, "ciphers"))
}

func TestAllTiersFailRemovesDatabase(t *testing.T) {
	cfg := testutil.Deployment(t, vault)
	path := makeBackup(t, cfg)
	target := freshTarget(t, cfg)

	r, _ := newRestorer(t, cfg, func(d *Deps) {
		d.Strategies = []LoadStrategy{brokenLoad{}, brokenLoad{}}
	})
	plan, err := r.Restore(context.Background(), path, target, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all load strategies failed")
	assert.Equal(t, models.StageRestoreDatabase, plan.FailedStage())
	assert.NoFileExists(t, target.DatabasePath)
}

func TestRunningServiceRequiresStop(t *testing.T) {
	cfg := testutil.Deployment(t, vault)
	path := makeBackup(t, cfg)
	target := freshTarget(t, cfg)
	rt := &fakeRuntime{running: true}

	r, _ := newRestorer(t, cfg, func(d *Deps) {
		d.Runtime = rt
		d.Strategies = []LoadStrategy{DirectLoad{}}
	})

	plan, err := r.Restore(context.Background(), path, target, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrPrecondition)
	assert.Equal(t, models.StageValidate, plan.FailedStage())
	assert.False(t, rt.stopped)

	plan, err = r.Restore(context.Background(), path, target, Options{StopService: true})
	require.NoError(t, err)
	assert.True(t, rt.stopped)
	assert.True(t, plan.Completed())
}

func TestConcurrentRestoreRefused(t *testing.T) {
	cfg := testutil.Deployment(t, vault)
	path := makeBackup(t, cfg)

	r, _ := newRestorer(t, cfg, nil)
	held, err := r.Locks.TryLock(lock.Pipeline)
	require.NoError(t, err)
	defer held.Release()

	_, err = r.Restore(context.Background(), path, freshTarget(t, cfg), Options{})
	assert.ErrorIs(t, err, lock.ErrAlreadyRunning)
}
