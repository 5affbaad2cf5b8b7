package restore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aelpxy/vaultkeep/internal/archive"
	"github.com/aelpxy/vaultkeep/internal/bundle"
	"github.com/aelpxy/vaultkeep/internal/config"
	"github.com/aelpxy/vaultkeep/internal/crypt"
	"github.com/aelpxy/vaultkeep/internal/lock"
	"github.com/aelpxy/vaultkeep/internal/sqlitedb"
	"github.com/aelpxy/vaultkeep/internal/validate"
	"github.com/aelpxy/vaultkeep/pkg/models"
	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"
)

type Options struct {
	// StopService stops a running service container instead of refusing.
	StopService bool
	// Shallow validates checksums and listing only before restoring.
	Shallow bool
}

// Deps are the collaborators of a Restorer. Encryptor and Runtime may be nil;
// without a Runtime the running-service check is skipped.
type Deps struct {
	Config     *config.Config
	Validator  *validate.Validator
	Encryptor  *crypt.Encryptor
	Runtime    Runtime
	Strategies []LoadStrategy
	Locks      *lock.Manager
	Logger     *log.Logger
	// ScratchRoot holds the extracted bundle; "" means the system temp dir.
	ScratchRoot string
	// Progress receives each stage as it starts.
	Progress func(stage models.RestoreStage)
}

type Restorer struct {
	Deps
}

func NewRestorer(d Deps) *Restorer {
	if d.Progress == nil {
		d.Progress = func(models.RestoreStage) {}
	}
	if len(d.Strategies) == 0 {
		d.Strategies = DefaultStrategies(d.Config, d.Runtime)
	}
	return &Restorer{Deps: d}
}

// DefaultStrategies tries the embedded engine first and falls back to a
// sqlite3 container when a runtime is available.
func DefaultStrategies(cfg *config.Config, rt Runtime) []LoadStrategy {
	strategies := []LoadStrategy{DirectLoad{}}
	if rt != nil {
		image := cfg.Restore.SQLiteImage
		if image == "" {
			image = cfg.Service.Image
		}
		strategies = append(strategies, &ContainerLoad{Runtime: rt, Image: image, UID: cfg.Service.UID, GID: cfg.Service.GID})
	}
	return strategies
}

// TargetFromConfig restores onto the configured service layout.
func TargetFromConfig(cfg *config.Config) models.RestoreTarget {
	return models.RestoreTarget{
		DataDir:      cfg.Service.DataDir,
		DatabasePath: cfg.Service.DatabasePath(),
		ConfigDir:    cfg.Service.ConfigDir,
		TLSDir:       cfg.Service.TLSDir,
		UID:          cfg.Service.UID,
		GID:          cfg.Service.GID,
	}
}

// Restore runs every stage in order and stops at the first failure. The
// returned plan is never nil and records how far the restore got.
func (r *Restorer) Restore(ctx context.Context, archivePath string, target models.RestoreTarget, opts Options) (*models.RestorePlan, error) {
	plan := models.NewRestorePlan(archivePath, target)

	lk, err := r.Locks.TryLock(lock.Pipeline)
	if err != nil {
		plan.Finish(models.StageValidate, models.StateFailed, err.Error())
		return plan, models.NewStageError(string(models.StageValidate), models.ErrPrecondition, err)
	}
	defer lk.Release()

	scratch, err := os.MkdirTemp(r.ScratchRoot, "vaultkeep-restore-*")
	if err != nil {
		plan.Finish(models.StageValidate, models.StateFailed, err.Error())
		return plan, models.NewStageError(string(models.StageValidate), nil, err)
	}
	// the decrypted bundle never outlives the run
	defer os.RemoveAll(scratch)

	run := &run{Restorer: r, ctx: ctx, plan: plan, target: target, opts: opts, archive: archivePath, scratch: scratch}
	for _, st := range []struct {
		stage models.RestoreStage
		fn    func() (models.StageState, string, error)
	}{
		{models.StageValidate, run.validate},
		{models.StageExtract, run.extract},
		{models.StageRestoreDataDirs, run.restoreData},
		{models.StageRestoreDatabase, run.restoreDatabase},
		{models.StageRestoreConfig, run.restoreConfig},
		{models.StageRestoreTLS, run.restoreTLS},
		{models.StageFixPermissions, run.fixPermissions},
		{models.StageVerifyConfig, run.verifyConfig},
	} {
		if err := run.step(st.stage, st.fn); err != nil {
			return plan, err
		}
	}

	plan.Start(models.StageDone)
	plan.Finish(models.StageDone, models.StateCompleted, "")
	r.Logger.Info("restore complete", "archive", archivePath, "method", plan.Method, "advisories", len(plan.Advisories))
	return plan, nil
}

type run struct {
	*Restorer
	ctx      context.Context
	plan     *models.RestorePlan
	target   models.RestoreTarget
	opts     Options
	archive  string
	scratch  string
	manifest *models.Manifest
}

func (r *run) step(stage models.RestoreStage, fn func() (models.StageState, string, error)) error {
	if err := r.ctx.Err(); err != nil {
		r.plan.Finish(stage, models.StateFailed, err.Error())
		return models.NewStageError(string(stage), nil, err)
	}

	r.Progress(stage)
	r.plan.Start(stage)
	state, detail, err := fn()
	if err != nil {
		r.plan.Finish(stage, models.StateFailed, err.Error())
		r.Logger.Error("restore stage failed", "stage", stage, "err", err)
		var se *models.StageError
		if errors.As(err, &se) {
			return err
		}
		return models.NewStageError(string(stage), nil, err)
	}
	r.plan.Finish(stage, state, detail)
	r.Logger.Debug("restore stage finished", "stage", stage, "state", state)
	return nil
}

func (r *run) validate() (models.StageState, string, error) {
	svc := r.Config.Service
	if r.Runtime != nil {
		running, err := r.Runtime.IsRunning(r.ctx, svc.Container)
		if err != nil {
			r.plan.Advise(fmt.Sprintf("could not determine whether %s is running: %v", svc.Container, err))
		}
		if running {
			if !r.opts.StopService {
				return "", "", models.Precondition("service container %s is running; stop it first or pass --stop-service", svc.Container)
			}
			r.Logger.Info("stopping service container", "container", svc.Container)
			if err := r.Runtime.StopContainer(r.ctx, svc.Container, r.Config.Restore.StopTimeout); err != nil {
				return "", "", models.NewStageError(string(models.StageValidate), models.ErrPrecondition, fmt.Errorf("failed to stop %s: %w", svc.Container, err))
			}
		}
	}

	depth := models.DepthDeep
	if r.opts.Shallow {
		depth = models.DepthShallow
	}
	report := r.Validator.Validate(r.ctx, r.archive, depth)
	if report.Verdict() == models.VerdictFail {
		var reasons []string
		for _, f := range report.Failures() {
			reasons = append(reasons, fmt.Sprintf("%s: %s", f.Name, f.Detail))
		}
		return "", "", models.Integrity("archive failed validation: %s", strings.Join(reasons, "; "))
	}
	for _, w := range report.Warnings() {
		r.plan.Advise(fmt.Sprintf("validation warning %s: %s", w.Name, w.Detail))
	}
	return models.StateCompleted, string(depth), nil
}

func (r *run) extract() (models.StageState, string, error) {
	files, err := bundle.Extract(r.ctx, r.archive, r.Encryptor, r.scratch)
	if err != nil {
		return "", "", err
	}

	data, err := os.ReadFile(filepath.Join(r.scratch, models.BundleManifestFile))
	if err != nil {
		return "", "", models.Integrity("bundle has no manifest: %v", err)
	}
	var m models.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return "", "", models.Integrity("manifest is not valid JSON: %v", err)
	}
	r.manifest = &m
	return models.StateCompleted, fmt.Sprintf("%d files", len(files)), nil
}

func (r *run) component(name models.ComponentName) (string, bool) {
	c, ok := r.manifest.Component(name)
	if !ok {
		return "", false
	}
	path := filepath.Join(r.scratch, filepath.FromSlash(c.File))
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

func (r *run) restoreData() (models.StageState, string, error) {
	src, ok := r.component(models.ComponentData)
	if !ok {
		return "", "", models.Integrity("bundle has no %s component", models.ComponentData)
	}

	if err := os.MkdirAll(r.target.DataDir, 0700); err != nil {
		return "", "", err
	}
	// the data dir is replaced, not merged, so rerunning gives the same tree
	if err := clearDir(r.target.DataDir); err != nil {
		return "", "", fmt.Errorf("failed to clear %s: %w", r.target.DataDir, err)
	}
	files, err := archive.ExtractFile(r.ctx, src, r.target.DataDir)
	if err != nil {
		return "", "", err
	}
	return models.StateCompleted, fmt.Sprintf("%d files", len(files)), nil
}

func (r *run) restoreDatabase() (models.StageState, string, error) {
	dump, ok := r.component(models.ComponentDatabase)
	if !ok {
		return "", "", models.Integrity("bundle has no %s component", models.ComponentDatabase)
	}
	dbPath := r.target.DatabasePath
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return "", "", err
	}

	var errs []error
	for _, s := range r.Strategies {
		if err := sqlitedb.RemoveWithSideFiles(dbPath); err != nil {
			return "", "", fmt.Errorf("failed to remove existing database: %w", err)
		}

		r.Logger.Debug("loading database", "strategy", s.Name(), "path", dbPath)
		err := s.Load(r.ctx, dump, dbPath)
		if err == nil {
			err = selfCheck(r.ctx, dbPath)
		}
		if err == nil {
			r.plan.Method = s.Name()
			return models.StateCompleted, s.Name(), nil
		}

		r.Logger.Warn("database load failed", "strategy", s.Name(), "err", err)
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		if r.ctx.Err() != nil {
			break
		}
	}

	// a half-written database is worse than none
	sqlitedb.RemoveWithSideFiles(dbPath)
	if ctxErr := r.ctx.Err(); ctxErr != nil {
		return "", "", ctxErr
	}
	return "", "", fmt.Errorf("all load strategies failed: %w", errors.Join(errs...))
}

func selfCheck(ctx context.Context, dbPath string) error {
	result, err := sqlitedb.IntegrityCheckFile(ctx, dbPath)
	if err != nil {
		return err
	}
	if result != "ok" {
		return models.Integrity("restored database failed integrity check: %s", result)
	}
	return nil
}

func (r *run) restoreConfig() (models.StageState, string, error) {
	return r.restoreOptional(models.ComponentConfig, r.target.ConfigDir)
}

func (r *run) restoreTLS() (models.StageState, string, error) {
	return r.restoreOptional(models.ComponentTLS, r.target.TLSDir)
}

// restoreOptional unpacks over dest without clearing it; the config dir
// usually contains the data dir.
func (r *run) restoreOptional(name models.ComponentName, dest string) (models.StageState, string, error) {
	src, ok := r.component(name)
	if !ok {
		return models.StateSkipped, "not in archive", nil
	}
	if dest == "" {
		r.plan.Advise(fmt.Sprintf("archive carries %s but no target directory is configured", name))
		return models.StateSkipped, "no target directory", nil
	}
	files, err := archive.ExtractFile(r.ctx, src, dest)
	if err != nil {
		return "", "", err
	}
	return models.StateCompleted, fmt.Sprintf("%d files", len(files)), nil
}

func (r *run) fixPermissions() (models.StageState, string, error) {
	svc := r.Config.Service
	if svc.EnvFile != "" && r.target.ConfigDir != "" {
		envPath := filepath.Join(r.target.ConfigDir, svc.EnvFile)
		if err := os.Chmod(envPath, 0600); err != nil && !os.IsNotExist(err) {
			return "", "", err
		}
	}

	uid, gid := r.target.UID, r.target.GID
	if os.Geteuid() != 0 {
		if uid != os.Getuid() {
			r.plan.Advise(fmt.Sprintf("not running as root; files were not chowned to %d:%d", uid, gid))
			return models.StateSkipped, "not root", nil
		}
		return models.StateCompleted, "already owned", nil
	}

	for _, dir := range []string{r.target.DataDir, r.target.TLSDir} {
		if dir == "" {
			continue
		}
		if err := chownTree(dir, uid, gid); err != nil {
			return "", "", err
		}
	}
	return models.StateCompleted, fmt.Sprintf("%d:%d", uid, gid), nil
}

func (r *run) verifyConfig() (models.StageState, string, error) {
	svc := r.Config.Service
	svc.ConfigDir = r.target.ConfigDir
	advisories := VerifyConfig(svc)
	for _, a := range advisories {
		r.plan.Advise(a)
	}
	return models.StateCompleted, fmt.Sprintf("%d advisories", len(advisories)), nil
}

func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func chownTree(root string, uid, gid int) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		return os.Lchown(path, uid, gid)
	})
}

// Elapsed sums the recorded stage durations.
func Elapsed(plan *models.RestorePlan) time.Duration {
	var total time.Duration
	for _, s := range plan.Stages {
		total += s.Duration
	}
	return total
}
