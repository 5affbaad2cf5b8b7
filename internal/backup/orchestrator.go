package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aelpxy/vaultkeep/internal/bundle"
	"github.com/aelpxy/vaultkeep/internal/config"
	"github.com/aelpxy/vaultkeep/internal/crypt"
	"github.com/aelpxy/vaultkeep/internal/lock"
	"github.com/aelpxy/vaultkeep/internal/metrics"
	"github.com/aelpxy/vaultkeep/internal/notify"
	"github.com/aelpxy/vaultkeep/internal/remote"
	"github.com/aelpxy/vaultkeep/internal/snapshot"
	"github.com/aelpxy/vaultkeep/internal/utils"
	"github.com/aelpxy/vaultkeep/pkg/models"
	"github.com/charmbracelet/log"
	"github.com/lucsky/cuid"
)

const (
	StagePreflight = "preflight"
	StageDatabase  = "database"
	StageData      = "data"
	StageConfig    = "config"
	StageTLS       = "tls"
	StageSysinfo   = "sysinfo"
	StageBundle    = "bundle"
	StageReplicate = "replicate"
	StageRetention = "retention"
)

type Options struct {
	// Force ignores backup.min_interval.
	Force bool
}

// Deps are the collaborators of an Orchestrator. Encryptor, Replicator,
// Inspector, Registry and Metrics may be nil.
type Deps struct {
	Config     *config.Config
	Dumper     *snapshot.Dumper
	Inspector  snapshot.ServiceInspector
	Encryptor  *crypt.Encryptor
	Replicator *remote.Replicator
	Notifier   notify.Notifier
	Locks      *lock.Manager
	Registry   *RunRegistry
	Metrics    *metrics.Textfile
	Logger     *log.Logger
	Version    string
	// Progress receives each stage name as it starts.
	Progress func(stage string)
}

type Orchestrator struct {
	Deps
	now func() time.Time
}

func NewOrchestrator(d Deps) *Orchestrator {
	if d.Notifier == nil {
		d.Notifier = notify.Nop{}
	}
	if d.Progress == nil {
		d.Progress = func(string) {}
	}
	return &Orchestrator{Deps: d, now: time.Now}
}

// Run performs one backup. The returned run is never nil; err is set only
// when the outcome is FAILED.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*models.BackupRun, error) {
	started := o.now()
	run := &models.BackupRun{ID: cuid.New(), StartedAt: started, Outcome: models.OutcomeFailed}

	err := o.run(ctx, opts, run)
	run.Duration = o.now().Sub(started)

	if err != nil {
		run.Outcome = models.OutcomeFailed
		run.FailedStage = models.StageOf(err)
		run.Error = err.Error()
	}

	if !run.Skipped {
		o.record(run)
		// an interrupted run still reports how it ended
		o.announce(context.WithoutCancel(ctx), run)
	}

	if err != nil {
		return run, err
	}
	return run, nil
}

func (o *Orchestrator) run(ctx context.Context, opts Options, run *models.BackupRun) error {
	cfg := o.Config
	o.Progress(StagePreflight)

	lk, err := o.Locks.TryLock(lock.Pipeline)
	if err != nil {
		return models.NewStageError(StagePreflight, models.ErrPrecondition, err)
	}
	defer lk.Release()

	if cfg.Backup.Encrypt && o.Encryptor == nil {
		return models.NewStageError(StagePreflight, models.ErrPrecondition, crypt.ErrNoPassphrase)
	}
	if err := os.MkdirAll(cfg.Backup.Dir, 0700); err != nil {
		return models.NewStageError(StagePreflight, nil, fmt.Errorf("failed to create backup directory: %w", err))
	}

	if !opts.Force && cfg.Backup.MinInterval > 0 {
		if latest, err := bundle.Latest(cfg.Backup.Dir); err == nil {
			if age := o.now().Sub(latest.ModTime); age < cfg.Backup.MinInterval {
				o.Logger.Info("recent backup exists, skipping", "archive", latest.Path, "age", age.Round(time.Second))
				run.Skipped = true
				run.Outcome = models.OutcomeSuccess
				return nil
			}
		}
	}

	name := fmt.Sprintf("%s-%s", cfg.Backup.NamePrefix, run.StartedAt.UTC().Format("20060102-150405"))
	work := filepath.Join(cfg.Backup.Dir, ".work-"+name)
	if err := os.MkdirAll(filepath.Join(work, filepath.Dir(models.BundleDatabaseFile)), 0700); err != nil {
		return models.NewStageError(StagePreflight, nil, fmt.Errorf("failed to create workspace: %w", err))
	}
	// nothing in the workspace survives the run, whatever the outcome
	defer os.RemoveAll(work)

	host, _ := os.Hostname()
	manifest := &models.Manifest{
		Name:        name,
		CreatedAt:   run.StartedAt.UTC(),
		Host:        host,
		ToolVersion: o.Version,
		ServiceName: cfg.Service.Container,
	}

	if err := o.stage(StageDatabase, func() error {
		res, err := o.Dumper.DumpDatabase(ctx, cfg.Service.DatabasePath(), filepath.Join(work, models.BundleDatabaseFile))
		if err != nil {
			return err
		}
		manifest.DatabaseEmpty = res.Empty
		manifest.Components = append(manifest.Components, models.ComponentInfo{
			Name:   models.ComponentDatabase,
			File:   models.BundleDatabaseFile,
			Source: cfg.Service.DatabasePath(),
			Method: res.Method,
			Empty:  res.Empty,
		})
		return nil
	}); err != nil {
		return err
	}

	if err := o.stage(StageData, func() error {
		info, err := snapshot.PackData(ctx, cfg.Service.DataDir, cfg.Service.DatabaseFile, filepath.Join(work, models.BundleDataFile), cfg.Backup.DataExcludes)
		if err != nil {
			return err
		}
		manifest.Components = append(manifest.Components, info)
		return nil
	}); err != nil {
		return err
	}

	if cfg.Service.ConfigDir != "" {
		if err := o.stage(StageConfig, func() error {
			info, err := snapshot.PackConfig(ctx, cfg.Service.ConfigDir, filepath.Join(work, models.BundleConfigFile))
			if err != nil {
				return err
			}
			manifest.Components = append(manifest.Components, info)
			return nil
		}); err != nil {
			return err
		}
	}

	if err := o.stage(StageTLS, func() error {
		info, ok, err := snapshot.PackTLS(ctx, cfg.Service.TLSDir, filepath.Join(work, models.BundleTLSFile))
		if err != nil {
			return err
		}
		if ok {
			manifest.Components = append(manifest.Components, info)
		} else {
			o.Logger.Debug("no tls material, skipping", "dir", cfg.Service.TLSDir)
		}
		return nil
	}); err != nil {
		return err
	}

	if err := o.stage(StageSysinfo, func() error {
		info := snapshot.CollectSystemInfo(ctx, o.Inspector, cfg.Service.Container, cfg.Service.DatabasePath(), o.Version)
		path := filepath.Join(work, models.BundleSystemInfoFile)
		if err := os.WriteFile(path, info.Render(), 0600); err != nil {
			return err
		}
		manifest.Components = append(manifest.Components, models.ComponentInfo{
			Name: models.ComponentSystemInfo,
			File: models.BundleSystemInfoFile,
		})
		return nil
	}); err != nil {
		return err
	}

	if err := o.stage(StageBundle, func() error {
		arc, err := bundle.NewBuilder(work, cfg.Backup.Dir, o.Encryptor, o.Logger).Build(ctx, manifest)
		if err != nil {
			return err
		}
		run.Archive = arc
		return nil
	}); err != nil {
		return err
	}
	run.Outcome = models.OutcomeSuccess

	if o.Replicator.Enabled() {
		o.Progress(StageReplicate)
		uri, err := o.Replicator.Upload(ctx, run.Archive.Path)
		if err != nil {
			// the local archive is complete and restorable on its own
			o.Logger.Warn("replication failed", "err", err)
			run.Outcome = models.OutcomePartial
			run.ReplicationError = err.Error()
			if ctxErr := ctx.Err(); ctxErr != nil {
				run.ReplicationError = fmt.Sprintf("interrupted: %v", ctxErr)
				return nil
			}
		} else {
			run.Archive.RemoteURI = uri
		}
	}

	if cfg.Backup.RetentionDays > 0 {
		o.Progress(StageRetention)
		pruned, err := o.prune(ctx, run.Archive.Path)
		run.Pruned = pruned
		if err != nil {
			o.Logger.Warn("retention incomplete", "err", err)
		}
	}
	return nil
}

func (o *Orchestrator) stage(name string, fn func() error) error {
	o.Progress(name)
	start := o.now()
	if err := fn(); err != nil {
		var se *models.StageError
		if errors.As(err, &se) {
			return err
		}
		return models.NewStageError(name, nil, err)
	}
	o.Logger.Debug("stage complete", "stage", name, "took", o.now().Sub(start))
	return nil
}

// prune deletes archives older than retention_days, locally and remotely.
// The archive just written is never a candidate.
func (o *Orchestrator) prune(ctx context.Context, keep string) ([]string, error) {
	cutoff := o.now().Add(-time.Duration(o.Config.Backup.RetentionDays) * 24 * time.Hour)

	entries, err := bundle.Scan(o.Config.Backup.Dir)
	if err != nil {
		return nil, err
	}

	var pruned []string
	var errs []error
	for _, e := range entries {
		if e.Path == keep || !e.ModTime.Before(cutoff) {
			continue
		}
		if err := bundle.Remove(e.Path); err != nil {
			errs = append(errs, err)
			continue
		}
		pruned = append(pruned, e.Path)
	}

	if o.Replicator.Enabled() {
		remotePruned, err := o.Replicator.Prune(ctx, cutoff, func(key string) bool {
			return bundle.IsBundle(key) && key != filepath.Base(keep)
		})
		pruned = append(pruned, remotePruned...)
		if err != nil {
			errs = append(errs, err)
		}
	}

	if len(pruned) > 0 {
		o.Logger.Info("old archives pruned", "count", len(pruned), "older_than_days", o.Config.Backup.RetentionDays)
	}
	return pruned, errors.Join(errs...)
}

func (o *Orchestrator) record(run *models.BackupRun) {
	if o.Registry != nil {
		if err := o.Registry.Add(*run); err != nil {
			o.Logger.Warn("failed to record run", "err", err)
		}
	}

	var size int64
	if run.Archive != nil {
		size = run.Archive.SizeBytes
	}
	if err := o.Metrics.Record(metrics.Run{
		Operation: "backup",
		ExitCode:  run.Outcome.ExitCode(),
		Duration:  run.Duration,
		SizeBytes: size,
		Finished:  run.StartedAt.Add(run.Duration),
	}); err != nil {
		o.Logger.Warn("failed to write metrics", "err", err)
	}
}

func (o *Orchestrator) announce(ctx context.Context, run *models.BackupRun) {
	event := notify.Event{
		Source: "backup",
		Time:   o.now(),
		Fields: map[string]any{
			"run_id":   run.ID,
			"outcome":  string(run.Outcome),
			"duration": run.Duration.Round(time.Millisecond).String(),
		},
	}

	switch run.Outcome {
	case models.OutcomeSuccess:
		if !o.Config.Notify.OnSuccess {
			return
		}
		event.Level = notify.LevelInfo
		event.Title = "Backup completed"
		event.Message = fmt.Sprintf("%s (%s) in %s", run.Archive.Name, utils.FormatBytes(run.Archive.SizeBytes), utils.FormatDuration(run.Duration))
	case models.OutcomePartial:
		event.Level = notify.LevelWarning
		event.Title = "Backup completed without replication"
		event.Message = fmt.Sprintf("%s is valid locally but was not replicated: %s", run.Archive.Name, run.ReplicationError)
	default:
		event.Level = notify.LevelCritical
		event.Title = "Backup failed"
		event.Message = fmt.Sprintf("stage %s failed: %s", run.FailedStage, run.Error)
		event.Fields["stage"] = run.FailedStage
	}

	if run.Archive != nil {
		event.Fields["archive"] = run.Archive.Name
		event.Fields["path"] = run.Archive.Path
		event.Fields["size_bytes"] = run.Archive.SizeBytes
		event.Fields["components"] = run.Archive.ComponentNames()
		if run.Archive.RemoteURI != "" {
			event.Fields["remote_uri"] = run.Archive.RemoteURI
		}
	}

	if err := o.Notifier.Notify(ctx, event); err != nil {
		o.Logger.Warn("notification failed", "err", err)
	}
}
