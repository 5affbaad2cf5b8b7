package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/aelpxy/vaultkeep/internal/config"
	"github.com/aelpxy/vaultkeep/internal/crypt"
	"github.com/aelpxy/vaultkeep/internal/docker"
	"github.com/aelpxy/vaultkeep/internal/lock"
	"github.com/aelpxy/vaultkeep/internal/logging"
	"github.com/aelpxy/vaultkeep/internal/metrics"
	"github.com/aelpxy/vaultkeep/internal/notify"
	"github.com/aelpxy/vaultkeep/internal/remote"
	"github.com/aelpxy/vaultkeep/internal/secrets"
	"github.com/aelpxy/vaultkeep/internal/validate"
	"github.com/charmbracelet/log"
)

// env holds everything a verb needs, built once from the loaded config.
type env struct {
	loader   *config.Loader
	cfg      *config.Config
	logger   *log.Logger
	secrets  secrets.Source
	enc      *crypt.Encryptor
	locks    *lock.Manager
	notifier notify.Notifier
	metrics  *metrics.Textfile
	docker   *docker.Client
}

func setup(ctx context.Context) (*env, error) {
	loader := config.NewLoader()
	cfg, err := loader.Load(configPath)
	if err != nil {
		return nil, err
	}

	e := &env{
		loader:  loader,
		cfg:     cfg,
		logger:  logging.New(cfg.Log, verbose),
		metrics: metrics.NewTextfile(cfg.Metrics.TextfileDir),
	}

	if e.secrets, err = secrets.New(cfg.Secrets); err != nil {
		return nil, err
	}
	if e.locks, err = lock.NewManager(cfg.LockDir()); err != nil {
		return nil, err
	}

	passphrase, err := secrets.Optional(ctx, e.secrets, secrets.KeyPassphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to read passphrase: %w", err)
	}
	if passphrase != "" {
		if e.enc, err = crypt.NewEncryptor(passphrase, cfg.Backup.AgeWorkFactor); err != nil {
			return nil, err
		}
	}

	notifiers := notify.Multi{notify.NewLogNotifier(e.logger)}
	if cfg.Notify.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Notify.Recipient, cfg.Notify.Timeout))
	}
	e.notifier = notifiers

	// a missing engine only removes the container-based fallbacks
	if dc, err := docker.NewClient(ctx); err == nil {
		e.docker = dc
	} else {
		e.logger.Debug("container engine unavailable", "err", err)
	}
	return e, nil
}

func (e *env) close() {
	if e.docker != nil {
		e.docker.Close()
	}
}

func (e *env) replicator(ctx context.Context) (*remote.Replicator, error) {
	store, err := remote.NewStore(ctx, e.cfg.Remote, e.secrets)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, nil
	}
	r := e.cfg.Remote
	return remote.NewReplicator(store, r.Retries, r.Backoff, r.Timeout, e.logger), nil
}

func (e *env) validator() *validate.Validator {
	return validate.New(e.cfg.Validate.MinSizeBytes, e.cfg.Rehearsal.EssentialTables, e.enc, "", e.logger)
}

func mustSetup(ctx context.Context) *env {
	e, err := setup(ctx)
	if err != nil {
		if errors.Is(err, config.ErrConfigNotFound) {
			fatal("no configuration", err)
		}
		fatal("failed to initialize", err)
	}
	return e
}
