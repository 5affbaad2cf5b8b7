package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/aelpxy/vaultkeep/internal/checksum"
	"github.com/aelpxy/vaultkeep/pkg/models"
	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
)

var ErrReplicationExhausted = errors.New("replication retries exhausted")

// Replicator copies finished archives and their sidecars to a Store with a
// bounded number of fixed-interval retries per file. A nil Replicator, or
// one without a store, is a no-op.
type Replicator struct {
	store    Store
	attempts int
	interval time.Duration
	timeout  time.Duration
	logger   *log.Logger
}

func NewReplicator(store Store, attempts int, interval, timeout time.Duration, logger *log.Logger) *Replicator {
	if attempts < 1 {
		attempts = 1
	}
	return &Replicator{store: store, attempts: attempts, interval: interval, timeout: timeout, logger: logger}
}

func (r *Replicator) Enabled() bool {
	return r != nil && r.store != nil
}

// Upload sends the archive first and its sidecars after, returning the
// archive's remote URI.
func (r *Replicator) Upload(ctx context.Context, archivePath string) (string, error) {
	if !r.Enabled() {
		return "", nil
	}

	files := []string{archivePath}
	for _, sc := range checksum.SidecarPaths(archivePath) {
		if _, err := os.Stat(sc); err == nil {
			files = append(files, sc)
		}
	}

	for _, f := range files {
		if err := r.put(ctx, f); err != nil {
			return "", err
		}
	}
	uri := r.store.URI(filepath.Base(archivePath))
	r.logger.Info("archive replicated", "uri", uri, "files", len(files))
	return uri, nil
}

func (r *Replicator) put(ctx context.Context, path string) error {
	key := filepath.Base(path)
	attempt := 0

	op := func() error {
		attempt++
		f, err := os.Open(path)
		if err != nil {
			return backoff.Permanent(err)
		}
		defer f.Close()

		opCtx := ctx
		if r.timeout > 0 {
			var cancel context.CancelFunc
			opCtx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}
		if err := r.store.Put(opCtx, key, f); err != nil {
			r.logger.Warn("upload attempt failed", "file", key, "attempt", attempt, "err", err)
			return err
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.interval), uint64(r.attempts-1)),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %w: %s after %d attempts: %w", ErrReplicationExhausted, models.ErrTransient, key, attempt, err)
	}
	return nil
}

// Fetch downloads an archive and whatever sidecars exist into destDir.
func (r *Replicator) Fetch(ctx context.Context, key, destDir string) (string, error) {
	if !r.Enabled() {
		return "", models.Precondition("no remote target configured")
	}

	dst := filepath.Join(destDir, filepath.Base(key))
	if err := r.download(ctx, key, dst); err != nil {
		return "", err
	}
	for _, sc := range checksum.SidecarPaths(key) {
		if err := r.download(ctx, sc, filepath.Join(destDir, filepath.Base(sc))); err != nil {
			r.logger.Debug("sidecar not fetched", "key", sc, "err", err)
		}
	}
	return dst, nil
}

func (r *Replicator) download(ctx context.Context, key, dst string) error {
	body, err := r.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", key, err)
	}
	defer body.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, body); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("failed to download %s: %w", key, err)
	}
	return out.Close()
}

// Archives lists remote bundles, newest first.
func (r *Replicator) Archives(ctx context.Context, isArchive func(string) bool) ([]Object, error) {
	if !r.Enabled() {
		return nil, nil
	}
	objects, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list remote: %w", err)
	}

	var out []Object
	for _, o := range objects {
		if isArchive(o.Key) {
			out = append(out, o)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// Prune deletes remote archives modified before cutoff, with their sidecars.
func (r *Replicator) Prune(ctx context.Context, cutoff time.Time, isArchive func(string) bool) ([]string, error) {
	archives, err := r.Archives(ctx, isArchive)
	if err != nil {
		return nil, err
	}

	var pruned []string
	var errs []error
	for _, o := range archives {
		if !o.ModTime.Before(cutoff) {
			continue
		}
		for _, key := range append([]string{o.Key}, checksum.SidecarPaths(o.Key)...) {
			if err := r.store.Delete(ctx, key); err != nil {
				errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
			}
		}
		pruned = append(pruned, r.store.URI(o.Key))
	}
	return pruned, errors.Join(errs...)
}

func sortNewestFirst(objects []Object) {
	sort.Slice(objects, func(i, j int) bool {
		a, b := objects[i], objects[j]
		if a.ModTime.Equal(b.ModTime) {
			return a.Key > b.Key
		}
		return a.ModTime.After(b.ModTime)
	})
}
