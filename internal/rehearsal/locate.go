package rehearsal

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aelpxy/vaultkeep/internal/bundle"
	"github.com/aelpxy/vaultkeep/internal/crypt"
	"github.com/aelpxy/vaultkeep/pkg/models"
)

// Longest suffix first so a bundle is never mistaken for a gzipped dump.
var formats = []string{
	".tar.gz.age", ".tar.gz",
	".sqlite3.gz.age", ".sqlite3.gz", ".sqlite3.age", ".sqlite3",
	".sql.gz.age", ".sql.gz", ".sql.age", ".sql",
}

// Candidate is a backup file the harness can rehearse.
type Candidate struct {
	Path    string
	Size    int64
	ModTime time.Time
	Format  string
}

func (c *Candidate) encrypted() bool  { return strings.HasSuffix(c.Format, crypt.Extension) }
func (c *Candidate) compressed() bool { return strings.Contains(c.Format, "gz") }
func (c *Candidate) bundle() bool     { return strings.HasPrefix(c.Format, "tar.gz") }
func (c *Candidate) sqlite() bool     { return strings.HasPrefix(c.Format, "sqlite3") }

func formatOf(name string) (string, bool) {
	for _, f := range formats {
		if strings.HasSuffix(name, f) && len(name) > len(f) {
			return strings.TrimPrefix(f, "."), true
		}
	}
	return "", false
}

// Locate returns the newest eligible backup by modification time across
// the given directories. Missing directories are skipped.
func Locate(locations []string) (*Candidate, error) {
	var newest *Candidate
	for _, dir := range locations {
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			format, ok := formatOf(e.Name())
			if !ok {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			if newest == nil || info.ModTime().After(newest.ModTime) {
				newest = &Candidate{
					Path:    filepath.Join(dir, e.Name()),
					Size:    info.Size(),
					ModTime: info.ModTime(),
					Format:  format,
				}
			}
		}
	}
	if newest == nil {
		return nil, models.Precondition("no backup found in %s", strings.Join(locations, ", "))
	}
	return newest, nil
}

// staged is the plaintext form of a candidate inside the scratch dir.
type staged struct {
	dump   string
	sqlite string
}

func stage(ctx context.Context, c *Candidate, enc *crypt.Encryptor, scratch string) (*staged, error) {
	if c.encrypted() && enc == nil {
		return nil, fmt.Errorf("%w: %w", models.ErrPrecondition, crypt.ErrNoPassphrase)
	}

	if c.bundle() {
		dir := filepath.Join(scratch, "bundle")
		if _, err := bundle.Extract(ctx, c.Path, enc, dir); err != nil {
			return nil, err
		}
		dump := filepath.Join(dir, filepath.FromSlash(models.BundleDatabaseFile))
		if _, err := os.Stat(dump); err != nil {
			return nil, models.Integrity("bundle carries no database dump")
		}
		return &staged{dump: dump}, nil
	}

	f, err := os.Open(c.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if c.encrypted() {
		if r, err = enc.Decrypt(r); err != nil {
			return nil, err
		}
	}
	if c.compressed() {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, models.Integrity("not a gzip stream: %v", err)
		}
		defer gz.Close()
		r = gz
	}

	out := &staged{}
	dest := filepath.Join(scratch, "backup.sql")
	if c.sqlite() {
		dest = filepath.Join(scratch, "source.sqlite3")
		out.sqlite = dest
	} else {
		out.dump = dest
	}

	w, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to stage %s: %w", filepath.Base(c.Path), err)
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return out, nil
}
