package bundle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aelpxy/vaultkeep/internal/archive"
	"github.com/aelpxy/vaultkeep/internal/checksum"
	"github.com/aelpxy/vaultkeep/internal/crypt"
	"github.com/aelpxy/vaultkeep/internal/utils"
	"github.com/aelpxy/vaultkeep/pkg/models"
	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"
)

const (
	Extension          = ".tar.gz"
	ManifestSidecarExt = ".manifest.txt"
)

// Builder assembles component files from a workspace into one bundle and
// promotes it, with its sidecars, into the output directory.
type Builder struct {
	workDir   string
	outDir    string
	encryptor *crypt.Encryptor
	logger    *log.Logger
}

// NewBuilder returns a builder; enc may be nil for plaintext bundles.
func NewBuilder(workDir, outDir string, enc *crypt.Encryptor, logger *log.Logger) *Builder {
	return &Builder{workDir: workDir, outDir: outDir, encryptor: enc, logger: logger}
}

// Build packs every component of m (paths relative to the workspace),
// embeds MANIFEST.json, optionally encrypts, checksums the closed file and
// moves the result into place. The archive is renamed last so its presence
// in outDir means the whole set is complete.
func (b *Builder) Build(ctx context.Context, m *models.Manifest) (*models.BackupArchive, error) {
	plain := filepath.Join(b.workDir, m.Name+Extension)
	finalName := m.Name + Extension
	if b.encryptor != nil {
		finalName += crypt.Extension
	}
	finalPath := filepath.Join(b.outDir, finalName)

	m.FormatVersion = models.ManifestFormatVersion
	m.ValidateCommands = ValidateCommands(finalPath)
	m.RestoreCommands = RestoreCommands(finalPath, b.encryptor != nil)

	if err := b.pack(ctx, plain, m); err != nil {
		os.Remove(plain)
		return nil, err
	}

	staged := plain
	if b.encryptor != nil {
		staged = plain + crypt.Extension
		if err := b.encryptor.EncryptFile(plain, staged); err != nil {
			return nil, fmt.Errorf("failed to encrypt bundle: %w", err)
		}
		// plaintext never leaves the workspace
		os.Remove(plain)
	}

	// staged is closed and fsynced at this point
	sums, err := checksum.Compute(staged)
	if err != nil {
		return nil, err
	}
	if _, err := checksum.WriteSidecars(staged, sums); err != nil {
		return nil, err
	}
	if err := utils.AtomicWriteFile(staged+ManifestSidecarExt, RenderText(m, finalName, sums), 0644); err != nil {
		return nil, fmt.Errorf("failed to write manifest sidecar: %w", err)
	}

	info, err := os.Stat(staged)
	if err != nil {
		return nil, err
	}

	if err := b.promote(staged, finalPath); err != nil {
		return nil, err
	}
	b.logger.Info("bundle written", "path", finalPath, "size", info.Size(), "encrypted", b.encryptor != nil)

	return &models.BackupArchive{
		Name:       m.Name,
		CreatedAt:  m.CreatedAt,
		Path:       finalPath,
		SizeBytes:  info.Size(),
		Encrypted:  b.encryptor != nil,
		Components: m.Components,
		Checksums:  sums,
	}, nil
}

func (b *Builder) pack(ctx context.Context, dest string, m *models.Manifest) error {
	w, err := archive.Create(dest)
	if err != nil {
		return err
	}

	for i := range m.Components {
		if err := ctx.Err(); err != nil {
			w.Close()
			return err
		}
		c := &m.Components[i]
		sum, n, err := w.AddFile(filepath.Join(b.workDir, filepath.FromSlash(c.File)), c.File)
		if err != nil {
			w.Close()
			return fmt.Errorf("failed to add %s: %w", c.Name, err)
		}
		c.SHA256 = sum
		c.SizeBytes = n
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		w.Close()
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := w.AddBytes(models.BundleManifestFile, data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (b *Builder) promote(staged, finalPath string) error {
	if err := os.MkdirAll(b.outDir, 0700); err != nil {
		return fmt.Errorf("failed to create backup dir: %w", err)
	}

	var moved []string
	for _, sc := range checksum.SidecarPaths(staged) {
		dst := finalPath + strings.TrimPrefix(sc, staged)
		if err := os.Rename(sc, dst); err != nil {
			removeAll(moved)
			return fmt.Errorf("failed to move %s: %w", filepath.Base(sc), err)
		}
		moved = append(moved, dst)
	}
	if err := os.Rename(staged, finalPath); err != nil {
		removeAll(moved)
		return fmt.Errorf("failed to move bundle into place: %w", err)
	}
	return nil
}

func removeAll(paths []string) {
	for _, p := range paths {
		os.Remove(p)
	}
}

// IsBundle reports whether name looks like a bundle produced by Build.
func IsBundle(name string) bool {
	return strings.HasSuffix(name, Extension) || strings.HasSuffix(name, Extension+crypt.Extension)
}

// BaseName strips the bundle extensions.
func BaseName(path string) string {
	name := filepath.Base(path)
	name = strings.TrimSuffix(name, crypt.Extension)
	return strings.TrimSuffix(name, Extension)
}
