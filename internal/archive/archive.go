package archive

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aelpxy/vaultkeep/internal/utils"
)

var ErrUnsafePath = errors.New("archive entry escapes destination")

// Writer produces a gzip-compressed tar file. Close flushes every layer in
// reverse order and fsyncs the file before returning.
type Writer struct {
	file *os.File
	gz   *gzip.Writer
	tw   *tar.Writer
}

func Create(filePath string) (*Writer, error) {
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive %s: %w", filePath, err)
	}
	gz := gzip.NewWriter(f)
	return &Writer{file: f, gz: gz, tw: tar.NewWriter(gz)}, nil
}

func (w *Writer) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	keep(w.tw.Close())
	keep(w.gz.Close())
	keep(w.file.Sync())
	keep(w.file.Close())
	return firstErr
}

// AddFile copies srcPath into the archive under name and returns its sha256.
func (w *Writer) AddFile(srcPath, name string) (string, int64, error) {
	file, err := os.Open(srcPath)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open %s: %w", srcPath, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", 0, fmt.Errorf("failed to stat %s: %w", srcPath, err)
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create tar header for %s: %w", srcPath, err)
	}
	header.Name = name

	if err := w.tw.WriteHeader(header); err != nil {
		return "", 0, fmt.Errorf("failed to write tar header for %s: %w", name, err)
	}

	hasher := sha256.New()
	n, err := io.Copy(io.MultiWriter(w.tw, hasher), file)
	if err != nil {
		return "", 0, fmt.Errorf("failed to copy %s to archive: %w", srcPath, err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), n, nil
}

func (w *Writer) AddBytes(name string, data []byte) error {
	header := &tar.Header{
		Name:    name,
		Size:    int64(len(data)),
		Mode:    0o640,
		ModTime: time.Now(),
	}
	if err := w.tw.WriteHeader(header); err != nil {
		return fmt.Errorf("failed to write tar header for %s: %w", name, err)
	}
	if _, err := w.tw.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// AddDir walks srcDir and adds everything not matched by excludes. Patterns
// are matched against both the slash-separated relative path and the base name.
func (w *Writer) AddDir(ctx context.Context, srcDir string, excludes []string) (int, error) {
	entries := 0
	err := filepath.WalkDir(srcDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if Excluded(rel, excludes) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		var link string
		if info.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(p); err != nil {
				return err
			}
		}

		header, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return fmt.Errorf("failed to create tar header for %s: %w", rel, err)
		}
		header.Name = rel
		if d.IsDir() {
			header.Name += "/"
		}

		if err := w.tw.WriteHeader(header); err != nil {
			return fmt.Errorf("failed to write tar header for %s: %w", rel, err)
		}
		entries++

		if !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := io.Copy(w.tw, f); err != nil {
			return fmt.Errorf("failed to copy %s to archive: %w", rel, err)
		}
		return nil
	})
	return entries, err
}

func Excluded(rel string, excludes []string) bool {
	base := path.Base(rel)
	for _, pattern := range excludes {
		if ok, _ := path.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := path.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

// PackDir writes srcDir as a standalone tar.gz at destPath.
func PackDir(ctx context.Context, srcDir, destPath string, excludes []string) (int, error) {
	w, err := Create(destPath)
	if err != nil {
		return 0, err
	}
	n, err := w.AddDir(ctx, srcDir, excludes)
	if closeErr := w.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(destPath)
		return 0, err
	}
	return n, nil
}

// Walk calls fn for every entry of a tar.gz stream, in order.
func Walk(r io.Reader, fn func(hdr *tar.Header, body io.Reader) error) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read tar entry: %w", err)
		}
		if err := fn(hdr, tr); err != nil {
			return err
		}
	}
}

// List returns the entry names of a tar.gz stream.
func List(r io.Reader) ([]string, error) {
	var names []string
	err := Walk(r, func(hdr *tar.Header, _ io.Reader) error {
		names = append(names, strings.TrimPrefix(hdr.Name, "./"))
		return nil
	})
	return names, err
}

func ListFile(filePath string) ([]string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return List(f)
}

// Extract unpacks a tar.gz stream into destDir. Entries that would land
// outside destDir abort the extraction with ErrUnsafePath.
func Extract(ctx context.Context, r io.Reader, destDir string) ([]string, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer gz.Close()

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, err
	}

	tr := tar.NewReader(gz)
	var extracted []string
	for {
		if err := ctx.Err(); err != nil {
			return extracted, err
		}

		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return extracted, fmt.Errorf("failed to read tar entry: %w", err)
		}

		target := filepath.Join(destDir, filepath.FromSlash(hdr.Name))
		if !utils.WithinDir(destDir, target) {
			return extracted, fmt.Errorf("%w: %s", ErrUnsafePath, hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode).Perm()|0700); err != nil {
				return extracted, err
			}
		case tar.TypeReg:
			if err := writeEntry(tr, target, os.FileMode(hdr.Mode).Perm()); err != nil {
				return extracted, err
			}
			extracted = append(extracted, hdr.Name)
		case tar.TypeSymlink:
			resolved := hdr.Linkname
			if !filepath.IsAbs(resolved) {
				resolved = filepath.Join(filepath.Dir(target), resolved)
			}
			if !utils.WithinDir(destDir, resolved) {
				return extracted, fmt.Errorf("%w: %s -> %s", ErrUnsafePath, hdr.Name, hdr.Linkname)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return extracted, err
			}
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return extracted, err
			}
		default:
			// devices, fifos and hard links have no place in a backup
		}
	}
	return extracted, nil
}

func ExtractFile(ctx context.Context, archivePath, destDir string) ([]string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Extract(ctx, f, destDir)
}

func writeEntry(r io.Reader, target string, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	if perm == 0 {
		perm = 0644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("failed to write %s: %w", target, err)
	}
	return out.Close()
}
