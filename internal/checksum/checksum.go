package checksum

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aelpxy/vaultkeep/internal/utils"
	"github.com/aelpxy/vaultkeep/pkg/models"
	"github.com/cespare/xxhash/v2"
)

const (
	SHA256Ext = ".sha256"
	XXH64Ext  = ".xxh64"
)

var ErrSidecarMissing = errors.New("sidecar not found")

// Compute reads path once and returns both digests.
func Compute(path string) (models.ChecksumPair, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.ChecksumPair{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return ComputeReader(f)
}

func ComputeReader(r io.Reader) (models.ChecksumPair, error) {
	strong := sha256.New()
	fast := xxhash.New()
	if _, err := io.Copy(io.MultiWriter(strong, fast), r); err != nil {
		return models.ChecksumPair{}, fmt.Errorf("failed to hash: %w", err)
	}
	return models.ChecksumPair{
		Fast:   fmt.Sprintf("%016x", fast.Sum64()),
		Strong: hex.EncodeToString(strong.Sum(nil)),
	}, nil
}

func SHA256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// WriteSidecars writes <file>.sha256 and <file>.xxh64 next to path.
func WriteSidecars(path string, sums models.ChecksumPair) ([]string, error) {
	name := filepath.Base(path)
	written := make([]string, 0, 2)
	for ext, digest := range map[string]string{SHA256Ext: sums.Strong, XXH64Ext: sums.Fast} {
		sidecar := path + ext
		line := fmt.Sprintf("%s  %s\n", digest, name)
		if err := utils.AtomicWriteFile(sidecar, []byte(line), 0644); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", filepath.Base(sidecar), err)
		}
		written = append(written, sidecar)
	}
	return written, nil
}

// ReadSidecar returns the digest recorded in a `<hex>  <filename>` file.
func ReadSidecar(sidecar string) (string, error) {
	f, err := os.Open(sidecar)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrSidecarMissing
		}
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		return strings.ToLower(fields[0]), nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("empty sidecar %s", filepath.Base(sidecar))
}

// SidecarPaths lists every sidecar that belongs to an archive.
func SidecarPaths(archivePath string) []string {
	return []string{
		archivePath + SHA256Ext,
		archivePath + XXH64Ext,
		archivePath + ".manifest.txt",
	}
}
