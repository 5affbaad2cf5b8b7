package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aelpxy/vaultkeep/internal/archive"
	"github.com/aelpxy/vaultkeep/pkg/models"
)

// PackData archives the data directory without the live database files,
// which travel separately as a logical dump.
func PackData(ctx context.Context, dataDir, dbFile, dest string, excludes []string) (models.ComponentInfo, error) {
	info := models.ComponentInfo{Name: models.ComponentData, File: models.BundleDataFile, Source: dataDir}

	if _, err := os.Stat(dataDir); err != nil {
		if os.IsNotExist(err) {
			return info, models.Precondition("data directory %s does not exist", dataDir)
		}
		return info, err
	}

	patterns := append(append([]string{}, excludes...), filepath.Base(dbFile)+"*")
	n, err := archive.PackDir(ctx, dataDir, dest, patterns)
	if err != nil {
		return info, fmt.Errorf("failed to archive data directory: %w", err)
	}
	return fill(info, dest, n)
}

// PackConfig archives the top-level files of the deployment's config
// directory. Subdirectories hold data and certificates, packed separately.
func PackConfig(ctx context.Context, configDir, dest string) (models.ComponentInfo, error) {
	info := models.ComponentInfo{Name: models.ComponentConfig, File: models.BundleConfigFile, Source: configDir}

	entries, err := os.ReadDir(configDir)
	if err != nil {
		if os.IsNotExist(err) {
			return info, models.Precondition("config directory %s does not exist", configDir)
		}
		return info, err
	}

	w, err := archive.Create(dest)
	if err != nil {
		return info, err
	}

	n := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			w.Close()
			os.Remove(dest)
			return info, err
		}
		if !e.Type().IsRegular() {
			continue
		}
		if _, _, err := w.AddFile(filepath.Join(configDir, e.Name()), e.Name()); err != nil {
			w.Close()
			os.Remove(dest)
			return info, err
		}
		n++
	}
	if err := w.Close(); err != nil {
		os.Remove(dest)
		return info, err
	}
	return fill(info, dest, n)
}

// PackTLS archives certificate material. ok is false when there is none.
func PackTLS(ctx context.Context, tlsDir, dest string) (info models.ComponentInfo, ok bool, err error) {
	info = models.ComponentInfo{Name: models.ComponentTLS, File: models.BundleTLSFile, Source: tlsDir, Optional: true}
	if tlsDir == "" {
		return info, false, nil
	}
	st, err := os.Stat(tlsDir)
	if os.IsNotExist(err) || (err == nil && !st.IsDir()) {
		return info, false, nil
	}
	if err != nil {
		return info, false, err
	}

	n, err := archive.PackDir(ctx, tlsDir, dest, nil)
	if err != nil {
		return info, false, fmt.Errorf("failed to archive tls directory: %w", err)
	}
	info, err = fill(info, dest, n)
	return info, err == nil, err
}

func fill(info models.ComponentInfo, path string, entries int) (models.ComponentInfo, error) {
	st, err := os.Stat(path)
	if err != nil {
		return info, err
	}
	info.SizeBytes = st.Size()
	info.Entries = entries
	info.Empty = entries == 0
	return info, nil
}
