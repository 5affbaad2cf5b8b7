package validate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aelpxy/vaultkeep/internal/archive"
	"github.com/aelpxy/vaultkeep/internal/bundle"
	"github.com/aelpxy/vaultkeep/internal/checksum"
	"github.com/aelpxy/vaultkeep/internal/crypt"
	"github.com/aelpxy/vaultkeep/internal/sqlitedb"
	"github.com/aelpxy/vaultkeep/internal/utils"
	"github.com/aelpxy/vaultkeep/pkg/models"
	"github.com/charmbracelet/log"
)

// check names as they appear in reports
const (
	CheckExists     = "exists"
	CheckSize       = "size"
	CheckFormat     = "format"
	CheckSHA256     = "sha256"
	CheckXXH64      = "xxh64"
	CheckDecrypt    = "decrypt"
	CheckListing    = "listing"
	CheckManifest   = "manifest"
	CheckExtract    = "extract"
	CheckDumpSchema = "dump_schema"
	CheckDumpRows   = "dump_rows"
	CheckCatalog    = "catalog"
)

func componentCheck(name models.ComponentName) string {
	return "component:" + string(name)
}

type Validator struct {
	minSize    int64
	coreTables []string
	encryptor  *crypt.Encryptor
	scratch    string
	logger     *log.Logger
}

// New builds a validator. enc may be nil; encrypted archives then fail
// with a precondition error. scratchRoot "" means the system temp dir.
func New(minSize int64, coreTables []string, enc *crypt.Encryptor, scratchRoot string, logger *log.Logger) *Validator {
	return &Validator{minSize: minSize, coreTables: coreTables, encryptor: enc, scratch: scratchRoot, logger: logger}
}

// Validate never returns an error: every problem becomes a check result.
func (v *Validator) Validate(ctx context.Context, path string, depth models.Depth) *models.ValidationReport {
	report := models.NewValidationReport(path, depth)

	contents, ok := v.shallow(path, report)
	if !ok || depth != models.DepthDeep {
		return report
	}
	v.deep(ctx, path, contents, report)
	return report
}

func (v *Validator) shallow(path string, report *models.ValidationReport) (*bundle.Contents, bool) {
	info, err := os.Stat(path)
	if err != nil {
		report.Fail(CheckExists, err.Error())
		report.Missing = append(report.Missing, filepath.Base(path))
		return nil, false
	}
	if !info.Mode().IsRegular() {
		report.Fail(CheckExists, "not a regular file")
		return nil, false
	}
	report.Pass(CheckExists, "")

	if info.Size() < v.minSize {
		report.Fail(CheckSize, fmt.Sprintf("%s is below the %s minimum", utils.FormatBytes(info.Size()), utils.FormatBytes(v.minSize)))
	} else {
		report.Pass(CheckSize, utils.FormatBytes(info.Size()))
	}

	v.checkSums(path, report)

	format, err := sniff(path)
	if err != nil {
		report.Fail(CheckFormat, err.Error())
		return nil, false
	}
	report.Pass(CheckFormat, format)

	contents, err := bundle.Inspect(path, v.encryptor)
	if format == "age" {
		switch {
		case errors.Is(err, crypt.ErrNoPassphrase):
			report.Fail(CheckDecrypt, "archive is encrypted and no passphrase is available")
			return nil, false
		case err != nil:
			report.Fail(CheckDecrypt, err.Error())
			report.Corrupt = append(report.Corrupt, filepath.Base(path))
			return nil, false
		}
		report.Pass(CheckDecrypt, "")
	}
	if err != nil {
		report.Fail(CheckListing, err.Error())
		report.Corrupt = append(report.Corrupt, filepath.Base(path))
		return nil, false
	}
	report.Pass(CheckListing, fmt.Sprintf("%d entries", len(contents.Entries)))

	if contents.Manifest == nil {
		report.Fail(CheckManifest, models.BundleManifestFile+" not found in archive")
		report.Missing = append(report.Missing, models.BundleManifestFile)
		return contents, false
	}
	if _, ok := contents.Manifest.Component(models.ComponentDatabase); !ok {
		report.Fail(CheckManifest, "manifest declares no database component")
	} else {
		report.Pass(CheckManifest, fmt.Sprintf("%d components", len(contents.Manifest.Components)))
	}
	report.Manifest = contents.Manifest

	complete := true
	for _, c := range contents.Manifest.Components {
		if contents.Has(c.File) {
			report.Pass(componentCheck(c.Name), c.File)
			continue
		}
		complete = false
		report.Fail(componentCheck(c.Name), c.File+" declared in manifest but missing from archive")
		report.Missing = append(report.Missing, c.File)
	}
	return contents, complete
}

// checkSums compares the archive against its sidecars. A missing sidecar
// is a warning, a mismatch is always a failure.
func (v *Validator) checkSums(path string, report *models.ValidationReport) {
	sums, err := checksum.Compute(path)
	if err != nil {
		report.Fail(CheckSHA256, err.Error())
		return
	}

	for _, sc := range []struct {
		name, ext, actual string
	}{
		{CheckSHA256, checksum.SHA256Ext, sums.Strong},
		{CheckXXH64, checksum.XXH64Ext, sums.Fast},
	} {
		want, err := checksum.ReadSidecar(path + sc.ext)
		switch {
		case errors.Is(err, checksum.ErrSidecarMissing):
			report.Warn(sc.name, "no "+sc.ext+" sidecar")
		case err != nil:
			report.Fail(sc.name, err.Error())
		case want != sc.actual:
			report.Fail(sc.name, fmt.Sprintf("mismatch: sidecar %s, archive %s", want, sc.actual))
			report.Corrupt = append(report.Corrupt, filepath.Base(path))
		default:
			report.Pass(sc.name, sc.actual)
		}
	}
}

func (v *Validator) deep(ctx context.Context, path string, contents *bundle.Contents, report *models.ValidationReport) {
	scratch, err := os.MkdirTemp(v.scratch, "vaultkeep-validate-*")
	if err != nil {
		report.Fail(CheckExtract, fmt.Sprintf("failed to create scratch dir: %v", err))
		return
	}
	defer os.RemoveAll(scratch)

	extractDir := filepath.Join(scratch, "bundle")
	if _, err := bundle.Extract(ctx, path, v.encryptor, extractDir); err != nil {
		report.Fail(CheckExtract, err.Error())
		return
	}
	report.Pass(CheckExtract, "")

	m := contents.Manifest
	for _, c := range m.Components {
		file := filepath.Join(extractDir, filepath.FromSlash(c.File))
		if c.SHA256 != "" {
			sum, err := checksum.SHA256File(file)
			if err != nil || sum != c.SHA256 {
				report.Fail(componentCheck(c.Name), "content does not match manifest digest")
				report.Corrupt = append(report.Corrupt, c.File)
				continue
			}
		}
		if strings.HasSuffix(c.File, ".tar.gz") {
			names, err := archive.ListFile(file)
			if err != nil {
				report.Fail(componentCheck(c.Name), fmt.Sprintf("embedded archive unreadable: %v", err))
				report.Corrupt = append(report.Corrupt, c.File)
				continue
			}
			report.Pass(componentCheck(c.Name), fmt.Sprintf("opened, %d entries", len(names)))
		}
	}

	dump := filepath.Join(extractDir, filepath.FromSlash(models.BundleDatabaseFile))
	stats, err := ScanDumpFile(dump)
	if err != nil {
		report.Fail(CheckDumpSchema, err.Error())
		return
	}
	CheckDump(report, stats, v.coreTables, m.DatabaseEmpty)

	if m.DatabaseEmpty {
		report.Skip(CheckCatalog, "database was absent at backup time")
		return
	}
	v.checkCatalog(ctx, dump, filepath.Join(scratch, "catalog.sqlite3"), stats, report)
}

// checkCatalog replays the dump into a scratch database and asks the
// engine, rather than the text, which tables exist.
func (v *Validator) checkCatalog(ctx context.Context, dump, dbPath string, stats *DumpStats, report *models.ValidationReport) {
	defer sqlitedb.RemoveWithSideFiles(dbPath)

	f, err := os.Open(dump)
	if err != nil {
		report.Fail(CheckCatalog, err.Error())
		return
	}
	err = sqlitedb.Load(ctx, dbPath, f)
	f.Close()
	if err != nil {
		report.Fail(CheckCatalog, fmt.Sprintf("dump does not load: %v", err))
		report.Corrupt = append(report.Corrupt, models.BundleDatabaseFile)
		return
	}

	db, err := sqlitedb.OpenReadOnly(dbPath)
	if err != nil {
		report.Fail(CheckCatalog, err.Error())
		return
	}
	defer db.Close()

	integrity, err := sqlitedb.IntegrityCheck(ctx, db)
	if err != nil || integrity != "ok" {
		report.Fail(CheckCatalog, fmt.Sprintf("integrity check: %s %v", integrity, err))
		return
	}

	tables, err := sqlitedb.Tables(ctx, db)
	if err != nil {
		report.Fail(CheckCatalog, err.Error())
		return
	}
	var absent []string
	for _, t := range stats.Tables {
		if !containsFold(tables, t) {
			absent = append(absent, t)
		}
	}
	if len(absent) > 0 {
		report.Fail(CheckCatalog, "tables in dump text but not in catalog: "+strings.Join(absent, ", "))
		return
	}
	report.Pass(CheckCatalog, fmt.Sprintf("integrity ok, %d tables", len(tables)))
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

var gzipMagic = []byte{0x1f, 0x8b}

func sniff(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	head := make([]byte, crypt.HeaderLen)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", fmt.Errorf("unreadable: %w", err)
	}
	head = head[:n]
	switch {
	case crypt.HasHeader(head):
		return "age", nil
	case bytes.HasPrefix(head, gzipMagic):
		return "gzip", nil
	default:
		return "", fmt.Errorf("not a gzip or age file")
	}
}
