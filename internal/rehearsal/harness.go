// Package rehearsal proves that the newest backup can actually be restored
// by loading it into a throwaway database and querying it.
package rehearsal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aelpxy/vaultkeep/internal/config"
	"github.com/aelpxy/vaultkeep/internal/crypt"
	"github.com/aelpxy/vaultkeep/internal/lock"
	"github.com/aelpxy/vaultkeep/internal/metrics"
	"github.com/aelpxy/vaultkeep/internal/notify"
	"github.com/aelpxy/vaultkeep/internal/sqlitedb"
	"github.com/aelpxy/vaultkeep/internal/validate"
	"github.com/aelpxy/vaultkeep/pkg/models"
	"github.com/charmbracelet/log"
	"github.com/lucsky/cuid"
)

// Query is one representative read the web vault performs at login.
type Query struct {
	Name string
	SQL  string
}

var DefaultQueries = []Query{
	{"users_by_email", `SELECT uuid, email FROM users ORDER BY email LIMIT 50`},
	{"ciphers_per_user", `SELECT user_uuid, COUNT(*) FROM ciphers GROUP BY user_uuid`},
	{"folders_with_owner", `SELECT f.uuid, u.email FROM folders f JOIN users u ON u.uuid = f.user_uuid LIMIT 50`},
	{"organizations", `SELECT uuid, name FROM organizations LIMIT 50`},
	{"schema_catalog", `SELECT name FROM sqlite_master WHERE type = 'table'`},
}

// Deps are the collaborators of a Harness. Encryptor and Metrics may be nil;
// a nil Validator is built from Config.
type Deps struct {
	Config    *config.Config
	Encryptor *crypt.Encryptor
	Validator *validate.Validator
	Notifier  notify.Notifier
	Locks     *lock.Manager
	Metrics   *metrics.Textfile
	Logger    *log.Logger
	Queries   []Query
	// ScratchRoot holds the staged backup and the throwaway database.
	ScratchRoot string
	Progress    func(step string)
}

type Harness struct {
	Deps
	now func() time.Time
}

func NewHarness(d Deps) *Harness {
	if d.Notifier == nil {
		d.Notifier = notify.Nop{}
	}
	if d.Progress == nil {
		d.Progress = func(string) {}
	}
	if d.Queries == nil {
		d.Queries = DefaultQueries
	}
	if d.Validator == nil {
		d.Validator = validate.New(d.Config.Validate.MinSizeBytes, d.Config.Rehearsal.EssentialTables, d.Encryptor, d.ScratchRoot, d.Logger)
	}
	return &Harness{Deps: d, now: time.Now}
}

// Run rehearses the newest backup. A FAILURE verdict is reported in the
// returned report, not as an error; err is set only when the run could not
// start or its report could not be persisted.
func (h *Harness) Run(ctx context.Context) (*models.DRTestReport, error) {
	lk, err := h.Locks.TryLock(lock.Rehearsal)
	if err != nil {
		return nil, err
	}
	defer lk.Release()

	started := h.now()
	report := &models.DRTestReport{
		TestDate: started.UTC(),
		TestID:   cuid.New(),
		DatabaseStats: models.DatabaseStats{
			EssentialTablesExpected: len(h.Config.Rehearsal.EssentialTables),
			RowCounts:               map[string]int64{},
		},
	}

	h.exercise(ctx, report)
	report.TestResult = verdict(report)
	h.Logger.Info("rehearsal finished", "result", report.TestResult, "backup", report.BackupInfo.Path,
		"warnings", len(report.Warnings), "errors", len(report.Errors))

	persistErr := h.persist(report)
	if persistErr != nil {
		h.Logger.Error("failed to persist rehearsal report", "err", persistErr)
	}

	if err := h.Metrics.Record(metrics.Run{
		Operation: "rehearsal",
		ExitCode:  report.TestResult.ExitCode(),
		Duration:  h.now().Sub(started),
		SizeBytes: report.BackupInfo.Size,
		Finished:  h.now(),
	}); err != nil {
		h.Logger.Warn("failed to write metrics", "err", err)
	}
	h.announce(context.WithoutCancel(ctx), report)
	return report, persistErr
}

func (h *Harness) validateBundle(ctx context.Context, path string, fail, warn func(string, ...any)) bool {
	vr := h.Validator.Validate(ctx, path, models.DepthDeep)
	for _, c := range vr.Failures() {
		fail("%s: %s", c.Name, c.Detail)
	}
	for _, c := range vr.Warnings() {
		warn("%s: %s", c.Name, c.Detail)
	}
	return vr.Verdict() == models.VerdictPass
}

func verdict(r *models.DRTestReport) models.DRResult {
	switch {
	case len(r.Errors) > 0:
		return models.DRFailure
	case len(r.Warnings) > 0:
		return models.DRWarning
	default:
		return models.DRSuccess
	}
}

func (h *Harness) exercise(ctx context.Context, report *models.DRTestReport) {
	cfg := h.Config.Rehearsal
	fail := func(format string, args ...any) {
		report.Errors = append(report.Errors, fmt.Sprintf(format, args...))
	}
	warn := func(format string, args ...any) {
		report.Warnings = append(report.Warnings, fmt.Sprintf(format, args...))
	}

	h.Progress("locate")
	cand, err := Locate(cfg.Locations)
	if err != nil {
		fail("%v", err)
		return
	}
	age := h.now().Sub(cand.ModTime).Hours()
	report.BackupInfo = models.BackupInfo{Path: cand.Path, Size: cand.Size, AgeHours: age, Format: cand.Format}
	if cfg.MaxBackupAgeHours > 0 && age > cfg.MaxBackupAgeHours {
		warn("newest backup is %.1f hours old (limit %.0f)", age, cfg.MaxBackupAgeHours)
	}

	// bundles carry sidecars and a manifest; a digest mismatch ends the run
	if cand.bundle() {
		h.Progress("validate")
		if !h.validateBundle(ctx, cand.Path, fail, warn) {
			return
		}
	}

	scratch, err := os.MkdirTemp(h.ScratchRoot, "vaultkeep-rehearsal-*")
	if err != nil {
		fail("failed to create scratch dir: %v", err)
		return
	}
	// staged plaintext and the throwaway database go with it
	defer os.RemoveAll(scratch)

	h.Progress("stage")
	src, err := stage(ctx, cand, h.Encryptor, scratch)
	if err != nil {
		fail("failed to stage backup: %v", err)
		return
	}

	h.Progress("restore")
	dbPath := filepath.Join(scratch, "rehearsal.sqlite3")
	start := h.now()
	if src.dump != "" {
		// the validator already scanned a bundled dump
		if !cand.bundle() && !h.checkDump(src.dump, report) {
			return
		}
		if err := loadDump(ctx, src.dump, dbPath); err != nil {
			fail("failed to restore dump: %v", err)
			return
		}
	} else {
		if !sqlitedb.IsDatabaseFile(src.sqlite) {
			fail("%s is not a sqlite database", filepath.Base(cand.Path))
			return
		}
		dbPath = src.sqlite
	}
	elapsed := h.now().Sub(start).Seconds()
	report.Performance.RestorationSeconds = elapsed
	if elapsed > cfg.MaxRestoreSeconds {
		warn("restoration took %.1fs (limit %.0fs)", elapsed, cfg.MaxRestoreSeconds)
	}

	db, err := sqlitedb.OpenReadOnly(dbPath)
	if err != nil {
		fail("failed to open restored database: %v", err)
		return
	}
	defer db.Close()

	h.Progress("integrity")
	integrity, err := sqlitedb.IntegrityCheck(ctx, db)
	report.DatabaseStats.Integrity = integrity
	switch {
	case err != nil:
		fail("integrity check failed: %v", err)
		return
	case integrity != "ok":
		fail("integrity check reported: %s", integrity)
	}

	h.Progress("tables")
	tables, err := sqlitedb.Tables(ctx, db)
	if err != nil {
		fail("failed to list tables: %v", err)
		return
	}
	h.checkTables(ctx, db, tables, report, fail, warn)

	h.Progress("queries")
	h.runQueries(ctx, db, report, warn)
}

func (h *Harness) checkDump(path string, report *models.DRTestReport) bool {
	stats, err := validate.ScanDumpFile(path)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("failed to scan dump: %v", err))
		return false
	}
	vr := models.NewValidationReport(path, models.DepthDeep)
	validate.CheckDump(vr, stats, h.Config.Rehearsal.EssentialTables, false)
	for _, c := range vr.Failures() {
		report.Errors = append(report.Errors, fmt.Sprintf("%s: %s", c.Name, c.Detail))
	}
	for _, c := range vr.Warnings() {
		report.Warnings = append(report.Warnings, fmt.Sprintf("%s: %s", c.Name, c.Detail))
	}
	return len(vr.Failures()) == 0
}

func loadDump(ctx context.Context, dumpPath, dbPath string) error {
	f, err := os.Open(dumpPath)
	if err != nil {
		return err
	}
	defer f.Close()
	return sqlitedb.Load(ctx, dbPath, f)
}

func (h *Harness) checkTables(ctx context.Context, db *sql.DB, tables []string, report *models.DRTestReport, fail, warn func(string, ...any)) {
	cfg := h.Config.Rehearsal
	stats := &report.DatabaseStats
	stats.TablesFound = len(tables)

	for _, want := range cfg.EssentialTables {
		name, ok := lookup(tables, want)
		if !ok {
			stats.MissingTables = append(stats.MissingTables, want)
			continue
		}
		stats.EssentialTablesFound++
		n, err := sqlitedb.CountRows(ctx, db, name)
		if err != nil {
			fail("failed to count %s: %v", want, err)
			continue
		}
		stats.RowCounts[want] = n
	}
	if len(stats.MissingTables) > 0 {
		fail("essential tables missing: %s", strings.Join(stats.MissingTables, ", "))
	}

	for _, key := range cfg.KeyTables {
		if n, ok := stats.RowCounts[key]; ok && n == 0 {
			warn("table %s has no rows", key)
		}
	}
}

func (h *Harness) runQueries(ctx context.Context, db *sql.DB, report *models.DRTestReport, warn func(string, ...any)) {
	report.Performance.QueriesTotal = len(h.Queries)
	for _, q := range h.Queries {
		if err := runQuery(ctx, db, q.SQL, h.Config.Rehearsal.QueryTimeout); err != nil {
			warn("query %s failed: %v", q.Name, err)
			continue
		}
		report.Performance.QueriesPassed++
	}
}

func runQuery(ctx context.Context, db *sql.DB, query string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
	}
	return rows.Err()
}

func lookup(tables []string, want string) (string, bool) {
	for _, t := range tables {
		if strings.EqualFold(t, want) {
			return t, true
		}
	}
	return "", false
}
