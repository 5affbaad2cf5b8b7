package rehearsal

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aelpxy/vaultkeep/internal/notify"
	"github.com/aelpxy/vaultkeep/internal/utils"
	"github.com/aelpxy/vaultkeep/pkg/models"
	"github.com/goccy/go-json"
)

const HistoryFile = "history.jsonl"

// ReportPath is where a report taken at the given moment is written.
func ReportPath(dir string, r *models.DRTestReport) string {
	return filepath.Join(dir, fmt.Sprintf("dr-test-%s.json", r.TestDate.UTC().Format("20060102-150405")))
}

func (h *Harness) persist(r *models.DRTestReport) error {
	dir := h.Config.Rehearsal.ReportDir
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	if err := utils.AtomicWriteFile(ReportPath(dir, r), data, 0600); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	line, err := json.Marshal(r)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(dir, HistoryFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return f.Sync()
}

// History reads every report recorded so far, oldest first. Lines that do
// not decode are skipped.
func History(dir string) ([]models.DRTestReport, error) {
	data, err := os.ReadFile(filepath.Join(dir, HistoryFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []models.DRTestReport
	for _, line := range bytes.Split(data, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var r models.DRTestReport
		if err := json.Unmarshal(line, &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (h *Harness) announce(ctx context.Context, r *models.DRTestReport) {
	event := notify.Event{
		Source: "rehearsal",
		Time:   h.now(),
		Title:  fmt.Sprintf("DR rehearsal %s", r.TestResult),
		Fields: map[string]any{
			"test_id":        r.TestID,
			"result":         string(r.TestResult),
			"backup":         r.BackupInfo.Path,
			"age_hours":      fmt.Sprintf("%.1f", r.BackupInfo.AgeHours),
			"tables_ok":      r.DatabaseStats.EssentialTablesFound,
			"restore_secs":   fmt.Sprintf("%.2f", r.Performance.RestorationSeconds),
			"queries_passed": fmt.Sprintf("%d/%d", r.Performance.QueriesPassed, r.Performance.QueriesTotal),
		},
	}
	for table, n := range r.DatabaseStats.RowCounts {
		event.Fields[table+"_count"] = n
	}

	switch r.TestResult {
	case models.DRSuccess:
		if !h.Config.Notify.OnSuccess {
			return
		}
		event.Level = notify.LevelInfo
		event.Message = fmt.Sprintf("%s restored and queried successfully", filepath.Base(r.BackupInfo.Path))
	case models.DRWarning:
		event.Level = notify.LevelWarning
		event.Message = joinFirst(r.Warnings)
	default:
		event.Level = notify.LevelCritical
		event.Message = joinFirst(r.Errors)
	}

	if err := h.Notifier.Notify(ctx, event); err != nil {
		h.Logger.Warn("notification failed", "err", err)
	}
}

func joinFirst(msgs []string) string {
	switch len(msgs) {
	case 0:
		return ""
	case 1:
		return msgs[0]
	default:
		return fmt.Sprintf("%s (and %d more)", msgs[0], len(msgs)-1)
	}
}
