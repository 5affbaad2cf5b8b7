package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/aelpxy/vaultkeep/internal/utils"
	"github.com/aelpxy/vaultkeep/pkg/models"
	"github.com/goccy/go-json"
)

const maxHistory = 100

// RunRegistry keeps the most recent backup runs so `list` can show what
// happened even when a run produced no archive.
type RunRegistry struct {
	Runs []models.BackupRun `json:"runs"`
	path string
}

func NewRunRegistry(stateDir string) (*RunRegistry, error) {
	r := &RunRegistry{Runs: []models.BackupRun{}, path: filepath.Join(stateDir, "runs.json")}

	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("failed to read run registry: %w", err)
	}
	if err := json.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("failed to parse run registry: %w", err)
	}
	return r, nil
}

func (r *RunRegistry) Save() error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run registry: %w", err)
	}
	if err := utils.AtomicWriteFile(r.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write run registry: %w", err)
	}
	return nil
}

func (r *RunRegistry) Add(run models.BackupRun) error {
	r.Runs = append(r.Runs, run)
	if len(r.Runs) > maxHistory {
		r.Runs = r.Runs[len(r.Runs)-maxHistory:]
	}
	return r.Save()
}

// List returns runs newest first.
func (r *RunRegistry) List() []models.BackupRun {
	runs := make([]models.BackupRun, len(r.Runs))
	copy(runs, r.Runs)
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs
}

// LastSuccess returns the newest run that produced an archive.
func (r *RunRegistry) LastSuccess() (*models.BackupRun, bool) {
	for _, run := range r.List() {
		if run.Archive != nil && run.Outcome != models.OutcomeFailed {
			return &run, true
		}
	}
	return nil, false
}
