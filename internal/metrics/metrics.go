// Package metrics writes run results in the node_exporter textfile format
// so an external scheduler's host can alert on stale or failed runs.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Run struct {
	Operation string
	ExitCode  int
	Duration  time.Duration
	SizeBytes int64
	Finished  time.Time
}

type Textfile struct {
	dir string
}

// NewTextfile returns nil when dir is empty; a nil Textfile records nothing.
func NewTextfile(dir string) *Textfile {
	if dir == "" {
		return nil
	}
	return &Textfile{dir: dir}
}

func (t *Textfile) Path(operation string) string {
	return filepath.Join(t.dir, fmt.Sprintf("vaultkeep_%s.prom", operation))
}

// Record rewrites the operation's textfile atomically.
func (t *Textfile) Record(run Run) error {
	if t == nil {
		return nil
	}
	if err := os.MkdirAll(t.dir, 0755); err != nil {
		return fmt.Errorf("failed to create metrics dir: %w", err)
	}

	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"operation": run.Operation}

	lastRun := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "vaultkeep",
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix timestamp of the last run",
	}, []string{"operation"})
	exitCode := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "vaultkeep",
		Name:      "last_exit_code",
		Help:      "Exit code of the last run (0 ok, 1 warning, 2 failure)",
	}, []string{"operation"})
	duration := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "vaultkeep",
		Name:      "last_duration_seconds",
		Help:      "Duration of the last run",
	}, []string{"operation"})
	size := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "vaultkeep",
		Name:      "last_archive_size_bytes",
		Help:      "Size of the archive produced or checked by the last run",
	}, []string{"operation"})

	reg.MustRegister(lastRun, exitCode, duration, size)

	finished := run.Finished
	if finished.IsZero() {
		finished = time.Now()
	}
	lastRun.With(labels).Set(float64(finished.Unix()))
	exitCode.With(labels).Set(float64(run.ExitCode))
	duration.With(labels).Set(run.Duration.Seconds())
	size.With(labels).Set(float64(run.SizeBytes))

	return prometheus.WriteToTextfile(t.Path(run.Operation), reg)
}
