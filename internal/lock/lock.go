package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// Backup and restore share Pipeline so they never overlap; rehearsals only
// touch scratch state and take their own lock.
const (
	Pipeline  = "pipeline"
	Rehearsal = "rehearsal"
)

var ErrAlreadyRunning = errors.New("another run is already in progress")

type Manager struct {
	lockDir string
}

func NewManager(lockDir string) (*Manager, error) {
	if err := os.MkdirAll(lockDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	return &Manager{lockDir: lockDir}, nil
}

// Lock is a held pipeline lock. Release is safe to call more than once.
type Lock struct {
	path string
	pid  int
}

func (m *Manager) path(name string) string {
	return filepath.Join(m.lockDir, name+".lock")
}

// TryLock takes the named lock or fails fast with ErrAlreadyRunning.
// Locks left behind by dead processes are reaped.
func (m *Manager) TryLock(name string) (*Lock, error) {
	lockFile := m.path(name)

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(lockFile, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			fmt.Fprintf(f, "%d\n%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
			f.Close()
			return &Lock{path: lockFile, pid: os.Getpid()}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}

		pid, alive := m.holder(lockFile)
		if alive {
			return nil, fmt.Errorf("%w (%s held by pid %d)", ErrAlreadyRunning, name, pid)
		}
		os.Remove(lockFile)
	}

	return nil, fmt.Errorf("%w (%s)", ErrAlreadyRunning, name)
}

func (m *Manager) holder(lockFile string) (int, bool) {
	data, err := os.ReadFile(lockFile)
	if err != nil {
		return 0, false
	}
	var pid int
	if n, _ := fmt.Sscanf(strings.TrimSpace(string(data)), "%d", &pid); n != 1 || pid <= 0 {
		return 0, false
	}
	if err := syscall.Kill(pid, 0); err != nil && !errors.Is(err, syscall.EPERM) {
		return pid, false
	}
	return pid, true
}

func (m *Manager) IsLocked(name string) bool {
	_, alive := m.holder(m.path(name))
	return alive
}

func (l *Lock) Release() {
	if l == nil || l.path == "" {
		return
	}
	data, err := os.ReadFile(l.path)
	if err == nil {
		var pid int
		if n, _ := fmt.Sscanf(string(data), "%d", &pid); n == 1 && pid != l.pid {
			return
		}
	}
	os.Remove(l.path)
	l.path = ""
}
