package runtime

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// DaemonManager brings a detected but inactive runtime socket up. Only
// podman can be started this way; docker is left to the host init system.
type DaemonManager struct {
	runtime *RuntimeInfo
}

func NewDaemonManager(runtime *RuntimeInfo) *DaemonManager {
	return &DaemonManager{runtime: runtime}
}

func (dm *DaemonManager) IsRunning(ctx context.Context) bool {
	if _, err := os.Stat(dm.runtime.SocketPath); err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	return exec.CommandContext(ctx, string(dm.runtime.Type), "info").Run() == nil
}

func (dm *DaemonManager) Start(ctx context.Context) error {
	if dm.runtime.Type == RuntimeDocker {
		return fmt.Errorf("docker daemon management not supported - use systemctl")
	}
	if dm.IsRunning(ctx) {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(dm.runtime.SocketPath), 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	if _, err := lookPath("systemctl"); err != nil {
		return fmt.Errorf("systemd not available, start 'podman system service' manually")
	}

	args := []string{"enable", "--now", "podman.socket"}
	if dm.runtime.IsRootless {
		args = append([]string{"--user"}, args...)
	}
	if output, err := exec.CommandContext(ctx, "systemctl", args...).CombinedOutput(); err != nil {
		return fmt.Errorf("failed to start podman.socket via systemd: %w\noutput: %s", err, string(output))
	}

	for i := 0; i < 10; i++ {
		if _, err := os.Stat(dm.runtime.SocketPath); err == nil {
			dm.runtime.ServiceActive = true
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}

	return fmt.Errorf("podman socket did not become available after starting service")
}
