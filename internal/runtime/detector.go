package runtime

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

type RuntimeType string

const (
	RuntimeDocker RuntimeType = "docker"
	RuntimePodman RuntimeType = "podman"
)

const probeTimeout = 10 * time.Second

type RuntimeInfo struct {
	Type          RuntimeType
	SocketPath    string
	Version       string
	IsRootless    bool
	ServiceActive bool
}

// lookPath is swapped in tests
var lookPath = exec.LookPath

func DetectRuntime(ctx context.Context) (*RuntimeInfo, error) {
	if dockerHost := os.Getenv("DOCKER_HOST"); dockerHost != "" {
		if strings.Contains(dockerHost, "podman") {
			return detectPodman(ctx)
		}
		return detectDocker(ctx)
	}

	if info, err := detectDocker(ctx); err == nil {
		return info, nil
	}

	if info, err := detectPodman(ctx); err == nil {
		return info, nil
	}

	return nil, fmt.Errorf("no container runtime detected (tried docker, podman)")
}

func detectDocker(ctx context.Context) (*RuntimeInfo, error) {
	if _, err := lookPath("docker"); err != nil {
		return nil, fmt.Errorf("docker command not found")
	}

	socketPath := "/var/run/docker.sock"
	if host := os.Getenv("DOCKER_HOST"); strings.HasPrefix(host, "unix://") {
		socketPath = strings.TrimPrefix(host, "unix://")
	}
	if _, err := os.Stat(socketPath); err != nil {
		return nil, fmt.Errorf("docker socket not found at %s", socketPath)
	}

	version, err := commandVersion(ctx, "docker", "{{.Server.Version}}")
	if err != nil {
		return nil, fmt.Errorf("failed to get docker version: %w", err)
	}

	return &RuntimeInfo{
		Type:          RuntimeDocker,
		SocketPath:    socketPath,
		Version:       version,
		IsRootless:    false,
		ServiceActive: true,
	}, nil
}

func detectPodman(ctx context.Context) (*RuntimeInfo, error) {
	if _, err := lookPath("podman"); err != nil {
		return nil, fmt.Errorf("podman command not found")
	}

	socketPath := GetPodmanSocketPath()
	serviceActive := false
	if _, err := os.Stat(socketPath); err == nil {
		serviceActive = true
	}

	version, err := commandVersion(ctx, "podman", "{{.Server.Version}}")
	if err != nil {
		version, err = commandVersion(ctx, "podman", "{{.Client.Version}}")
		if err != nil {
			return nil, fmt.Errorf("failed to get podman version: %w", err)
		}
	}

	return &RuntimeInfo{
		Type:          RuntimePodman,
		SocketPath:    socketPath,
		Version:       version,
		IsRootless:    os.Getuid() != 0,
		ServiceActive: serviceActive,
	}, nil
}

func commandVersion(ctx context.Context, bin, format string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	output, err := exec.CommandContext(ctx, bin, "version", "--format", format).Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}

func (r *RuntimeInfo) GetSocketURI() string {
	return fmt.Sprintf("unix://%s", r.SocketPath)
}

func (r *RuntimeInfo) GetRuntimeName() string {
	name := string(r.Type)
	if r.Type == RuntimePodman && r.IsRootless {
		name += " (rootless)"
	}
	return name
}

func (r *RuntimeInfo) EnsureSocketExists() error {
	if _, err := os.Stat(r.SocketPath); err != nil {
		if r.Type == RuntimePodman {
			return fmt.Errorf("podman socket not found at %s - start podman.socket or run 'vaultkeep rebuild' to provision it", r.SocketPath)
		}
		return fmt.Errorf("runtime socket not found at %s", r.SocketPath)
	}
	return nil
}

func GetPodmanSocketPath() string {
	if os.Getuid() != 0 {
		return filepath.Join("/run/user", fmt.Sprintf("%d", os.Getuid()), "podman", "podman.sock")
	}
	return "/run/podman/podman.sock"
}
