package docker

import (
	"bytes"
	"context"
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/pkg/stdcopy"
)

type BindMount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// DisposableSpec describes a one-shot container that is always removed.
type DisposableSpec struct {
	Image      string
	Cmd        []string
	Entrypoint []string
	User       string
	Mounts     []BindMount
	Env        []string
}

// RunDisposable creates, runs and removes a container, returning its
// combined output. Removal uses a fresh context so it survives cancellation.
func (c *Client) RunDisposable(ctx context.Context, spec DisposableSpec) (string, error) {
	mounts := make([]mount.Mount, 0, len(spec.Mounts))
	for _, m := range spec.Mounts {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	config := &container.Config{
		Image:      spec.Image,
		Cmd:        spec.Cmd,
		Entrypoint: spec.Entrypoint,
		User:       spec.User,
		Env:        spec.Env,
		Labels:     map[string]string{ManagedLabel: "true"},
	}
	hostConfig := &container.HostConfig{
		Mounts:      mounts,
		NetworkMode: "none",
	}

	createCtx, cancel := context.WithTimeout(ctx, ContainerOpTimeout)
	resp, err := c.cli.ContainerCreate(createCtx, config, hostConfig, nil, nil, "")
	cancel()
	if err != nil {
		return "", fmt.Errorf("failed to create disposable container: %w", err)
	}
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), CleanupTimeout)
		defer cancel()
		c.RemoveContainer(cleanupCtx, resp.ID)
	}()

	if err := c.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("failed to start disposable container: %w", err)
	}

	statusCh, errCh := c.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	var exitCode int64
	select {
	case err := <-errCh:
		if err != nil {
			return "", fmt.Errorf("error waiting for disposable container: %w", err)
		}
	case status := <-statusCh:
		exitCode = status.StatusCode
	case <-ctx.Done():
		return "", ctx.Err()
	}

	output := c.logs(ctx, resp.ID)
	if exitCode != 0 {
		return output, fmt.Errorf("disposable container exited with code %d: %s", exitCode, output)
	}
	return output, nil
}

func (c *Client) logs(ctx context.Context, id string) string {
	rc, err := c.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return ""
	}
	defer rc.Close()

	var out bytes.Buffer
	stdcopy.StdCopy(&out, &out, rc)
	return string(bytes.TrimSpace(out.Bytes()))
}
