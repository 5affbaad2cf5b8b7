package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
)

// ExecResult carries the exit status and captured stderr of an exec.
type ExecResult struct {
	ExitCode int
	Stderr   string
}

// Exec runs cmd inside a running container, streaming stdin into it and
// its stdout into stdout. A non-zero exit code is returned as an error.
func (c *Client) Exec(ctx context.Context, name string, cmd []string, stdin io.Reader, stdout io.Writer) (*ExecResult, error) {
	execConfig := container.ExecOptions{
		Cmd:          cmd,
		AttachStdin:  stdin != nil,
		AttachStdout: true,
		AttachStderr: true,
	}

	execID, err := c.cli.ContainerExecCreate(ctx, name, execConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create exec in %s: %w", name, err)
	}

	attachResp, err := c.cli.ContainerExecAttach(ctx, execID.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to attach to exec: %w", err)
	}
	defer attachResp.Close()

	if stdin != nil {
		go func() {
			io.Copy(attachResp.Conn, stdin)
			attachResp.CloseWrite()
		}()
	}

	if stdout == nil {
		stdout = io.Discard
	}

	var stderr bytes.Buffer
	copyDone := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(stdout, &stderr, attachResp.Reader)
		copyDone <- err
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-copyDone:
		if err != nil {
			return nil, fmt.Errorf("failed to read exec output: %w", err)
		}
	}

	inspect, err := c.cli.ContainerExecInspect(ctx, execID.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect exec: %w", err)
	}

	result := &ExecResult{ExitCode: inspect.ExitCode, Stderr: stderr.String()}
	if inspect.ExitCode != 0 {
		return result, fmt.Errorf("%v exited with code %d: %s", cmd, inspect.ExitCode, bytes.TrimSpace(stderr.Bytes()))
	}
	return result, nil
}
