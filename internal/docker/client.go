package docker

import (
	"context"
	"fmt"
	"os"

	"github.com/aelpxy/vaultkeep/internal/runtime"
	"github.com/docker/docker/client"
)

// ManagedLabel marks containers vaultkeep created itself.
const ManagedLabel = "vaultkeep.managed"

type Client struct {
	cli         *client.Client
	runtimeInfo *runtime.RuntimeInfo
}

func NewClient(ctx context.Context) (*Client, error) {
	runtimeInfo, err := runtime.DetectRuntime(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to detect container runtime: %w\nplease install docker or podman", err)
	}
	return NewClientWithRuntime(runtimeInfo)
}

func NewClientWithRuntime(runtimeInfo *runtime.RuntimeInfo) (*Client, error) {
	if err := runtimeInfo.EnsureSocketExists(); err != nil {
		return nil, err
	}

	if os.Getenv("DOCKER_HOST") == "" {
		os.Setenv("DOCKER_HOST", runtimeInfo.GetSocketURI())
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create container runtime client: %w", err)
	}

	return &Client{
		cli:         cli,
		runtimeInfo: runtimeInfo,
	}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// RuntimeInfo is the engine this client was created for.
func (c *Client) RuntimeInfo() *runtime.RuntimeInfo {
	return c.runtimeInfo
}

// ServerVersion reports the engine version the client negotiated with.
func (c *Client) ServerVersion(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, ContainerOpTimeout)
	defer cancel()

	v, err := c.cli.ServerVersion(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to query engine version: %w", err)
	}
	return v.Version, nil
}
