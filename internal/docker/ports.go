package docker

import (
	"context"
	"fmt"
	"strconv"

	"github.com/docker/go-connections/nat"
)

// PublishedPort resolves the host address a container port is published on.
func (c *Client) PublishedPort(ctx context.Context, name string, port int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, ContainerOpTimeout)
	defer cancel()

	inspect, err := c.cli.ContainerInspect(ctx, name)
	if err != nil {
		return "", fmt.Errorf("failed to inspect container %s: %w", name, err)
	}
	if inspect.NetworkSettings == nil {
		return "", fmt.Errorf("container %s has no network settings", name)
	}
	return HostAddress(inspect.NetworkSettings.Ports, port)
}

// HostAddress picks the first host binding for port/tcp.
func HostAddress(ports nat.PortMap, port int) (string, error) {
	p, err := nat.NewPort("tcp", strconv.Itoa(port))
	if err != nil {
		return "", err
	}

	for _, binding := range ports[p] {
		if binding.HostPort == "" {
			continue
		}
		host := binding.HostIP
		if host == "" || host == "0.0.0.0" || host == "::" {
			host = "127.0.0.1"
		}
		return fmt.Sprintf("%s:%s", host, binding.HostPort), nil
	}
	return "", fmt.Errorf("port %s is not published", p)
}
