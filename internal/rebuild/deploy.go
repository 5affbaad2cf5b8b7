package rebuild

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/aelpxy/vaultkeep/internal/runtime"
)

// Provisioner installs or starts the container engine.
type Provisioner interface {
	Provision(ctx context.Context) error
}

// Deployer brings the restored service up.
type Deployer interface {
	Deploy(ctx context.Context) error
}

// Command runs an operator-supplied argv, for example an installer script
// or "docker compose up -d".
type Command struct {
	Argv []string
	Dir  string
}

func (c *Command) run(ctx context.Context) error {
	if len(c.Argv) == 0 {
		return fmt.Errorf("no command configured")
	}
	cmd := exec.CommandContext(ctx, c.Argv[0], c.Argv[1:]...)
	cmd.Dir = c.Dir
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s failed: %w\noutput: %s", strings.Join(c.Argv, " "), err, strings.TrimSpace(string(output)))
	}
	return nil
}

func (c *Command) Provision(ctx context.Context) error { return c.run(ctx) }
func (c *Command) Deploy(ctx context.Context) error    { return c.run(ctx) }

// DaemonProvisioner starts a detected but inactive podman socket.
type DaemonProvisioner struct {
	Manager *runtime.DaemonManager
}

func (p *DaemonProvisioner) Provision(ctx context.Context) error {
	return p.Manager.Start(ctx)
}

type starter interface {
	StartContainer(ctx context.Context, name string) error
}

// ContainerDeployer starts the existing service container.
type ContainerDeployer struct {
	Client    starter
	Container string
}

func (d *ContainerDeployer) Deploy(ctx context.Context) error {
	return d.Client.StartContainer(ctx, d.Container)
}
