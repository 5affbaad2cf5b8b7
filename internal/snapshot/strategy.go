package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aelpxy/vaultkeep/internal/docker"
	"github.com/aelpxy/vaultkeep/internal/sqlitedb"
)

var ErrStrategyUnavailable = errors.New("strategy not available on this host")

// Execer is the slice of the container client the dump strategies need.
type Execer interface {
	IsRunning(ctx context.Context, name string) (bool, error)
	Exec(ctx context.Context, name string, cmd []string, stdin io.Reader, stdout io.Writer) (*docker.ExecResult, error)
}

// DumpStrategy writes a logical dump of the live database to w.
type DumpStrategy interface {
	Name() string
	Dump(ctx context.Context, w io.Writer) error
}

// HelperStrategy reuses an already running backup sidecar.
type HelperStrategy struct {
	Exec      Execer
	Container string
	Command   []string
}

func (s *HelperStrategy) Name() string { return "helper" }

func (s *HelperStrategy) Dump(ctx context.Context, w io.Writer) error {
	if s.Exec == nil || s.Container == "" || len(s.Command) == 0 {
		return fmt.Errorf("%w: no helper container configured", ErrStrategyUnavailable)
	}
	return execDump(ctx, s.Exec, s.Container, s.Command, w)
}

// DirectStrategy reads the database file in place through the embedded engine.
type DirectStrategy struct {
	Path string
}

func (s *DirectStrategy) Name() string { return "direct" }

func (s *DirectStrategy) Dump(ctx context.Context, w io.Writer) error {
	return sqlitedb.DumpFile(ctx, s.Path, w)
}

// ServiceStrategy runs sqlite3 inside the protected service's own container.
type ServiceStrategy struct {
	Exec      Execer
	Container string
	Path      string
}

func (s *ServiceStrategy) Name() string { return "service" }

func (s *ServiceStrategy) Dump(ctx context.Context, w io.Writer) error {
	if s.Exec == nil || s.Container == "" {
		return fmt.Errorf("%w: no service container configured", ErrStrategyUnavailable)
	}
	return execDump(ctx, s.Exec, s.Container, []string{"sqlite3", s.Path, ".dump"}, w)
}

func execDump(ctx context.Context, ex Execer, name string, cmd []string, w io.Writer) error {
	running, err := ex.IsRunning(ctx, name)
	if err != nil {
		return err
	}
	if !running {
		return fmt.Errorf("%w: container %s is not running", ErrStrategyUnavailable, name)
	}
	if _, err := ex.Exec(ctx, name, cmd, nil, w); err != nil {
		return err
	}
	return nil
}
