package restore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/aelpxy/vaultkeep/internal/docker"
	"github.com/aelpxy/vaultkeep/internal/sqlitedb"
)

// Runtime is the slice of the container client a restore needs.
type Runtime interface {
	IsRunning(ctx context.Context, name string) (bool, error)
	StopContainer(ctx context.Context, name string, grace time.Duration) error
	EnsureImage(ctx context.Context, image string, progress io.Writer) error
	RunDisposable(ctx context.Context, spec docker.DisposableSpec) (string, error)
}

// LoadStrategy replays a logical dump into a fresh database file.
type LoadStrategy interface {
	Name() string
	Load(ctx context.Context, dumpPath, dbPath string) error
}

// DirectLoad uses the embedded engine.
type DirectLoad struct{}

func (DirectLoad) Name() string { return "direct" }

func (DirectLoad) Load(ctx context.Context, dumpPath, dbPath string) error {
	f, err := os.Open(dumpPath)
	if err != nil {
		return err
	}
	defer f.Close()
	return sqlitedb.Load(ctx, dbPath, f)
}

// ContainerLoad runs sqlite3 in a throwaway container with the target data
// directory bound in, as the service user.
type ContainerLoad struct {
	Runtime Runtime
	Image   string
	UID     int
	GID     int
}

func (s *ContainerLoad) Name() string { return "container" }

func (s *ContainerLoad) Load(ctx context.Context, dumpPath, dbPath string) error {
	if s.Runtime == nil || s.Image == "" {
		return fmt.Errorf("no container runtime available")
	}
	if err := s.Runtime.EnsureImage(ctx, s.Image, io.Discard); err != nil {
		return err
	}

	script := fmt.Sprintf("sqlite3 /restore/%s < /dump/%s", filepath.Base(dbPath), filepath.Base(dumpPath))
	_, err := s.Runtime.RunDisposable(ctx, docker.DisposableSpec{
		Image:      s.Image,
		Entrypoint: []string{"sh", "-c"},
		Cmd:        []string{script},
		User:       fmt.Sprintf("%d:%d", s.UID, s.GID),
		Mounts: []docker.BindMount{
			{Source: filepath.Dir(dbPath), Target: "/restore"},
			{Source: filepath.Dir(dumpPath), Target: "/dump", ReadOnly: true},
		},
	})
	return err
}
