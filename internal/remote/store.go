package remote

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aelpxy/vaultkeep/internal/config"
	"github.com/aelpxy/vaultkeep/internal/secrets"
)

type Object struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Store is a flat object namespace; keys are file names without the prefix.
type Store interface {
	Put(ctx context.Context, key string, r io.ReadSeeker) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	List(ctx context.Context) ([]Object, error)
	Delete(ctx context.Context, key string) error
	URI(key string) string
}

// NewStore returns nil when no remote target is configured.
func NewStore(ctx context.Context, cfg config.RemoteConfig, src secrets.Source) (Store, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "s3":
		return NewS3Store(ctx, cfg, src)
	case "local":
		return NewLocalStore(cfg.LocalDir, cfg.Prefix)
	default:
		return nil, fmt.Errorf("unsupported remote type: %s", cfg.Type)
	}
}
