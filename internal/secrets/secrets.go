// Package secrets fetches the encryption passphrase and remote storage
// credentials from whatever secret store the host uses.
package secrets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/aelpxy/vaultkeep/internal/config"
)

const (
	KeyPassphrase        = "passphrase"
	KeyS3AccessKeyID     = "s3_access_key_id"
	KeyS3SecretAccessKey = "s3_secret_access_key"

	EnvPrefix = "VAULTKEEP_SECRET_"

	commandTimeout = 30 * time.Second
)

var ErrNotFound = errors.New("secret not found")

type Source interface {
	Get(ctx context.Context, key string) (string, error)
}

func New(cfg config.SecretsConfig) (Source, error) {
	switch cfg.Provider {
	case "", "env":
		return EnvSource{}, nil
	case "file":
		return FileSource{Dir: cfg.Dir}, nil
	case "command":
		return CommandSource{Command: cfg.Command}, nil
	default:
		return nil, fmt.Errorf("unknown secrets provider %q", cfg.Provider)
	}
}

// EnvSource reads VAULTKEEP_SECRET_<KEY>.
type EnvSource struct{}

func (EnvSource) Get(_ context.Context, key string) (string, error) {
	name := EnvPrefix + strings.ToUpper(key)
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, name)
}

// FileSource reads <dir>/<key>, the layout docker and systemd credentials use.
type FileSource struct {
	Dir string
}

func (s FileSource) Get(_ context.Context, key string) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir, key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, filepath.Join(s.Dir, key))
		}
		return "", err
	}
	v := strings.TrimRight(string(data), "\r\n")
	if v == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrNotFound, key)
	}
	return v, nil
}

// CommandSource runs `<command...> <key>` and uses its trimmed stdout.
type CommandSource struct {
	Command []string
}

func (s CommandSource) Get(ctx context.Context, key string) (string, error) {
	if len(s.Command) == 0 {
		return "", fmt.Errorf("secrets command not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	args := append(append([]string{}, s.Command[1:]...), key)
	cmd := exec.CommandContext(ctx, s.Command[0], args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("secrets command failed for %s: %w: %s", key, err, strings.TrimSpace(stderr.String()))
	}

	v := strings.TrimSpace(stdout.String())
	if v == "" {
		return "", fmt.Errorf("%w: command returned nothing for %s", ErrNotFound, key)
	}
	return v, nil
}

// Optional returns "" instead of ErrNotFound.
func Optional(ctx context.Context, src Source, key string) (string, error) {
	v, err := src.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}
