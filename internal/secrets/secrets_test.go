package secrets

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aelpxy/vaultkeep/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvSource(t *testing.T) {
	t.Setenv("VAULTKEEP_SECRET_PASSPHRASE", "hunter2")

	src, err := New(config.SecretsConfig{Provider: "env"})
	require.NoError(t, err)

	v, err := src.Get(context.Background(), KeyPassphrase)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", v)

	_, err = src.Get(context.Background(), KeyS3SecretAccessKey)
	require.ErrorIs(t, err, ErrNotFound)

	v, err = Optional(context.Background(), src, KeyS3SecretAccessKey)
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, KeyPassphrase), []byte("from-file\n"), 0600))

	src, err := New(config.SecretsConfig{Provider: "file", Dir: dir})
	require.NoError(t, err)

	v, err := src.Get(context.Background(), KeyPassphrase)
	require.NoError(t, err)
	assert.Equal(t, "from-file", v)

	_, err = src.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCommandSource(t *testing.T) {
	src := CommandSource{Command: []string{"echo", "secret-for"}}
	v, err := src.Get(context.Background(), KeyPassphrase)
	require.NoError(t, err)
	assert.Equal(t, "secret-for passphrase", v)

	_, err = CommandSource{Command: []string{"false"}}.Get(context.Background(), KeyPassphrase)
	require.Error(t, err)
}

func TestNewUnknownProvider(t *testing.T) {
	_, err := New(config.SecretsConfig{Provider: "vault"})
	require.Error(t, err)
}
