package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vaultkeep.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, "")
	t.Chdir(t.TempDir())

	cfg, err := NewLoader().Load("")
	require.NoError(t, err)

	assert.Equal(t, "vaultwarden", cfg.Service.Container)
	assert.Equal(t, "/opt/vaultwarden/data/db.sqlite3", cfg.Service.DatabasePath())
	assert.Equal(t, "/data/db.sqlite3", cfg.Service.ContainerDatabasePath())
	assert.Equal(t, 30, cfg.Backup.RetentionDays)
	assert.Equal(t, []string{"users", "ciphers", "folders", "organizations"}, cfg.Rehearsal.EssentialTables)
	assert.Equal(t, 3, cfg.Remote.Retries)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeConfig(t, `
state_dir = "/srv/vaultkeep"

[service]
container = "vw"
data_dir = "/srv/vw/data"

[backup]
retention_days = 7
min_interval = "6h"
data_excludes = ["db.sqlite3*", "tmp"]

[remote]
type = "s3"
backoff = "5s"

[remote.s3]
bucket = "vault-backups"
endpoint = "https://s3.example.com"
use_path_style = true
secret_access_key = "shh"
`)

	t.Setenv("VAULTKEEP_BACKUP__RETENTION_DAYS", "14")
	t.Setenv("VAULTKEEP_REHEARSAL__LOCATIONS", "/mnt/a, /mnt/b")
	t.Setenv("VAULTKEEP_PASSPHRASE", "not-a-config-key")

	l := NewLoader()
	cfg, err := l.Load(path)
	require.NoError(t, err)

	assert.Equal(t, path, l.Source())
	assert.Equal(t, "/srv/vaultkeep", cfg.StateDir)
	assert.Equal(t, "vw", cfg.Service.Container)
	assert.Equal(t, "/srv/vw/data/db.sqlite3", cfg.Service.DatabasePath())
	assert.Equal(t, 14, cfg.Backup.RetentionDays)
	assert.Equal(t, 6*time.Hour, cfg.Backup.MinInterval)
	assert.Equal(t, []string{"db.sqlite3*", "tmp"}, cfg.Backup.DataExcludes)
	assert.Equal(t, 5*time.Second, cfg.Remote.Backoff)
	assert.True(t, cfg.Remote.S3.UsePathStyle)
	assert.Equal(t, []string{"/mnt/a", "/mnt/b"}, cfg.Rehearsal.Locations)

	for _, s := range l.Effective() {
		if s.Key == "remote.s3.secret_access_key" {
			assert.Equal(t, "****", s.Value)
		}
		assert.NotEqual(t, "passphrase", s.Key)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown remote":    "[remote]\ntype = \"ftp\"\n",
		"s3 without bucket": "[remote]\ntype = \"s3\"\n",
		"bad log level":     "[log]\nlevel = \"loud\"\n",
		"key not essential": "[rehearsal]\nkey_tables = [\"devices\"]\n",
		"prefix with slash": "[backup]\nname_prefix = \"vw/backup\"\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewLoader().Load(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}

func TestLoadMissingExplicitPath(t *testing.T) {
	_, err := NewLoader().Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.ErrorIs(t, err, ErrConfigNotFound)
}

func TestEnvTransform(t *testing.T) {
	assert.Equal(t, "backup.retention_days", envTransformFunc("VAULTKEEP_BACKUP__RETENTION_DAYS"))
	assert.Equal(t, "remote.s3.bucket", envTransformFunc("VAULTKEEP_REMOTE__S3__BUCKET"))
	assert.Equal(t, "state_dir", envTransformFunc("VAULTKEEP_STATE_DIR"))
	assert.Equal(t, "", envTransformFunc("VAULTKEEP_CONFIG"))
}

func TestCheckDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Check())

	cfg.Backup.NamePrefix = "../escape"
	assert.Error(t, cfg.Check())
}
