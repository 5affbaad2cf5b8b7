package restore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aelpxy/vaultkeep/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func service(t *testing.T, env, compose string) config.ServiceConfig {
	t.Helper()
	dir := t.TempDir()
	svc := config.Default().Service
	svc.ConfigDir = dir
	if env != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, svc.EnvFile), []byte(env), 0600))
	}
	if compose != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, svc.ComposeFile), []byte(compose), 0600))
	}
	return svc
}

const goodCompose = `services:
  vaultwarden:
    image: vaultwarden/server:1.32.0
    volumes:
      - ./data:/data
    ports:
      - "127.0.0.1:8080:80"
`

func TestVerifyConfigClean(t *testing.T) {
	svc := service(t, "DOMAIN=https://vault.example.com\nADMIN_TOKEN='$argon2id$v=19$m=65540,t=3,p=4$abc'\n", goodCompose)
	assert.Empty(t, VerifyConfig(svc))
}

func TestVerifyConfigLegacySettings(t *testing.T) {
	env := "DOMAIN=http://vault.local\nWEBSOCKET_ENABLED=true\nSMTP_SSL=true\nADMIN_TOKEN=hunter2\nDATABASE_URL=postgresql://vw@db/vw\n"
	compose := `services:
  vw:
    image: vaultwarden/server:latest
    container_name: vaultwarden
    ports:
      - "3012:3012"
`
	advisories := VerifyConfig(service(t, env, compose))

	all := strings.Join(advisories, "\n")
	for _, want := range []string{"WEBSOCKET_ENABLED", "SMTP_SSL", "ADMIN_TOKEN", "not https", "server database", "port 3012", "does not mount"} {
		assert.Contains(t, all, want)
	}
}

func TestVerifyConfigMissingFiles(t *testing.T) {
	advisories := VerifyConfig(service(t, "", ""))
	assert.Len(t, advisories, 2)
}

func TestVerifyConfigBadYAML(t *testing.T) {
	advisories := VerifyConfig(service(t, "DOMAIN=https://v.example.com\n", "services: [unclosed"))
	require.Len(t, advisories, 1)
	assert.Contains(t, advisories[0], "not valid YAML")
}
