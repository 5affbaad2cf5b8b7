package restore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aelpxy/vaultkeep/internal/config"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// settings vaultwarden no longer honours, with what replaced them
var legacyEnv = []struct{ key, hint string }{
	{"WEBSOCKET_ENABLED", "websockets are served on the main port since 1.29; remove it"},
	{"WEBSOCKET_ADDRESS", "websockets are served on the main port since 1.29; remove it"},
	{"WEBSOCKET_PORT", "websockets are served on the main port since 1.29; remove it"},
	{"SMTP_SSL", "use SMTP_SECURITY=starttls|force_tls|off"},
	{"SMTP_EXPLICIT_TLS", "use SMTP_SECURITY=starttls|force_tls|off"},
	{"ROCKET_WORKERS", "no longer read; remove it"},
	{"DISABLE_ICON_CACHE", "use ICON_CACHE_TTL=0"},
}

type composeFile struct {
	Services map[string]composeService `yaml:"services"`
}

type composeService struct {
	Image         string   `yaml:"image"`
	ContainerName string   `yaml:"container_name"`
	Ports         []string `yaml:"ports"`
	Volumes       []string `yaml:"volumes"`
}

// VerifyConfig inspects the restored configuration and returns advisories.
// It never fails: an unreadable file is itself an advisory.
func VerifyConfig(svc config.ServiceConfig) []string {
	var advisories []string
	advise := func(format string, args ...any) {
		advisories = append(advisories, fmt.Sprintf(format, args...))
	}

	if svc.ConfigDir == "" {
		return nil
	}

	if svc.EnvFile != "" {
		path := filepath.Join(svc.ConfigDir, svc.EnvFile)
		env, err := godotenv.Read(path)
		switch {
		case os.IsNotExist(err):
			advise("env file %s not found; the service will start with image defaults", path)
		case err != nil:
			advise("env file %s could not be parsed: %v", path, err)
		default:
			advisories = append(advisories, checkEnv(env, svc)...)
		}
	}

	if svc.ComposeFile != "" {
		path := filepath.Join(svc.ConfigDir, svc.ComposeFile)
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			advise("compose file %s not found", path)
		case err != nil:
			advise("compose file %s unreadable: %v", path, err)
		default:
			advisories = append(advisories, checkCompose(data, path, svc)...)
		}
	}
	return advisories
}

func checkEnv(env map[string]string, svc config.ServiceConfig) []string {
	var out []string

	for _, l := range legacyEnv {
		if _, ok := env[l.key]; ok {
			out = append(out, fmt.Sprintf("legacy setting %s: %s", l.key, l.hint))
		}
	}

	if token, ok := env["ADMIN_TOKEN"]; ok && token != "" && !strings.HasPrefix(token, "$argon2") {
		out = append(out, "ADMIN_TOKEN is stored in plain text; replace it with an argon2 hash (vaultwarden hash)")
	}

	switch domain := env["DOMAIN"]; {
	case domain == "":
		out = append(out, "DOMAIN is not set; attachments and invitation links will be broken")
	case !strings.HasPrefix(domain, "https://"):
		out = append(out, fmt.Sprintf("DOMAIN %s is not https; clients refuse to use the web vault over plain http", domain))
	}

	if url, ok := env["DATABASE_URL"]; ok && url != "" {
		switch {
		case strings.HasPrefix(url, "postgres") || strings.HasPrefix(url, "mysql"):
			out = append(out, "DATABASE_URL points at a server database; the restored SQLite file will be ignored")
		case filepath.Base(url) != filepath.Base(svc.DatabaseFile):
			out = append(out, fmt.Sprintf("DATABASE_URL %s does not name the restored database %s", url, svc.DatabaseFile))
		}
	}
	return out
}

func checkCompose(data []byte, path string, svc config.ServiceConfig) []string {
	var cf composeFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return []string{fmt.Sprintf("compose file %s is not valid YAML: %v", path, err)}
	}

	var out []string
	name, s, ok := findService(cf, svc.Container)
	if !ok {
		return []string{fmt.Sprintf("compose file %s defines no service for container %s", path, svc.Container)}
	}

	if s.Image == "" {
		out = append(out, fmt.Sprintf("service %s has no image", name))
	}

	mounted := false
	for _, v := range s.Volumes {
		parts := strings.Split(v, ":")
		if len(parts) >= 2 && parts[1] == svc.ContainerDataDir {
			mounted = true
		}
	}
	if !mounted {
		out = append(out, fmt.Sprintf("service %s does not mount a volume at %s; restored data will not be visible", name, svc.ContainerDataDir))
	}

	for _, p := range s.Ports {
		if strings.HasSuffix(p, ":3012") {
			out = append(out, fmt.Sprintf("service %s publishes legacy websocket port 3012; remove it", name))
		}
	}
	return out
}

func findService(cf composeFile, container string) (string, composeService, bool) {
	if s, ok := cf.Services[container]; ok {
		return container, s, true
	}
	for name, s := range cf.Services {
		if s.ContainerName == container {
			return name, s, true
		}
	}
	return "", composeService{}, false
}
