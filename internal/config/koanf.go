package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aelpxy/vaultkeep/internal/utils"
	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	ConfigPathEnvVar = "VAULTKEEP_CONFIG"
	EnvPrefix        = "VAULTKEEP_"
)

var ErrConfigNotFound = errors.New("config file not found")

// DefaultConfigPaths is searched after --config and $VAULTKEEP_CONFIG.
func DefaultConfigPaths() []string {
	paths := []string{"vaultkeep.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".vaultkeep", "config.toml"))
	}
	return append(paths, "/etc/vaultkeep/config.toml")
}

var sliceConfigPaths = []string{
	"backup.helper_command",
	"backup.data_excludes",
	"rehearsal.locations",
	"rehearsal.essential_tables",
	"rehearsal.key_tables",
	"rebuild.architectures",
	"rebuild.provision_command",
	"rebuild.deploy_command",
	"secrets.command",
}

var sensitiveKeys = []string{"secret", "passphrase", "password", "token", "access_key_id"}

type Loader struct {
	k      *koanf.Koanf
	source string
}

func NewLoader() *Loader {
	return &Loader{k: koanf.New(".")}
}

// Load layers struct defaults, the TOML file and VAULTKEEP_SECTION__KEY
// environment variables, then validates the result.
func (l *Loader) Load(explicitPath string) (*Config, error) {
	if err := l.k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	path, err := findConfigFile(explicitPath)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := l.k.Load(file.Provider(path), TOML()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
		l.source = path
	}

	if err := l.k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(l.k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := l.k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Check(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Source is the config file that was loaded, or "" when only defaults
// and environment were used.
func (l *Loader) Source() string {
	return l.source
}

// Effective returns every resolved key with secrets masked.
func (l *Loader) Effective() []Setting {
	keys := l.k.Keys()
	sort.Strings(keys)

	out := make([]Setting, 0, len(keys))
	for _, key := range keys {
		value := fmt.Sprintf("%v", l.k.Get(key))
		if isSensitive(key) {
			value = utils.MaskSensitive(value, 0)
		}
		out = append(out, Setting{Key: key, Value: value})
	}
	return out
}

type Setting struct {
	Key   string
	Value string
}

func isSensitive(key string) bool {
	for _, s := range sensitiveKeys {
		if strings.Contains(key, s) {
			return true
		}
	}
	return false
}

func findConfigFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("%w: %s", ErrConfigNotFound, explicit)
		}
		return explicit, nil
	}

	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err != nil {
			return "", fmt.Errorf("%w: %s (from %s)", ErrConfigNotFound, envPath, ConfigPathEnvVar)
		}
		return envPath, nil
	}

	for _, path := range DefaultConfigPaths() {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", nil
}

// VAULTKEEP_BACKUP__RETENTION_DAYS -> backup.retention_days
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	if key == "state_dir" {
		return key
	}
	if !strings.Contains(key, "__") {
		return ""
	}
	return strings.ReplaceAll(key, "__", ".")
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

var validate = validator.New()

// Check runs the struct tags and the cross-field rules the tags cannot express.
func (c *Config) Check() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	if !utils.IsValidName(c.Backup.NamePrefix) {
		return fmt.Errorf("backup.name_prefix %q may only contain letters, digits, '-', '_' and '.'", c.Backup.NamePrefix)
	}

	switch c.Remote.Type {
	case "s3":
		if c.Remote.S3.Bucket == "" {
			return fmt.Errorf("remote.s3.bucket is required for the s3 target")
		}
	case "local":
		if c.Remote.LocalDir == "" {
			return fmt.Errorf("remote.local_dir is required for the local target")
		}
	}

	if c.Secrets.Provider == "file" && c.Secrets.Dir == "" {
		return fmt.Errorf("secrets.dir is required for the file provider")
	}
	if c.Secrets.Provider == "command" && len(c.Secrets.Command) == 0 {
		return fmt.Errorf("secrets.command is required for the command provider")
	}

	for _, key := range c.Rehearsal.KeyTables {
		found := false
		for _, t := range c.Rehearsal.EssentialTables {
			if t == key {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("rehearsal.key_tables entry %q is not an essential table", key)
		}
	}

	return nil
}
