package config

import (
	"os"
	"path/filepath"
	"time"
)

func stateDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".vaultkeep")
	}
	return ".vaultkeep"
}

// Default is the built-in configuration before any file or env layer.
func Default() *Config {
	state := stateDir()
	return &Config{
		Service: ServiceConfig{
			Container:        "vaultwarden",
			Image:            "vaultwarden/server:latest",
			DataDir:          "/opt/vaultwarden/data",
			DatabaseFile:     "db.sqlite3",
			ContainerDataDir: "/data",
			ConfigDir:        "/opt/vaultwarden",
			EnvFile:          ".env",
			ComposeFile:      "docker-compose.yml",
			TLSDir:           "/opt/vaultwarden/certs",
			UID:              0,
			GID:              0,
			HealthPort:       80,
		},
		Backup: BackupConfig{
			Dir:           filepath.Join(state, "backups"),
			NamePrefix:    "vaultwarden-backup",
			Encrypt:       true,
			AgeWorkFactor: 18,
			RetentionDays: 30,
			MinInterval:   0,
			DataExcludes: []string{
				"db.sqlite3",
				"db.sqlite3-wal",
				"db.sqlite3-shm",
				"db.sqlite3-journal",
				"tmp",
				"icon_cache",
			},
			DumpTimeout: 10 * time.Minute,
		},
		Remote: RemoteConfig{
			Prefix:  "vaultwarden",
			Retries: 3,
			Backoff: 30 * time.Second,
			Timeout: 15 * time.Minute,
		},
		Validate: ValidateConfig{
			MinSizeBytes: 1024,
		},
		Restore: RestoreConfig{
			StopTimeout: 30 * time.Second,
			SQLiteImage: "keinos/sqlite3:latest",
		},
		Rehearsal: RehearsalConfig{
			Locations:         []string{filepath.Join(state, "backups")},
			ReportDir:         filepath.Join(state, "dr-reports"),
			EssentialTables:   []string{"users", "ciphers", "folders", "organizations"},
			KeyTables:         []string{"users", "ciphers"},
			QueryTimeout:      10 * time.Second,
			MaxRestoreSeconds: 60,
			MaxBackupAgeHours: 48,
		},
		Rebuild: RebuildConfig{
			MinCPUs:          1,
			MinMemoryMB:      1024,
			MinDiskGB:        10,
			Architectures:    []string{"amd64", "arm64"},
			MinDockerVersion: "20.10.0",
			HealthRetries:    10,
			HealthInterval:   5 * time.Second,
		},
		Notify: NotifyConfig{
			Timeout:   10 * time.Second,
			OnSuccess: true,
		},
		Secrets: SecretsConfig{
			Provider: "env",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		StateDir: state,
	}
}
