package config

import (
	"path/filepath"
	"time"
)

// Config is built once per process and passed to every component.
// Nothing reads configuration from the environment after Load returns.
type Config struct {
	Service   ServiceConfig   `koanf:"service"`
	Backup    BackupConfig    `koanf:"backup"`
	Remote    RemoteConfig    `koanf:"remote"`
	Validate  ValidateConfig  `koanf:"validate"`
	Restore   RestoreConfig   `koanf:"restore"`
	Rehearsal RehearsalConfig `koanf:"rehearsal"`
	Rebuild   RebuildConfig   `koanf:"rebuild"`
	Notify    NotifyConfig    `koanf:"notify"`
	Secrets   SecretsConfig   `koanf:"secrets"`
	Log       LogConfig       `koanf:"log"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	StateDir  string          `koanf:"state_dir" validate:"required"`
}

type ServiceConfig struct {
	Container        string `koanf:"container" validate:"required"`
	Image            string `koanf:"image" validate:"required"`
	DataDir          string `koanf:"data_dir" validate:"required"`
	DatabaseFile     string `koanf:"database_file" validate:"required"`
	ContainerDataDir string `koanf:"container_data_dir" validate:"required"`
	ConfigDir        string `koanf:"config_dir"`
	EnvFile          string `koanf:"env_file"`
	ComposeFile      string `koanf:"compose_file"`
	TLSDir           string `koanf:"tls_dir"`
	UID              int    `koanf:"uid" validate:"gte=0"`
	GID              int    `koanf:"gid" validate:"gte=0"`
	HealthURL        string `koanf:"health_url" validate:"omitempty,url"`
	HealthPort       int    `koanf:"health_port" validate:"gte=0,lte=65535"`
}

// DatabasePath is the live database on the host.
func (s ServiceConfig) DatabasePath() string {
	if filepath.IsAbs(s.DatabaseFile) {
		return s.DatabaseFile
	}
	return filepath.Join(s.DataDir, s.DatabaseFile)
}

// ContainerDatabasePath is the live database as seen inside the service container.
func (s ServiceConfig) ContainerDatabasePath() string {
	return filepath.ToSlash(filepath.Join(s.ContainerDataDir, filepath.Base(s.DatabaseFile)))
}

type BackupConfig struct {
	Dir             string        `koanf:"dir" validate:"required"`
	NamePrefix      string        `koanf:"name_prefix" validate:"required"`
	Encrypt         bool          `koanf:"encrypt"`
	AgeWorkFactor   int           `koanf:"age_work_factor" validate:"gte=0,lte=22"`
	RetentionDays   int           `koanf:"retention_days" validate:"gte=0"`
	MinInterval     time.Duration `koanf:"min_interval" validate:"gte=0"`
	HelperContainer string        `koanf:"helper_container"`
	HelperCommand   []string      `koanf:"helper_command"`
	DataExcludes    []string      `koanf:"data_excludes"`
	DumpTimeout     time.Duration `koanf:"dump_timeout" validate:"gt=0"`
}

type RemoteConfig struct {
	Type     string        `koanf:"type" validate:"omitempty,oneof=s3 local"`
	Prefix   string        `koanf:"prefix"`
	Retries  int           `koanf:"retries" validate:"gte=1,lte=20"`
	Backoff  time.Duration `koanf:"backoff" validate:"gte=0"`
	Timeout  time.Duration `koanf:"timeout" validate:"gt=0"`
	S3       S3Config      `koanf:"s3"`
	LocalDir string        `koanf:"local_dir"`
}

type S3Config struct {
	Bucket          string `koanf:"bucket"`
	Region          string `koanf:"region"`
	Endpoint        string `koanf:"endpoint" validate:"omitempty,url"`
	UsePathStyle    bool   `koanf:"use_path_style"`
	AccessKeyID     string `koanf:"access_key_id"`
	SecretAccessKey string `koanf:"secret_access_key"`
}

type ValidateConfig struct {
	MinSizeBytes int64 `koanf:"min_size_bytes" validate:"gte=0"`
}

type RestoreConfig struct {
	StopTimeout time.Duration `koanf:"stop_timeout" validate:"gt=0"`
	// SQLiteImage runs sqlite3 when the service image lacks it.
	SQLiteImage string `koanf:"sqlite_image"`
}

// RehearsalConfig bounds a rehearsal. MaxBackupAgeHours flags a stale newest
// backup; 0 disables the check.
type RehearsalConfig struct {
	Locations         []string      `koanf:"locations"`
	ReportDir         string        `koanf:"report_dir" validate:"required"`
	EssentialTables   []string      `koanf:"essential_tables" validate:"min=1"`
	KeyTables         []string      `koanf:"key_tables"`
	QueryTimeout      time.Duration `koanf:"query_timeout" validate:"gt=0"`
	MaxRestoreSeconds float64       `koanf:"max_restore_seconds" validate:"gt=0"`
	MaxBackupAgeHours float64       `koanf:"max_backup_age_hours" validate:"gte=0"`
}

type RebuildConfig struct {
	MinCPUs          int           `koanf:"min_cpus" validate:"gte=0"`
	MinMemoryMB      int           `koanf:"min_memory_mb" validate:"gte=0"`
	MinDiskGB        int           `koanf:"min_disk_gb" validate:"gte=0"`
	Architectures    []string      `koanf:"architectures"`
	MinDockerVersion string        `koanf:"min_docker_version"`
	ProvisionCommand []string      `koanf:"provision_command"`
	DeployCommand    []string      `koanf:"deploy_command"`
	HealthRetries    int           `koanf:"health_retries" validate:"gte=1"`
	HealthInterval   time.Duration `koanf:"health_interval" validate:"gte=0"`
}

type NotifyConfig struct {
	WebhookURL string        `koanf:"webhook_url" validate:"omitempty,url"`
	Recipient  string        `koanf:"recipient"`
	Timeout    time.Duration `koanf:"timeout" validate:"gt=0"`
	OnSuccess  bool          `koanf:"on_success"`
}

type SecretsConfig struct {
	Provider string   `koanf:"provider" validate:"oneof=env file command"`
	Dir      string   `koanf:"dir"`
	Command  []string `koanf:"command"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

type MetricsConfig struct {
	TextfileDir string `koanf:"textfile_dir"`
}

func (c *Config) LockDir() string {
	return filepath.Join(c.StateDir, "locks")
}
