package models

import "time"

type ComponentName string

const (
	ComponentDatabase   ComponentName = "database"
	ComponentData       ComponentName = "data"
	ComponentConfig     ComponentName = "config"
	ComponentTLS        ComponentName = "tls"
	ComponentSystemInfo ComponentName = "sysinfo"
)

// paths of each component inside a bundle
const (
	BundleDatabaseFile   = "database/db.sql"
	BundleDataFile       = "data.tar.gz"
	BundleConfigFile     = "config.tar.gz"
	BundleTLSFile        = "tls.tar.gz"
	BundleSystemInfoFile = "system-info.txt"
	BundleManifestFile   = "MANIFEST.json"
)

const ManifestFormatVersion = 1

type ComponentInfo struct {
	Name      ComponentName `json:"name"`
	File      string        `json:"file"`
	SizeBytes int64         `json:"size_bytes"`
	SHA256    string        `json:"sha256"`
	Optional  bool          `json:"optional,omitempty"`
	Empty     bool          `json:"empty,omitempty"`
	Source    string        `json:"source,omitempty"`
	Method    string        `json:"method,omitempty"`
	Entries   int           `json:"entries,omitempty"`
}

// ChecksumPair holds the fast and strong digests of the final archive bytes.
type ChecksumPair struct {
	Fast   string `json:"xxh64"`
	Strong string `json:"sha256"`
}

type BackupArchive struct {
	Name       string          `json:"name"`
	CreatedAt  time.Time       `json:"created_at"`
	Path       string          `json:"path"`
	RemoteURI  string          `json:"remote_uri,omitempty"`
	SizeBytes  int64           `json:"size_bytes"`
	Encrypted  bool            `json:"encrypted"`
	Components []ComponentInfo `json:"components"`
	Checksums  ChecksumPair    `json:"checksums"`
}

func (a *BackupArchive) ComponentNames() []string {
	names := make([]string, 0, len(a.Components))
	for _, c := range a.Components {
		names = append(names, string(c.Name))
	}
	return names
}

// Manifest describes a bundle. It is written as MANIFEST.json inside the
// bundle and rendered as a text sidecar next to it.
type Manifest struct {
	FormatVersion    int             `json:"format_version"`
	Name             string          `json:"name"`
	CreatedAt        time.Time       `json:"created_at"`
	Host             string          `json:"host"`
	ToolVersion      string          `json:"tool_version"`
	ServiceName      string          `json:"service_name"`
	DatabaseEmpty    bool            `json:"database_empty"`
	Components       []ComponentInfo `json:"components"`
	ValidateCommands []string        `json:"validate_commands,omitempty"`
	RestoreCommands  []string        `json:"restore_commands,omitempty"`
}

func (m *Manifest) Component(name ComponentName) (ComponentInfo, bool) {
	for _, c := range m.Components {
		if c.Name == name {
			return c, true
		}
	}
	return ComponentInfo{}, false
}

func (m *Manifest) TotalSize() int64 {
	var total int64
	for _, c := range m.Components {
		total += c.SizeBytes
	}
	return total
}

type RunOutcome string

const (
	OutcomeSuccess RunOutcome = "SUCCESS"
	OutcomePartial RunOutcome = "PARTIAL"
	OutcomeFailed  RunOutcome = "FAILED"
)

func (o RunOutcome) ExitCode() int {
	switch o {
	case OutcomeSuccess:
		return ExitOK
	case OutcomePartial:
		return ExitWarning
	default:
		return ExitFailure
	}
}

// BackupRun is the result of one orchestrator invocation.
type BackupRun struct {
	ID               string         `json:"id"`
	Outcome          RunOutcome     `json:"outcome"`
	Archive          *BackupArchive `json:"archive,omitempty"`
	StartedAt        time.Time      `json:"started_at"`
	Duration         time.Duration  `json:"duration"`
	FailedStage      string         `json:"failed_stage,omitempty"`
	Error            string         `json:"error,omitempty"`
	ReplicationError string         `json:"replication_error,omitempty"`
	Pruned           []string       `json:"pruned,omitempty"`
	Skipped          bool           `json:"skipped,omitempty"`
}
