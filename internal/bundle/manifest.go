package bundle

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/aelpxy/vaultkeep/internal/utils"
	"github.com/aelpxy/vaultkeep/pkg/models"
)

func ValidateCommands(path string) []string {
	name := filepath.Base(path)
	return []string{
		fmt.Sprintf("sha256sum -c %s.sha256", name),
		fmt.Sprintf("vaultkeep validate %s --deep", path),
	}
}

func RestoreCommands(path string, encrypted bool) []string {
	name := filepath.Base(path)
	plain := strings.TrimSuffix(name, ".age")

	cmds := []string{fmt.Sprintf("vaultkeep restore %s", path)}
	cmds = append(cmds, "# manual restore:")
	if encrypted {
		cmds = append(cmds, fmt.Sprintf("age -d -o %s %s", plain, name))
	}
	cmds = append(cmds,
		fmt.Sprintf("mkdir restore && tar -xzf %s -C restore", plain),
		"tar -xzf restore/"+models.BundleDataFile+" -C <data_dir>",
		"rm -f <data_dir>/db.sqlite3 <data_dir>/db.sqlite3-wal <data_dir>/db.sqlite3-shm",
		"sqlite3 <data_dir>/db.sqlite3 < restore/"+models.BundleDatabaseFile,
		"tar -xzf restore/"+models.BundleConfigFile+" -C <config_dir>",
		"tar -xzf restore/"+models.BundleTLSFile+" -C <tls_dir>   # when present",
	)
	return cmds
}

// RenderText is the human readable manifest sidecar.
func RenderText(m *models.Manifest, fileName string, sums models.ChecksumPair) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "vaultkeep backup manifest\n")
	fmt.Fprintf(&b, "=========================\n\n")
	fmt.Fprintf(&b, "archive:     %s\n", fileName)
	fmt.Fprintf(&b, "name:        %s\n", m.Name)
	fmt.Fprintf(&b, "created:     %s\n", m.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "host:        %s\n", m.Host)
	fmt.Fprintf(&b, "service:     %s\n", m.ServiceName)
	fmt.Fprintf(&b, "tool:        vaultkeep %s\n", m.ToolVersion)
	fmt.Fprintf(&b, "sha256:      %s\n", sums.Strong)
	fmt.Fprintf(&b, "xxh64:       %s\n", sums.Fast)
	if m.DatabaseEmpty {
		fmt.Fprintf(&b, "note:        database was absent at backup time (empty backup)\n")
	}

	fmt.Fprintf(&b, "\ncomponents:\n")
	for _, c := range m.Components {
		flags := ""
		if c.Empty {
			flags = " (empty)"
		}
		if c.Method != "" {
			flags += " via " + c.Method
		}
		fmt.Fprintf(&b, "  %-10s %-18s %10s  %s%s\n", c.Name, c.File, utils.FormatBytes(c.SizeBytes), utils.TruncateString(c.SHA256, 16), flags)
	}
	fmt.Fprintf(&b, "  %-10s %-18s %10s\n", "total", "", utils.FormatBytes(m.TotalSize()))

	fmt.Fprintf(&b, "\nvalidate:\n")
	for _, c := range m.ValidateCommands {
		fmt.Fprintf(&b, "  %s\n", c)
	}
	fmt.Fprintf(&b, "\nrestore:\n")
	for _, c := range m.RestoreCommands {
		fmt.Fprintf(&b, "  %s\n", c)
	}
	return []byte(b.String())
}
