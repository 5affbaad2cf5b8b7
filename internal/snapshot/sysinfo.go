package snapshot

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/aelpxy/vaultkeep/internal/utils"
)

// ServiceInspector reports what the container runtime knows about the service.
type ServiceInspector interface {
	ServerVersion(ctx context.Context) (string, error)
	ContainerStatus(ctx context.Context, name string) (string, error)
	ContainerImage(ctx context.Context, name string) (string, error)
}

type SystemInfo struct {
	Host           string
	CollectedAt    time.Time
	OS             string
	Arch           string
	CPUs           int
	ToolVersion    string
	RuntimeVersion string
	Container      string
	ContainerState string
	Image          string
	DatabasePath   string
	DatabaseSize   int64
}

// CollectSystemInfo never fails: anything it cannot learn is recorded as unknown.
func CollectSystemInfo(ctx context.Context, insp ServiceInspector, container, dbPath, version string) SystemInfo {
	host, _ := os.Hostname()
	info := SystemInfo{
		Host:           host,
		CollectedAt:    time.Now().UTC(),
		OS:             runtime.GOOS,
		Arch:           runtime.GOARCH,
		CPUs:           runtime.NumCPU(),
		ToolVersion:    version,
		Container:      container,
		DatabasePath:   dbPath,
		RuntimeVersion: "unknown",
		ContainerState: "unknown",
		Image:          "unknown",
	}

	if st, err := os.Stat(dbPath); err == nil {
		info.DatabaseSize = st.Size()
	}

	if insp != nil {
		if v, err := insp.ServerVersion(ctx); err == nil {
			info.RuntimeVersion = v
		}
		if s, err := insp.ContainerStatus(ctx, container); err == nil {
			info.ContainerState = s
		}
		if img, err := insp.ContainerImage(ctx, container); err == nil {
			info.Image = img
		}
	}
	return info
}

func (s SystemInfo) Render() []byte {
	fields := map[string]string{
		"host":            s.Host,
		"collected_at":    s.CollectedAt.Format(time.RFC3339),
		"os":              s.OS,
		"arch":            s.Arch,
		"cpus":            fmt.Sprint(s.CPUs),
		"vaultkeep":       s.ToolVersion,
		"runtime_version": s.RuntimeVersion,
		"container":       s.Container,
		"container_state": s.ContainerState,
		"image":           s.Image,
		"database":        s.DatabasePath,
		"database_size":   utils.FormatBytes(s.DatabaseSize),
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("# vaultkeep system snapshot\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "%-16s %s\n", k+":", fields[k])
	}
	return []byte(b.String())
}
