package rebuild

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	goruntime "runtime"
	"slices"

	"github.com/Masterminds/semver/v3"
	"github.com/aelpxy/vaultkeep/internal/config"
	"github.com/aelpxy/vaultkeep/pkg/models"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// Versioner reports the container engine version; a nil Versioner means
// no engine is reachable.
type Versioner interface {
	ServerVersion(ctx context.Context) (string, error)
}

// Facts describe the host a rebuild is about to land on. Zero values mean
// the fact could not be measured.
type Facts struct {
	CPUs          int
	MemoryMB      uint64
	DiskFreeGB    uint64
	Arch          string
	DockerVersion string
}

// GatherFacts measures the host. dir is the filesystem the data will live on.
func GatherFacts(ctx context.Context, dir string, v Versioner) Facts {
	f := Facts{Arch: goruntime.GOARCH}

	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		f.CPUs = n
	} else {
		f.CPUs = goruntime.NumCPU()
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		f.MemoryMB = vm.Total / (1 << 20)
	}
	if usage, err := disk.UsageWithContext(ctx, existingParent(dir)); err == nil {
		f.DiskFreeGB = usage.Free / (1 << 30)
	}
	if v != nil {
		if ver, err := v.ServerVersion(ctx); err == nil {
			f.DockerVersion = ver
		}
	}
	return f
}

// Preflight grades the host against the configured minimums. Every check is
// advisory except a missing container engine, which the coordinator acts on.
func Preflight(f Facts, cfg config.RebuildConfig) []models.PreflightCheck {
	var checks []models.PreflightCheck
	add := func(name string, ok bool, detail string) {
		status := models.CheckPass
		if !ok {
			status = models.CheckWarn
		}
		checks = append(checks, models.PreflightCheck{Name: name, Status: status, Detail: detail})
	}

	add("cpus", f.CPUs >= cfg.MinCPUs, fmt.Sprintf("%d (minimum %d)", f.CPUs, cfg.MinCPUs))
	add("memory", f.MemoryMB >= uint64(cfg.MinMemoryMB), fmt.Sprintf("%d MB (minimum %d MB)", f.MemoryMB, cfg.MinMemoryMB))
	add("disk", f.DiskFreeGB >= uint64(cfg.MinDiskGB), fmt.Sprintf("%d GB free (minimum %d GB)", f.DiskFreeGB, cfg.MinDiskGB))
	if len(cfg.Architectures) > 0 {
		add("arch", slices.Contains(cfg.Architectures, f.Arch), fmt.Sprintf("%s (supported %v)", f.Arch, cfg.Architectures))
	}
	checks = append(checks, dockerCheck(f.DockerVersion, cfg.MinDockerVersion))
	return checks
}

const CheckDocker = "docker"

func dockerCheck(version, minimum string) models.PreflightCheck {
	c := models.PreflightCheck{Name: CheckDocker}
	if version == "" {
		c.Status = models.CheckFail
		c.Detail = "no container engine reachable"
		return c
	}
	if minimum == "" {
		c.Status = models.CheckPass
		c.Detail = version
		return c
	}

	have, err := semver.NewVersion(version)
	if err != nil {
		c.Status = models.CheckWarn
		c.Detail = fmt.Sprintf("unrecognised version %q", version)
		return c
	}
	constraint, err := semver.NewConstraint(">= " + minimum)
	if err != nil {
		c.Status = models.CheckWarn
		c.Detail = fmt.Sprintf("invalid minimum %q: %v", minimum, err)
		return c
	}

	c.Detail = fmt.Sprintf("%s (minimum %s)", have, minimum)
	if constraint.Check(have) {
		c.Status = models.CheckPass
	} else {
		c.Status = models.CheckWarn
	}
	return c
}

// existingParent walks up to the nearest directory that exists; a rebuild
// target usually has not been created yet.
func existingParent(dir string) string {
	for d := filepath.Clean(dir); ; d = filepath.Dir(d) {
		if _, err := os.Stat(d); err == nil {
			return d
		}
		if d == filepath.Dir(d) {
			return d
		}
	}
}
