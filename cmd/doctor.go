package cmd

import (
	"fmt"
	"os"

	"github.com/aelpxy/vaultkeep/internal/lock"
	"github.com/aelpxy/vaultkeep/internal/rebuild"
	"github.com/aelpxy/vaultkeep/internal/runtime"
	"github.com/aelpxy/vaultkeep/pkg/models"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that this host can back up and restore the vault",
	Args:  cobra.NoArgs,
	Run:   runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) {
	ctx, cancel := signalContext()
	defer cancel()

	e := mustSetup(ctx)
	defer e.close()
	cfg := e.cfg

	var checks []models.PreflightCheck
	add := func(name string, status models.CheckStatus, detail string) {
		checks = append(checks, models.PreflightCheck{Name: name, Status: status, Detail: detail})
	}

	if src := e.loader.Source(); src != "" {
		add("config", models.CheckPass, src)
	} else {
		add("config", models.CheckWarn, "no config file; using defaults and environment")
	}

	info, err := runtime.DetectRuntime(ctx)
	if e.docker != nil {
		info, err = e.docker.RuntimeInfo(), nil
	}
	if err != nil {
		add("runtime", models.CheckWarn, err.Error())
	} else {
		status := models.CheckPass
		detail := fmt.Sprintf("%s %s at %s", info.GetRuntimeName(), info.Version, info.SocketPath)
		if !info.ServiceActive {
			status = models.CheckWarn
			detail += " (socket inactive)"
		}
		add("runtime", status, detail)
	}

	var versioner rebuild.Versioner
	if e.docker != nil {
		versioner = e.docker
	}
	checks = append(checks, rebuild.Preflight(rebuild.GatherFacts(ctx, cfg.Service.DataDir, versioner), cfg.Rebuild)...)

	pathCheck := func(name, path string, required bool) {
		switch _, err := os.Stat(path); {
		case err == nil:
			add(name, models.CheckPass, path)
		case required:
			add(name, models.CheckFail, err.Error())
		default:
			add(name, models.CheckWarn, err.Error())
		}
	}
	pathCheck("data dir", cfg.Service.DataDir, true)
	pathCheck("database", cfg.Service.DatabasePath(), true)
	pathCheck("backup dir", cfg.Backup.Dir, false)
	if cfg.Service.EnvFile != "" {
		pathCheck("env file", cfg.Service.EnvFile, false)
	}

	switch {
	case e.enc != nil:
		add("passphrase", models.CheckPass, "available")
	case cfg.Backup.Encrypt:
		add("passphrase", models.CheckFail, "encryption is enabled but no passphrase is available")
	default:
		add("passphrase", models.CheckWarn, "archives will not be encrypted")
	}

	if cfg.Remote.Type == "" {
		add("remote", models.CheckWarn, "no off-site copy configured")
	} else {
		add("remote", models.CheckPass, cfg.Remote.Type)
	}

	for _, name := range []string{lock.Pipeline, lock.Rehearsal} {
		if e.locks.IsLocked(name) {
			add("lock "+name, models.CheckWarn, "held by a running process")
		}
	}

	fmt.Println(titleStyle.Render("==> vaultkeep doctor"))
	fmt.Println()
	rows := make([][]string, 0, len(checks))
	worst := models.ExitOK
	for _, c := range checks {
		rows = append(rows, []string{c.Name, statusText(c.Status), c.Detail})
		switch c.Status {
		case models.CheckFail:
			worst = models.ExitFailure
		case models.CheckWarn:
			worst = max(worst, models.ExitWarning)
		}
	}
	fmt.Println(newTable(rows, "check", "status", "detail"))
	fmt.Println()
	os.Exit(worst)
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
