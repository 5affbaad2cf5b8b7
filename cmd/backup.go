package cmd

import (
	"fmt"
	"os"

	"github.com/aelpxy/vaultkeep/internal/backup"
	"github.com/aelpxy/vaultkeep/internal/snapshot"
	"github.com/aelpxy/vaultkeep/internal/utils"
	"github.com/aelpxy/vaultkeep/pkg/models"
	"github.com/spf13/cobra"
)

var backupForce bool

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create a backup archive",
	Long:  "Dump the database, pack the data, config and TLS directories, write checksums and replicate the archive",
	Args:  cobra.NoArgs,
	Run:   runBackup,
}

func runBackup(cmd *cobra.Command, args []string) {
	ctx, cancel := signalContext()
	defer cancel()

	e := mustSetup(ctx)
	defer e.close()
	cfg := e.cfg

	rep, err := e.replicator(ctx)
	if err != nil {
		fatal("failed to configure remote", err)
	}
	registry, err := backup.NewRunRegistry(cfg.StateDir)
	if err != nil {
		fatal("failed to open run registry", err)
	}

	var exec snapshot.Execer
	var insp snapshot.ServiceInspector
	if e.docker != nil {
		exec, insp = e.docker, e.docker
	}
	dumper := snapshot.NewDumper(e.logger, cfg.Backup.DumpTimeout,
		&snapshot.HelperStrategy{Exec: exec, Container: cfg.Backup.HelperContainer, Command: cfg.Backup.HelperCommand},
		&snapshot.DirectStrategy{Path: cfg.Service.DatabasePath()},
		&snapshot.ServiceStrategy{Exec: exec, Container: cfg.Service.Container, Path: cfg.Service.ContainerDatabasePath()},
	)

	o := backup.NewOrchestrator(backup.Deps{
		Config:     cfg,
		Dumper:     dumper,
		Inspector:  insp,
		Encryptor:  e.enc,
		Replicator: rep,
		Notifier:   e.notifier,
		Locks:      e.locks,
		Registry:   registry,
		Metrics:    e.metrics,
		Logger:     e.logger,
		Version:    version,
		Progress:   func(stage string) { step(stage) },
	})

	fmt.Println(titleStyle.Render(fmt.Sprintf("==> backing up %s", cfg.Service.Container)))
	fmt.Println()

	run, err := o.Run(ctx, backup.Options{Force: backupForce})
	fmt.Println()

	if run.Skipped {
		fmt.Println(dimStyle.Render("  a recent backup exists; pass --force to run anyway"))
		return
	}

	switch run.Outcome {
	case models.OutcomeSuccess:
		done("backup created")
	case models.OutcomePartial:
		warnLine("backup created but not replicated")
		fmt.Println(dimStyle.Render("    " + run.ReplicationError))
	default:
		errLine(fmt.Sprintf("backup failed at %s: %v", run.FailedStage, err))
		os.Exit(run.Outcome.ExitCode())
	}
	fmt.Println()

	arc := run.Archive
	fmt.Println(labelStyle.Render("  archive:"))
	detail("path", arc.Path)
	detail("size", utils.FormatBytes(arc.SizeBytes))
	detail("components", fmt.Sprintf("%v", arc.ComponentNames()))
	detail("encrypted", fmt.Sprintf("%t", arc.Encrypted))
	detail("sha256", arc.Checksums.Strong)
	if arc.RemoteURI != "" {
		detail("remote", arc.RemoteURI)
	}
	if len(run.Pruned) > 0 {
		detail("pruned", fmt.Sprintf("%d old archives", len(run.Pruned)))
	}
	detail("took", utils.FormatDuration(run.Duration))
	fmt.Println()

	fmt.Println(dimStyle.Render(fmt.Sprintf("  verify with: vaultkeep validate %s --deep", arc.Path)))
	fmt.Println()
	os.Exit(run.Outcome.ExitCode())
}

func init() {
	backupCmd.Flags().BoolVar(&backupForce, "force", false, "run even if a backup newer than backup.min_interval exists")
	rootCmd.AddCommand(backupCmd)
}
