package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/aelpxy/vaultkeep/internal/restore"
	"github.com/aelpxy/vaultkeep/pkg/models"
	"github.com/spf13/cobra"
)

var (
	restoreYes                bool
	restoreStopService        bool
	restoreSkipDeepValidation bool
)

var restoreCmd = &cobra.Command{
	Use:   "restore <archive>",
	Short: "Restore a backup archive onto this host",
	Long:  "Validate, extract and restore an archive over the configured vaultwarden data, database, config and TLS directories",
	Args:  cobra.ExactArgs(1),
	Run:   runRestore,
}

func runRestore(cmd *cobra.Command, args []string) {
	archivePath := args[0]
	ctx, cancel := signalContext()
	defer cancel()

	e := mustSetup(ctx)
	defer e.close()

	target := restore.TargetFromConfig(e.cfg)
	if !restoreYes {
		fmt.Println(titleStyle.Render("==> restore will replace"))
		detail("database", target.DatabasePath)
		detail("data", target.DataDir)
		detail("config", target.ConfigDir)
		detail("tls", target.TLSDir)
		fmt.Println()
		ok, err := confirm(fmt.Sprintf("Replace the current vault with %s?", archivePath))
		if err != nil {
			fatal("confirmation failed", err)
		}
		if !ok {
			fmt.Println(dimStyle.Render("  restore cancelled"))
			os.Exit(models.ExitWarning)
		}
	}

	r := newRestorer(e)

	fmt.Println(titleStyle.Render(fmt.Sprintf("==> restoring %s", archivePath)))
	fmt.Println()

	plan, err := r.Restore(ctx, archivePath, target, restore.Options{
		StopService: restoreStopService,
		Shallow:     restoreSkipDeepValidation,
	})
	fmt.Println()
	printPlan(plan)

	if err != nil {
		errLine(fmt.Sprintf("restore failed at %s: %v", plan.FailedStage(), err))
		fmt.Println(dimStyle.Render("    stages before the failure are complete; fix the cause and run restore again"))
		os.Exit(plan.ExitCode())
	}

	done(fmt.Sprintf("restore complete (database loaded via %s)", plan.Method))
	fmt.Println()
	fmt.Println(dimStyle.Render(fmt.Sprintf("  start the service with: docker start %s", e.cfg.Service.Container)))
	fmt.Println()
	os.Exit(plan.ExitCode())
}

func newRestorer(e *env) *restore.Restorer {
	var rt restore.Runtime
	if e.docker != nil {
		rt = e.docker
	}
	return restore.NewRestorer(restore.Deps{
		Config:     e.cfg,
		Validator:  e.validator(),
		Encryptor:  e.enc,
		Runtime:    rt,
		Strategies: restore.DefaultStrategies(e.cfg, rt),
		Locks:      e.locks,
		Logger:     e.logger,
		Progress:   func(s models.RestoreStage) { step(string(s)) },
	})
}

func printPlan(plan *models.RestorePlan) {
	rows := make([][]string, 0, len(plan.Stages))
	for _, s := range plan.Stages {
		took := ""
		if s.Duration > 0 {
			took = s.Duration.Round(time.Millisecond).String()
		}
		rows = append(rows, []string{string(s.Stage), stateText(s.State), s.Detail, took})
	}

	fmt.Println(newTable(rows, "stage", "state", "detail", "took"))
	fmt.Println()

	if len(plan.Advisories) > 0 {
		fmt.Println(labelStyle.Render("  advisories:"))
		for _, a := range plan.Advisories {
			fmt.Println(infoStyle.Render("    - " + a))
		}
		fmt.Println()
	}
}

func stateText(s models.StageState) string {
	switch s {
	case models.StateCompleted:
		return successStyle.Render(string(s))
	case models.StateFailed:
		return errorStyle.Render(string(s))
	case models.StateSkipped:
		return warnStyle.Render(string(s))
	default:
		return dimStyle.Render(string(s))
	}
}

func init() {
	restoreCmd.Flags().BoolVarP(&restoreYes, "yes", "y", false, "do not ask for confirmation")
	restoreCmd.Flags().BoolVar(&restoreStopService, "stop-service", false, "stop the running service container first")
	restoreCmd.Flags().BoolVar(&restoreSkipDeepValidation, "skip-validate-deep", false, "validate checksums and listing only")
	rootCmd.AddCommand(restoreCmd)
}
