package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/aelpxy/vaultkeep/internal/rehearsal"
	"github.com/aelpxy/vaultkeep/internal/utils"
	"github.com/aelpxy/vaultkeep/pkg/models"
	"github.com/spf13/cobra"
)

var rehearseInteractive bool

var rehearseCmd = &cobra.Command{
	Use:   "rehearse",
	Short: "Run a disaster-recovery rehearsal",
	Long: "Restore the newest backup into a throwaway database, check its integrity and contents,\n" +
		"and write a DR report. Silent by default so it can run from a scheduler; the exit code\n" +
		"is 0 for SUCCESS, 1 for WARNING and 2 for FAILURE.",
	Args: cobra.NoArgs,
	Run:  runRehearse,
}

func runRehearse(cmd *cobra.Command, args []string) {
	ctx, cancel := signalContext()
	defer cancel()

	e := mustSetup(ctx)
	defer e.close()
	cfg := e.cfg

	if rehearseInteractive {
		fmt.Println(titleStyle.Render("==> disaster-recovery rehearsal"))
		detail("locations", strings.Join(cfg.Rehearsal.Locations, ", "))
		detail("reports", cfg.Rehearsal.ReportDir)
		fmt.Println()
		ok, err := confirm("Start the rehearsal? Production data is not touched.")
		if err != nil {
			fatal("confirmation failed", err)
		}
		if !ok {
			os.Exit(models.ExitWarning)
		}
	}

	progress := func(string) {}
	if rehearseInteractive {
		progress = func(s string) { step(s) }
	}
	h := rehearsal.NewHarness(rehearsal.Deps{
		Config:    cfg,
		Encryptor: e.enc,
		Validator: e.validator(),
		Notifier:  e.notifier,
		Locks:     e.locks,
		Metrics:   e.metrics,
		Logger:    e.logger,
		Progress:  progress,
	})

	report, err := h.Run(ctx)
	if report == nil {
		errLine(fmt.Sprintf("rehearsal could not start: %v", err))
		os.Exit(exitCode(err))
	}
	if err != nil {
		e.logger.Error("rehearsal report not saved", "err", err)
	}

	if rehearseInteractive {
		printDRReport(report, rehearsal.ReportPath(cfg.Rehearsal.ReportDir, report))
	}
	os.Exit(report.TestResult.ExitCode())
}

func printDRReport(r *models.DRTestReport, path string) {
	fmt.Println()
	switch r.TestResult {
	case models.DRSuccess:
		done("rehearsal SUCCESS")
	case models.DRWarning:
		warnLine("rehearsal WARNING")
	default:
		errLine("rehearsal FAILURE")
	}
	fmt.Println()

	fmt.Println(labelStyle.Render("  backup:"))
	detail("path", r.BackupInfo.Path)
	detail("format", r.BackupInfo.Format)
	detail("size", utils.FormatBytes(r.BackupInfo.Size))
	detail("age", fmt.Sprintf("%.1f hours", r.BackupInfo.AgeHours))
	fmt.Println()

	stats := r.DatabaseStats
	fmt.Println(labelStyle.Render("  database:"))
	detail("tables ok", fmt.Sprintf("%d/%d", stats.EssentialTablesFound, stats.EssentialTablesExpected))
	detail("integrity", stats.Integrity)
	for table, n := range stats.RowCounts {
		detail(table, fmt.Sprintf("%d rows", n))
	}
	detail("restored in", fmt.Sprintf("%.2fs", r.Performance.RestorationSeconds))
	detail("queries", fmt.Sprintf("%d/%d passed", r.Performance.QueriesPassed, r.Performance.QueriesTotal))
	fmt.Println()

	for _, w := range r.Warnings {
		fmt.Println(warnStyle.Render("    ! " + w))
	}
	for _, e := range r.Errors {
		fmt.Println(errorStyle.Render("    x " + e))
	}
	fmt.Println(dimStyle.Render("  report: " + path))
	fmt.Println()
}

func init() {
	rehearseCmd.Flags().BoolVarP(&rehearseInteractive, "interactive", "i", false, "confirm before starting and print a readable summary")
	rootCmd.AddCommand(rehearseCmd)
}
