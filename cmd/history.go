package cmd

import (
	"fmt"
	"strconv"

	"github.com/aelpxy/vaultkeep/internal/rehearsal"
	"github.com/aelpxy/vaultkeep/pkg/models"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past disaster-recovery rehearsals",
	Args:  cobra.NoArgs,
	Run:   runHistory,
}

func runHistory(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		fatal("no configuration", err)
	}

	reports, err := rehearsal.History(cfg.Rehearsal.ReportDir)
	if err != nil {
		fatal("failed to read rehearsal history", err)
	}
	fmt.Println(titleStyle.Render(fmt.Sprintf("==> rehearsals in %s", cfg.Rehearsal.ReportDir)))
	fmt.Println()
	if len(reports) == 0 {
		fmt.Println(dimStyle.Render("  no rehearsals recorded"))
		fmt.Println()
		return
	}

	// history is appended oldest first
	if len(reports) > historyLimit {
		reports = reports[len(reports)-historyLimit:]
	}
	rows := make([][]string, 0, len(reports))
	for i := len(reports) - 1; i >= 0; i-- {
		r := reports[i]
		rows = append(rows, []string{
			r.TestDate.Local().Format("2006-01-02 15:04:05"),
			resultText(r.TestResult),
			r.BackupInfo.Format,
			fmt.Sprintf("%d/%d", r.DatabaseStats.EssentialTablesFound, r.DatabaseStats.EssentialTablesExpected),
			fmt.Sprintf("%.2fs", r.Performance.RestorationSeconds),
			strconv.Itoa(len(r.Warnings)) + "/" + strconv.Itoa(len(r.Errors)),
		})
	}
	fmt.Println(newTable(rows, "date", "result", "format", "tables", "restore", "warn/err"))
	fmt.Println()
}

func resultText(r models.DRResult) string {
	switch r {
	case models.DRSuccess:
		return successStyle.Render(string(r))
	case models.DRWarning:
		return warnStyle.Render(string(r))
	default:
		return errorStyle.Render(string(r))
	}
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of rehearsals to show")
	rootCmd.AddCommand(historyCmd)
}
