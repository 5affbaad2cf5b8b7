package cmd

import (
	"fmt"

	"github.com/aelpxy/vaultkeep/internal/backup"
	"github.com/aelpxy/vaultkeep/internal/bundle"
	"github.com/aelpxy/vaultkeep/internal/utils"
	"github.com/aelpxy/vaultkeep/pkg/models"
	"github.com/spf13/cobra"
)

var listRuns int

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List local archives and recent backup runs",
	Args:    cobra.NoArgs,
	Run:     runList,
}

func runList(cmd *cobra.Command, args []string) {
	ctx, cancel := signalContext()
	defer cancel()

	e := mustSetup(ctx)
	defer e.close()
	cfg := e.cfg

	entries, err := bundle.Scan(cfg.Backup.Dir)
	if err != nil {
		fatal("failed to read archives", err)
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("==> archives in %s", cfg.Backup.Dir)))
	fmt.Println()
	if len(entries) == 0 {
		fmt.Println(dimStyle.Render("  no archives yet"))
	} else {
		rows := make([][]string, 0, len(entries))
		for _, entry := range entries {
			enc := "no"
			if entry.Encrypted {
				enc = "yes"
			}
			rows = append(rows, []string{
				entry.Name,
				utils.FormatBytes(entry.Size),
				entry.ModTime.Local().Format("2006-01-02 15:04:05"),
				enc,
			})
		}
		fmt.Println(newTable(rows, "name", "size", "created", "encrypted"))
	}
	fmt.Println()

	registry, err := backup.NewRunRegistry(cfg.StateDir)
	if err != nil {
		fatal("failed to read run history", err)
	}
	runs := registry.List()
	if len(runs) == 0 {
		return
	}
	if len(runs) > listRuns {
		runs = runs[:listRuns]
	}

	fmt.Println(titleStyle.Render("==> recent runs"))
	fmt.Println()
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		note := run.Error
		switch {
		case run.Skipped:
			note = "skipped: previous backup is recent"
		case note == "" && run.ReplicationError != "":
			note = "replication: " + run.ReplicationError
		}
		rows = append(rows, []string{
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			outcomeText(run.Outcome),
			utils.FormatDuration(run.Duration),
			utils.TruncateString(note, 60),
		})
	}
	fmt.Println(newTable(rows, "started", "outcome", "took", "note"))
	fmt.Println()
}

func outcomeText(o models.RunOutcome) string {
	switch o {
	case models.OutcomeSuccess:
		return successStyle.Render(string(o))
	case models.OutcomePartial:
		return warnStyle.Render(string(o))
	default:
		return errorStyle.Render(string(o))
	}
}

func init() {
	listCmd.Flags().IntVarP(&listRuns, "runs", "n", 10, "number of recent runs to show")
	rootCmd.AddCommand(listCmd)
}
