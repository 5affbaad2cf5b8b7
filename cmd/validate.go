package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/aelpxy/vaultkeep/internal/bundle"
	"github.com/aelpxy/vaultkeep/internal/remote"
	"github.com/aelpxy/vaultkeep/pkg/models"
	"github.com/spf13/cobra"
)

var (
	validateLatest bool
	validateAll    bool
	validateDeep   bool
	validateRemote bool
)

var validateCmd = &cobra.Command{
	Use:   "validate [archive]",
	Short: "Verify backup archives",
	Long:  "Check size, checksums, listing and manifest of an archive; --deep also extracts it and loads the database dump",
	Args:  cobra.MaximumNArgs(1),
	Run:   runValidate,
}

func runValidate(cmd *cobra.Command, args []string) {
	ctx, cancel := signalContext()
	defer cancel()

	e := mustSetup(ctx)
	defer e.close()

	depth := models.DepthShallow
	if validateDeep {
		depth = models.DepthDeep
	}
	v := e.validator()

	var rep *remote.Replicator
	if validateRemote {
		r, err := e.replicator(ctx)
		if err != nil {
			fatal("failed to configure remote", err)
		}
		if !r.Enabled() {
			fatal("nothing to validate", fmt.Errorf("no remote configured"))
		}
		rep = r
	}

	targets, err := validateTargets(ctx, e, rep, args)
	if err != nil {
		fatal("nothing to validate", err)
	}

	worst := models.ExitOK
	for _, target := range targets {
		fmt.Println(titleStyle.Render(fmt.Sprintf("==> validating %s (%s)", target, depth)))
		fmt.Println()

		var report *models.ValidationReport
		if rep != nil {
			report = v.ValidateRemote(ctx, rep, target, depth)
		} else {
			report = v.Validate(ctx, target, depth)
		}
		printReport(report)

		worst = max(worst, report.ExitCode())
		if ctx.Err() != nil {
			break
		}
	}
	os.Exit(worst)
}

func validateTargets(ctx context.Context, e *env, rep *remote.Replicator, args []string) ([]string, error) {
	if len(args) == 1 {
		return args, nil
	}

	if rep != nil {
		objects, err := rep.Archives(ctx, bundle.IsBundle)
		if err != nil {
			return nil, err
		}
		if len(objects) == 0 {
			return nil, models.Precondition("no archives in remote")
		}
		if !validateAll {
			return []string{objects[0].Key}, nil
		}
		keys := make([]string, 0, len(objects))
		for _, o := range objects {
			keys = append(keys, o.Key)
		}
		return keys, nil
	}

	if validateAll {
		entries, err := bundle.Scan(e.cfg.Backup.Dir)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			return nil, models.Precondition("no archives in %s", e.cfg.Backup.Dir)
		}
		paths := make([]string, 0, len(entries))
		for _, entry := range entries {
			paths = append(paths, entry.Path)
		}
		return paths, nil
	}

	// no argument means the newest local archive
	latest, err := bundle.Latest(e.cfg.Backup.Dir)
	if err != nil {
		return nil, err
	}
	return []string{latest.Path}, nil
}

func printReport(r *models.ValidationReport) {
	rows := make([][]string, 0, len(r.Checks))
	for _, c := range r.Checks {
		rows = append(rows, []string{c.Name, statusText(c.Status), c.Detail})
	}

	fmt.Println(newTable(rows, "check", "status", "detail"))
	fmt.Println()

	switch r.ExitCode() {
	case models.ExitOK:
		done("archive is valid")
	case models.ExitWarning:
		warnLine(fmt.Sprintf("archive is usable with %d warnings", len(r.Warnings())))
	default:
		errLine(fmt.Sprintf("archive failed %d checks", len(r.Failures())))
		if len(r.Corrupt) > 0 {
			fmt.Println(dimStyle.Render(fmt.Sprintf("    corrupt: %v", r.Corrupt)))
		}
		if len(r.Missing) > 0 {
			fmt.Println(dimStyle.Render(fmt.Sprintf("    missing: %v", r.Missing)))
		}
	}
	fmt.Println()
}

func statusText(s models.CheckStatus) string {
	switch s {
	case models.CheckPass:
		return successStyle.Render(string(s))
	case models.CheckWarn:
		return warnStyle.Render(string(s))
	case models.CheckFail:
		return errorStyle.Render(string(s))
	default:
		return dimStyle.Render(string(s))
	}
}

func init() {
	validateCmd.Flags().BoolVar(&validateLatest, "latest", false, "validate the newest archive (default without an argument)")
	validateCmd.Flags().BoolVar(&validateAll, "all", false, "validate every archive")
	validateCmd.Flags().BoolVar(&validateDeep, "deep", false, "extract and load the database dump")
	validateCmd.Flags().BoolVar(&validateRemote, "remote", false, "validate archives in the remote target")
	validateCmd.MarkFlagsMutuallyExclusive("latest", "all")
	rootCmd.AddCommand(validateCmd)
}
