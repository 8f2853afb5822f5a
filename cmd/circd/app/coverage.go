package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
)

var coverageCmd = &cobra.Command{
	Use:   "coverage [type] [identifier]",
	Short: "Run one coverage provider batch",
	Long: `Select one batch of identifiers still needing the named coverage type and
attempt to produce coverage for each. Runs every configured coverage type
when no type is given.

With --force, the named identifier's record is reset to pending first so
it is reattempted even after a permanent failure.`,
	Args: cobra.MaximumNArgs(2),
	RunE: runCoverage,
}

func init() {
	coverageCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")
	coverageCmd.Flags().Bool("force", false, "Reset the named identifier to pending before running")
	if err := coverageCmd.MarkFlagRequired("config"); err != nil {
		panic(err)
	}
}

func runCoverage(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return err
	}
	if force && len(args) < 2 {
		return fmt.Errorf("--force requires a coverage type and an identifier")
	}
	if len(args) == 2 && !force {
		return fmt.Errorf("an identifier is only meaningful with --force")
	}

	app, err := buildFromFlags(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	if len(app.coverageJobs) == 0 {
		return fmt.Errorf("no coverage types configured")
	}

	if force {
		if err := app.ledger.ForceRefresh(ctx, args[1], args[0], app.clk.Now()); err != nil {
			return fmt.Errorf("forcing refresh of %s/%s: %w", args[0], args[1], err)
		}
		slog.Info("Coverage record reset to pending",
			"coverage_type", args[0],
			"identifier", args[1])
	}

	var failed, matched bool
	for _, job := range app.coverageJobs {
		if len(args) >= 1 && job.Key() != "coverage/"+args[0] {
			continue
		}
		matched = true
		result := app.run.Run(ctx, job)
		if result.ExitCode() != 0 {
			failed = true
			slog.Error("Coverage run failed",
				"coverage_type", strings.TrimPrefix(job.Key(), "coverage/"),
				"message", result.Message)
		}
	}
	if len(args) >= 1 && !matched {
		return fmt.Errorf("unknown coverage type %q", args[0])
	}
	if failed {
		return fmt.Errorf("one or more coverage runs failed")
	}
	return nil
}
