package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/circlib/circulation-server/internal/config"
	"github.com/circlib/circulation-server/internal/runner"
)

var syncCmd = &cobra.Command{
	Use:   "sync [collection]",
	Short: "Run one incremental sync pass",
	Long: `Run one incremental sync pass for the named collection, or for every
configured collection when no name is given. Exits nonzero when a run hits
an unrecovered run-level error.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSync,
}

func init() {
	syncCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")
	if err := syncCmd.MarkFlagRequired("config"); err != nil {
		panic(err)
	}
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	app, err := buildFromFlags(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	jobs := app.syncJobs
	if len(args) == 1 {
		job, ok := jobs[args[0]]
		if !ok {
			return fmt.Errorf("unknown collection %q", args[0])
		}
		jobs = map[string]runner.Job{args[0]: job}
	}

	var failed bool
	for name, job := range jobs {
		result := app.run.Run(ctx, job)
		if result.ExitCode() != 0 {
			failed = true
			slog.Error("Sync failed", "collection", name, "message", result.Message)
		}
	}
	if failed {
		return fmt.Errorf("one or more collections failed to sync")
	}
	return nil
}

// buildFromFlags loads the configuration named by the command's --config
// flag and wires a one-shot application without metrics.
func buildFromFlags(ctx context.Context, cmd *cobra.Command) (*application, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}

	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return buildApplication(ctx, cfg, nil)
}
