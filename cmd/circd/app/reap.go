package app

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/circlib/circulation-server/internal/runner"
)

var reapCmd = &cobra.Command{
	Use:   "reap [collection]",
	Short: "Reclaim expired loans and lapsed reservations",
	Long: `Sweep license pools, expiring due loans and cancelling reservations past
their window. Freed copies are handed to the next hold in the queue. Sweeps
every collection when no name is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReap,
}

func init() {
	reapCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")
	if err := reapCmd.MarkFlagRequired("config"); err != nil {
		panic(err)
	}
}

func runReap(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	app, err := buildFromFlags(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	job := app.reapJob
	if len(args) == 1 {
		if _, ok := app.monitors[args[0]]; !ok {
			return fmt.Errorf("unknown collection %q", args[0])
		}
		job = runner.NewReaperJob(app.reaper, args[0], nil)
	}

	result := app.run.Run(ctx, job)
	if result.ExitCode() != 0 {
		return fmt.Errorf("reap failed: %s", result.Message)
	}
	return nil
}
