package app

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/circlib/circulation-server/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database migration tool",
	Long:  `Database migration tool for managing schema versions. Use with 'up' or 'down' subcommands.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Usage()
	},
}

func init() {
	migrateCmd.PersistentFlags().BoolP("yes", "y", false, "Answer yes to all questions")
	migrateCmd.PersistentFlags().UintP("num-steps", "n", 0, "Number of steps to migrate (0 = all)")
	migrateCmd.PersistentFlags().String("config", "", "Path to configuration file (YAML format, required)")

	if err := migrateCmd.MarkPersistentFlagRequired("config"); err != nil {
		panic(err)
	}

	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
}

// migrationDatabase loads the database configuration named by the
// command's --config flag.
func migrationDatabase(cmd *cobra.Command) (*config.DatabaseConfig, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}

	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Database == nil {
		return nil, fmt.Errorf("database configuration is required")
	}
	return cfg.Database, nil
}

// migrationURL builds the connection URL the migration tooling expects.
func migrationURL(dbCfg *config.DatabaseConfig) (string, error) {
	password, err := dbCfg.GetPassword()
	if err != nil {
		return "", fmt.Errorf("failed to get database password: %w", err)
	}

	u := &url.URL{
		Scheme: "pgx5",
		User:   url.UserPassword(dbCfg.User, password),
		Host:   fmt.Sprintf("%s:%d", dbCfg.Host, dbCfg.Port),
		Path:   dbCfg.Database,
	}
	if dbCfg.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", dbCfg.SSLMode)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// confirmMigration prompts before touching the schema unless --yes was
// given.
func confirmMigration(cmd *cobra.Command, dbCfg *config.DatabaseConfig, direction string) (bool, error) {
	yes, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return false, fmt.Errorf("failed to get yes flag: %w", err)
	}
	if yes {
		return true, nil
	}

	fmt.Printf("About to migrate %s on database %s@%s:%d/%s\n",
		direction, dbCfg.User, dbCfg.Host, dbCfg.Port, dbCfg.Database)
	fmt.Print("Continue? (yes/no): ")
	var response string
	if _, err := fmt.Scanln(&response); err != nil {
		return false, fmt.Errorf("failed to read user input: %w", err)
	}
	return response == "yes" || response == "y", nil
}
