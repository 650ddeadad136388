package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/labsight/deidgate/internal/database"
)

func (c *cli) migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	var dir string
	withRunner := func(fn func(cmd *cobra.Command, runner *database.MigrationRunner) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.Database.MigrationsPath
			}
			runner, err := database.NewMigrationRunner(database.ConfigFrom(cfg.Database).URL(), dir, c.logger)
			if err != nil {
				return err
			}
			defer runner.Close()
			return fn(cmd, runner)
		}
	}

	cmd.PersistentFlags().StringVar(&dir, "dir", "", "path to the migrations directory (default from configuration)")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: withRunner(func(cmd *cobra.Command, runner *database.MigrationRunner) error {
			return runner.Up(cmd.Context())
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: withRunner(func(cmd *cobra.Command, runner *database.MigrationRunner) error {
			return runner.Down(cmd.Context())
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Mark VERSION as applied and clear the dirty flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version %q", args[0])
			}
			return withRunner(func(cmd *cobra.Command, runner *database.MigrationRunner) error {
				return runner.Force(version)
			})(cmd, args)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show the current schema version",
		RunE: withRunner(func(cmd *cobra.Command, runner *database.MigrationRunner) error {
			version, dirty, err := runner.Version()
			if err != nil {
				return fmt.Errorf("failed to read schema version: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", version, dirty)
			return nil
		}),
	})

	return cmd
}
