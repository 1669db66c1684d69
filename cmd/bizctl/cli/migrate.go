package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCommand(deps Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	withMigrations := func(run func(cmd *cobra.Command, m Migrations) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			if deps.Migrations == nil {
				return errors.New("migrations not configured")
			}
			cfg, err := deps.LoadConfig()
			if err != nil {
				return err
			}
			m, err := deps.Migrations(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = m.Close() }()
			return run(cmd, m)
		}
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrations(func(cmd *cobra.Command, m Migrations) error {
			if err := m.Up(); err != nil {
				return err
			}
			return printVersion(cmd, m)
		}),
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrations(func(cmd *cobra.Command, m Migrations) error {
			if steps < 0 {
				return fmt.Errorf("steps must not be negative")
			}
			if err := m.Down(steps); err != nil {
				return err
			}
			return printVersion(cmd, m)
		}),
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back; 0 rolls back everything")

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: withMigrations(func(cmd *cobra.Command, m Migrations) error {
			return printVersion(cmd, m)
		}),
	}

	cmd.AddCommand(up, down, version)
	return cmd
}

func printVersion(cmd *cobra.Command, m Migrations) error {
	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	suffix := ""
	if dirty {
		suffix = " (dirty)"
	}
	cmd.Printf("schema version %d%s\n", version, suffix)
	return nil
}
