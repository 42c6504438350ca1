package main

import (
	"errors"
	"fmt"

	"github.com/niechao136/neGraph"
	"github.com/urfave/cli/v2"
)

// MigrateCommand returns the migrate command
func MigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Manage the database schema",
		Subcommands: []*cli.Command{
			{
				Name:   "up",
				Usage:  "Apply pending migrations",
				Action: runMigrateUp,
			},
			{
				Name:   "down",
				Usage:  "Revert the most recent migration",
				Action: runMigrateDown,
			},
			{
				Name:   "status",
				Usage:  "Show applied and pending migrations",
				Action: runMigrateStatus,
			},
		},
	}
}

func runMigrateUp(c *cli.Context) error {
	b, err := openBackend(c)
	if err != nil {
		return err
	}
	defer b.close()

	if err := b.schema.Migrate(c.Context); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}

	b.log.Info().Msg("Schema is up to date")
	return nil
}

func runMigrateDown(c *cli.Context) error {
	b, err := openBackend(c)
	if err != nil {
		return err
	}
	defer b.close()

	err = b.schema.Rollback(c.Context)
	if errors.Is(err, negraph.ErrNoMigration) {
		b.log.Warn().Msg("No applied migration to roll back")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to roll back: %w", err)
	}

	b.log.Info().Msg("Rolled back last migration")
	return nil
}

func runMigrateStatus(c *cli.Context) error {
	b, err := openBackend(c)
	if err != nil {
		return err
	}
	defer b.close()

	records, err := b.schema.MigrationStatus(c.Context)
	if err != nil {
		return fmt.Errorf("failed to read migration status: %w", err)
	}

	return printJSON(c, records)
}
