package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/querytalk/querytalk/internal/config"
	"github.com/querytalk/querytalk/internal/db"
	"github.com/querytalk/querytalk/internal/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the query_history schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		steps, _ := cmd.Flags().GetInt("steps")
		return runMigrate(func(ctx context.Context, runner *migrations.Runner, conn *sql.DB) (int, error) {
			return runner.Up(ctx, conn, steps)
		}, "applied")
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back applied migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		steps, _ := cmd.Flags().GetInt("steps")
		return runMigrate(func(ctx context.Context, runner *migrations.Runner, conn *sql.DB) (int, error) {
			return runner.Down(ctx, conn, steps)
		}, "rolled back")
	},
}

func runMigrate(apply func(context.Context, *migrations.Runner, *sql.DB) (int, error), verb string) error {
	cfg, err := config.LoadFromEnv("querytalk-migrate")
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := db.Open(ctx, db.Config{DSN: cfg.Database.DSN})
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	applied, err := apply(ctx, migrations.NewRunner(), conn)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	fmt.Printf("%s %d migration(s)\n", verb, applied)
	return nil
}

func init() {
	migrateUpCmd.Flags().Int("steps", 0, "number of steps; 0 means all pending")
	migrateDownCmd.Flags().Int("steps", 0, "number of steps; 0 means one")
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
}
