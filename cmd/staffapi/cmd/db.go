package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/terraconstructs/staffgrid/cmd/staffapi/cmd/cmdutil"
	"github.com/terraconstructs/staffgrid/cmd/staffapi/internal/db/bunx"
	"github.com/terraconstructs/staffgrid/cmd/staffapi/internal/migrations"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database management commands",
	Long:  `Commands for managing database migrations and schema.`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long:  `Applies all pending migrations, including the demo seed, with locking to prevent concurrent migrations.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := cmdutil.OpenDB(ctx, cfg)
		if err != nil {
			return err
		}
		defer bunx.Close(db)

		group, err := migrations.Apply(ctx, db)
		if err != nil {
			return err
		}
		if group.ID == 0 {
			logger.Info("no new migrations to apply")
		} else {
			logger.Info("applied migration group", "group", group.ID, "migrations", len(group.Migrations))
		}
		return nil
	},
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	Long:  `Displays the applied and pending migrations.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := cmdutil.OpenDB(ctx, cfg)
		if err != nil {
			return err
		}
		defer bunx.Close(db)

		migrator := migrations.NewMigrator(db)
		if err := migrator.Init(ctx); err != nil {
			return fmt.Errorf("failed to initialize migrator: %w", err)
		}
		ms, err := migrator.MigrationsWithStatus(ctx)
		if err != nil {
			return fmt.Errorf("failed to get migration status: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Migrations:")
		for _, m := range ms {
			status := "pending"
			if m.GroupID > 0 {
				status = fmt.Sprintf("applied (group %d)", m.GroupID)
			}
			fmt.Fprintf(out, "  %s: %s\n", m.Name, status)
		}
		return nil
	},
}

var dbRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Rollback last migration group",
	Long:  `Rolls back the most recently applied migration group with locking to prevent concurrent operations.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := cmdutil.OpenDB(ctx, cfg)
		if err != nil {
			return err
		}
		defer bunx.Close(db)

		migrator := migrations.NewMigrator(db)
		if err := migrator.Lock(ctx); err != nil {
			return fmt.Errorf("failed to acquire migration lock: %w", err)
		}
		defer func() {
			if err := migrator.Unlock(ctx); err != nil {
				logger.Warn("failed to release migration lock", "error", err)
			}
		}()

		group, err := migrator.Rollback(ctx)
		if err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		if group.ID == 0 {
			logger.Info("no migrations to roll back")
		} else {
			logger.Info("rolled back migration group", "group", group.ID)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbStatusCmd)
	dbCmd.AddCommand(dbRollbackCmd)
}
