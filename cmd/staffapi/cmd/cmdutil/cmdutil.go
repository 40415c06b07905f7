// Package cmdutil holds helpers shared by the staffapi subcommands.
package cmdutil

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun"

	"github.com/terraconstructs/staffgrid/cmd/staffapi/internal/config"
	"github.com/terraconstructs/staffgrid/cmd/staffapi/internal/db/bunx"
)

// LoadConfig loads the environment configuration and applies the global
// flags that were set on the command line.
func LoadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	flags := cmd.Flags()
	if flags.Changed("db-url") {
		cfg.DatabaseURL, _ = flags.GetString("db-url")
	}
	if flags.Changed("server-addr") {
		cfg.ServerAddr, _ = flags.GetString("server-addr")
	}
	if flags.Changed("debug") {
		cfg.Debug, _ = flags.GetBool("debug")
	}
	return cfg, nil
}

// OpenDB connects to cfg.DatabaseURL.
func OpenDB(ctx context.Context, cfg *config.Config) (*bun.DB, error) {
	db, err := bunx.NewDB(ctx, cfg.DatabaseURL, bunx.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}
