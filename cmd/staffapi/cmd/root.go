package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/terraconstructs/staffgrid/cmd/staffapi/cmd/cmdutil"
	"github.com/terraconstructs/staffgrid/cmd/staffapi/cmd/roles"
	"github.com/terraconstructs/staffgrid/cmd/staffapi/cmd/users"
	"github.com/terraconstructs/staffgrid/cmd/staffapi/internal/config"
	"github.com/terraconstructs/staffgrid/internal/logging"
)

var (
	cfg       *config.Config
	logger    *slog.Logger
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "staffapi",
	Short: "StaffGrid authentication API server",
	Long: `StaffGrid API serves the HR portal authentication endpoints: password
login with one-time passcodes for new devices, role-based feature
permissions, role switching, and logout.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = cmdutil.LoadConfig(cmd)
		if err != nil {
			return err
		}
		level := "info"
		if cfg.Debug {
			level = "debug"
		}
		logger = logging.New(logging.Config{Level: level, Format: logFormat})
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("db-url", "", "Database connection URL (env: DATABASE_URL)")
	rootCmd.PersistentFlags().String("server-addr", "", "Server bind address (env: SERVER_ADDR)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging (env: DEBUG)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")

	rootCmd.AddCommand(users.UsersCmd)
	rootCmd.AddCommand(roles.RolesCmd)
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
