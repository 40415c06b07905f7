package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/terraconstructs/staffgrid/cmd/staffctl/cmd/auth"
	"github.com/terraconstructs/staffgrid/cmd/staffctl/cmd/role"
	"github.com/terraconstructs/staffgrid/cmd/staffctl/internal/client"
	"github.com/terraconstructs/staffgrid/cmd/staffctl/internal/config"
	"github.com/terraconstructs/staffgrid/internal/logging"
)

var (
	serverURL      string
	nonInteractive bool
	configPath     string
	logLevel       string
	logFormat      string
)

var rootCmd = &cobra.Command{
	Use:   "staffctl",
	Short: "StaffGrid CLI - HR portal session client",
	Long: `staffctl is the command-line client for the StaffGrid HR portal.
Use it to sign in (with a one-time passcode when the server asks for one),
inspect your role-scoped permissions, switch roles, and sign out.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Resolve(config.Flags{
			ServerURL:      serverURL,
			ServerSet:      cmd.Flags().Changed("server"),
			NonInteractive: nonInteractive,
			LogLevel:       logLevel,
			LogLevelSet:    cmd.Flags().Changed("log-level"),
			ConfigPath:     configPath,
		}, os.Getenv)
		if err != nil {
			return err
		}

		logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: logFormat})
		cfg.ClientProvider = client.NewProvider(cfg.ServerURL, cfg.Timeout, logger)
		logger.Debug("staffctl configured", "server", cfg.ServerURL, "non_interactive", cfg.NonInteractive)

		cmd.SetContext(config.InjectConfig(cmd.Context(), cfg))
		return nil
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", config.DefaultServerURL, "StaffGrid API base URL (also STAFFCTL_SERVER)")
	rootCmd.PersistentFlags().BoolVar(&nonInteractive, "non-interactive", false, "Disable interactive prompts (also set via STAFFCTL_NON_INTERACTIVE=1)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Profile file (default ~/.staffgrid/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", config.DefaultLogLevel, "Diagnostic log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Diagnostic log format: text or json")
	rootCmd.AddCommand(auth.AuthCmd)
	rootCmd.AddCommand(role.RoleCmd)
	rootCmd.AddCommand(whoamiCmd)
}
