package auth

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/terraconstructs/staffgrid/cmd/staffctl/internal/config"
)

const (
	envToken  = "STAFFGRID_TOKEN"
	envServer = "STAFFGRID_SERVER"
)

var (
	shellFormat string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the session token as environment variables",
	Long: `Export the stored access token and server URL as shell environment variables
(STAFFGRID_TOKEN and STAFFGRID_SERVER) for scripts that call the StaffGrid API
directly.

Supported shells:
  - posix (bash, zsh, sh) - default
  - fish
  - powershell

Usage:
  # POSIX shells (bash/zsh/sh)
  eval $(staffctl auth export)

  # Fish shell
  eval (staffctl auth export --shell fish)

  # PowerShell
  staffctl auth export --shell powershell | Invoke-Expression`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVar(&shellFormat, "shell", "", "Shell format: posix, fish, powershell (auto-detected if not specified)")
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg := config.MustFromContext(cmd.Context())
	orch, err := cfg.ClientProvider.Orchestrator(cmd.Context())
	if err != nil {
		return err
	}

	snap := orch.Snapshot()
	if !snap.IsAuthenticated() {
		return fmt.Errorf("no valid session\n\nPlease run 'staffctl auth login' first")
	}

	shell := shellFormat
	if shell == "" {
		shell = detectShell(os.Getenv("SHELL"))
	}

	if isTerminal(os.Stdout) {
		fmt.Fprintln(os.Stderr, "# Run this command to configure your environment:")
		fmt.Fprintf(os.Stderr, "#   %s\n\n", evalHint(shell))
	}
	return writeExport(os.Stdout, shell, snap.AccessToken, cfg.ServerURL)
}

// writeExport prints the variable assignments for the given shell.
func writeExport(w io.Writer, shell, accessToken, serverURL string) error {
	var line func(name, value string) string
	switch strings.ToLower(shell) {
	case "posix", "bash", "zsh", "sh":
		line = func(name, value string) string { return fmt.Sprintf("export %s=%q", name, value) }
	case "fish":
		line = func(name, value string) string { return fmt.Sprintf("set -x %s %q", name, value) }
	case "powershell", "pwsh", "ps1":
		line = func(name, value string) string { return fmt.Sprintf("$env:%s=%q", name, value) }
	default:
		return fmt.Errorf("unsupported shell format: %s\n\nSupported formats: posix, fish, powershell", shell)
	}
	fmt.Fprintln(w, line(envToken, accessToken))
	fmt.Fprintln(w, line(envServer, serverURL))
	return nil
}

func evalHint(shell string) string {
	switch strings.ToLower(shell) {
	case "fish":
		return "eval (staffctl auth export --shell fish)"
	case "powershell", "pwsh", "ps1":
		return "staffctl auth export --shell powershell | Invoke-Expression"
	default:
		return "eval $(staffctl auth export)"
	}
}

// detectShell maps a $SHELL path to an export format
func detectShell(shellPath string) string {
	if shellPath == "" {
		return "posix"
	}
	switch filepath.Base(shellPath) {
	case "fish":
		return "fish"
	case "pwsh", "powershell":
		return "powershell"
	default:
		return "posix"
	}
}

// isTerminal checks if the given file is a terminal (TTY)
func isTerminal(f *os.File) bool {
	fileInfo, err := f.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}
