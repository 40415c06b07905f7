package auth

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/terraconstructs/staffgrid/cmd/staffctl/internal/config"
	"github.com/terraconstructs/staffgrid/pkg/sdk"
)

var (
	email         string
	password      string
	passwordStdin bool
	otpStdin      bool
)

// maxPasscodePrompts bounds the interactive retry loop; the server enforces
// its own attempt limit.
const maxPasscodePrompts = 5

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to StaffGrid",
	Long: `Signs in with email and password.

When the server asks for a one-time passcode the command prompts for it and
lets you retry a mistyped code. In scripts, pass --otp-stdin and write the
passcode on the line after the password (with --password-stdin) or as the
only line of stdin.

The passcode challenge lives only for the duration of this command; if it is
abandoned you must start the login again.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.MustFromContext(cmd.Context())

		var stdin *bufio.Reader
		if passwordStdin || otpStdin {
			stdin = bufio.NewReader(os.Stdin)
		}

		if email == "" {
			if cfg.NonInteractive {
				return fmt.Errorf("--email is required in non-interactive mode")
			}
			v, err := pterm.DefaultInteractiveTextInput.Show("Email")
			if err != nil {
				return err
			}
			email = strings.TrimSpace(v)
		}

		pw := password
		switch {
		case passwordStdin:
			line, err := readLine(stdin)
			if err != nil {
				return fmt.Errorf("failed to read password from stdin: %w", err)
			}
			pw = line
		case pw == "":
			if cfg.NonInteractive {
				return fmt.Errorf("--password-stdin is required in non-interactive mode")
			}
			v, err := pterm.DefaultInteractiveTextInput.WithMask("*").Show("Password")
			if err != nil {
				return err
			}
			pw = v
		}

		store, err := cfg.ClientProvider.CredentialStore()
		if err != nil {
			return err
		}
		deviceID, err := store.DeviceID()
		if err != nil {
			return fmt.Errorf("failed to read device identifier: %w", err)
		}

		orch, err := cfg.ClientProvider.Orchestrator(cmd.Context())
		if err != nil {
			return err
		}

		res, err := orch.Login(cmd.Context(), email, pw, deviceID)
		if err != nil {
			return loginError(err)
		}

		if res.OTPRequired {
			res, err = completeOTP(cmd, orch, cfg.NonInteractive, stdin)
			if err != nil {
				orch.AbandonOTP()
				return err
			}
		}

		p := res.Session.Principal
		pterm.Success.Printf("Signed in as %s (%s)\n", p.DisplayName, p.Email)
		pterm.Info.Printf("Active role: %s\n", p.ActiveRole.RoleName)
		if res.PermissionsErr != nil {
			pterm.Warning.Printf("%s\nRun `staffctl role inspect --refresh` to retry.\n", userMessage(res.PermissionsErr))
		}
		return nil
	},
}

func completeOTP(cmd *cobra.Command, orch *sdk.Orchestrator, nonInteractive bool, stdin *bufio.Reader) (*sdk.LoginResult, error) {
	if otpStdin {
		code, err := readLine(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read passcode from stdin: %w", err)
		}
		res, err := orch.VerifyOTP(cmd.Context(), code)
		if err != nil {
			return nil, loginError(err)
		}
		return res, nil
	}
	if nonInteractive {
		return nil, fmt.Errorf("the server requires a one-time passcode; rerun with --otp-stdin")
	}

	pterm.Info.Println("A one-time passcode was sent to your email.")
	for attempt := 0; attempt < maxPasscodePrompts && orch.PendingChallenge() != nil; attempt++ {
		code, err := pterm.DefaultInteractiveTextInput.Show("Passcode")
		if err != nil {
			return nil, err
		}
		res, err := orch.VerifyOTP(cmd.Context(), strings.TrimSpace(code))
		if err == nil {
			return res, nil
		}
		if !sdk.IsKind(err, sdk.KindOTPRejected) {
			return nil, loginError(err)
		}
		pterm.Warning.Println(userMessage(err))
	}
	return nil, fmt.Errorf("too many incorrect passcodes; please sign in again")
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func userMessage(err error) string {
	var sdkErr *sdk.Error
	if errors.As(err, &sdkErr) {
		return sdkErr.UserMessage()
	}
	return err.Error()
}

func loginError(err error) error {
	return fmt.Errorf("login failed: %s", userMessage(err))
}

func init() {
	loginCmd.Flags().StringVar(&email, "email", "", "Account email address")
	loginCmd.Flags().StringVar(&password, "password", "", "Account password (prefer --password-stdin)")
	loginCmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from the first line of stdin")
	loginCmd.Flags().BoolVar(&otpStdin, "otp-stdin", false, "Read the one-time passcode from the next line of stdin")
}
