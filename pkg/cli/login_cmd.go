package cli

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"fieldsync/internal/config"
	"fieldsync/internal/remote"
)

func newLoginCmd() *cobra.Command {
	var (
		email    string
		password string
		envFile  string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate against the remote API and print a session token",
		Long:  "Exchange credentials for a bearer token. Export it as REMOTE_TOKEN (or put it in .env) so the daemon can deliver mutations.",
		Example: `  fieldsync login --email auditor@example.com
  export REMOTE_TOKEN=$(fieldsync login --email auditor@example.com --password "$PW")`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(envFile); err != nil {
				return err
			}
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return err
			}

			if email == "" {
				return fmt.Errorf("--email is required")
			}
			if password == "" {
				fmt.Fprint(os.Stderr, "Password: ")
				raw, err := term.ReadPassword(int(syscall.Stdin))
				fmt.Fprintln(os.Stderr)
				if err != nil {
					return fmt.Errorf("read password: %w", err)
				}
				password = string(raw)
			}

			client := remote.NewClient(cfg.RemoteBaseURL, cfg.RemoteTimeout)
			token, err := client.Login(cmd.Context(), email, password)
			if err != nil {
				return fmt.Errorf("login: %w", err)
			}

			// Token on stdout only, so it can be captured by scripts.
			fmt.Println(token)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (prompted when omitted)")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "path to a .env file with configuration")
	return cmd
}
