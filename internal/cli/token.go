package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ticketdesk/reportd/internal/auth"
	"github.com/ticketdesk/reportd/internal/config"
)

var tokenTTL string

var tokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Issue a bearer token for the API",
	Long: `Issue an HS256 bearer token signed with auth.secret.

Tokens are normally issued by the identity service that shares the
secret. This command is meant for operators and local testing.

Examples:
  reportd token ops@example.com
  reportd token ci-bot --ttl 7d`,
	Args: cobra.ExactArgs(1),
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenTTL, "ttl", "24h", "Token lifetime (Go duration, or d/w suffix)")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := config.ValidateJWTSecret(cfg.Auth.Secret); err != nil {
		return fmt.Errorf("auth.secret: %w", err)
	}

	ttl, err := parseAge(tokenTTL)
	if err != nil {
		return fmt.Errorf("invalid --ttl: %w", err)
	}
	if ttl <= 0 {
		return fmt.Errorf("--ttl must be positive")
	}

	token, expires, err := auth.NewVerifier(cfg.Auth).Issue(args[0], ttl)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Subject: %s\n", args[0])
	fmt.Fprintf(w, "Expires: %s\n\n", expires.Format(time.RFC3339))
	fmt.Fprintln(w, token)
	return nil
}
