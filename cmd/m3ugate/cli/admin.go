package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/m3ugate/m3ugate/internal/service"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Admin API credentials",
		Long:  "Helpers for authenticating against the admin API.",
	}

	cmd.AddCommand(newAdminTokenCmd())
	return cmd
}

// ---------- admin token ----------

func newAdminTokenCmd() *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin session token",
		Long: `Prompt for the admin key and print a session JWT for the admin API, signed
with auth.jwt_secret. The server must use the same secret to accept it.`,
		Example: `  TOKEN=$(m3ugate admin token)
  curl -H "Authorization: Bearer $TOKEN" http://localhost:3001/admin/users`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminToken(ttl)
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default: auth.session_ttl)")
	return cmd
}

func runAdminToken(ttl time.Duration) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not set; the server would not accept a token minted here")
	}
	if ttl <= 0 {
		ttl = cfg.Auth.SessionTTL
	}

	fmt.Fprint(os.Stderr, "Admin key: ")
	keyBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to read admin key: %w", err)
	}

	authSvc := service.NewAuthService(cfg.Auth.AdminKey, cfg.Auth.JWTSecret)
	token, expiresAt, err := authSvc.IssueJWT(context.Background(), strings.TrimSpace(string(keyBytes)), ttl)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}

	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", expiresAt.UTC().Format(time.RFC3339))
	return nil
}
