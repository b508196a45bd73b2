package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/m3ugate/m3ugate/internal/model"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "user",
		Aliases: []string{"users"},
		Short:   "Manage subscribers",
		Long: `Create, inspect and change subscribers directly against the database.
These commands work while the server is stopped or running.`,
	}

	cmd.AddCommand(newUserCreateCmd())
	cmd.AddCommand(newUserListCmd())
	cmd.AddCommand(newUserGetCmd())
	cmd.AddCommand(newUserActionCmd("renew", "Issue a new 30 day token and reactivate the user", renewUser))
	cmd.AddCommand(newUserActionCmd("rotate", "Replace the token, keeping expiry and status", rotateUser))
	cmd.AddCommand(newUserActionCmd("enable", "Enable the user", enableUser))
	cmd.AddCommand(newUserActionCmd("disable", "Disable the user", disableUser))
	cmd.AddCommand(newUserSetCmd())
	cmd.AddCommand(newUserDeleteCmd())
	cmd.AddCommand(newUserDevicesCmd())
	cmd.AddCommand(newUserResetDevicesCmd())

	return cmd
}

// printUser writes a single user as a key/value block, or JSON.
func printUser(env *cliEnv, u *model.User, jsonOutput bool) error {
	if jsonOutput {
		return printJSON(os.Stdout, struct {
			*model.User
			PlaylistURL string `json:"playlist_url"`
		}{u, playlistURL(env.cfg, u.Token)})
	}
	fmt.Printf("Username:     %s\n", u.Username)
	fmt.Printf("Token:        %s\n", u.Token)
	fmt.Printf("Playlist:     %s\n", playlistURL(env.cfg, u.Token))
	fmt.Printf("Active:       %s\n", yesNo(u.IsActive))
	fmt.Printf("Expires:      %s\n", formatTime(u.ExpiresAt))
	fmt.Printf("Max devices:  %d\n", u.MaxDevices)
	fmt.Printf("Strict IP:    %s\n", yesNo(u.StrictIPMode))
	fmt.Printf("Created:      %s\n", formatTime(u.CreatedAt))
	return nil
}

// ---------- user create ----------

func newUserCreateCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "create <username>",
		Short:   "Create a subscriber and print its playlist link",
		Example: `  m3ugate user create alice`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv()
			if err != nil {
				return err
			}
			defer env.Close()

			u, err := env.directory.Create(context.Background(), args[0])
			if err != nil {
				return err
			}
			return printUser(env, u, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

// ---------- user list ----------

func newUserListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all subscribers, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv()
			if err != nil {
				return err
			}
			defer env.Close()

			users, err := env.directory.List(context.Background())
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(os.Stdout, users)
			}
			if len(users) == 0 {
				fmt.Println("No users. Use 'm3ugate user create <username>' to add one.")
				return nil
			}

			now := time.Now()
			fmt.Printf("%-20s %-8s %-8s %-7s %-6s %-17s\n", "USERNAME", "ACTIVE", "EXPIRED", "DEVICES", "STRICT", "EXPIRES")
			fmt.Printf("%-20s %-8s %-8s %-7s %-6s %-17s\n", "--------", "------", "-------", "-------", "------", "-------")
			for _, u := range users {
				fmt.Printf("%-20s %-8s %-8s %-7d %-6s %-17s\n",
					truncate(u.Username, 20), yesNo(u.IsActive), yesNo(u.Expired(now)),
					u.MaxDevices, yesNo(u.StrictIPMode), formatTime(u.ExpiresAt))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

// ---------- user get ----------

func newUserGetCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "get <username>",
		Short: "Show a subscriber",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv()
			if err != nil {
				return err
			}
			defer env.Close()

			u, err := env.directory.Get(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("user %q: %w", args[0], err)
			}
			return printUser(env, u, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

// ---------- renew / rotate / enable / disable ----------

type userAction func(ctx context.Context, env *cliEnv, username string) (*model.User, error)

func renewUser(ctx context.Context, env *cliEnv, username string) (*model.User, error) {
	return env.directory.Renew(ctx, username)
}

func rotateUser(ctx context.Context, env *cliEnv, username string) (*model.User, error) {
	return env.directory.RotateToken(ctx, username)
}

func enableUser(ctx context.Context, env *cliEnv, username string) (*model.User, error) {
	return env.directory.SetActive(ctx, username, true)
}

func disableUser(ctx context.Context, env *cliEnv, username string) (*model.User, error) {
	return env.directory.SetActive(ctx, username, false)
}

func newUserActionCmd(use, short string, action userAction) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   use + " <username>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv()
			if err != nil {
				return err
			}
			defer env.Close()

			u, err := action(context.Background(), env, args[0])
			if err != nil {
				return fmt.Errorf("%s %q: %w", use, args[0], err)
			}
			return printUser(env, u, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

// ---------- user set ----------

func newUserSetCmd() *cobra.Command {
	var (
		maxDevices int
		strict     bool
		expires    string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "set <username>",
		Short: "Change device limit, strict IP mode or expiry",
		Example: `  m3ugate user set alice --max-devices 5
  m3ugate user set alice --strict=false
  m3ugate user set alice --expires 2030-01-01T00:00:00Z
  m3ugate user set alice --expires +72h`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var settings model.UserSettings
			if cmd.Flags().Changed("max-devices") {
				settings.MaxDevices = &maxDevices
			}
			if cmd.Flags().Changed("strict") {
				settings.StrictIPMode = &strict
			}
			if cmd.Flags().Changed("expires") {
				ts, err := parseExpiry(expires, time.Now())
				if err != nil {
					return err
				}
				settings.ExpiresAt = &ts
			}
			if settings.Empty() {
				return fmt.Errorf("nothing to change: pass --max-devices, --strict or --expires")
			}

			env, err := openEnv()
			if err != nil {
				return err
			}
			defer env.Close()

			u, err := env.directory.UpdateSettings(context.Background(), args[0], settings)
			if err != nil {
				return fmt.Errorf("set %q: %w", args[0], err)
			}
			return printUser(env, u, jsonOutput)
		},
	}

	cmd.Flags().IntVar(&maxDevices, "max-devices", model.DefaultMaxDevices, "Maximum number of distinct devices")
	cmd.Flags().BoolVar(&strict, "strict", model.DefaultStrictIPMode, "Pin devices to their first address")
	cmd.Flags().StringVar(&expires, "expires", "", "Expiry as RFC 3339 timestamp or +duration from now")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

// parseExpiry accepts an RFC 3339 timestamp or "+<duration>" relative to now.
func parseExpiry(s string, now time.Time) (time.Time, error) {
	if rest, ok := strings.CutPrefix(s, "+"); ok {
		d, err := time.ParseDuration(rest)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid --expires duration %q: %w", s, err)
		}
		return now.Add(d).UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --expires %q: want RFC 3339 or +duration", s)
	}
	return ts.UTC(), nil
}

// ---------- user delete ----------

func newUserDeleteCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:     "delete <username>",
		Aliases: []string{"rm"},
		Short:   "Delete a subscriber and its devices (journal entries are kept)",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete %q without --yes", args[0])
			}
			env, err := openEnv()
			if err != nil {
				return err
			}
			defer env.Close()

			if err := env.directory.Delete(context.Background(), args[0]); err != nil {
				return fmt.Errorf("delete %q: %w", args[0], err)
			}
			fmt.Printf("Deleted user %q\n", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm deletion")
	return cmd
}

// ---------- user devices ----------

func newUserDevicesCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "devices <username>",
		Short: "List a subscriber's registered devices",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv()
			if err != nil {
				return err
			}
			defer env.Close()

			devices, err := env.directory.Devices(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("devices of %q: %w", args[0], err)
			}
			if jsonOutput {
				return printJSON(os.Stdout, devices)
			}
			if len(devices) == 0 {
				fmt.Printf("No devices registered for %q.\n", args[0])
				return nil
			}

			fmt.Printf("%-24s %-16s %-16s %-17s %-17s\n", "DEVICE", "FIRST IP", "LAST IP", "FIRST SEEN", "LAST SEEN")
			fmt.Printf("%-24s %-16s %-16s %-17s %-17s\n", "------", "--------", "-------", "----------", "---------")
			for _, d := range devices {
				fmt.Printf("%-24s %-16s %-16s %-17s %-17s\n",
					truncate(d.Label, 24), d.FirstAddress, d.LastAddress,
					formatTime(d.FirstSeen), formatTime(d.LastSeen))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

// ---------- user reset-devices ----------

func newUserResetDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-devices <username>",
		Short: "Forget every device so the full quota is available again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv()
			if err != nil {
				return err
			}
			defer env.Close()

			n, err := env.directory.ResetDevices(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("reset devices of %q: %w", args[0], err)
			}
			fmt.Printf("Removed %d device(s) from %q\n", n, args[0])
			return nil
		},
	}
}
