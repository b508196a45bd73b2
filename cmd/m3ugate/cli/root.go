package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/m3ugate/m3ugate/internal/config"
)

var (
	cfgFile    string
	appVersion string // set in Execute, reported by serve and the OpenAPI document

	// configErr holds the failure from reading the config file so commands
	// that need configuration can report it.
	configErr error
)

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	appVersion = version
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "m3ugate",
		Short: "Token-gated playlist gateway with per-user device quotas",
		Long: `m3ugate serves one M3U playlist to many subscribers. Each subscriber gets a
personal token; the gateway admits a bounded number of distinct devices per
token, optionally pins each device to the address it first used, and journals
every request.

Subscribers are managed through the admin API, this CLI, or the MCP server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./m3ugate.yaml)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory for the SQLite database and playlist (default: ~/.m3ugate)")

	cobra.OnInitialize(initConfig)

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newStopCmd())
	cmd.AddCommand(newUserCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newAdminCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newOpenAPICmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newBenchCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))

	return cmd
}

func initConfig() {
	configErr = config.Configure(viper.GetViper(), cfgFile)
}

// loadConfig returns the effective configuration with data-dir relative
// paths resolved.
func loadConfig() (*config.Config, error) {
	if configErr != nil {
		return nil, configErr
	}
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return nil, err
	}
	cfg.ResolvePaths(resolveDataDir())
	return cfg, nil
}
