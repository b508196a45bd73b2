package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	gatemcp "github.com/m3ugate/m3ugate/internal/mcp"
	"github.com/m3ugate/m3ugate/internal/service"
)

func newMCPCmd() *cobra.Command {
	var (
		transport string
		addr      string
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for AI agents",
		Long: `Start a Model Context Protocol (MCP) server exposing subscriber management
as tools: list, create, renew, rotate, enable/disable, settings, devices and the
access journal.

In stdio mode the server speaks JSON-RPC on stdin/stdout, for MCP clients that
launch it as a subprocess. In http mode it listens on --addr without
authentication; to expose MCP remotely prefer /mcp on 'm3ugate serve', which
sits behind the admin key.`,
		Example: `  m3ugate mcp                              # stdio
  m3ugate mcp --transport http --addr :3002`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("transport") {
				cfg.MCP.Transport = transport
			}
			if cmd.Flags().Changed("addr") {
				cfg.MCP.Addr = addr
			}

			// stdout belongs to the protocol in stdio mode.
			logger := newLogger(cfg.Log, false, os.Stderr)

			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			mcpSrv := gatemcp.NewMCPServer(service.NewDirectory(st, logger), service.NewJournal(st, logger), logger)

			switch cfg.MCP.Transport {
			case "stdio":
				return mcpSrv.ServeStdio()
			case "http":
				return mcpSrv.ServeHTTP(cfg.MCP.Addr)
			default:
				return fmt.Errorf("unsupported transport %q; use 'stdio' or 'http'", cfg.MCP.Transport)
			}
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport mode: stdio or http")
	cmd.Flags().StringVar(&addr, "addr", ":3002", "Listen address (only used with --transport http)")

	return cmd
}
