package cli

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/m3ugate/m3ugate/internal/admission"
	gatemcp "github.com/m3ugate/m3ugate/internal/mcp"
	"github.com/m3ugate/m3ugate/internal/server"
	"github.com/m3ugate/m3ugate/internal/service"
)

func newServeCmd() *cobra.Command {
	var (
		port   int
		host   string
		dev    bool
		daemon bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the m3ugate gateway",
		Long: `Start the HTTP server exposing /playlist.m3u to subscribers, the admin API
under /admin, Prometheus metrics on /metrics and MCP on /mcp.`,
		Example: `  m3ugate serve
  M3UGATE_AUTH_ADMIN_KEY=change-me m3ugate serve --port 8080
  m3ugate serve --daemon   # detach; see 'm3ugate status' and 'm3ugate stop'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if daemon {
				return startDaemon()
			}
			return runServe(dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 3001, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (debug logging)")
	cmd.Flags().BoolVarP(&daemon, "daemon", "d", false, "Run in the background, logging to the data directory")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(dev bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log, dev, os.Stderr)

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	logger.Info("store opened", "driver", st.Dialect(), "data_dir", resolveDataDir())

	if cfg.Auth.AdminKey == "" {
		logger.Warn("auth.admin_key is empty: the admin API is disabled (set M3UGATE_AUTH_ADMIN_KEY)")
	}
	jwtSecret := cfg.Auth.JWTSecret
	if jwtSecret == "" {
		jwtSecret, err = randomSecret()
		if err != nil {
			st.Close()
			return fmt.Errorf("generate session secret: %w", err)
		}
		logger.Warn("auth.jwt_secret is empty: using a random secret, admin sessions end on restart")
	}
	if _, err := os.Stat(cfg.Gateway.PlaylistPath); err != nil {
		logger.Warn("playlist file not readable, subscribers will get 404 until it exists",
			"path", cfg.Gateway.PlaylistPath, "error", err)
	}

	directory := service.NewDirectory(st, logger)
	journal := service.NewJournal(st, logger)
	gateway := service.NewGateway(directory, admission.NewAdmitter(st), journal, logger)
	authSvc := service.NewAuthService(cfg.Auth.AdminKey, jwtSecret)

	srv := server.New(server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		CORSOrigins:     cfg.Server.CORSOrigins,
		PlaylistPath:    cfg.Gateway.PlaylistPath,
		RateLimit:       cfg.Gateway.RateLimit,
		TrustProxy:      cfg.Gateway.TrustProxy,
		PublicURL:       cfg.Server.PublicURL,
		SessionTTL:      cfg.Auth.SessionTTL,
		Version:         versionString(),
	}, server.Deps{
		Store:     st,
		Directory: directory,
		Journal:   journal,
		Gateway:   gateway,
		Auth:      authSvc,
		MCP:       gatemcp.NewMCPServer(directory, journal, logger).HTTPHandler(),
	}, logger)

	if err := writePID(os.Getpid()); err != nil {
		logger.Warn("failed to write PID file", "path", pidFilePath(), "error", err)
	}
	defer removePID()

	base := publicBase(cfg)
	fmt.Printf("→ m3ugate %s\n", versionString())
	fmt.Printf("→ Playlist:   %s/playlist.m3u?token=...\n", base)
	fmt.Printf("→ Admin API:  %s/admin\n", base)
	fmt.Printf("→ OpenAPI:    %s/openapi.json\n", base)
	fmt.Printf("→ Metrics:    %s/metrics\n", base)
	fmt.Println()

	return srv.ListenAndServe()
}

// startDaemon re-executes the current binary without --daemon, detached
// from the terminal, with output appended to the data directory log.
func startDaemon() error {
	if pid, err := readPID(); err == nil && isProcessRunning(pid) {
		return fmt.Errorf("server already running (PID %d)", pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	if err := os.MkdirAll(resolveDataDir(), 0755); err != nil {
		return err
	}
	logFile, err := os.OpenFile(logFilePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	args := make([]string, 0, len(os.Args))
	for _, a := range os.Args[1:] {
		if a == "--daemon" || a == "-d" || a == "--daemon=true" {
			continue
		}
		args = append(args, a)
	}

	child := exec.Command(exe, args...)
	child.Stdout = logFile
	child.Stderr = logFile
	setSysProcAttr(child)
	if err := child.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	fmt.Printf("m3ugate started in the background (PID %d)\n", child.Process.Pid)
	fmt.Printf("  Logs: %s\n", logFilePath())
	return child.Process.Release()
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
