// Package config is the m3ugate configuration file model: defaults, loading
// through viper (file, then M3UGATE_* environment), validation and the
// commented template written by `m3ugate config init`.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/m3ugate/m3ugate/internal/model"
	"github.com/m3ugate/m3ugate/internal/store"
)

// EnvPrefix prefixes every environment override, e.g. M3UGATE_AUTH_ADMIN_KEY.
const EnvPrefix = "M3UGATE"

// Config represents the top-level m3ugate configuration file.
type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	Auth     AuthConfig     `yaml:"auth" mapstructure:"auth"`
	Gateway  GatewayConfig  `yaml:"gateway" mapstructure:"gateway"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	MCP      MCPConfig      `yaml:"mcp" mapstructure:"mcp"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	PublicURL       string        `yaml:"public_url" mapstructure:"public_url"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// DatabaseConfig selects the backing store.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver" mapstructure:"driver"`
	DSN             string        `yaml:"dsn" mapstructure:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
}

// AuthConfig controls access to the admin surface.
type AuthConfig struct {
	AdminKey   string        `yaml:"admin_key" mapstructure:"admin_key"`
	JWTSecret  string        `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	SessionTTL time.Duration `yaml:"session_ttl" mapstructure:"session_ttl"`
}

// GatewayConfig controls the playlist endpoint.
type GatewayConfig struct {
	PlaylistPath string `yaml:"playlist_path" mapstructure:"playlist_path"`
	RateLimit    int    `yaml:"rate_limit" mapstructure:"rate_limit"`
	TrustProxy   bool   `yaml:"trust_proxy" mapstructure:"trust_proxy"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// MCPConfig controls `m3ugate mcp`.
type MCPConfig struct {
	Transport string `yaml:"transport" mapstructure:"transport"`
	Addr      string `yaml:"addr" mapstructure:"addr"`
}

// Default returns a Config pre-filled with the production defaults. Paths
// left empty are resolved against the data directory by ResolvePaths.
func Default() *Config {
	pool := model.DefaultPoolConfig()
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3001,
			ShutdownTimeout: 30 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			MaxOpenConns:    pool.MaxOpenConns,
			MaxIdleConns:    pool.MaxIdleConns,
			ConnMaxLifetime: pool.ConnMaxLifetime,
			ConnMaxIdleTime: pool.ConnMaxIdleTime,
		},
		Auth: AuthConfig{
			SessionTTL: 24 * time.Hour,
		},
		Gateway: GatewayConfig{
			RateLimit:  120,
			TrustProxy: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		MCP: MCPConfig{
			Transport: "stdio",
			Addr:      ":3002",
		},
	}
}

// SetDefaults registers every key of Default on v so that environment
// variables are honoured by Unmarshal even when no file sets the key.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.public_url", d.Server.PublicURL)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)

	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("database.max_open_conns", d.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", d.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", d.Database.ConnMaxLifetime)
	v.SetDefault("database.conn_max_idle_time", d.Database.ConnMaxIdleTime)

	v.SetDefault("auth.admin_key", d.Auth.AdminKey)
	v.SetDefault("auth.jwt_secret", d.Auth.JWTSecret)
	v.SetDefault("auth.session_ttl", d.Auth.SessionTTL)

	v.SetDefault("gateway.playlist_path", d.Gateway.PlaylistPath)
	v.SetDefault("gateway.rate_limit", d.Gateway.RateLimit)
	v.SetDefault("gateway.trust_proxy", d.Gateway.TrustProxy)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("mcp.transport", d.MCP.Transport)
	v.SetDefault("mcp.addr", d.MCP.Addr)
}

// Configure points v at the config file (explicit path, or m3ugate.yaml in
// the working directory or $HOME/.m3ugate) and the M3UGATE_* environment.
// A missing file is not an error.
func Configure(v *viper.Viper, file string) error {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("m3ugate")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.m3ugate")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// FromViper decodes the effective configuration held by v and validates it.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads a YAML file on top of the defaults. ${VAR} references in the
// file are expanded from the environment before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if _, err := store.ParseDialect(c.Database.Driver); err != nil {
		return fmt.Errorf("database.driver: %w", err)
	}
	if c.Gateway.RateLimit < 0 {
		return fmt.Errorf("gateway.rate_limit must not be negative")
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("auth.session_ttl must be positive")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level %q must be one of debug, info, warn, error", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q must be text or json", c.Log.Format)
	}
	switch c.MCP.Transport {
	case "stdio", "http":
	default:
		return fmt.Errorf("mcp.transport %q must be stdio or http", c.MCP.Transport)
	}
	return nil
}

// ResolvePaths fills the SQLite database and playlist locations that were
// left empty with files under dataDir.
func (c *Config) ResolvePaths(dataDir string) {
	if c.Gateway.PlaylistPath == "" {
		c.Gateway.PlaylistPath = filepath.Join(dataDir, "exported.m3u")
	}
}

// StoreOptions maps the database section onto store.Options.
func (c *Config) StoreOptions(dataDir string) store.Options {
	return store.Options{
		Driver:  c.Database.Driver,
		DSN:     c.Database.DSN,
		DataDir: dataDir,
		Pool: model.PoolConfig{
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			ConnMaxIdleTime: c.Database.ConnMaxIdleTime,
		},
	}
}

// Redacted returns a copy with secrets masked, for `config show`.
func (c *Config) Redacted() *Config {
	out := *c
	out.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	if out.Auth.AdminKey != "" {
		out.Auth.AdminKey = "********"
	}
	if out.Auth.JWTSecret != "" {
		out.Auth.JWTSecret = "********"
	}
	if out.Database.DSN != "" && c.Database.Driver != "sqlite" {
		out.Database.DSN = "********"
	}
	return &out
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
