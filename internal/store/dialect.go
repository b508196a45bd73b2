package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect identifies the SQL backend holding gateway state.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// ParseDialect accepts the configured driver name and its common aliases.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pgx", "pg":
		return DialectPostgres, nil
	case "mysql", "mariadb":
		return DialectMySQL, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q (supported: sqlite, postgres, mysql)", name)
	}
}

// driverName is the database/sql driver registered for the dialect.
func (d Dialect) driverName() string {
	switch d {
	case DialectPostgres:
		return "pgx"
	case DialectMySQL:
		return "mysql"
	default:
		return "sqlite"
	}
}

const sqliteParams = "_pragma=foreign_keys(1)&_time_format=sqlite&_txlock=immediate"

// buildDSN normalises the configured DSN for the dialect. An empty SQLite
// DSN places the database file in dataDir, or in memory when dataDir is
// empty too.
func buildDSN(d Dialect, dsn, dataDir string) (string, error) {
	switch d {
	case DialectSQLite:
		if dsn != "" {
			return dsn, nil
		}
		if dataDir == "" {
			return ":memory:?" + sqliteParams, nil
		}
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return "", fmt.Errorf("create data dir: %w", err)
		}
		return filepath.Join(dataDir, "m3ugate.db") +
			"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&" + sqliteParams, nil

	case DialectMySQL:
		if dsn == "" {
			return "", fmt.Errorf("database.dsn is required for mysql")
		}
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "", fmt.Errorf("parse mysql dsn: %w", err)
		}
		cfg.ParseTime = true
		cfg.Loc = time.UTC
		// Report matched rather than changed rows so no-op updates are not
		// mistaken for missing rows.
		cfg.ClientFoundRows = true
		return cfg.FormatDSN(), nil

	default:
		if dsn == "" {
			return "", fmt.Errorf("database.dsn is required for %s", d)
		}
		return dsn, nil
	}
}
