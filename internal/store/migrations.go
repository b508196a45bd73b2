package store

import "fmt"

func (s *Store) migrate() error {
	var migrations []string
	switch s.dialect {
	case DialectPostgres:
		migrations = postgresMigrations
	case DialectMySQL:
		migrations = mysqlMigrations
	default:
		migrations = sqliteMigrations
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	if s.dialect == DialectMySQL {
		return s.migrateMySQLCollations()
	}
	return nil
}

// mysqlBinaryColumns must compare byte for byte: tokens are secrets and
// identities are device keys, and the default collation folds case.
var mysqlBinaryColumns = []struct {
	table, column, definition string
}{
	{"users", "token", "VARCHAR(255) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL"},
	{"devices", "identity", "VARCHAR(512) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL"},
}

// migrateMySQLCollations upgrades tables created before the key columns
// were declared binary.
func (s *Store) migrateMySQLCollations() error {
	for _, c := range mysqlBinaryColumns {
		var collation string
		err := s.db.Get(&collation, `SELECT COALESCE(COLLATION_NAME, '') FROM information_schema.COLUMNS
			WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? AND COLUMN_NAME = ?`, c.table, c.column)
		if err != nil {
			return fmt.Errorf("inspect %s.%s collation: %w", c.table, c.column, err)
		}
		if collation == "utf8mb4_bin" {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s MODIFY %s %s", c.table, c.column, c.definition)
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, stmt)
		}
	}
	return nil
}

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		token TEXT UNIQUE NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		max_devices INTEGER NOT NULL DEFAULT 3,
		strict_ip_mode INTEGER NOT NULL DEFAULT 1
	)`,

	`CREATE TABLE IF NOT EXISTS devices (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		identity TEXT NOT NULL,
		label TEXT NOT NULL DEFAULT '',
		first_address TEXT NOT NULL,
		last_address TEXT NOT NULL,
		first_seen DATETIME NOT NULL,
		last_seen DATETIME NOT NULL,
		UNIQUE(user_id, identity)
	)`,

	`CREATE TABLE IF NOT EXISTS access_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER REFERENCES users(id) ON DELETE SET NULL,
		timestamp DATETIME NOT NULL,
		ip_address TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		token_used TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE INDEX IF NOT EXISTS idx_access_logs_timestamp ON access_logs(timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_access_logs_user_id ON access_logs(user_id)`,
}

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		token TEXT UNIQUE NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		max_devices INTEGER NOT NULL DEFAULT 3,
		strict_ip_mode BOOLEAN NOT NULL DEFAULT TRUE
	)`,

	`CREATE TABLE IF NOT EXISTS devices (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		identity TEXT NOT NULL,
		label TEXT NOT NULL DEFAULT '',
		first_address TEXT NOT NULL,
		last_address TEXT NOT NULL,
		first_seen TIMESTAMPTZ NOT NULL,
		last_seen TIMESTAMPTZ NOT NULL,
		UNIQUE(user_id, identity)
	)`,

	`CREATE TABLE IF NOT EXISTS access_logs (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT REFERENCES users(id) ON DELETE SET NULL,
		timestamp TIMESTAMPTZ NOT NULL,
		ip_address TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		token_used TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE INDEX IF NOT EXISTS idx_access_logs_timestamp ON access_logs(timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_access_logs_user_id ON access_logs(user_id)`,
}

// MySQL has no CREATE INDEX IF NOT EXISTS, so indexes are declared inline.
var mysqlMigrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		username VARCHAR(255) NOT NULL UNIQUE,
		token VARCHAR(255) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL UNIQUE,
		created_at DATETIME(6) NOT NULL,
		expires_at DATETIME(6) NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		max_devices INT NOT NULL DEFAULT 3,
		strict_ip_mode BOOLEAN NOT NULL DEFAULT TRUE
	) ENGINE=InnoDB`,

	`CREATE TABLE IF NOT EXISTS devices (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		user_id BIGINT NOT NULL,
		identity VARCHAR(512) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL,
		label VARCHAR(255) NOT NULL DEFAULT '',
		first_address VARCHAR(64) NOT NULL,
		last_address VARCHAR(64) NOT NULL,
		first_seen DATETIME(6) NOT NULL,
		last_seen DATETIME(6) NOT NULL,
		UNIQUE KEY uq_devices_user_identity (user_id, identity),
		CONSTRAINT fk_devices_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	) ENGINE=InnoDB`,

	`CREATE TABLE IF NOT EXISTS access_logs (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		user_id BIGINT NULL,
		timestamp DATETIME(6) NOT NULL,
		ip_address VARCHAR(64) NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL,
		token_used VARCHAR(255) NOT NULL DEFAULT '',
		status VARCHAR(16) NOT NULL,
		reason VARCHAR(255) NOT NULL DEFAULT '',
		KEY idx_access_logs_timestamp (timestamp),
		KEY idx_access_logs_user_id (user_id),
		CONSTRAINT fk_access_logs_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE SET NULL
	) ENGINE=InnoDB`,
}
