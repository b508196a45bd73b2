// Package store persists users, their device ledgers, and the access journal
// in SQLite, PostgreSQL, or MySQL.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3ugate/m3ugate/internal/model"
)

// Options configures NewStore. The zero value opens an in-memory SQLite
// database, which is what tests use.
type Options struct {
	Driver  string
	DSN     string
	DataDir string
	Pool    model.PoolConfig
}

// Store is the gateway's persistent state: the credential directory, the
// device ledger and the access journal.
type Store struct {
	db      *sqlx.DB
	dialect Dialect
}

// NewStore opens the configured database and applies migrations.
func NewStore(opts Options) (*Store, error) {
	dialect, err := ParseDialect(opts.Driver)
	if err != nil {
		return nil, err
	}
	dsn, err := buildDSN(dialect, opts.DSN, opts.DataDir)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Connect(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect, err)
	}

	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	} else {
		pool := opts.Pool
		if pool.MaxOpenConns == 0 {
			pool = model.DefaultPoolConfig()
		}
		db.SetMaxOpenConns(pool.MaxOpenConns)
		db.SetMaxIdleConns(pool.MaxIdleConns)
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
		db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	}

	s := &Store{db: db, dialect: dialect}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s database: %w", dialect, err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Dialect returns the backend in use.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// rebind converts '?' placeholders to the dialect's bind style.
func (s *Store) rebind(query string) string {
	return s.db.Rebind(query)
}

// insert runs an INSERT and returns the generated id.
func (s *Store) insert(ctx context.Context, ext sqlx.ExtContext, query string, args ...interface{}) (int64, error) {
	if s.dialect == DialectPostgres {
		var id int64
		if err := ext.QueryRowxContext(ctx, s.rebind(query+" RETURNING id"), args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}

	result, err := ext.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// execOne runs a statement that must affect at least one row.
func (s *Store) execOne(ctx context.Context, ext sqlx.ExecerContext, what, query string, args ...interface{}) error {
	result, err := ext.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", what, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// dbTime normalises a timestamp for storage. Every backend keeps at least
// microsecond precision, so values read back compare equal.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
