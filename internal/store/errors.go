package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a requested resource does not exist in the store.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write would violate a uniqueness constraint.
var ErrConflict = errors.New("conflict")

// ErrTokenConflict is the ErrConflict raised when a token is already in use
// by another user. Callers may retry with a freshly generated token.
var ErrTokenConflict = fmt.Errorf("%w: token already in use", ErrConflict)

// isUniqueViolation reports whether err is a unique constraint failure on
// any supported dialect.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}

	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}

// classifyUserConflict maps a unique violation on the users table to the
// matching sentinel. Non-conflict errors are returned unchanged.
func classifyUserConflict(err error) error {
	if !isUniqueViolation(err) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if strings.Contains(pgErr.ConstraintName, "token") {
			return ErrTokenConflict
		}
		return ErrConflict
	}
	msg := err.Error()
	if strings.Contains(msg, "users.token") || strings.Contains(msg, "key 'token'") {
		return ErrTokenConflict
	}
	return ErrConflict
}
