package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3ugate/m3ugate/internal/model"
)

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

func normalizeUser(u *model.User) {
	u.CreatedAt = u.CreatedAt.UTC()
	u.ExpiresAt = u.ExpiresAt.UTC()
}

// CreateUser inserts a new user. The ID field on u is populated after a
// successful insert. A duplicate username yields ErrConflict, a duplicate
// token ErrTokenConflict.
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	u.CreatedAt = dbTime(u.CreatedAt)
	u.ExpiresAt = dbTime(u.ExpiresAt)

	const q = `INSERT INTO users
		(username, token, created_at, expires_at, is_active, max_devices, strict_ip_mode)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	id, err := s.insert(ctx, s.db, q,
		u.Username, u.Token, u.CreatedAt, u.ExpiresAt, u.IsActive, u.MaxDevices, u.StrictIPMode)
	if err != nil {
		if isUniqueViolation(err) {
			return classifyUserConflict(err)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	u.ID = id
	return nil
}

func (s *Store) getUser(ctx context.Context, q sqlx.QueryerContext, what, where string, arg interface{}) (*model.User, error) {
	var u model.User
	if err := sqlx.GetContext(ctx, q, &u, s.rebind("SELECT * FROM users WHERE "+where), arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	normalizeUser(&u)
	return &u, nil
}

// GetUser returns a user by ID.
func (s *Store) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return s.getUser(ctx, s.db, "get user", "id = ?", id)
}

// GetUserByUsername returns a user by its unique username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.getUser(ctx, s.db, "get user by username", "username = ?", username)
}

// GetUserByToken returns the user currently holding token.
func (s *Store) GetUserByToken(ctx context.Context, token string) (*model.User, error) {
	return s.getUser(ctx, s.db, "get user by token", "token = ?", token)
}

// ListUsers returns all users, most recently created first.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	users := []model.User{}
	if err := s.db.SelectContext(ctx, &users, "SELECT * FROM users ORDER BY created_at DESC, id DESC"); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	for i := range users {
		normalizeUser(&users[i])
	}
	return users, nil
}

// UpdateUserToken replaces a user's token and nothing else.
func (s *Store) UpdateUserToken(ctx context.Context, id int64, token string) error {
	err := s.execOne(ctx, s.db, "update user token", "UPDATE users SET token = ? WHERE id = ?", token, id)
	return classifyUserConflict(err)
}

// RenewUser issues a new token and expiry and reactivates the user.
func (s *Store) RenewUser(ctx context.Context, id int64, token string, expiresAt time.Time) error {
	err := s.execOne(ctx, s.db, "renew user",
		"UPDATE users SET token = ?, expires_at = ?, is_active = ? WHERE id = ?",
		token, dbTime(expiresAt), true, id)
	return classifyUserConflict(err)
}

// SetUserActive sets the user's active flag.
func (s *Store) SetUserActive(ctx context.Context, id int64, active bool) error {
	return s.execOne(ctx, s.db, "set user active", "UPDATE users SET is_active = ? WHERE id = ?", active, id)
}

// UpdateUserSettings applies the non-nil fields of settings. An empty update
// only checks that the user exists.
func (s *Store) UpdateUserSettings(ctx context.Context, id int64, settings model.UserSettings) error {
	var (
		sets []string
		args []interface{}
	)
	if settings.MaxDevices != nil {
		sets = append(sets, "max_devices = ?")
		args = append(args, *settings.MaxDevices)
	}
	if settings.StrictIPMode != nil {
		sets = append(sets, "strict_ip_mode = ?")
		args = append(args, *settings.StrictIPMode)
	}
	if settings.ExpiresAt != nil {
		sets = append(sets, "expires_at = ?")
		args = append(args, dbTime(*settings.ExpiresAt))
	}

	if len(sets) == 0 {
		_, err := s.GetUser(ctx, id)
		return err
	}

	args = append(args, id)
	q := "UPDATE users SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	return s.execOne(ctx, s.db, "update user settings", q, args...)
}

// DeleteUser removes a user and its devices. Journal entries are kept with
// their user reference cleared.
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete user: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind("UPDATE access_logs SET user_id = NULL WHERE user_id = ?"), id); err != nil {
		return fmt.Errorf("detach journal: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM devices WHERE user_id = ?"), id); err != nil {
		return fmt.Errorf("delete devices: %w", err)
	}
	if err := s.execOne(ctx, tx, "delete user", "DELETE FROM users WHERE id = ?", id); err != nil {
		return err
	}
	return tx.Commit()
}
