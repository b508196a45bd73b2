package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/m3ugate/m3ugate/internal/model"
	"github.com/m3ugate/m3ugate/internal/store"
)

const (
	maxUsernameLen = 255
	tokenAttempts  = 3
)

// Directory is the credential directory: it creates users, resolves tokens,
// and applies admin changes to users and their device sets.
type Directory struct {
	store    *store.Store
	logger   *slog.Logger
	now      func() time.Time
	newToken func() string
}

// NewDirectory creates a Directory backed by s.
func NewDirectory(s *store.Store, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		store:    s,
		logger:   logger,
		now:      time.Now,
		newToken: generateToken,
	}
}

// WithClock replaces the directory's time source. Used by tests.
func (d *Directory) WithClock(now func() time.Time) *Directory {
	d.now = now
	return d
}

// generateToken returns a fresh random (version 4) UUID string.
func generateToken() string {
	return uuid.NewString()
}

// Resolve returns the user currently holding token, or (nil, nil) if no
// user does.
func (d *Directory) Resolve(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, nil
	}
	u, err := d.store.GetUserByToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Create registers a new user with a fresh token valid for
// model.TokenValidity, active, with the default device policy.
func (d *Directory) Create(ctx context.Context, username string) (*model.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if len(username) > maxUsernameLen {
		return nil, fmt.Errorf("%w: username longer than %d characters", ErrInvalidInput, maxUsernameLen)
	}

	now := d.now().UTC()
	u := &model.User{
		Username:     username,
		CreatedAt:    now,
		ExpiresAt:    now.Add(model.TokenValidity),
		IsActive:     true,
		MaxDevices:   model.DefaultMaxDevices,
		StrictIPMode: model.DefaultStrictIPMode,
	}

	err := d.withFreshToken(func(token string) error {
		u.Token = token
		return d.store.CreateUser(ctx, u)
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) && !errors.Is(err, store.ErrTokenConflict) {
			return nil, fmt.Errorf("%w: username %q already exists", ErrConflict, username)
		}
		return nil, err
	}

	d.logger.Info("user created", "username", u.Username, "expires_at", u.ExpiresAt)
	return u, nil
}

// withFreshToken calls write with newly generated tokens until it stops
// failing with a token collision.
func (d *Directory) withFreshToken(write func(token string) error) error {
	var err error
	for i := 0; i < tokenAttempts; i++ {
		err = write(d.newToken())
		if !errors.Is(err, store.ErrTokenConflict) {
			return err
		}
		d.logger.Warn("token collision, retrying", "attempt", i+1)
	}
	return err
}

// Get returns a user by username.
func (d *Directory) Get(ctx context.Context, username string) (*model.User, error) {
	return d.store.GetUserByUsername(ctx, username)
}

// List returns all users, most recently created first.
func (d *Directory) List(ctx context.Context) ([]model.User, error) {
	return d.store.ListUsers(ctx)
}

// RotateToken gives the user a new token. The previous token stops
// resolving immediately; devices, expiry and settings are unchanged.
func (d *Directory) RotateToken(ctx context.Context, username string) (*model.User, error) {
	u, err := d.Get(ctx, username)
	if err != nil {
		return nil, err
	}

	err = d.withFreshToken(func(token string) error {
		u.Token = token
		return d.store.UpdateUserToken(ctx, u.ID, token)
	})
	if err != nil {
		return nil, err
	}

	d.logger.Info("user token rotated", "username", u.Username)
	return u, nil
}

// Renew issues a new token valid for model.TokenValidity from now and
// reactivates the user. Registered devices are kept.
func (d *Directory) Renew(ctx context.Context, username string) (*model.User, error) {
	u, err := d.Get(ctx, username)
	if err != nil {
		return nil, err
	}

	expiresAt := d.now().UTC().Add(model.TokenValidity)
	err = d.withFreshToken(func(token string) error {
		u.Token = token
		return d.store.RenewUser(ctx, u.ID, token, expiresAt)
	})
	if err != nil {
		return nil, err
	}

	d.logger.Info("user renewed", "username", u.Username, "expires_at", expiresAt)
	return d.store.GetUser(ctx, u.ID)
}

// SetActive enables or disables a user.
func (d *Directory) SetActive(ctx context.Context, username string, active bool) (*model.User, error) {
	u, err := d.Get(ctx, username)
	if err != nil {
		return nil, err
	}
	if err := d.store.SetUserActive(ctx, u.ID, active); err != nil {
		return nil, err
	}
	u.IsActive = active

	d.logger.Info("user status changed", "username", u.Username, "is_active", active)
	return u, nil
}

// UpdateSettings applies a partial update of the user's device policy and
// expiry. Fields left nil are untouched; an empty update writes nothing.
func (d *Directory) UpdateSettings(ctx context.Context, username string, settings model.UserSettings) (*model.User, error) {
	if settings.MaxDevices != nil && *settings.MaxDevices < 0 {
		return nil, fmt.Errorf("%w: max_devices must not be negative", ErrInvalidInput)
	}

	u, err := d.Get(ctx, username)
	if err != nil {
		return nil, err
	}
	if settings.Empty() {
		return u, nil
	}
	if err := d.store.UpdateUserSettings(ctx, u.ID, settings); err != nil {
		return nil, err
	}

	d.logger.Info("user settings updated", "username", u.Username)
	return d.store.GetUser(ctx, u.ID)
}

// Delete removes a user and its devices. Journal entries that referenced
// the user are kept with no user.
func (d *Directory) Delete(ctx context.Context, username string) error {
	u, err := d.Get(ctx, username)
	if err != nil {
		return err
	}
	if err := d.store.DeleteUser(ctx, u.ID); err != nil {
		return err
	}

	d.logger.Info("user deleted", "username", u.Username)
	return nil
}

// Devices returns the user's registered devices, oldest first.
func (d *Directory) Devices(ctx context.Context, username string) ([]model.Device, error) {
	u, err := d.Get(ctx, username)
	if err != nil {
		return nil, err
	}
	return d.store.DevicesOf(ctx, u.ID)
}

// ResetDevices clears the user's device set and returns how many records
// were removed.
func (d *Directory) ResetDevices(ctx context.Context, username string) (int64, error) {
	u, err := d.Get(ctx, username)
	if err != nil {
		return 0, err
	}
	n, err := d.store.ResetDevices(ctx, u.ID)
	if err != nil {
		return 0, err
	}

	d.logger.Info("user devices reset", "username", u.Username, "removed", n)
	return n, nil
}
