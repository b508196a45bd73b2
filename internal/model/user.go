package model

import "time"

const (
	// TokenValidity is how long a freshly issued or renewed token stays valid.
	TokenValidity = 30 * 24 * time.Hour

	DefaultMaxDevices   = 3
	DefaultStrictIPMode = true
)

// User is a credential holder. Username is the immutable identity key; the
// token is the only thing a client presents and can be rotated at any time.
type User struct {
	ID           int64     `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	Token        string    `json:"token" db:"token"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	ExpiresAt    time.Time `json:"expires_at" db:"expires_at"`
	IsActive     bool      `json:"is_active" db:"is_active"`
	MaxDevices   int       `json:"max_devices" db:"max_devices"`
	StrictIPMode bool      `json:"strict_ip_mode" db:"strict_ip_mode"`
}

// Expired reports whether the token is past its expiry at the given instant.
// A token is still valid at exactly ExpiresAt.
func (u *User) Expired(now time.Time) bool {
	return now.After(u.ExpiresAt)
}

// UserSettings is a partial update of the admin-mutable policy fields of a
// User. Nil fields are left untouched. It is the complete allow-list: any
// other key in an update request is ignored.
type UserSettings struct {
	MaxDevices   *int       `json:"max_devices,omitempty"`
	StrictIPMode *bool      `json:"strict_ip_mode,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// Empty reports whether the update carries no fields.
func (s UserSettings) Empty() bool {
	return s.MaxDevices == nil && s.StrictIPMode == nil && s.ExpiresAt == nil
}
