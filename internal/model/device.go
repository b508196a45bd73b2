package model

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mileusna/useragent"
)

// UnknownIdentity is the client identity used when a request carries none.
const UnknownIdentity = "Unknown"

// MaxIdentityLength is the longest client identity, in bytes, kept as a
// device key. Longer identities are cut on a character boundary, so two
// clients sharing the first MaxIdentityLength bytes share a slot.
const MaxIdentityLength = 512

// Device is one admitted client slot of a user. Identity is the slot key
// within the user's set; addresses are policy data only.
type Device struct {
	ID           int64     `json:"id" db:"id"`
	UserID       int64     `json:"user_id" db:"user_id"`
	Identity     string    `json:"identity" db:"identity"`
	Label        string    `json:"label" db:"label"`
	FirstAddress string    `json:"first_address" db:"first_address"`
	LastAddress  string    `json:"last_address" db:"last_address"`
	FirstSeen    time.Time `json:"first_seen" db:"first_seen"`
	LastSeen     time.Time `json:"last_seen" db:"last_seen"`
}

const maxRawLabel = 48

// DeviceLabel derives a short human-readable description of a client
// identity, e.g. "Chrome on Windows" or "VLC". Identities that do not parse
// as a browser user agent fall back to the (truncated) raw string.
func DeviceLabel(identity string) string {
	if identity == "" || identity == UnknownIdentity {
		return UnknownIdentity
	}

	ua := useragent.Parse(identity)
	switch {
	case ua.Name != "" && ua.OS != "":
		return ua.Name + " on " + ua.OS
	case ua.Name != "" && ua.Name != identity:
		return ua.Name
	}

	if len(identity) > maxRawLabel {
		return Truncate(identity, maxRawLabel) + "..."
	}
	return identity
}

// NormalizeIdentity turns a raw User-Agent header into a device key: invalid
// UTF-8 is replaced, surrounding space trimmed, an empty value becomes
// UnknownIdentity and the result is capped at MaxIdentityLength bytes.
func NormalizeIdentity(raw string) string {
	id := strings.TrimSpace(strings.ToValidUTF8(raw, "\uFFFD"))
	if id == "" {
		return UnknownIdentity
	}
	return Truncate(id, MaxIdentityLength)
}

// Truncate returns the longest prefix of s that is at most n bytes and does
// not split a UTF-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 0 {
		return ""
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
