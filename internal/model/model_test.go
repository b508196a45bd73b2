package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestUserExpired(t *testing.T) {
	exp := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	u := User{ExpiresAt: exp}

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"before expiry", exp.Add(-time.Second), false},
		{"at expiry", exp, false},
		{"after expiry", exp.Add(time.Second), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := u.Expired(tt.now); got != tt.want {
				t.Errorf("Expired(%v) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestUserSettingsEmpty(t *testing.T) {
	if !(UserSettings{}).Empty() {
		t.Error("zero UserSettings should be empty")
	}
	n := 5
	if (UserSettings{MaxDevices: &n}).Empty() {
		t.Error("UserSettings with MaxDevices should not be empty")
	}
}

func TestUserSettingsIgnoresUnknownKeys(t *testing.T) {
	var s UserSettings
	body := `{"max_devices": 5, "username": "mallory", "token": "x", "is_active": false}`
	if err := json.Unmarshal([]byte(body), &s); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if s.MaxDevices == nil || *s.MaxDevices != 5 {
		t.Errorf("MaxDevices = %v, want 5", s.MaxDevices)
	}
	if s.StrictIPMode != nil || s.ExpiresAt != nil {
		t.Error("expected only max_devices to be set")
	}
}

func TestOutcomeValid(t *testing.T) {
	for _, o := range []Outcome{OutcomeAllowed, OutcomeBlocked, OutcomeExpired, OutcomeError} {
		if !o.Valid() {
			t.Errorf("%q should be valid", o)
		}
	}
	if Outcome("DENIED").Valid() {
		t.Error("DENIED should not be valid")
	}
}

func TestDeviceLabel(t *testing.T) {
	chrome := "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	if got := DeviceLabel(chrome); got != "Chrome on Windows" {
		t.Errorf("DeviceLabel(chrome) = %q, want %q", got, "Chrome on Windows")
	}
	if got := DeviceLabel(""); got != UnknownIdentity {
		t.Errorf("DeviceLabel(\"\") = %q, want %q", got, UnknownIdentity)
	}
	if got := DeviceLabel(UnknownIdentity); got != UnknownIdentity {
		t.Errorf("DeviceLabel(Unknown) = %q, want %q", got, UnknownIdentity)
	}

	long := strings.Repeat("x", 200)
	if got := DeviceLabel(long); len(got) > maxRawLabel+3 {
		t.Errorf("DeviceLabel(long) not truncated: len=%d", len(got))
	}

	// The cut at maxRawLabel bytes falls inside a two-byte character.
	accented := strings.Repeat("a", maxRawLabel-1) + "éééééééé-custom-player"
	got := DeviceLabel(accented)
	if !utf8.ValidString(got) {
		t.Errorf("DeviceLabel(accented) = %q, not valid UTF-8", got)
	}
	if want := strings.Repeat("a", maxRawLabel-1) + "..."; got != want {
		t.Errorf("DeviceLabel(accented) = %q, want %q", got, want)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exact", 5, "exact"},
		{"abcdef", 3, "abc"},
		{"aé", 2, "a"},
		{"aé", 3, "aé"},
		{"日本語", 4, "日"},
		{"日本語", 0, ""},
	}
	for _, tt := range tests {
		got := Truncate(tt.in, tt.n)
		if got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("Truncate(%q, %d) produced invalid UTF-8", tt.in, tt.n)
		}
	}
}

func TestNormalizeIdentity(t *testing.T) {
	if got := NormalizeIdentity("   "); got != UnknownIdentity {
		t.Errorf("blank identity = %q, want %q", got, UnknownIdentity)
	}
	if got := NormalizeIdentity(" VLC/3.0.18 "); got != "VLC/3.0.18" {
		t.Errorf("trimmed identity = %q", got)
	}
	if got := NormalizeIdentity("Kodi\xff/20"); !utf8.ValidString(got) || got != "Kodi\uFFFD/20" {
		t.Errorf("invalid bytes not replaced: %q", got)
	}
	if got := NormalizeIdentity("Mozilla/5.0 X"); got == NormalizeIdentity("mozilla/5.0 x") {
		t.Error("identities differing only in case must stay distinct")
	}

	long := strings.Repeat("é", MaxIdentityLength)
	got := NormalizeIdentity(long)
	if len(got) > MaxIdentityLength || !utf8.ValidString(got) {
		t.Errorf("long identity: len=%d valid=%v", len(got), utf8.ValidString(got))
	}
	if len(got) != MaxIdentityLength {
		t.Errorf("long identity len = %d, want %d", len(got), MaxIdentityLength)
	}
}

func TestJournalEntryJSON(t *testing.T) {
	e := JournalEntry{
		ID:        1,
		TokenUsed: NoToken,
		Address:   "10.0.0.1",
		Identity:  UnknownIdentity,
		Status:    OutcomeBlocked,
		Reason:    "No token provided",
	}
	b, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if m["user_id"] != nil {
		t.Errorf("user_id = %v, want null", m["user_id"])
	}
	if m["status"] != "BLOCKED" {
		t.Errorf("status = %v, want BLOCKED", m["status"])
	}
}
