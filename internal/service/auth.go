package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAdminDisabled      = errors.New("admin api disabled: no admin key configured")
)

const jwtIssuer = "m3ugate"

// AdminPrincipal identifies an authenticated admin caller.
type AdminPrincipal struct {
	Subject string
	Method  string // "key" or "session"
}

// AuthService authenticates the admin surface: either the shared admin key
// itself or a short-lived session JWT issued in exchange for it.
type AuthService struct {
	adminKey  []byte
	jwtSecret []byte
}

func NewAuthService(adminKey, jwtSecret string) *AuthService {
	return &AuthService{
		adminKey:  []byte(adminKey),
		jwtSecret: []byte(jwtSecret),
	}
}

// Enabled reports whether an admin key is configured. Without one every
// admin request is refused.
func (s *AuthService) Enabled() bool {
	return len(s.adminKey) > 0
}

// ValidateAdminKey compares rawKey to the configured admin key in constant
// time.
func (s *AuthService) ValidateAdminKey(rawKey string) (*AdminPrincipal, error) {
	if !s.Enabled() {
		return nil, ErrAdminDisabled
	}
	want := hashKey(s.adminKey)
	got := hashKey([]byte(rawKey))
	if subtle.ConstantTimeCompare(want[:], got[:]) != 1 {
		return nil, ErrInvalidCredentials
	}
	return &AdminPrincipal{Subject: "admin", Method: "key"}, nil
}

// ValidateJWT verifies a session token issued by IssueJWT.
func (s *AuthService) ValidateJWT(ctx context.Context, tokenStr string) (*AdminPrincipal, error) {
	if !s.Enabled() {
		return nil, ErrAdminDisabled
	}
	claims := &jwt.RegisteredClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	}, jwt.WithIssuer(jwtIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	if !token.Valid {
		return nil, ErrInvalidCredentials
	}

	return &AdminPrincipal{Subject: claims.Subject, Method: "session"}, nil
}

// IssueJWT exchanges the admin key for a signed session token valid for ttl.
func (s *AuthService) IssueJWT(ctx context.Context, rawKey string, ttl time.Duration) (string, time.Time, error) {
	if _, err := s.ValidateAdminKey(rawKey); err != nil {
		return "", time.Time{}, err
	}

	now := time.Now()
	expiresAt := now.Add(ttl)
	claims := jwt.RegisteredClaims{
		Subject:   "admin",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		Issuer:    jwtIssuer,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func hashKey(rawKey []byte) [sha256.Size]byte {
	return sha256.Sum256(rawKey)
}
