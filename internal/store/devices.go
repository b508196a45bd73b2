package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3ugate/m3ugate/internal/admission"
	"github.com/m3ugate/m3ugate/internal/model"
)

// ---------------------------------------------------------------------------
// Device ledger
// ---------------------------------------------------------------------------

func (s *Store) devicesOf(ctx context.Context, q sqlx.QueryerContext, userID int64) ([]model.Device, error) {
	devices := []model.Device{}
	err := sqlx.SelectContext(ctx, q, &devices,
		s.rebind("SELECT * FROM devices WHERE user_id = ? ORDER BY first_seen, id"), userID)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	for i := range devices {
		devices[i].FirstSeen = devices[i].FirstSeen.UTC()
		devices[i].LastSeen = devices[i].LastSeen.UTC()
	}
	return devices, nil
}

// DevicesOf returns the user's device records, oldest first.
func (s *Store) DevicesOf(ctx context.Context, userID int64) ([]model.Device, error) {
	return s.devicesOf(ctx, s.db, userID)
}

// TouchDevice refreshes the last address and time of the user's device with
// the given identity, registering it if the identity is new. It does not
// consult any policy.
func (s *Store) TouchDevice(ctx context.Context, userID int64, identity, address string, now time.Time) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin touch device: %w", err)
	}
	defer tx.Rollback()

	err = s.touchDevice(ctx, tx, userID, identity, address, now)
	if errors.Is(err, ErrNotFound) {
		err = s.registerDevice(ctx, tx, userID, identity, address, now)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) touchDevice(ctx context.Context, ext sqlx.ExecerContext, userID int64, identity, address string, now time.Time) error {
	return s.execOne(ctx, ext, "touch device",
		"UPDATE devices SET last_address = ?, last_seen = ? WHERE user_id = ? AND identity = ?",
		address, dbTime(now), userID, identity)
}

func (s *Store) registerDevice(ctx context.Context, ext sqlx.ExtContext, userID int64, identity, address string, now time.Time) error {
	now = dbTime(now)
	const q = `INSERT INTO devices
		(user_id, identity, label, first_address, last_address, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.insert(ctx, ext, q, userID, identity, model.DeviceLabel(identity), address, address, now, now); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("register device: %w", err)
	}
	return nil
}

// ResetDevices removes all of the user's device records and returns how
// many were removed.
func (s *Store) ResetDevices(ctx context.Context, userID int64) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM devices WHERE user_id = ?"), userID)
	if err != nil {
		return 0, fmt.Errorf("reset devices: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset devices rows affected: %w", err)
	}
	return n, nil
}

// ApplyAdmission loads the user's current policy and device set, runs decide
// and applies the resulting mutation in one transaction. The user row is
// locked for the duration so concurrent admissions for the same user, from
// this process or another sharing the database, are serialised.
//
// A registration that loses a uniqueness race is converted into a deny
// rather than an error; no partial device record is ever written.
func (s *Store) ApplyAdmission(ctx context.Context, userID int64, decide admission.DecideFunc, now time.Time) (admission.Decision, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return admission.Decision{}, fmt.Errorf("begin admission: %w", err)
	}
	defer tx.Rollback()

	lockQuery := "SELECT * FROM users WHERE id = ?"
	if s.dialect != DialectSQLite {
		lockQuery += " FOR UPDATE"
	}
	var user model.User
	if err := tx.GetContext(ctx, &user, s.rebind(lockQuery), userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return admission.Decision{}, ErrNotFound
		}
		return admission.Decision{}, fmt.Errorf("lock user: %w", err)
	}
	normalizeUser(&user)

	devices, err := s.devicesOf(ctx, tx, userID)
	if err != nil {
		return admission.Decision{}, err
	}

	d := decide(&user, devices)
	m := d.Mutation
	if !d.Allow {
		return d, nil
	}

	switch m.Kind {
	case admission.MutationTouch:
		err = s.touchDevice(ctx, tx, userID, m.Identity, m.Address, now)
	case admission.MutationRegister:
		err = s.registerDevice(ctx, tx, userID, m.Identity, m.Address, now)
		if errors.Is(err, ErrConflict) {
			return admission.Decision{Reason: admission.ReasonRegistrationConflict}, nil
		}
	}
	if err != nil {
		return admission.Decision{}, err
	}

	if err := tx.Commit(); err != nil {
		return admission.Decision{}, fmt.Errorf("commit admission: %w", err)
	}
	return d, nil
}
