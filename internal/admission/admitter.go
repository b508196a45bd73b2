package admission

import (
	"context"
	"time"

	"github.com/m3ugate/m3ugate/internal/model"
)

// DecideFunc evaluates an attempt against a freshly loaded user and device set.
type DecideFunc func(user *model.User, devices []model.Device) Decision

// Ledger is the storage capability the Admitter needs: load the user's
// current policy and device set, run decide, and apply the resulting
// mutation, all as one atomic unit.
type Ledger interface {
	ApplyAdmission(ctx context.Context, userID int64, decide DecideFunc, now time.Time) (Decision, error)
}

// Admitter runs the admission policy against the ledger, one decision at a
// time per user.
type Admitter struct {
	ledger Ledger
	locks  *KeyedLocker
	now    func() time.Time
}

// NewAdmitter creates an Admitter backed by the given ledger.
func NewAdmitter(ledger Ledger) *Admitter {
	return &Admitter{
		ledger: ledger,
		locks:  NewKeyedLocker(),
		now:    time.Now,
	}
}

// WithClock replaces the admitter's time source. Used by tests.
func (a *Admitter) WithClock(now func() time.Time) *Admitter {
	a.now = now
	return a
}

// Admit decides whether identity at address may use user's playlist and
// records the device on success. user is the record the request's token
// resolved to; the ledger re-reads it under lock, and a token rotation,
// disable or expiry that happened in between denies the request.
func (a *Admitter) Admit(ctx context.Context, user *model.User, address, identity string) (Decision, error) {
	unlock := a.locks.Lock(user.ID)
	defer unlock()

	now := a.now().UTC()
	return a.ledger.ApplyAdmission(ctx, user.ID, func(current *model.User, devices []model.Device) Decision {
		if d, ok := Recheck(user, current, now); !ok {
			return d
		}
		return Decide(current, devices, address, identity)
	}, now)
}
