// Package admission decides whether a client may consume the playlist and
// serialises those decisions per user.
package admission

import (
	"time"

	"github.com/m3ugate/m3ugate/internal/model"
)

// Reasons journaled for admission decisions. They are never shown to the
// requesting client.
const (
	ReasonGranted              = "Access granted"
	ReasonIPMismatch           = "IP mismatch in strict mode"
	ReasonMaxDevices           = "Max devices reached"
	ReasonRegistrationConflict = "Device registration conflict"

	ReasonInvalidToken = "Invalid token"
	ReasonInactive     = "User inactive"
	ReasonExpired      = "Token expired"
)

// MutationKind identifies the ledger change an allow decision requires.
type MutationKind int

const (
	MutationNone MutationKind = iota
	MutationTouch
	MutationRegister
)

func (k MutationKind) String() string {
	switch k {
	case MutationTouch:
		return "touch"
	case MutationRegister:
		return "register"
	default:
		return "none"
	}
}

// Mutation is the ledger change to apply when a decision allows access.
type Mutation struct {
	Kind     MutationKind
	UserID   int64
	Identity string
	Address  string
}

// Decision is the result of evaluating one access attempt.
type Decision struct {
	Allow    bool
	Reason   string
	Mutation Mutation
}

func deny(reason string) Decision {
	return Decision{Allow: false, Reason: reason}
}

// Recheck repeats the credential checks against current, the copy of the
// user read under the ledger lock, for a request that resolved seen. It
// denies when the token was rotated, the user disabled or the token expired
// in between; ok is true when admission may proceed.
func Recheck(seen, current *model.User, now time.Time) (d Decision, ok bool) {
	switch {
	case current.Token != seen.Token:
		return deny(ReasonInvalidToken), false
	case !current.IsActive:
		return deny(ReasonInactive), false
	case current.Expired(now):
		return deny(ReasonExpired), false
	}
	return Decision{}, true
}

// Decide evaluates an access attempt from (address, identity) against the
// user's current device set. It has no side effects.
//
// A known identity keeps its slot forever: in strict mode it must come from
// the address it was first admitted from, in flexible mode from anywhere.
// A new identity takes a free slot if one exists. Slots are counted by
// distinct identity and are never evicted.
func Decide(user *model.User, devices []model.Device, address, identity string) Decision {
	for i := range devices {
		d := &devices[i]
		if d.Identity != identity {
			continue
		}
		if user.StrictIPMode && d.FirstAddress != address {
			return deny(ReasonIPMismatch)
		}
		return Decision{
			Allow:  true,
			Reason: ReasonGranted,
			Mutation: Mutation{
				Kind:     MutationTouch,
				UserID:   user.ID,
				Identity: identity,
				Address:  address,
			},
		}
	}

	if len(devices) >= user.MaxDevices {
		return deny(ReasonMaxDevices)
	}
	return Decision{
		Allow:  true,
		Reason: ReasonGranted,
		Mutation: Mutation{
			Kind:     MutationRegister,
			UserID:   user.ID,
			Identity: identity,
			Address:  address,
		},
	}
}
