package model

import "time"

// Outcome is the terminal state of one admission attempt.
type Outcome string

const (
	OutcomeAllowed Outcome = "ALLOWED"
	OutcomeBlocked Outcome = "BLOCKED"
	OutcomeExpired Outcome = "EXPIRED"
	OutcomeError   Outcome = "ERROR" // storage failure; the caller saw a 500
)

// Valid reports whether o is one of the known outcome tags.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeAllowed, OutcomeBlocked, OutcomeExpired, OutcomeError:
		return true
	}
	return false
}

// NoToken is journaled as the presented token when the request had none.
const NoToken = "NONE"

// JournalEntry is an immutable audit record of one admission attempt.
// UserID is nil when the token could not be resolved, or after the user
// has been deleted.
type JournalEntry struct {
	ID        int64     `json:"id" db:"id"`
	UserID    *int64    `json:"user_id" db:"user_id"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	Address   string    `json:"ip_address" db:"ip_address"`
	Identity  string    `json:"user_agent" db:"user_agent"`
	TokenUsed string    `json:"token_used" db:"token_used"`
	Status    Outcome   `json:"status" db:"status"`
	Reason    string    `json:"reason" db:"reason"`
}

// JournalQuery selects a page of journal entries, most recent first.
type JournalQuery struct {
	Limit    int
	Offset   int
	Status   Outcome // empty matches all
	Username string  // empty matches all
}

const (
	DefaultJournalLimit = 100
	MaxJournalLimit     = 500
)
