package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/m3ugate/m3ugate/internal/admission"
	"github.com/m3ugate/m3ugate/internal/metrics"
	"github.com/m3ugate/m3ugate/internal/model"
)

// Journal reasons for outcomes decided before the admission policy runs.
const (
	ReasonNoToken      = "No token provided"
	ReasonInvalidToken = admission.ReasonInvalidToken
	ReasonInactive     = admission.ReasonInactive
	ReasonExpired      = admission.ReasonExpired
	ReasonServerError  = "Server error"
)

// admitTimeout bounds one access decision including its journal write. The
// decision is detached from the caller's cancellation so a client hanging up
// mid-request cannot leave the ledger and journal disagreeing.
const admitTimeout = 10 * time.Second

// maxJournalToken caps the presented token as journaled; anything longer is
// not a token the directory could have issued.
const maxJournalToken = 255

// AccessRequest is one client's attempt to fetch the playlist.
type AccessRequest struct {
	Token    string
	Address  string
	Identity string
}

// Result is the terminal outcome of an AccessRequest. User is set whenever
// the token resolved.
type Result struct {
	Outcome model.Outcome
	Reason  string
	User    *model.User
}

// Allowed reports whether the playlist may be served.
func (r Result) Allowed() bool {
	return r.Outcome == model.OutcomeAllowed
}

// Gateway is the single entry point for playlist access decisions. Every
// call produces exactly one journal entry.
type Gateway struct {
	directory *Directory
	admitter  *admission.Admitter
	journal   *Journal
	logger    *slog.Logger
	now       func() time.Time
}

// NewGateway wires the gateway to its collaborators.
func NewGateway(directory *Directory, admitter *admission.Admitter, journal *Journal, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		directory: directory,
		admitter:  admitter,
		journal:   journal,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock replaces the gateway's time source, used for expiry checks and
// journal timestamps. Used by tests.
func (g *Gateway) WithClock(now func() time.Time) *Gateway {
	g.now = now
	return g
}

// Admit runs the access state machine for req: token presence, resolution,
// active flag, expiry, then the device admission policy. Storage failures
// end in model.OutcomeError.
func (g *Gateway) Admit(ctx context.Context, req AccessRequest) Result {
	started := time.Now()
	req.Identity = model.NormalizeIdentity(req.Identity)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), admitTimeout)
	defer cancel()

	res := g.decide(ctx, req)

	entry := model.JournalEntry{
		Timestamp: g.now().UTC(),
		Address:   req.Address,
		Identity:  req.Identity,
		TokenUsed: model.Truncate(req.Token, maxJournalToken),
		Status:    res.Outcome,
		Reason:    res.Reason,
	}
	if req.Token == "" {
		entry.TokenUsed = model.NoToken
	}
	if res.User != nil {
		id := res.User.ID
		entry.UserID = &id
	}
	g.journal.Record(ctx, entry)

	metrics.ObserveAdmission(string(res.Outcome), started)
	return res
}

func (g *Gateway) decide(ctx context.Context, req AccessRequest) Result {
	if req.Token == "" {
		return Result{Outcome: model.OutcomeBlocked, Reason: ReasonNoToken}
	}

	user, err := g.directory.Resolve(ctx, req.Token)
	if err != nil {
		g.logger.Error("token lookup failed", "error", err, "ip_address", req.Address)
		return Result{Outcome: model.OutcomeError, Reason: ReasonServerError}
	}
	if user == nil {
		return Result{Outcome: model.OutcomeBlocked, Reason: ReasonInvalidToken}
	}
	if !user.IsActive {
		return Result{Outcome: model.OutcomeBlocked, Reason: ReasonInactive, User: user}
	}
	if user.Expired(g.now()) {
		return Result{Outcome: model.OutcomeExpired, Reason: ReasonExpired, User: user}
	}

	d, err := g.admitter.Admit(ctx, user, req.Address, req.Identity)
	if errors.Is(err, ErrNotFound) {
		// Deleted between resolution and admission.
		return Result{Outcome: model.OutcomeBlocked, Reason: ReasonInvalidToken}
	}
	if err != nil {
		g.logger.Error("device admission failed",
			"error", err,
			"username", user.Username,
			"ip_address", req.Address,
		)
		return Result{Outcome: model.OutcomeError, Reason: ReasonServerError, User: user}
	}
	if !d.Allow {
		if d.Reason == admission.ReasonExpired {
			return Result{Outcome: model.OutcomeExpired, Reason: d.Reason, User: user}
		}
		return Result{Outcome: model.OutcomeBlocked, Reason: d.Reason, User: user}
	}

	if d.Mutation.Kind == admission.MutationRegister {
		metrics.DevicesRegistered.Inc()
		g.logger.Info("device registered", "username", user.Username, "ip_address", req.Address)
	}
	return Result{Outcome: model.OutcomeAllowed, Reason: d.Reason, User: user}
}
