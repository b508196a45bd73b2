package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/m3ugate/m3ugate/internal/admission"
	"github.com/m3ugate/m3ugate/internal/model"
	"github.com/m3ugate/m3ugate/internal/store"
)

// testEnv wires a gateway over an in-memory store with a controllable clock.
type testEnv struct {
	store     *store.Store
	directory *Directory
	journal   *Journal
	gateway   *Gateway

	mu  sync.Mutex
	now time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s, err := store.NewStore(store.Options{}) // in-memory
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &testEnv{
		store: s,
		now:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	env.directory = NewDirectory(s, logger).WithClock(env.clock)
	env.journal = NewJournal(s, logger)
	admitter := admission.NewAdmitter(s).WithClock(env.clock)
	env.gateway = NewGateway(env.directory, admitter, env.journal, logger).WithClock(env.clock)
	return env
}

func (e *testEnv) clock() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

func (e *testEnv) advance(d time.Duration) {
	e.mu.Lock()
	e.now = e.now.Add(d)
	e.mu.Unlock()
}

func (e *testEnv) createUser(t *testing.T, username string) *model.User {
	t.Helper()
	u, err := e.directory.Create(context.Background(), username)
	if err != nil {
		t.Fatalf("Create(%s): %v", username, err)
	}
	return u
}

func (e *testEnv) admit(token, address, identity string) Result {
	return e.gateway.Admit(context.Background(), AccessRequest{Token: token, Address: address, Identity: identity})
}

func (e *testEnv) devices(t *testing.T, username string) []model.Device {
	t.Helper()
	devices, err := e.directory.Devices(context.Background(), username)
	if err != nil {
		t.Fatalf("Devices(%s): %v", username, err)
	}
	return devices
}

func (e *testEnv) journalEntries(t *testing.T) []model.JournalEntry {
	t.Helper()
	entries, err := e.journal.List(context.Background(), model.JournalQuery{})
	if err != nil {
		t.Fatalf("journal.List: %v", err)
	}
	return entries
}

func expectOutcome(t *testing.T, got Result, outcome model.Outcome, reason string) {
	t.Helper()
	if got.Outcome != outcome || got.Reason != reason {
		t.Errorf("got %s %q, want %s %q", got.Outcome, got.Reason, outcome, reason)
	}
}
