package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/m3ugate/m3ugate/internal/metrics"
	"github.com/m3ugate/m3ugate/internal/model"
	"github.com/m3ugate/m3ugate/internal/store"
)

// Journal is the append-only access journal.
type Journal struct {
	store  *store.Store
	logger *slog.Logger
}

// NewJournal creates a Journal backed by s.
func NewJournal(s *store.Store, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{store: s, logger: logger}
}

// Record appends e on a best-effort basis. A failed write is logged and
// counted but never reported to the caller, so it cannot change the outcome
// of the request being journaled.
func (j *Journal) Record(ctx context.Context, e model.JournalEntry) {
	if err := j.store.AppendJournal(ctx, &e); err != nil {
		metrics.JournalFailures.Inc()
		j.logger.Warn("access journal write failed",
			"error", err,
			"status", e.Status,
			"reason", e.Reason,
			"ip_address", e.Address,
		)
	}
}

// List returns a page of journal entries, most recent first.
func (j *Journal) List(ctx context.Context, q model.JournalQuery) ([]model.JournalEntry, error) {
	if q.Status != "" && !q.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, q.Status)
	}
	if q.Limit < 0 || q.Offset < 0 {
		return nil, fmt.Errorf("%w: limit and offset must not be negative", ErrInvalidInput)
	}
	return j.store.ListJournal(ctx, q)
}
