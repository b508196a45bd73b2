package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/m3ugate/m3ugate/internal/model"
)

// ---------------------------------------------------------------------------
// Access journal
// ---------------------------------------------------------------------------

// AppendJournal writes one journal entry. The ID field on e is populated
// after a successful insert; a zero Timestamp is rejected.
func (s *Store) AppendJournal(ctx context.Context, e *model.JournalEntry) error {
	if e.Timestamp.IsZero() {
		return fmt.Errorf("append journal: missing timestamp")
	}
	e.Timestamp = dbTime(e.Timestamp)

	const q = `INSERT INTO access_logs
		(user_id, timestamp, ip_address, user_agent, token_used, status, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	id, err := s.insert(ctx, s.db, q,
		e.UserID, e.Timestamp, e.Address, e.Identity, e.TokenUsed, string(e.Status), e.Reason)
	if err != nil {
		return fmt.Errorf("append journal: %w", err)
	}
	e.ID = id
	return nil
}

// ListJournal returns journal entries matching q, most recent first.
func (s *Store) ListJournal(ctx context.Context, q model.JournalQuery) ([]model.JournalEntry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = model.DefaultJournalLimit
	}
	if limit > model.MaxJournalLimit {
		limit = model.MaxJournalLimit
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	var (
		where []string
		args  []interface{}
	)
	if q.Status != "" {
		where = append(where, "l.status = ?")
		args = append(args, string(q.Status))
	}
	if q.Username != "" {
		where = append(where, "u.username = ?")
		args = append(args, q.Username)
	}

	var b strings.Builder
	b.WriteString(`SELECT l.id, l.user_id, l.timestamp, l.ip_address, l.user_agent, l.token_used, l.status, l.reason
		FROM access_logs l LEFT JOIN users u ON u.id = l.user_id`)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY l.timestamp DESC, l.id DESC LIMIT ? OFFSET ?")
	args = append(args, limit, offset)

	entries := []model.JournalEntry{}
	if err := s.db.SelectContext(ctx, &entries, s.rebind(b.String()), args...); err != nil {
		return nil, fmt.Errorf("list journal: %w", err)
	}
	for i := range entries {
		entries[i].Timestamp = entries[i].Timestamp.UTC()
	}
	return entries, nil
}

// CountJournal returns the total number of journal entries.
func (s *Store) CountJournal(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM access_logs"); err != nil {
		return 0, fmt.Errorf("count journal: %w", err)
	}
	return n, nil
}
