package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/engram/internal/storage"
)

// AppendEvent writes one audit row. Callers treat failures as non-fatal.
func (s *Store) AppendEvent(ctx context.Context, userID, eventType, itemID, detail string) error {
	if userID == "" || eventType == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, user_id, type, item_id, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), userID, eventType, itemID, detail, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("sqlite: append event %s: %w", eventType, err)
	}
	return nil
}

// RecentEvents returns the newest audit rows for the tenant. Used by the
// debug endpoint and tests.
func (s *Store) RecentEvents(ctx context.Context, userID string, limit int) ([]Event, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, type, item_id, detail, created_at
		FROM events
		WHERE user_id = ?
		ORDER BY created_at DESC, id
		LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: recent events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.UserID, &e.Type, &e.ItemID, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: recent events scan: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: recent events rows: %w", err)
	}
	return events, nil
}

// Event is one audit log row.
type Event struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Type      string    `json:"type"`
	ItemID    string    `json:"item_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
