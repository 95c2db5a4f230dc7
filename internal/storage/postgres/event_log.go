package postgres

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
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.NewString(), userID, eventType, itemID, detail, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("postgres: append event %s: %w", eventType, err)
	}
	return nil
}
