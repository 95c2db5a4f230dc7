package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/scrypster/engram/internal/storage"
	"github.com/scrypster/engram/pkg/types"
)

// reminderColumns is the canonical SELECT column list for reminders.
const reminderColumns = `
	id, user_id, title, due_ts, status, created_at, scope, details, priority,
	recurrence, snooze_until, next_retry_ts, last_fired_ts, fail_count`

// PutReminder inserts a reminder. Re-inserting an existing id is a no-op,
// which makes scheduling idempotent for the derived reminder ids.
func (s *Store) PutReminder(ctx context.Context, r *types.Reminder) error {
	if r == nil {
		return storage.ErrInvalidInput
	}
	if r.ID == "" || r.UserID == "" || r.Title == "" {
		return fmt.Errorf("%w: reminder id, user id and title are required", storage.ErrInvalidInput)
	}

	if r.Status == "" {
		r.Status = types.ReminderActive
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.Scope == "" {
		r.Scope = "task"
	}
	if r.Priority == 0 {
		r.Priority = 3
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reminders (
			id, user_id, title, due_ts, status, created_at, scope, details,
			priority, recurrence, snooze_until, next_retry_ts, last_fired_ts,
			fail_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING`,
		r.ID, r.UserID, r.Title, r.DueTS, string(r.Status), r.CreatedAt,
		r.Scope, r.Details, r.Priority, r.Recurrence,
		nullableTime(r.SnoozeUntil), nullableTime(r.NextRetryTS),
		nullableTime(r.LastFiredTS), r.FailCount)
	if err != nil {
		return fmt.Errorf("postgres: put reminder %s: %w", r.ID, err)
	}
	return nil
}

// GetReminder returns one reminder by id, scoped to the tenant.
func (s *Store) GetReminder(ctx context.Context, userID, id string) (*types.Reminder, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+reminderColumns+` FROM reminders WHERE id = $1 AND user_id = $2`,
		id, userID)

	r, err := scanReminder(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get reminder %s: %w", id, err)
	}
	return r, nil
}

// DueReminders returns active reminders due at or before now, honoring
// snooze and recurrence retry timestamps, soonest first.
func (s *Store) DueReminders(ctx context.Context, userID string, now time.Time) ([]types.Reminder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+reminderColumns+`
		FROM reminders
		WHERE user_id = $1 AND status = 'active'
			AND COALESCE(next_retry_ts, due_ts) <= $2
			AND (snooze_until IS NULL OR snooze_until <= $2)
		ORDER BY due_ts, id`,
		userID, now)
	if err != nil {
		return nil, fmt.Errorf("postgres: due reminders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanReminders(rows)
}

// UpdateReminder rewrites the mutable fields of an existing reminder.
func (s *Store) UpdateReminder(ctx context.Context, r *types.Reminder) error {
	if r == nil || r.ID == "" {
		return storage.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE reminders SET
			title = $1, due_ts = $2, status = $3, scope = $4, details = $5,
			priority = $6, recurrence = $7, snooze_until = $8,
			next_retry_ts = $9, last_fired_ts = $10, fail_count = $11
		WHERE id = $12 AND user_id = $13`,
		r.Title, r.DueTS, string(r.Status), r.Scope, r.Details, r.Priority,
		r.Recurrence, nullableTime(r.SnoozeUntil), nullableTime(r.NextRetryTS),
		nullableTime(r.LastFiredTS), r.FailCount,
		r.ID, r.UserID)
	if err != nil {
		return fmt.Errorf("postgres: update reminder %s: %w", r.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: update reminder %s: %w", r.ID, err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListReminders returns the tenant's reminders with the given status,
// soonest due first.
func (s *Store) ListReminders(ctx context.Context, userID string, status types.ReminderStatus) ([]types.Reminder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+reminderColumns+`
		FROM reminders
		WHERE user_id = $1 AND status = $2
		ORDER BY due_ts, id`,
		userID, string(status))
	if err != nil {
		return nil, fmt.Errorf("postgres: list reminders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanReminders(rows)
}

// scanReminder reads a single reminder using the reminderColumns order.
func scanReminder(row rowScanner) (*types.Reminder, error) {
	var (
		r                                     types.Reminder
		status                                string
		snoozeUntil, nextRetryTS, lastFiredTS sql.NullTime
	)

	err := row.Scan(
		&r.ID, &r.UserID, &r.Title, &r.DueTS, &status, &r.CreatedAt,
		&r.Scope, &r.Details, &r.Priority, &r.Recurrence,
		&snoozeUntil, &nextRetryTS, &lastFiredTS, &r.FailCount,
	)
	if err != nil {
		return nil, err
	}

	r.Status = types.ReminderStatus(status)
	if snoozeUntil.Valid {
		t := snoozeUntil.Time
		r.SnoozeUntil = &t
	}
	if nextRetryTS.Valid {
		t := nextRetryTS.Time
		r.NextRetryTS = &t
	}
	if lastFiredTS.Valid {
		t := lastFiredTS.Time
		r.LastFiredTS = &t
	}
	return &r, nil
}

// scanReminders reads all reminder rows.
func scanReminders(rows *sql.Rows) ([]types.Reminder, error) {
	var reminders []types.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reminder row: %w", err)
		}
		reminders = append(reminders, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return reminders, nil
}
