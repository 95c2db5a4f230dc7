package reminder

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/scrypster/engram/internal/storage"
	"github.com/scrypster/engram/pkg/types"
)

// ErrUnparseable is returned when a "when" expression is not understood.
var ErrUnparseable = fmt.Errorf("%w: unparseable when expression", storage.ErrInvalidInput)

// Scheduler owns reminder lifecycle operations on top of the store.
type Scheduler struct {
	store storage.ReminderStore
	log   storage.EventLog

	// now is swappable for tests.
	now func() time.Time
}

// NewScheduler creates a scheduler. events may be nil.
func NewScheduler(store storage.ReminderStore, events storage.EventLog) *Scheduler {
	return &Scheduler{
		store: store,
		log:   events,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// AddOptions carries the optional metadata of a new reminder. The zero
// value means scope "task", priority 3 and no details.
type AddOptions struct {
	Details  string
	Scope    string
	Priority int
}

// Add parses when and persists a reminder. The id derives from
// (user, title, due), so adding the same reminder twice is a no-op.
func (s *Scheduler) Add(ctx context.Context, userID, title, when string, opts AddOptions) (*types.Reminder, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Reminder"
	}
	if len(title) > 140 {
		title = title[:140]
	}

	parsed, ok := ParseWhen(s.now(), when)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnparseable, when)
	}

	details := strings.TrimSpace(opts.Details)
	if r := []rune(details); len(r) > 240 {
		details = string(r[:240])
	}
	priority := opts.Priority
	if priority == 0 {
		priority = 3
	}

	r := &types.Reminder{
		ID:         types.ReminderID(userID, title, parsed.Due),
		UserID:     userID,
		Title:      title,
		DueTS:      parsed.Due,
		Status:     types.ReminderActive,
		CreatedAt:  s.now(),
		Scope:      normScope(opts.Scope),
		Details:    details,
		Priority:   priority,
		Recurrence: parsed.Recurrence,
	}
	if err := s.store.PutReminder(ctx, r); err != nil {
		return nil, fmt.Errorf("reminder: add: %w", err)
	}

	s.audit(ctx, userID, "reminder_create", r.ID, r.Title)
	return r, nil
}

// normScope folds a scope to its canonical form; empty means "task".
func normScope(scope string) string {
	s := strings.ToLower(strings.TrimSpace(scope))
	if s == "" {
		return "task"
	}
	return s
}

// Peek returns due reminders without consuming them.
func (s *Scheduler) Peek(ctx context.Context, userID string, limit int) ([]types.Reminder, error) {
	due, err := s.store.DueReminders(ctx, userID, s.now())
	if err != nil {
		return nil, fmt.Errorf("reminder: peek: %w", err)
	}
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// Consume fires due reminders. Non-recurring reminders transition to done;
// recurring ones stay active with next_retry_ts advanced one period.
func (s *Scheduler) Consume(ctx context.Context, userID string, limit int) ([]types.Reminder, error) {
	now := s.now()
	due, err := s.store.DueReminders(ctx, userID, now)
	if err != nil {
		return nil, fmt.Errorf("reminder: consume: %w", err)
	}
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	var fired []types.Reminder
	for i := range due {
		r := due[i]
		firedAt := now
		r.LastFiredTS = &firedAt
		if next, ok := nextOccurrence(&r, now); ok {
			r.NextRetryTS = &next
			r.SnoozeUntil = nil
		} else {
			r.Status = types.ReminderDone
		}
		if err := s.store.UpdateReminder(ctx, &r); err != nil {
			log.Printf("reminder: consume update %s: %v", r.ID, err)
			continue
		}
		s.audit(ctx, userID, "reminder_fire", r.ID, r.Title)
		fired = append(fired, r)
	}
	return fired, nil
}

// Snooze pushes an active reminder out by d.
func (s *Scheduler) Snooze(ctx context.Context, userID, id string, d time.Duration) error {
	r, err := s.store.GetReminder(ctx, userID, id)
	if err != nil {
		return fmt.Errorf("reminder: snooze: %w", err)
	}
	until := s.now().Add(d)
	r.SnoozeUntil = &until
	if err := s.store.UpdateReminder(ctx, r); err != nil {
		return fmt.Errorf("reminder: snooze: %w", err)
	}
	s.audit(ctx, userID, "reminder_snooze", id, until.Format(time.RFC3339))
	return nil
}

// Ack marks a reminder done or cancelled.
func (s *Scheduler) Ack(ctx context.Context, userID, id string, status types.ReminderStatus) error {
	if status != types.ReminderDone && status != types.ReminderCancelled {
		return fmt.Errorf("%w: ack status must be done or cancelled", storage.ErrInvalidInput)
	}
	r, err := s.store.GetReminder(ctx, userID, id)
	if err != nil {
		return fmt.Errorf("reminder: ack: %w", err)
	}
	r.Status = status
	if err := s.store.UpdateReminder(ctx, r); err != nil {
		return fmt.Errorf("reminder: ack: %w", err)
	}
	s.audit(ctx, userID, "reminder_ack", id, string(status))
	return nil
}

// RecordDeliveryFailure bumps fail_count when a fired reminder could not be
// delivered, so operators can spot silently failing channels.
func (s *Scheduler) RecordDeliveryFailure(ctx context.Context, userID, id string) error {
	r, err := s.store.GetReminder(ctx, userID, id)
	if err != nil {
		return fmt.Errorf("reminder: record failure: %w", err)
	}
	r.FailCount++
	if err := s.store.UpdateReminder(ctx, r); err != nil {
		return fmt.Errorf("reminder: record failure: %w", err)
	}
	return nil
}

// List returns the tenant's reminders with the given status. A non-empty
// scope narrows the result to that scope.
func (s *Scheduler) List(ctx context.Context, userID string, status types.ReminderStatus, scope string) ([]types.Reminder, error) {
	reminders, err := s.store.ListReminders(ctx, userID, status)
	if err != nil {
		return nil, err
	}
	if scope == "" {
		return reminders, nil
	}
	sc := normScope(scope)
	var out []types.Reminder
	for i := range reminders {
		if reminders[i].Scope == sc {
			out = append(out, reminders[i])
		}
	}
	return out, nil
}

// DeleteByTitle cancels every active reminder whose title matches,
// case-insensitively. A non-empty scope restricts matching to that scope.
// Returns how many were cancelled.
func (s *Scheduler) DeleteByTitle(ctx context.Context, userID, title, scope string) (int, error) {
	target := strings.ToLower(strings.TrimSpace(title))
	if target == "" {
		return 0, fmt.Errorf("%w: empty title", storage.ErrInvalidInput)
	}

	active, err := s.store.ListReminders(ctx, userID, types.ReminderActive)
	if err != nil {
		return 0, fmt.Errorf("reminder: delete by title: %w", err)
	}

	n := 0
	for i := range active {
		if strings.ToLower(strings.TrimSpace(active[i].Title)) != target {
			continue
		}
		if scope != "" && active[i].Scope != normScope(scope) {
			continue
		}
		active[i].Status = types.ReminderCancelled
		if err := s.store.UpdateReminder(ctx, &active[i]); err != nil {
			log.Printf("reminder: cancel %s: %v", active[i].ID, err)
			continue
		}
		s.audit(ctx, userID, "reminder_delete", active[i].ID, active[i].Title)
		n++
	}
	return n, nil
}

// nextOccurrence computes when a recurring reminder should fire again.
// Returns false for non-recurring reminders.
func nextOccurrence(r *types.Reminder, now time.Time) (time.Time, bool) {
	switch {
	case r.Recurrence == RecurDaily:
		return now.Add(24 * time.Hour), true
	case r.Recurrence == RecurWeekly:
		return now.Add(7 * 24 * time.Hour), true
	case strings.HasPrefix(r.Recurrence, "every:"):
		d, err := time.ParseDuration(strings.TrimPrefix(r.Recurrence, "every:"))
		if err != nil || d <= 0 {
			return time.Time{}, false
		}
		return now.Add(d), true
	}
	return time.Time{}, false
}

// audit writes a best-effort event row.
func (s *Scheduler) audit(ctx context.Context, userID, eventType, itemID, detail string) {
	if s.log == nil {
		return
	}
	if err := s.log.AppendEvent(ctx, userID, eventType, itemID, detail); err != nil {
		log.Printf("reminder: audit %s: %v", eventType, err)
	}
}
