package reminder

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/scrypster/engram/internal/storage/sqlite"
	"github.com/scrypster/engram/pkg/types"
)

func newTestScheduler(t *testing.T) (*Scheduler, *time.Time) {
	t.Helper()

	store, err := sqlite.NewStore(filepath.Join(t.TempDir(), "reminders.db"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	s := NewScheduler(store, store)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestAddAndConsume(t *testing.T) {
	s, now := newTestScheduler(t)
	ctx := context.Background()

	r, err := s.Add(ctx, "alice", "stretch", "in 5 minutes", AddOptions{})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if r.DueTS != now.Add(5*time.Minute) {
		t.Errorf("due = %v", r.DueTS)
	}

	// Not due yet.
	fired, err := s.Consume(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if len(fired) != 0 {
		t.Errorf("fired %d reminders early", len(fired))
	}

	*now = now.Add(10 * time.Minute)
	fired, err = s.Consume(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if len(fired) != 1 || fired[0].Title != "stretch" {
		t.Fatalf("fired = %v", fired)
	}
	if fired[0].Status != types.ReminderDone {
		t.Errorf("non-recurring reminder status = %q, want done", fired[0].Status)
	}

	// Consumed reminders do not fire twice.
	fired, _ = s.Consume(ctx, "alice", 10)
	if len(fired) != 0 {
		t.Errorf("reminder fired twice")
	}
}

func TestAddUnparseable(t *testing.T) {
	s, _ := newTestScheduler(t)
	if _, err := s.Add(context.Background(), "alice", "x", "at 99:99", AddOptions{}); err == nil {
		t.Error("Add with invalid when should fail")
	}
}

func TestRecurringStaysActive(t *testing.T) {
	s, now := newTestScheduler(t)
	ctx := context.Background()

	if _, err := s.Add(ctx, "alice", "daily review", "every day at 8 am", AddOptions{}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	*now = now.Add(24 * time.Hour)
	fired, err := s.Consume(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if len(fired) != 1 {
		t.Fatalf("fired = %v", fired)
	}
	if fired[0].Status != types.ReminderActive {
		t.Errorf("recurring reminder status = %q, want active", fired[0].Status)
	}
	if fired[0].NextRetryTS == nil || !fired[0].NextRetryTS.After(*now) {
		t.Errorf("next_retry_ts not advanced: %v", fired[0].NextRetryTS)
	}

	// Quiet until the next occurrence.
	fired, _ = s.Consume(ctx, "alice", 10)
	if len(fired) != 0 {
		t.Errorf("recurring reminder fired twice in one period")
	}
}

func TestSnoozeDefersFiring(t *testing.T) {
	s, now := newTestScheduler(t)
	ctx := context.Background()

	r, err := s.Add(ctx, "alice", "email drafts", "in 1 minutes", AddOptions{})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	*now = now.Add(2 * time.Minute)
	if err := s.Snooze(ctx, "alice", r.ID, 30*time.Minute); err != nil {
		t.Fatalf("Snooze failed: %v", err)
	}

	fired, _ := s.Consume(ctx, "alice", 10)
	if len(fired) != 0 {
		t.Errorf("snoozed reminder fired")
	}

	*now = now.Add(time.Hour)
	fired, _ = s.Consume(ctx, "alice", 10)
	if len(fired) != 1 {
		t.Errorf("reminder did not fire after snooze lapsed")
	}
}

func TestAckAndFailureCount(t *testing.T) {
	s, _ := newTestScheduler(t)
	ctx := context.Background()

	r, err := s.Add(ctx, "alice", "ship release", "in 1 hours", AddOptions{})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if err := s.Ack(ctx, "alice", r.ID, types.ReminderCancelled); err != nil {
		t.Fatalf("Ack failed: %v", err)
	}
	cancelled, err := s.List(ctx, "alice", types.ReminderCancelled, "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(cancelled) != 1 {
		t.Errorf("cancelled = %v", cancelled)
	}

	if err := s.Ack(ctx, "alice", r.ID, types.ReminderActive); err == nil {
		t.Error("Ack(active) should be rejected")
	}

	if err := s.RecordDeliveryFailure(ctx, "alice", r.ID); err != nil {
		t.Fatalf("RecordDeliveryFailure failed: %v", err)
	}
	got, err := s.store.GetReminder(ctx, "alice", r.ID)
	if err != nil {
		t.Fatalf("GetReminder failed: %v", err)
	}
	if got.FailCount != 1 {
		t.Errorf("fail_count = %d, want 1", got.FailCount)
	}
}

func TestDeleteByTitle(t *testing.T) {
	s, _ := newTestScheduler(t)
	ctx := context.Background()

	if _, err := s.Add(ctx, "alice", "Water Plants", "in 1 hours", AddOptions{}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if _, err := s.Add(ctx, "alice", "water plants", "in 2 hours", AddOptions{}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if _, err := s.Add(ctx, "alice", "stretch", "in 1 hours", AddOptions{}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	n, err := s.DeleteByTitle(ctx, "alice", "WATER PLANTS", "")
	if err != nil {
		t.Fatalf("DeleteByTitle failed: %v", err)
	}
	if n != 2 {
		t.Errorf("cancelled %d reminders, want 2", n)
	}

	active, err := s.List(ctx, "alice", types.ReminderActive, "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(active) != 1 || active[0].Title != "stretch" {
		t.Errorf("active = %v", active)
	}

	// No match is not an error.
	n, err = s.DeleteByTitle(ctx, "alice", "water plants", "")
	if err != nil {
		t.Fatalf("DeleteByTitle failed: %v", err)
	}
	if n != 0 {
		t.Errorf("cancelled %d reminders, want 0", n)
	}
}

func TestAddCarriesMetadata(t *testing.T) {
	s, _ := newTestScheduler(t)
	ctx := context.Background()

	r, err := s.Add(ctx, "alice", "review the RFC", "in 1 hours", AddOptions{
		Details:  "section 4 first",
		Scope:    " Conversation ",
		Priority: 1,
	})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if r.Scope != "conversation" {
		t.Errorf("scope = %q, want conversation", r.Scope)
	}
	if r.Details != "section 4 first" {
		t.Errorf("details = %q", r.Details)
	}
	if r.Priority != 1 {
		t.Errorf("priority = %d, want 1", r.Priority)
	}

	// The metadata round-trips through the store.
	got, err := s.store.GetReminder(ctx, "alice", r.ID)
	if err != nil {
		t.Fatalf("GetReminder failed: %v", err)
	}
	if got.Scope != "conversation" || got.Details != "section 4 first" || got.Priority != 1 {
		t.Errorf("stored scope=%q details=%q priority=%d", got.Scope, got.Details, got.Priority)
	}

	// Zero options mean scope "task" and priority 3.
	d, err := s.Add(ctx, "alice", "stretch", "in 2 hours", AddOptions{})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if d.Scope != "task" || d.Priority != 3 {
		t.Errorf("defaults: scope=%q priority=%d", d.Scope, d.Priority)
	}
}

func TestConsumeStampsLastFired(t *testing.T) {
	s, now := newTestScheduler(t)
	ctx := context.Background()

	if _, err := s.Add(ctx, "alice", "stand up", "in 5 minutes", AddOptions{}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	*now = now.Add(10 * time.Minute)
	fired, err := s.Consume(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if len(fired) != 1 {
		t.Fatalf("fired = %v", fired)
	}
	if fired[0].LastFiredTS == nil || !fired[0].LastFiredTS.Equal(*now) {
		t.Errorf("last_fired_ts = %v, want %v", fired[0].LastFiredTS, *now)
	}
}

func TestScopeFiltersListAndDelete(t *testing.T) {
	s, _ := newTestScheduler(t)
	ctx := context.Background()

	if _, err := s.Add(ctx, "alice", "water plants", "in 1 hours", AddOptions{}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if _, err := s.Add(ctx, "alice", "water plants", "in 2 hours", AddOptions{Scope: "conversation"}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if _, err := s.Add(ctx, "alice", "stretch", "in 1 hours", AddOptions{}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	task, err := s.List(ctx, "alice", types.ReminderActive, "task")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(task) != 2 {
		t.Errorf("task-scope reminders = %d, want 2", len(task))
	}
	conv, err := s.List(ctx, "alice", types.ReminderActive, "conversation")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(conv) != 1 {
		t.Errorf("conversation-scope reminders = %d, want 1", len(conv))
	}

	// A scoped delete leaves the same title alone in other scopes.
	n, err := s.DeleteByTitle(ctx, "alice", "water plants", "conversation")
	if err != nil {
		t.Fatalf("DeleteByTitle failed: %v", err)
	}
	if n != 1 {
		t.Errorf("cancelled %d reminders, want 1", n)
	}
	active, err := s.List(ctx, "alice", types.ReminderActive, "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(active) != 2 {
		t.Errorf("active after scoped delete = %d, want 2", len(active))
	}
}
