package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/scrypster/engram/internal/storage"
	"github.com/scrypster/engram/pkg/types"
)

func storageBoundsForTest(hops, nodes int) storage.GraphBounds {
	return storage.GraphBounds{MaxHops: hops, MaxNodes: nodes}
}

func newTestReminder(userID, title string, due time.Time) *types.Reminder {
	return &types.Reminder{
		ID:        types.ReminderID(userID, title, due),
		UserID:    userID,
		Title:     title,
		DueTS:     due,
		Status:    types.ReminderActive,
		CreatedAt: time.Now().UTC(),
	}
}

func TestPutReminderIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	due := time.Now().UTC().Add(time.Hour)

	r := newTestReminder("alice", "stretch", due)
	if err := store.PutReminder(ctx, r); err != nil {
		t.Fatalf("PutReminder failed: %v", err)
	}
	// Same derived id again: must not error or duplicate.
	if err := store.PutReminder(ctx, newTestReminder("alice", "stretch", due)); err != nil {
		t.Fatalf("second PutReminder failed: %v", err)
	}

	active, err := store.ListReminders(ctx, "alice", types.ReminderActive)
	if err != nil {
		t.Fatalf("ListReminders failed: %v", err)
	}
	if len(active) != 1 {
		t.Errorf("got %d reminders, want 1", len(active))
	}
}

func TestDueReminders(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	overdue := newTestReminder("alice", "water plants", now.Add(-time.Minute))
	upcoming := newTestReminder("alice", "standup", now.Add(time.Hour))
	snoozed := newTestReminder("alice", "email drafts", now.Add(-time.Minute))
	later := now.Add(30 * time.Minute)
	snoozed.SnoozeUntil = &later

	for _, r := range []*types.Reminder{overdue, upcoming, snoozed} {
		if err := store.PutReminder(ctx, r); err != nil {
			t.Fatalf("PutReminder failed: %v", err)
		}
	}

	due, err := store.DueReminders(ctx, "alice", now)
	if err != nil {
		t.Fatalf("DueReminders failed: %v", err)
	}
	if len(due) != 1 || due[0].Title != "water plants" {
		t.Errorf("due = %v, want only 'water plants'", due)
	}

	// Other tenants never see these.
	due, err = store.DueReminders(ctx, "bob", now)
	if err != nil {
		t.Fatalf("DueReminders failed: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("bob sees %d of alice's reminders", len(due))
	}
}

func TestDueRemindersHonorsNextRetry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	r := newTestReminder("alice", "daily review", now.Add(-time.Hour))
	r.Recurrence = "daily"
	next := now.Add(time.Hour)
	r.NextRetryTS = &next

	if err := store.PutReminder(ctx, r); err != nil {
		t.Fatalf("PutReminder failed: %v", err)
	}

	due, err := store.DueReminders(ctx, "alice", now)
	if err != nil {
		t.Fatalf("DueReminders failed: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("reminder with future next_retry_ts should not be due, got %v", due)
	}

	due, err = store.DueReminders(ctx, "alice", now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("DueReminders failed: %v", err)
	}
	if len(due) != 1 {
		t.Errorf("reminder should be due after next_retry_ts, got %v", due)
	}
}

func TestUpdateReminder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	r := newTestReminder("alice", "ship release", now.Add(-time.Minute))
	if err := store.PutReminder(ctx, r); err != nil {
		t.Fatalf("PutReminder failed: %v", err)
	}

	r.Status = types.ReminderDone
	r.FailCount = 2
	if err := store.UpdateReminder(ctx, r); err != nil {
		t.Fatalf("UpdateReminder failed: %v", err)
	}

	got, err := store.GetReminder(ctx, "alice", r.ID)
	if err != nil {
		t.Fatalf("GetReminder failed: %v", err)
	}
	if got.Status != types.ReminderDone || got.FailCount != 2 {
		t.Errorf("got status=%q fail_count=%d", got.Status, got.FailCount)
	}

	missing := newTestReminder("alice", "never stored", now)
	if err := store.UpdateReminder(ctx, missing); err == nil {
		t.Error("UpdateReminder on unknown id should fail")
	}
}

func TestGraphNeighbors(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	items := map[string][]string{
		"it-seed": {"tkinter", "queue", "thread"},
		"it-near": {"queue", "worker"},
		"it-far":  {"gardening", "tomatoes"},
		"it-hop2": {"worker", "pool"},
	}
	for id, tokens := range items {
		if err := store.PutItem(ctx, newFact(id, "alice", "k_"+id, "v")); err != nil {
			t.Fatalf("PutItem failed: %v", err)
		}
		if err := store.AddEdges(ctx, "alice", id, tokens); err != nil {
			t.Fatalf("AddEdges failed: %v", err)
		}
	}

	got, err := store.Neighbors(ctx, "alice", []string{"it-seed"}, storageBoundsForTest(1, 10))
	if err != nil {
		t.Fatalf("Neighbors failed: %v", err)
	}
	if len(got) != 1 || got[0] != "it-near" {
		t.Errorf("1-hop neighbors = %v, want [it-near]", got)
	}

	got, err = store.Neighbors(ctx, "alice", []string{"it-seed"}, storageBoundsForTest(2, 10))
	if err != nil {
		t.Fatalf("Neighbors failed: %v", err)
	}
	if len(got) != 2 || got[0] != "it-near" || got[1] != "it-hop2" {
		t.Errorf("2-hop neighbors = %v, want [it-near it-hop2]", got)
	}
}
