package server

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/scrypster/engram/internal/config"
	"github.com/scrypster/engram/internal/engine"
	"github.com/scrypster/engram/internal/reminder"
	"github.com/scrypster/engram/internal/storage/sqlite"
	"github.com/scrypster/engram/pkg/types"
)

func newPushEngine(t *testing.T) (*engine.Engine, *sqlite.Store) {
	t.Helper()

	store, err := sqlite.NewStore(filepath.Join(t.TempDir(), "engram.db"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	cfg := &config.Config{Memory: config.MemoryConfig{MaxSessions: 4, VolatileTTLHours: 12}}
	return engine.NewEngine(store, nil, nil, cfg), store
}

func TestPushDueDeliversFrames(t *testing.T) {
	eng, store := newPushEngine(t)
	ctx := context.Background()

	rem, err := eng.Scheduler().Add(ctx, "alice", "stand up", "in 1 seconds", reminder.AddOptions{})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	time.Sleep(1200 * time.Millisecond)

	var frames [][]byte
	err = pushDue(ctx, eng, "alice", func(_ context.Context, data []byte) error {
		frames = append(frames, data)
		return nil
	})
	if err != nil {
		t.Fatalf("pushDue failed: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(frames))
	}

	got, err := store.GetReminder(ctx, "alice", rem.ID)
	if err != nil {
		t.Fatalf("GetReminder failed: %v", err)
	}
	if got.FailCount != 0 {
		t.Errorf("fail_count = %d after clean delivery, want 0", got.FailCount)
	}
}

func TestPushDueRecordsFailedDelivery(t *testing.T) {
	eng, store := newPushEngine(t)
	ctx := context.Background()

	rem, err := eng.Scheduler().Add(ctx, "alice", "stand up", "in 1 seconds", reminder.AddOptions{})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	time.Sleep(1200 * time.Millisecond)

	err = pushDue(ctx, eng, "alice", func(context.Context, []byte) error {
		return errors.New("broken pipe")
	})
	if err == nil {
		t.Fatal("pushDue should surface the write failure")
	}

	// The reminder was consumed, but the miss is recorded instead of
	// disappearing silently.
	got, err := store.GetReminder(ctx, "alice", rem.ID)
	if err != nil {
		t.Fatalf("GetReminder failed: %v", err)
	}
	if got.Status != types.ReminderDone {
		t.Errorf("status = %q, want done", got.Status)
	}
	if got.FailCount != 1 {
		t.Errorf("fail_count = %d after failed delivery, want 1", got.FailCount)
	}
}
