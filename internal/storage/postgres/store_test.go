package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/scrypster/engram/internal/storage"
	"github.com/scrypster/engram/pkg/types"
)

// newTestStore connects to the database named by ENGRAM_TEST_POSTGRES_DSN
// and truncates all tables. Tests are skipped when the variable is unset.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("ENGRAM_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ENGRAM_TEST_POSTGRES_DSN not set; skipping postgres tests")
	}

	store, err := NewStore(dsn)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	for _, table := range []string{"graph_edges", "events", "reminders", "embeddings", "memory_items"} {
		if _, err := store.db.ExecContext(ctx, "TRUNCATE TABLE "+table+" CASCADE"); err != nil {
			t.Fatalf("truncate %s failed: %v", table, err)
		}
	}
	return store
}

func newFact(id, userID, key, value string) *types.Item {
	return &types.Item{
		ID:         id,
		UserID:     userID,
		Lane:       types.LaneFacts,
		Kind:       types.KindPreference,
		Entity:     "user",
		Key:        key,
		Value:      value,
		Importance: 0.5,
		Confidence: 0.8,
	}
}

func TestPutGetItem(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	item := newFact("it-1", "alice", "favorite_color", "green")
	item.Tags = []string{"identity"}
	if err := store.PutItem(ctx, item); err != nil {
		t.Fatalf("PutItem failed: %v", err)
	}

	got, err := store.GetItem(ctx, "alice", "it-1")
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if got.Value != "green" || got.Status != types.StatusActive {
		t.Errorf("got %+v", got)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "identity" {
		t.Errorf("tags = %v", got.Tags)
	}

	if _, err := store.GetItem(ctx, "bob", "it-1"); err != storage.ErrNotFound {
		t.Errorf("cross-tenant read err = %v, want ErrNotFound", err)
	}
}

func TestActiveFactSupersession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := newFact("it-old", "alice", "timezone", "europe/berlin")
	old.CreatedAt = time.Now().UTC().Add(-time.Hour)
	if err := store.PutItem(ctx, old); err != nil {
		t.Fatalf("PutItem failed: %v", err)
	}
	if err := store.PutItem(ctx, newFact("it-new", "alice", "timezone", "asia/tokyo")); err != nil {
		t.Fatalf("PutItem failed: %v", err)
	}
	if err := store.MarkStatus(ctx, "alice", "it-old", types.StatusSuperseded, "it-new"); err != nil {
		t.Fatalf("MarkStatus failed: %v", err)
	}

	got, err := store.ActiveFact(ctx, "alice", "user", "timezone")
	if err != nil {
		t.Fatalf("ActiveFact failed: %v", err)
	}
	if got.ID != "it-new" {
		t.Errorf("active fact = %s, want it-new", got.ID)
	}
}

func TestLexicalSearchTSVector(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	item := newFact("it-sk", "alice", "fix_ui_freeze", "run work on the main thread")
	item.Lane = types.LaneSkills
	item.Kind = types.KindSkill
	item.Content = "move blocking calls off the ui thread"
	if err := store.PutItem(ctx, item); err != nil {
		t.Fatalf("PutItem failed: %v", err)
	}

	ids, err := store.LexicalSearch(ctx, "alice", storage.SearchOptions{Query: "main thread ui"})
	if err != nil {
		t.Fatalf("LexicalSearch failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "it-sk" {
		t.Errorf("ids = %v, want [it-sk]", ids)
	}

	ids, _ = store.LexicalSearch(ctx, "bob", storage.SearchOptions{Query: "main thread ui"})
	if len(ids) != 0 {
		t.Errorf("cross-tenant search leaked: %v", ids)
	}
}

func TestEmbeddingRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.PutItem(ctx, newFact("it-v", "alice", "k", "v")); err != nil {
		t.Fatalf("PutItem failed: %v", err)
	}
	if err := store.StoreEmbedding(ctx, "it-v", []float64{1, 0, 0}); err != nil {
		t.Fatalf("StoreEmbedding failed: %v", err)
	}

	ids, err := store.VectorSearch(ctx, "alice", []float64{1, 0, 0}, 10)
	if err != nil {
		t.Fatalf("VectorSearch failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "it-v" {
		t.Errorf("ids = %v, want [it-v]", ids)
	}
}

func TestDueReminders(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	r := &types.Reminder{
		ID:     "rm-1",
		UserID: "alice",
		Title:  "stretch",
		DueTS:  now.Add(-time.Minute),
		Status: types.ReminderActive,
	}
	if err := store.PutReminder(ctx, r); err != nil {
		t.Fatalf("PutReminder failed: %v", err)
	}
	// Idempotent re-insert.
	if err := store.PutReminder(ctx, r); err != nil {
		t.Fatalf("re-insert failed: %v", err)
	}

	due, err := store.DueReminders(ctx, "alice", now)
	if err != nil {
		t.Fatalf("DueReminders failed: %v", err)
	}
	if len(due) != 1 || due[0].ID != "rm-1" {
		t.Errorf("due = %v", due)
	}
}

func TestGraphNeighbors(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"it-a", "it-b"} {
		if err := store.PutItem(ctx, newFact(id, "alice", "k_"+id, "deployment pipeline")); err != nil {
			t.Fatalf("PutItem failed: %v", err)
		}
	}
	if err := store.AddEdges(ctx, "alice", "it-a", []string{"deployment", "pipeline"}); err != nil {
		t.Fatalf("AddEdges failed: %v", err)
	}
	if err := store.AddEdges(ctx, "alice", "it-b", []string{"deployment"}); err != nil {
		t.Fatalf("AddEdges failed: %v", err)
	}

	got, err := store.Neighbors(ctx, "alice", []string{"it-a"}, storage.GraphBounds{MaxHops: 1})
	if err != nil {
		t.Fatalf("Neighbors failed: %v", err)
	}
	if len(got) != 1 || got[0] != "it-b" {
		t.Errorf("neighbors = %v, want [it-b]", got)
	}
}
