package sqlite

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/scrypster/engram/internal/storage"
	"github.com/scrypster/engram/pkg/types"
)

func TestLexicalSearchRecall(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	skill := &types.Item{
		ID:        "sk-tk",
		UserID:    "alice",
		Lane:      types.LaneSkills,
		Kind:      types.KindSkill,
		Entity:    "user",
		Key:       "tkinter_thread_updates",
		Content:   "use a queue to pass results\ncheck the queue with after()\nedit widgets only on the main thread",
		Tags:      []string{"tkinter", "queue", "main", "thread"},
		Status:    types.StatusActive,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.PutItem(ctx, skill); err != nil {
		t.Fatalf("PutItem failed: %v", err)
	}
	if err := store.PutItem(ctx, newFact("it-other", "alice", "favorite_color", "green")); err != nil {
		t.Fatalf("PutItem failed: %v", err)
	}

	ids, err := store.LexicalSearch(ctx, "alice", storage.SearchOptions{Query: "main thread ui", Limit: 10})
	if err != nil {
		t.Fatalf("LexicalSearch failed: %v", err)
	}
	if len(ids) == 0 || ids[0] != "sk-tk" {
		t.Errorf("ids = %v, want sk-tk first", ids)
	}
}

func TestLexicalSearchExcludesInactive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := newFact("it-old", "alice", "timezone", "Berlin timezone Europe")
	if err := store.PutItem(ctx, old); err != nil {
		t.Fatalf("PutItem failed: %v", err)
	}
	if err := store.MarkStatus(ctx, "alice", "it-old", types.StatusSuperseded, "it-new"); err != nil {
		t.Fatalf("MarkStatus failed: %v", err)
	}

	ids, err := store.LexicalSearch(ctx, "alice", storage.SearchOptions{Query: "berlin timezone", Limit: 10})
	if err != nil {
		t.Fatalf("LexicalSearch failed: %v", err)
	}
	for _, id := range ids {
		if id == "it-old" {
			t.Error("superseded row surfaced in lexical search")
		}
	}
}

func TestLexicalSearchTenantScoped(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.PutItem(ctx, newFact("it-a", "alice", "dog_name", "Bruno the spaniel")); err != nil {
		t.Fatalf("PutItem failed: %v", err)
	}

	ids, err := store.LexicalSearch(ctx, "bob", storage.SearchOptions{Query: "bruno spaniel", Limit: 10})
	if err != nil {
		t.Fatalf("LexicalSearch failed: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("bob retrieved alice's rows: %v", ids)
	}
}

func TestVectorSearchRanking(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, tc := range []struct {
		id  string
		vec []float64
	}{
		{"it-close", []float64{1, 0, 0}},
		{"it-mid", []float64{0.5, 0.5, 0}},
		{"it-far", []float64{0, 0, 1}},
	} {
		if err := store.PutItem(ctx, newFact(tc.id, "alice", "k_"+tc.id, "v")); err != nil {
			t.Fatalf("PutItem failed: %v", err)
		}
		if err := store.StoreEmbedding(ctx, tc.id, tc.vec); err != nil {
			t.Fatalf("StoreEmbedding failed: %v", err)
		}
	}

	ids, err := store.VectorSearch(ctx, "alice", []float64{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("VectorSearch failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != "it-close" || ids[1] != "it-mid" {
		t.Errorf("ids = %v, want [it-close it-mid]", ids)
	}
}

func TestVectorSearchEmptyQuery(t *testing.T) {
	store := newTestStore(t)

	ids, err := store.VectorSearch(context.Background(), "alice", nil, 10)
	if err != nil {
		t.Fatalf("VectorSearch failed: %v", err)
	}
	if ids != nil {
		t.Errorf("ids = %v, want nil for empty query vector", ids)
	}
}

func TestSanitiseFTSQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"What is the main thread?", "main* OR thread*"},
		{"don't output JSON", "don* OR output* OR json*"},
		{"the is a", "the is a"},
		{`"quoted" (grouped)`, "quoted* OR grouped*"},
	}
	for _, tt := range tests {
		if got := sanitiseFTSQuery(tt.in); got != tt.want {
			t.Errorf("sanitiseFTSQuery(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEmbeddingRoundTrip(t *testing.T) {
	vec := []float64{0.1, -2.5, math.Pi}
	blob := serializeEmbedding(vec)

	got, err := deserializeEmbedding(blob, len(vec))
	if err != nil {
		t.Fatalf("deserializeEmbedding failed: %v", err)
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("index %d: got %v, want %v", i, got[i], vec[i])
		}
	}

	if _, err := deserializeEmbedding(blob, 5); err == nil {
		t.Error("dimension mismatch should fail")
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := cosineSimilarity([]float64{1, 0}, []float64{1, 0}); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("identical vectors: got %v, want 1.0", got)
	}
	if got := cosineSimilarity([]float64{1, 0}, []float64{0, 1}); math.Abs(got) > 1e-9 {
		t.Errorf("orthogonal vectors: got %v, want 0.0", got)
	}
	if got := cosineSimilarity([]float64{1, 0}, []float64{0, 0, 1}); got != 0 {
		t.Errorf("length mismatch: got %v, want 0", got)
	}
}
