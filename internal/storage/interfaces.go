// Package storage provides composable storage interfaces for the Engram system.
//
// The storage layer is designed with small, focused interfaces that can be
// implemented independently and composed as needed. This allows the sqlite
// and postgres backends to share one contract.
package storage

import (
	"context"
	"time"

	"github.com/scrypster/engram/pkg/types"
)

// ItemStore persists memory items (facts, skills, summaries) with their
// lifecycle transitions. Every operation is tenant-scoped by userID; no
// method may return another tenant's rows.
type ItemStore interface {
	// PutItem inserts a memory item. The caller assigns the id.
	PutItem(ctx context.Context, item *types.Item) error

	// GetItem returns one item by id, scoped to the tenant.
	// Returns ErrNotFound if the item doesn't exist.
	GetItem(ctx context.Context, userID, id string) (*types.Item, error)

	// ActiveFact returns the single active fact for (entity, key), or
	// ErrNotFound. At most one active row exists per tuple.
	ActiveFact(ctx context.Context, userID, entity, key string) (*types.Item, error)

	// MarkStatus transitions an item to the given status. For supersession
	// replacedBy records the id of the winning row.
	MarkStatus(ctx context.Context, userID, id string, status types.Status, replacedBy string) error

	// SupersedeFact inserts item and marks the active row it supersedes
	// as superseded in one transaction. A failure of either write leaves
	// neither behind, so at most one active row ever exists per
	// (entity, key). Returns ErrNotFound when the superseded row is no
	// longer active.
	SupersedeFact(ctx context.Context, item *types.Item, supersededID string) error

	// ExpireVolatiles flips active volatile items whose expiry has passed to
	// expired and returns how many rows changed. Rows are kept for audit.
	ExpireVolatiles(ctx context.Context, userID string, now time.Time) (int, error)

	// ItemsByLane lists active items in a lane, newest first.
	ItemsByLane(ctx context.Context, userID string, lane types.Lane, limit int) ([]types.Item, error)

	// ItemsByIDs loads the given ids, tenant-scoped, preserving input order
	// for ids that exist.
	ItemsByIDs(ctx context.Context, userID string, ids []string) ([]types.Item, error)

	// RecentItems lists the newest items for the tenant regardless of lane.
	RecentItems(ctx context.Context, userID string, limit int) ([]types.Item, error)

	// RetractMatching marks active items whose value or content contains the
	// phrase (case-insensitive) as retracted. Returns the count retracted.
	RetractMatching(ctx context.Context, userID, phrase string) (int, error)

	// ReinforceSkill bumps a surfaced skill's confidence and stamps last_used.
	ReinforceSkill(ctx context.Context, userID, id string, now time.Time) error
}

// SearchProvider covers lexical and vector retrieval. Both return ranked
// item ids, best first, so fusion can happen without loading rows twice.
type SearchProvider interface {
	// LexicalSearch runs full-text search over active items.
	LexicalSearch(ctx context.Context, userID string, opts SearchOptions) ([]string, error)

	// StoreEmbedding persists an item's embedding vector.
	StoreEmbedding(ctx context.Context, itemID string, vector []float64) error

	// VectorSearch ranks active items by cosine similarity to the query vector.
	VectorSearch(ctx context.Context, userID string, vector []float64, limit int) ([]string, error)
}

// ReminderStore persists scheduled reminders.
type ReminderStore interface {
	// PutReminder inserts a reminder; writing an existing id is a no-op.
	PutReminder(ctx context.Context, r *types.Reminder) error

	// GetReminder returns one reminder by id, scoped to the tenant.
	GetReminder(ctx context.Context, userID, id string) (*types.Reminder, error)

	// DueReminders returns active reminders due at or before now.
	DueReminders(ctx context.Context, userID string, now time.Time) ([]types.Reminder, error)

	// UpdateReminder rewrites the mutable fields of an existing reminder.
	UpdateReminder(ctx context.Context, r *types.Reminder) error

	// ListReminders returns the tenant's reminders with the given status,
	// soonest due first.
	ListReminders(ctx context.Context, userID string, status types.ReminderStatus) ([]types.Reminder, error)
}

// GraphStore maintains token edges between items and answers bounded
// neighbor expansion queries.
type GraphStore interface {
	// AddEdges records the content tokens that link an item into the graph.
	AddEdges(ctx context.Context, userID, itemID string, tokens []string) error

	// Neighbors returns ids of items sharing tokens with the seed set,
	// excluding the seeds themselves, within bounds.
	Neighbors(ctx context.Context, userID string, seedIDs []string, bounds GraphBounds) ([]string, error)
}

// EventLog is an append-only audit trail. Writes are best-effort; callers
// log and continue on failure.
type EventLog interface {
	AppendEvent(ctx context.Context, userID, eventType, itemID, detail string) error
}

// Store is the full persistence surface a backend must provide.
type Store interface {
	ItemStore
	SearchProvider
	ReminderStore
	GraphStore
	EventLog

	Close() error
}
