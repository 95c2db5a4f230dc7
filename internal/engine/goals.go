package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/scrypster/engram/internal/storage"
	"github.com/scrypster/engram/pkg/types"
)

// goalKey is the fact key goals are flattened under. A new goal supersedes
// the previous one through the normal upsert path.
const goalKey = "goal"

// AddGoal records a goal as a constraint fact.
func (e *Engine) AddGoal(ctx context.Context, userID, title string) (*types.Item, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: empty goal title", storage.ErrInvalidInput)
	}
	if r := []rune(title); len(r) > 120 {
		title = string(r[:120])
	}

	item, _, err := e.UpsertFact(ctx, userID, types.FactCandidate{
		Entity:     "user",
		Key:        goalKey,
		Value:      title,
		Kind:       types.KindConstraint,
		Confidence: 0.7,
	})
	if err != nil {
		return nil, err
	}
	e.audit(ctx, userID, "goal_upsert", item.ID, title)
	return item, nil
}

// ListGoals returns the tenant's active goals, newest first.
func (e *Engine) ListGoals(ctx context.Context, userID string, limit int) ([]types.Item, error) {
	if limit < 1 {
		limit = 6
	}

	items, err := e.store.ItemsByLane(ctx, userID, types.LaneFacts, 200)
	if err != nil {
		return nil, fmt.Errorf("engine: list goals: %w", err)
	}

	var goals []types.Item
	for i := range items {
		if items[i].Key != goalKey {
			continue
		}
		goals = append(goals, items[i])
		if len(goals) >= limit {
			break
		}
	}
	return goals, nil
}

// DeleteGoalByTitle retracts the active goal whose title matches,
// case-insensitively. Returns false when no goal matched.
func (e *Engine) DeleteGoalByTitle(ctx context.Context, userID, title string) (bool, error) {
	target := strings.ToLower(strings.TrimSpace(title))
	if target == "" {
		return false, fmt.Errorf("%w: empty goal title", storage.ErrInvalidInput)
	}

	items, err := e.store.ItemsByLane(ctx, userID, types.LaneFacts, 200)
	if err != nil {
		return false, fmt.Errorf("engine: delete goal: %w", err)
	}
	for i := range items {
		if items[i].Key != goalKey || strings.ToLower(strings.TrimSpace(items[i].Value)) != target {
			continue
		}
		if err := e.store.MarkStatus(ctx, userID, items[i].ID, types.StatusRetracted, ""); err != nil {
			return false, fmt.Errorf("engine: delete goal: %w", err)
		}
		e.audit(ctx, userID, "goal_delete", items[i].ID, items[i].Value)
		return true, nil
	}
	return false, nil
}
