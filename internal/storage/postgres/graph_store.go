package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/scrypster/engram/internal/storage"
)

// AddEdges records the content tokens that link an item into the graph.
// Duplicate (token, item) pairs are ignored.
func (s *Store) AddEdges(ctx context.Context, userID, itemID string, tokens []string) error {
	if userID == "" || itemID == "" {
		return storage.ErrInvalidInput
	}
	if len(tokens) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: add edges begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO graph_edges (user_id, token, item_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, token, item_id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("postgres: add edges prepare: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, token := range tokens {
		token = strings.TrimSpace(strings.ToLower(token))
		if len(token) < 3 {
			continue
		}
		if _, err := stmt.ExecContext(ctx, userID, token, itemID); err != nil {
			return fmt.Errorf("postgres: add edge %q: %w", token, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: add edges commit: %w", err)
	}
	return nil
}

// Neighbors returns ids of active items sharing tokens with the seed set,
// excluding the seeds themselves. One query per hop; results are ordered by
// how many tokens they share with the frontier, then by id.
func (s *Store) Neighbors(ctx context.Context, userID string, seedIDs []string, bounds storage.GraphBounds) ([]string, error) {
	bounds.Normalize()
	if len(seedIDs) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, bounds.Timeout)
	defer cancel()

	seen := make(map[string]bool, len(seedIDs))
	for _, id := range seedIDs {
		seen[id] = true
	}

	frontier := seedIDs
	var result []string

	for hop := 0; hop < bounds.MaxHops && len(frontier) > 0; hop++ {
		next, err := s.sharedTokenNeighbors(ctx, userID, frontier)
		if err != nil {
			return nil, err
		}

		frontier = frontier[:0]
		for _, id := range next {
			if seen[id] {
				continue
			}
			seen[id] = true
			result = append(result, id)
			frontier = append(frontier, id)
			if len(result) >= bounds.MaxNodes {
				return result, nil
			}
		}
	}

	return result, nil
}

// sharedTokenNeighbors finds active items sharing at least one token with
// any item in the frontier.
func (s *Store) sharedTokenNeighbors(ctx context.Context, userID string, frontier []string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e2.item_id, COUNT(DISTINCT e2.token) AS shared
		FROM graph_edges e1
		JOIN graph_edges e2
			ON e2.user_id = e1.user_id AND e2.token = e1.token
		JOIN memory_items i ON i.id = e2.item_id
		WHERE e1.user_id = $1 AND e1.item_id = ANY($2)
			AND e2.item_id <> ALL($2)
			AND i.status = 'active'
		GROUP BY e2.item_id
		ORDER BY shared DESC, e2.item_id`,
		userID, pq.Array(frontier))
	if err != nil {
		return nil, fmt.Errorf("postgres: neighbors query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		var shared int
		if err := rows.Scan(&id, &shared); err != nil {
			return nil, fmt.Errorf("postgres: neighbors scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: neighbors rows: %w", err)
	}
	return ids, nil
}
