package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/scrypster/engram/internal/storage"
	"github.com/scrypster/engram/pkg/types"
)

// itemColumns is the canonical SELECT column list; scanItems depends on
// this exact order.
const itemColumns = `
	id, user_id, lane, kind, entity, mkey, value, content, tags, bucket,
	importance, confidence, status, created_at, expires_at, replaced_by,
	supersedes, last_used`

// PutItem inserts a memory item. The caller assigns the id.
func (s *Store) PutItem(ctx context.Context, item *types.Item) error {
	return insertItem(ctx, s.db, item)
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertItem(ctx context.Context, ex execer, item *types.Item) error {
	if item == nil {
		return storage.ErrInvalidInput
	}
	if item.ID == "" || item.UserID == "" {
		return fmt.Errorf("%w: item id and user id are required", storage.ErrInvalidInput)
	}
	if !item.Lane.Valid() {
		return fmt.Errorf("%w: unknown lane %q", storage.ErrInvalidInput, item.Lane)
	}
	if !item.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", storage.ErrInvalidInput, item.Kind)
	}

	if item.Status == "" {
		item.Status = types.StatusActive
	}
	if item.Bucket == "" {
		item.Bucket = types.BucketGeneral
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	var tagsJSON any
	if len(item.Tags) > 0 {
		data, err := json.Marshal(item.Tags)
		if err != nil {
			return fmt.Errorf("postgres: marshal tags: %w", err)
		}
		tagsJSON = string(data)
	}

	_, err := ex.ExecContext(ctx, `
		INSERT INTO memory_items (
			id, user_id, lane, kind, entity, mkey, value, content, tags, bucket,
			importance, confidence, status, created_at, expires_at, replaced_by,
			supersedes, last_used
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		item.ID, item.UserID, string(item.Lane), string(item.Kind),
		item.Entity, item.Key, item.Value, item.Content, tagsJSON,
		string(item.Bucket), item.Importance, item.Confidence,
		string(item.Status), item.CreatedAt, nullableTime(item.ExpiresAt),
		item.ReplacedBy, item.Supersedes, nullableTime(item.LastUsed),
	)
	if err != nil {
		return fmt.Errorf("postgres: insert item %s: %w", item.ID, err)
	}
	return nil
}

// GetItem returns one item by id, scoped to the tenant.
func (s *Store) GetItem(ctx context.Context, userID, id string) (*types.Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM memory_items WHERE id = $1 AND user_id = $2`,
		id, userID)

	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get item %s: %w", id, err)
	}
	return item, nil
}

// ActiveFact returns the single active fact row for (entity, key).
func (s *Store) ActiveFact(ctx context.Context, userID, entity, key string) (*types.Item, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+`
		FROM memory_items
		WHERE user_id = $1 AND entity = $2 AND mkey = $3 AND status = 'active'
			AND lane IN ('pinned', 'facts', 'volatile')
		ORDER BY created_at DESC
		LIMIT 1`,
		userID, entity, key)

	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: active fact %s/%s: %w", entity, key, err)
	}
	return item, nil
}

// SupersedeFact inserts item and tombstones the superseded row in one
// transaction, so a failure of either write cannot leave two active rows
// for the same (entity, key).
func (s *Store) SupersedeFact(ctx context.Context, item *types.Item, supersededID string) error {
	if supersededID == "" {
		return fmt.Errorf("%w: superseded id is required", storage.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: supersede %s: %w", supersededID, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertItem(ctx, tx, item); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE memory_items SET status = 'superseded', replaced_by = $1
		WHERE id = $2 AND user_id = $3 AND status = 'active'`,
		item.ID, supersededID, item.UserID)
	if err != nil {
		return fmt.Errorf("postgres: supersede %s: %w", supersededID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: supersede %s: %w", supersededID, err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: supersede %s: %w", supersededID, err)
	}
	return nil
}

// MarkStatus transitions an item to the given status.
func (s *Store) MarkStatus(ctx context.Context, userID, id string, status types.Status, replacedBy string) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", storage.ErrInvalidInput, status)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE memory_items SET status = $1, replaced_by = $2
		WHERE id = $3 AND user_id = $4`,
		string(status), replacedBy, id, userID)
	if err != nil {
		return fmt.Errorf("postgres: mark status %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: mark status %s: %w", id, err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ExpireVolatiles flips overdue active volatile items to expired.
func (s *Store) ExpireVolatiles(ctx context.Context, userID string, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memory_items SET status = 'expired'
		WHERE user_id = $1 AND lane = 'volatile' AND status = 'active'
			AND expires_at IS NOT NULL AND expires_at <= $2`,
		userID, now)
	if err != nil {
		return 0, fmt.Errorf("postgres: expire volatiles: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: expire volatiles: %w", err)
	}
	return int(n), nil
}

// ItemsByLane lists active items in a lane, newest first. Ties on
// created_at break on id so ordering is stable.
func (s *Store) ItemsByLane(ctx context.Context, userID string, lane types.Lane, limit int) ([]types.Item, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM memory_items
		WHERE user_id = $1 AND lane = $2 AND status = 'active'
		ORDER BY created_at DESC, id
		LIMIT $3`,
		userID, string(lane), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: items by lane %s: %w", lane, err)
	}
	defer func() { _ = rows.Close() }()

	return scanItems(rows)
}

// ItemsByIDs loads the given ids, preserving input order for ids that exist.
func (s *Store) ItemsByIDs(ctx context.Context, userID string, ids []string) ([]types.Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(ids)+1)
	args = append(args, userID)
	ph := make([]string, 0, len(ids))
	for i, id := range ids {
		args = append(args, id)
		ph = append(ph, fmt.Sprintf("$%d", i+2))
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM memory_items WHERE user_id = $1 AND id IN (`+strings.Join(ph, ",")+`)`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: items by ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	items, err := scanItems(rows)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]types.Item, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}

	ordered := make([]types.Item, 0, len(items))
	for _, id := range ids {
		if it, ok := byID[id]; ok {
			ordered = append(ordered, it)
		}
	}
	return ordered, nil
}

// RecentItems lists the newest items for the tenant regardless of lane.
func (s *Store) RecentItems(ctx context.Context, userID string, limit int) ([]types.Item, error) {
	if limit < 1 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM memory_items
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanItems(rows)
}

// RetractMatching marks active items whose value or content contains the
// phrase (case-insensitive) as retracted.
func (s *Store) RetractMatching(ctx context.Context, userID, phrase string) (int, error) {
	phrase = strings.TrimSpace(strings.ToLower(phrase))
	if phrase == "" {
		return 0, fmt.Errorf("%w: empty phrase", storage.ErrInvalidInput)
	}

	pattern := "%" + phrase + "%"
	res, err := s.db.ExecContext(ctx, `
		UPDATE memory_items SET status = 'retracted'
		WHERE user_id = $1 AND status = 'active'
			AND (lower(value) LIKE $2 OR lower(content) LIKE $2 OR lower(mkey) LIKE $2)`,
		userID, pattern)
	if err != nil {
		return 0, fmt.Errorf("postgres: retract matching: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: retract matching: %w", err)
	}
	return int(n), nil
}

// reinforceBoost and reinforceCap bound skill confidence growth from usage.
const (
	reinforceBoost = 0.02
	reinforceCap   = 0.95
)

// ReinforceSkill bumps a surfaced skill's confidence and stamps last_used.
func (s *Store) ReinforceSkill(ctx context.Context, userID, id string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memory_items
		SET confidence = LEAST(confidence + $1, $2), last_used = $3
		WHERE id = $4 AND user_id = $5 AND lane = 'skills' AND status = 'active'`,
		reinforceBoost, reinforceCap, now, id, userID)
	if err != nil {
		return fmt.Errorf("postgres: reinforce skill %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: reinforce skill %s: %w", id, err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// nullableTime converts an optional time to a driver-friendly value.
func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanItem reads a single item from a row using the itemColumns order.
func scanItem(row rowScanner) (*types.Item, error) {
	var (
		item                types.Item
		lane, kind          string
		bucket, status      string
		tagsJSON            sql.NullString
		expiresAt, lastUsed sql.NullTime
	)

	err := row.Scan(
		&item.ID, &item.UserID, &lane, &kind, &item.Entity, &item.Key,
		&item.Value, &item.Content, &tagsJSON, &bucket,
		&item.Importance, &item.Confidence, &status, &item.CreatedAt,
		&expiresAt, &item.ReplacedBy, &item.Supersedes, &lastUsed,
	)
	if err != nil {
		return nil, err
	}

	item.Lane = types.Lane(lane)
	item.Kind = types.Kind(kind)
	item.Bucket = types.Bucket(bucket)
	item.Status = types.Status(status)

	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &item.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		item.ExpiresAt = &t
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		item.LastUsed = &t
	}

	return &item, nil
}

// scanItems reads all rows returned by a query into a []types.Item slice.
func scanItems(rows *sql.Rows) ([]types.Item, error) {
	var items []types.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item row: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return items, nil
}
