package postgres

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/scrypster/engram/internal/storage"
)

// LexicalSearch performs tsvector full-text search over active items,
// ranked by ts_rank with ties broken on item id.
func (s *Store) LexicalSearch(ctx context.Context, userID string, opts storage.SearchOptions) ([]string, error) {
	opts.Normalize()

	if strings.TrimSpace(opts.Query) == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id
		FROM memory_items
		WHERE user_id = $1 AND status = 'active'
			AND content_tsv @@ plainto_tsquery('english', $2)
		ORDER BY ts_rank(content_tsv, plainto_tsquery('english', $2)) DESC, id
		LIMIT $3`,
		userID, opts.Query, opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: LexicalSearch %q: %w", opts.Query, err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: LexicalSearch scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: LexicalSearch rows: %w", err)
	}
	return ids, nil
}

// StoreEmbedding persists an item's embedding vector, replacing any
// previous vector. The pgvector column is populated alongside the packed
// blob when the extension is available.
func (s *Store) StoreEmbedding(ctx context.Context, itemID string, vector []float64) error {
	if itemID == "" || len(vector) == 0 {
		return storage.ErrInvalidInput
	}

	blob := serializeEmbedding(vector)
	if s.pgvectorAvailable {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO embeddings (item_id, embedding, dimension, embedding_vec)
			VALUES ($1, $2, $3, $4::vector)
			ON CONFLICT (item_id) DO UPDATE SET
				embedding = excluded.embedding,
				dimension = excluded.dimension,
				embedding_vec = excluded.embedding_vec`,
			itemID, blob, len(vector), pgVec(vector))
		if err != nil {
			return fmt.Errorf("postgres: store embedding %s: %w", itemID, err)
		}
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embeddings (item_id, embedding, dimension)
		VALUES ($1, $2, $3)
		ON CONFLICT (item_id) DO UPDATE SET
			embedding = excluded.embedding,
			dimension = excluded.dimension`,
		itemID, blob, len(vector))
	if err != nil {
		return fmt.Errorf("postgres: store embedding %s: %w", itemID, err)
	}
	return nil
}

// vectorSearchMaxCandidates caps embeddings loaded for the in-process
// cosine fallback when pgvector is unavailable.
const vectorSearchMaxCandidates = 10_000

// VectorSearch ranks the tenant's active items by cosine similarity to the
// query vector. With pgvector the <=> operator and ivfflat index do the
// work; otherwise embeddings are scored in Go.
func (s *Store) VectorSearch(ctx context.Context, userID string, vector []float64, limit int) ([]string, error) {
	if len(vector) == 0 {
		return nil, nil
	}
	if limit < 1 {
		limit = 30
	}

	if s.pgvectorAvailable {
		return s.vectorSearchPgvector(ctx, userID, vector, limit)
	}
	return s.vectorSearchInProcess(ctx, userID, vector, limit)
}

func (s *Store) vectorSearchPgvector(ctx context.Context, userID string, vector []float64, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.id
		FROM embeddings e
		JOIN memory_items i ON i.id = e.item_id
		WHERE i.user_id = $1 AND i.status = 'active' AND e.embedding_vec IS NOT NULL
		ORDER BY e.embedding_vec <=> $2::vector, i.id
		LIMIT $3`,
		userID, pgVec(vector), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: VectorSearch: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: VectorSearch scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: VectorSearch rows: %w", err)
	}
	return ids, nil
}

func (s *Store) vectorSearchInProcess(ctx context.Context, userID string, vector []float64, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.item_id, e.embedding, e.dimension
		FROM embeddings e
		JOIN memory_items i ON i.id = e.item_id
		WHERE i.user_id = $1 AND i.status = 'active'
		ORDER BY i.created_at DESC
		LIMIT $2`,
		userID, vectorSearchMaxCandidates)
	if err != nil {
		return nil, fmt.Errorf("postgres: VectorSearch load embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	type scored struct {
		itemID string
		score  float64
	}
	var candidates []scored

	for rows.Next() {
		var itemID string
		var blob []byte
		var dim int
		if err := rows.Scan(&itemID, &blob, &dim); err != nil {
			continue
		}
		embedding, err := deserializeEmbedding(blob, dim)
		if err != nil {
			continue
		}
		candidates = append(candidates, scored{itemID, cosineSimilarity(vector, embedding)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: VectorSearch rows: %w", err)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].itemID < candidates[j].itemID
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.itemID)
	}
	return ids, nil
}

// pgVec converts a float64 slice to the pgvector wire type.
func pgVec(vector []float64) pgvector.Vector {
	f32 := make([]float32, len(vector))
	for i, v := range vector {
		f32[i] = float32(v)
	}
	return pgvector.NewVector(f32)
}

// cosineSimilarity computes cosine similarity between two equal-length vectors.
// Returns 0 if either vector has zero magnitude or lengths differ.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// serializeEmbedding converts a float64 slice to little-endian binary.
func serializeEmbedding(embedding []float64) []byte {
	buf := make([]byte, len(embedding)*8)
	for i, v := range embedding {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// deserializeEmbedding converts a binary representation back to a float64
// slice. dimension validates the buffer size.
func deserializeEmbedding(buf []byte, dimension int) ([]float64, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid dimension: %d", dimension)
	}
	if len(buf) != dimension*8 {
		return nil, fmt.Errorf("buffer size mismatch: expected %d bytes, got %d", dimension*8, len(buf))
	}

	embedding := make([]float64, dimension)
	for i := 0; i < dimension; i++ {
		embedding[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return embedding, nil
}
