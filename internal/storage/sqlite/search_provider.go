package sqlite

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/scrypster/engram/internal/storage"
)

// LexicalSearch performs FTS5-backed full-text search over active items.
//
// The FTS5 virtual table (memory_fts) is kept in sync with memory_items via
// the triggers defined in schema.go. FTS5 rank values are negative (more
// negative == better match), so ordering by rank ASC gives the best results
// first; ties break on item id so ranking is deterministic.
func (s *Store) LexicalSearch(ctx context.Context, userID string, opts storage.SearchOptions) ([]string, error) {
	opts.Normalize()

	if strings.TrimSpace(opts.Query) == "" {
		return nil, nil
	}

	// Sanitise the raw query string so it is safe to pass to FTS5's MATCH
	// operator. FTS5 syntax is fragile: an unbalanced quote or stray
	// operator keyword makes SQLite return "fts5: syntax error".
	ftsQuery := sanitiseFTSQuery(opts.Query)
	if ftsQuery == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT i.id
		FROM memory_fts fts
		JOIN memory_items i ON i.rowid = fts.rowid
		WHERE memory_fts MATCH ? AND i.user_id = ? AND i.status = 'active'
		ORDER BY rank, i.id
		LIMIT ?`,
		ftsQuery, userID, opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: LexicalSearch MATCH %q: %w", opts.Query, err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: LexicalSearch scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: LexicalSearch rows: %w", err)
	}
	return ids, nil
}

// StoreEmbedding persists an item's embedding vector, replacing any
// previous vector for the item.
func (s *Store) StoreEmbedding(ctx context.Context, itemID string, vector []float64) error {
	if itemID == "" || len(vector) == 0 {
		return storage.ErrInvalidInput
	}

	blob := serializeEmbedding(vector)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embeddings (item_id, embedding, dimension)
		VALUES (?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET
			embedding = excluded.embedding,
			dimension = excluded.dimension`,
		itemID, blob, len(vector))
	if err != nil {
		return fmt.Errorf("sqlite: store embedding %s: %w", itemID, err)
	}
	return nil
}

// vectorSearchMaxCandidates caps the number of embeddings loaded into memory
// during a vector search. Embeddings are selected newest first, so recent
// items are always considered. For typical per-user datasets this limit is
// never hit; larger deployments should use the postgres backend.
const vectorSearchMaxCandidates = 10_000

// VectorSearch ranks the tenant's active items by cosine similarity to the
// query vector. Embeddings are loaded into Go memory and scored here; ties
// on similarity break on item id.
func (s *Store) VectorSearch(ctx context.Context, userID string, vector []float64, limit int) ([]string, error) {
	if len(vector) == 0 {
		return nil, nil
	}
	if limit < 1 {
		limit = 30
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.item_id, e.embedding, e.dimension
		FROM embeddings e
		JOIN memory_items i ON i.id = e.item_id
		WHERE i.user_id = ? AND i.status = 'active'
		ORDER BY i.created_at DESC
		LIMIT ?`,
		userID, vectorSearchMaxCandidates)
	if err != nil {
		return nil, fmt.Errorf("sqlite: VectorSearch load embeddings: %w", err)
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
		sim := cosineSimilarity(vector, embedding)
		candidates = append(candidates, scored{itemID, sim})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: VectorSearch rows: %w", err)
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

// sanitiseFTSQuery converts a free-form user query into a safe FTS5 MATCH
// expression. It strips FTS5-special characters, removes common stop words,
// and uses prefix matching (term*) for better recall.
//
// Example: "What is the main thread?" → "main* OR thread*"
func sanitiseFTSQuery(query string) string {
	replacer := strings.NewReplacer(
		`"`, ` `,
		`'`, ` `,
		`(`, ` `,
		`)`, ` `,
		`*`, ` `,
		`-`, ` `,
		`^`, ` `,
		`?`, ` `,
		`:`, ` `,
		`.`, ` `,
		`,`, ` `,
	)
	cleaned := replacer.Replace(query)

	words := strings.Fields(strings.ToLower(cleaned))

	var terms []string
	for _, w := range words {
		if !ftsStopWords[w] && len(w) >= 2 {
			terms = append(terms, w+"*")
		}
	}

	if len(terms) == 0 {
		// All words were stop words. Fall back to the lowercased cleaned
		// text so FTS5 does not interpret uppercase AND/OR/NOT as operators.
		return strings.ToLower(strings.TrimSpace(cleaned))
	}

	return strings.Join(terms, " OR ")
}

// ftsStopWords carry no discriminative value in MATCH queries.
var ftsStopWords = map[string]bool{
	"a": true, "an": true, "the": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true,
	"will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "shall": true, "can": true,
	"to": true, "of": true, "in": true, "on": true, "at": true,
	"by": true, "for": true, "with": true, "from": true, "as": true,
	"about": true, "into": true, "through": true, "during": true,
	"what": true, "how": true, "when": true, "where": true, "why": true,
	"who": true, "which": true,
	"this": true, "that": true, "these": true, "those": true,
	"i": true, "you": true, "he": true, "she": true, "it": true, "we": true, "they": true,
	"my": true, "your": true, "and": true, "or": true, "but": true, "if": true, "not": true,
	"s": true, "t": true,
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
