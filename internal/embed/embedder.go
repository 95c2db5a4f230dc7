// Package embed wraps an embedding source with caching, rate limiting and
// dimension normalization. Embedding failures surface as
// ErrEmbeddingUnavailable so retrieval can degrade to lexical-only search.
package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// ErrEmbeddingUnavailable indicates the embedding source failed or returned
// a malformed payload. Callers fall back to lexical retrieval.
var ErrEmbeddingUnavailable = errors.New("embedding unavailable")

// Func produces a raw embedding vector for the given text.
type Func func(ctx context.Context, text string) ([]float64, error)

// Options configures a Client.
type Options struct {
	Dimension  int     // target vector length (default 768)
	CacheSize  int     // LRU entries (default 1024)
	RatePerSec float64 // max source calls per second, 0 disables limiting
	MaxChars   int     // input truncation before embedding (default 2000)
}

// Client is a caching, rate-limited embedding client. Vectors are padded or
// truncated to the configured dimension so stored embeddings stay comparable
// even when the upstream model changes length.
type Client struct {
	source  Func
	cache   *lru.Cache[string, []float64]
	limiter *rate.Limiter
	dim     int
	maxLen  int
}

// NewClient wraps source with caching and normalization.
func NewClient(source Func, opts Options) (*Client, error) {
	if source == nil {
		return nil, errors.New("embed: source function is required")
	}
	if opts.Dimension <= 0 {
		opts.Dimension = 768
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1024
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = 2000
	}

	cache, err := lru.New[string, []float64](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("embed: create cache: %w", err)
	}

	var limiter *rate.Limiter
	if opts.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), 1)
	}

	return &Client{
		source:  source,
		cache:   cache,
		limiter: limiter,
		dim:     opts.Dimension,
		maxLen:  opts.MaxChars,
	}, nil
}

// Dimension returns the normalized vector length.
func (c *Client) Dimension() int {
	return c.dim
}

// Embed returns the normalized embedding for text. Identical inputs hit the
// cache; all failure paths return ErrEmbeddingUnavailable.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: empty input", ErrEmbeddingUnavailable)
	}

	if len(text) > c.maxLen {
		text = text[:c.maxLen]
	}

	key := cacheKey(text)
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
		}
	}

	raw, err := c.source(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: source returned empty vector", ErrEmbeddingUnavailable)
	}

	vec := normalizeLength(raw, c.dim)
	c.cache.Add(key, vec)
	return vec, nil
}

// cacheKey hashes the (already truncated) input text.
func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// normalizeLength pads with zeros or truncates so len(vec) == dim.
func normalizeLength(vec []float64, dim int) []float64 {
	if len(vec) == dim {
		return vec
	}
	out := make([]float64, dim)
	copy(out, vec)
	return out
}
