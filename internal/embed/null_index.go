package embed

import "context"

// NullClient is the no-op stand-in used when no embedding source is
// configured. Every call reports ErrEmbeddingUnavailable, which keeps the
// retrieval path on lexical search without special-casing nil clients.
type NullClient struct{}

// Embed always fails with ErrEmbeddingUnavailable.
func (NullClient) Embed(ctx context.Context, text string) ([]float64, error) {
	return nil, ErrEmbeddingUnavailable
}

// Dimension returns 0; the null client never produces vectors.
func (NullClient) Dimension() int { return 0 }

// Embedder is the capability the engine depends on. *Client and NullClient
// both satisfy it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Dimension() int
}

var (
	_ Embedder = (*Client)(nil)
	_ Embedder = NullClient{}
)
