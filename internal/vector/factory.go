package vector

import (
	"context"
	"strings"
)

// NewIndex returns a pgvector-backed index when a postgres URL is configured,
// otherwise an in-process cosine index.
func NewIndex(ctx context.Context, databaseURL string, embedder Embedder) (Index, error) {
	url := strings.TrimSpace(databaseURL)
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return NewPGVectorIndex(ctx, url, embedder)
	}
	return NewInMemoryIndex(embedder), nil
}

// NewEmbedder returns an HTTP embedder when a service URL is configured,
// otherwise the deterministic local hash embedder.
func NewEmbedder(embeddingURL string, dim int) Embedder {
	if strings.TrimSpace(embeddingURL) != "" {
		return NewHTTPEmbedder(embeddingURL, dim)
	}
	return NewHashEmbedder(dim)
}
