package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// InMemoryIndex is a brute-force cosine index for local/dev use and tests.
type InMemoryIndex struct {
	mu       sync.RWMutex
	embedder Embedder
	entries  []storedEntry
}

type storedEntry struct {
	Entry
	vec []float32
}

func NewInMemoryIndex(embedder Embedder) *InMemoryIndex {
	return &InMemoryIndex{embedder: embedder}
}

func (idx *InMemoryIndex) Add(ctx context.Context, e Entry) error {
	vec, err := idx.embedder.Embed(ctx, e.Content)
	if err != nil {
		return fmt.Errorf("embed entry: %w", err)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries = append(idx.entries, storedEntry{Entry: e, vec: vec})
	return nil
}

func (idx *InMemoryIndex) Search(ctx context.Context, q Query) ([]Hit, error) {
	if q.TopK <= 0 {
		return nil, nil
	}
	qvec, err := idx.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var hits []Hit
	for _, e := range idx.entries {
		if q.UserID != "" && e.UserID != q.UserID {
			continue
		}
		if q.SessionID != "" && e.SessionID != q.SessionID {
			continue
		}
		score := cosine(qvec, e.vec)
		if score < q.MinScore {
			continue
		}
		hits = append(hits, Hit{
			MessageID: e.MessageID,
			SessionID: e.SessionID,
			Content:   e.Content,
			CreatedAt: e.CreatedAt,
			Score:     score,
		})
	}

	// Score descending; ties broken by recency.
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].CreatedAt.After(hits[j].CreatedAt)
	})
	if len(hits) > q.TopK {
		hits = hits[:q.TopK]
	}
	return hits, nil
}

func (idx *InMemoryIndex) Stats(_ context.Context) (Stats, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return Stats{Entries: len(idx.entries), Dim: idx.embedder.Dim()}, nil
}

func (idx *InMemoryIndex) Close() error { return nil }
