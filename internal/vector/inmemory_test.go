package vector

import (
	"context"
	"testing"
	"time"
)

func newTestIndex() *InMemoryIndex {
	return NewInMemoryIndex(NewHashEmbedder(64))
}

func TestSearchExactMatchScoresHighest(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex()

	entries := []Entry{
		{MessageID: "m1", UserID: "u1", SessionID: "s1", Content: "what is the weather today"},
		{MessageID: "m2", UserID: "u1", SessionID: "s1", Content: "recommend a pasta recipe"},
	}
	for _, e := range entries {
		if err := idx.Add(ctx, e); err != nil {
			t.Fatalf("Add(%s) error = %v", e.MessageID, err)
		}
	}

	hits, err := idx.Search(ctx, Query{Text: "what is the weather today", UserID: "u1", TopK: 2, MinScore: 0.1})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) == 0 {
		t.Fatalf("no hits for exact match query")
	}
	if hits[0].MessageID != "m1" {
		t.Fatalf("top hit = %q, want m1", hits[0].MessageID)
	}
	if hits[0].Score < 0.99 {
		t.Fatalf("exact match score = %v, want ~1.0", hits[0].Score)
	}
}

func TestSearchFiltersByMinScore(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex()
	idx.Add(ctx, Entry{MessageID: "m1", UserID: "u1", SessionID: "s1", Content: "completely unrelated topic"})

	hits, err := idx.Search(ctx, Query{Text: "quantum flux capacitors", UserID: "u1", TopK: 3, MinScore: 0.6})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("hits = %d, want 0 below min score", len(hits))
	}
}

func TestSearchSessionScope(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex()
	idx.Add(ctx, Entry{MessageID: "m1", UserID: "u1", SessionID: "s1", Content: "hello there"})
	idx.Add(ctx, Entry{MessageID: "m2", UserID: "u1", SessionID: "s2", Content: "hello there"})

	hits, err := idx.Search(ctx, Query{Text: "hello there", UserID: "u1", SessionID: "s1", TopK: 5, MinScore: 0.5})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("session-scoped hits = %d, want 1", len(hits))
	}
	if hits[0].MessageID != "m1" {
		t.Fatalf("hit = %q, want m1", hits[0].MessageID)
	}
}

func TestSearchFiltersByUser(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex()
	idx.Add(ctx, Entry{MessageID: "m1", UserID: "u2", SessionID: "s1", Content: "hello there"})

	hits, err := idx.Search(ctx, Query{Text: "hello there", UserID: "u1", TopK: 5, MinScore: 0.1})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("hits = %d, want 0 for other user's entries", len(hits))
	}
}

func TestSearchTiesBrokenByRecency(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex()
	old := time.Now().UTC().Add(-time.Hour)
	recent := time.Now().UTC()
	idx.Add(ctx, Entry{MessageID: "m_old", UserID: "u1", SessionID: "s1", Content: "same text", CreatedAt: old})
	idx.Add(ctx, Entry{MessageID: "m_new", UserID: "u1", SessionID: "s1", Content: "same text", CreatedAt: recent})

	hits, err := idx.Search(ctx, Query{Text: "same text", UserID: "u1", TopK: 2, MinScore: 0.5})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits = %d, want 2", len(hits))
	}
	if hits[0].MessageID != "m_new" {
		t.Fatalf("top tie = %q, want m_new (recency wins)", hits[0].MessageID)
	}
}

func TestSearchCapsAtTopK(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex()
	for i := 0; i < 5; i++ {
		idx.Add(ctx, Entry{MessageID: string(rune('a' + i)), UserID: "u1", SessionID: "s1", Content: "repeated phrase"})
	}

	hits, err := idx.Search(ctx, Query{Text: "repeated phrase", UserID: "u1", TopK: 3, MinScore: 0.5})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("hits = %d, want top_k = 3", len(hits))
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex()
	idx.Add(ctx, Entry{MessageID: "m1", UserID: "u1", SessionID: "s1", Content: "x"})

	stats, err := idx.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Entries != 1 || stats.Dim != 64 {
		t.Fatalf("Stats = %+v, want {Entries:1 Dim:64}", stats)
	}
}

func TestVectorLiteralShape(t *testing.T) {
	lit := vectorLiteral([]float32{0.5, 1, 0.25})
	if lit != "[0.5,1,0.25]" {
		t.Fatalf("vectorLiteral = %q, want %q", lit, "[0.5,1,0.25]")
	}
}
