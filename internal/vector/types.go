package vector

import (
	"context"
	"time"
)

// Entry is one indexed user utterance.
type Entry struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Query is a similarity lookup. SessionID empty means user-wide search.
type Query struct {
	Text      string
	UserID    string
	SessionID string
	TopK      int
	MinScore  float64
}

// Hit is one similarity result with its cosine score in [0,1].
type Hit struct {
	MessageID string    `json:"message_id"`
	SessionID string    `json:"session_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Score     float64   `json:"score"`
}

type Stats struct {
	Entries int `json:"entries"`
	Dim     int `json:"dim"`
}

// Index is the similarity-search collaborator. Add failures are expected to
// be treated as best-effort by callers; Search failures degrade to an empty
// relevance context.
type Index interface {
	Add(ctx context.Context, e Entry) error
	Search(ctx context.Context, q Query) ([]Hit, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dim() int
}
