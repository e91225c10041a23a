package vector

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGVectorIndex stores embeddings in PostgreSQL with the pgvector extension.
type PGVectorIndex struct {
	pool     *pgxpool.Pool
	embedder Embedder
}

func NewPGVectorIndex(ctx context.Context, databaseURL string, embedder Embedder) (*PGVectorIndex, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	idx := &PGVectorIndex{pool: pool, embedder: embedder}
	if err := idx.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *PGVectorIndex) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector;`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS message_vectors (
			message_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`, idx.embedder.Dim()),
		`CREATE INDEX IF NOT EXISTS idx_message_vectors_user ON message_vectors (user_id, session_id);`,
	}
	for _, stmt := range stmts {
		if _, err := idx.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init vector schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (idx *PGVectorIndex) Add(ctx context.Context, e Entry) error {
	vec, err := idx.embedder.Embed(ctx, e.Content)
	if err != nil {
		return fmt.Errorf("embed entry: %w", err)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err = idx.pool.Exec(ctx,
		`INSERT INTO message_vectors (message_id, user_id, session_id, content, embedding, created_at)
		 VALUES ($1, $2, $3, $4, $5::vector, $6)
		 ON CONFLICT (message_id) DO NOTHING`,
		e.MessageID, e.UserID, e.SessionID, e.Content, vectorLiteral(vec), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert vector: %w", err)
	}
	return nil
}

func (idx *PGVectorIndex) Search(ctx context.Context, q Query) ([]Hit, error) {
	if q.TopK <= 0 {
		return nil, nil
	}
	qvec, err := idx.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	sql := `SELECT message_id, session_id, content, created_at,
	               1 - (embedding <=> $1::vector) AS score
	        FROM message_vectors
	        WHERE user_id = $2`
	args := []any{vectorLiteral(qvec), q.UserID}
	if q.SessionID != "" {
		sql += ` AND session_id = $3`
		args = append(args, q.SessionID)
	}
	sql += fmt.Sprintf(` AND 1 - (embedding <=> $1::vector) >= %f
	        ORDER BY score DESC, created_at DESC
	        LIMIT %d`, q.MinScore, q.TopK)

	rows, err := idx.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.MessageID, &h.SessionID, &h.Content, &h.CreatedAt, &h.Score); err != nil {
			return nil, fmt.Errorf("scan hit row: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hit rows: %w", err)
	}
	return hits, nil
}

func (idx *PGVectorIndex) Stats(ctx context.Context) (Stats, error) {
	var entries int
	if err := idx.pool.QueryRow(ctx, `SELECT count(*) FROM message_vectors`).Scan(&entries); err != nil {
		return Stats{}, fmt.Errorf("vector stats: %w", err)
	}
	return Stats{Entries: entries, Dim: idx.embedder.Dim()}, nil
}

func (idx *PGVectorIndex) Close() error {
	idx.pool.Close()
	return nil
}

// vectorLiteral renders a pgvector input literal like "[0.1,0.2]".
func vectorLiteral(vec []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
