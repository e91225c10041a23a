package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists conversation state in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			user_id TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_active_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS conversation_sessions (
			session_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(user_id),
			started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			ended_at TIMESTAMPTZ NULL,
			message_count INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user_started ON conversation_sessions (user_id, started_at DESC);`,
		`CREATE TABLE IF NOT EXISTS conversation_messages (
			message_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES conversation_sessions(session_id) ON DELETE CASCADE,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			processing_time_ms BIGINT NULL,
			vector_ref TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session_created ON conversation_messages (session_id, created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) GetOrCreateUser(ctx context.Context, userID string) (User, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO users (user_id) VALUES ($1)
		 ON CONFLICT (user_id) DO UPDATE SET last_active_at = now()
		 RETURNING user_id, created_at, last_active_at`,
		userID,
	)
	var u User
	if err := row.Scan(&u.UserID, &u.CreatedAt, &u.LastActiveAt); err != nil {
		return User{}, fmt.Errorf("get or create user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, userID string) (Session, error) {
	if _, err := s.GetOrCreateUser(ctx, userID); err != nil {
		return Session{}, err
	}
	sess := Session{SessionID: NewSessionID(), UserID: userID}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO conversation_sessions (session_id, user_id) VALUES ($1, $2)
		 RETURNING started_at`,
		sess.SessionID, sess.UserID,
	)
	if err := row.Scan(&sess.StartedAt); err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT session_id, user_id, started_at, ended_at, message_count
		 FROM conversation_sessions WHERE session_id = $1`,
		sessionID,
	)
	var sess Session
	if err := row.Scan(&sess.SessionID, &sess.UserID, &sess.StartedAt, &sess.EndedAt, &sess.MessageCount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// EndSession only touches rows whose ended_at is still NULL, so the first end
// wins and repeats are no-ops.
func (s *PostgresStore) EndSession(ctx context.Context, sessionID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversation_sessions SET ended_at = now()
		 WHERE session_id = $1 AND ended_at IS NULL`,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either already ended (fine) or unknown.
		if _, err := s.GetSession(ctx, sessionID); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, msg Message) (Message, error) {
	if msg.MessageID == "" {
		msg.MessageID = NewMessageID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO conversation_messages
		 (message_id, session_id, user_id, role, content, processing_time_ms, vector_ref, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		msg.MessageID, msg.SessionID, msg.UserID, string(msg.Role), msg.Content,
		msg.ProcessingTimeMS, msg.VectorRef, msg.CreatedAt,
	)
	if err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	tag, err := tx.Exec(ctx,
		`UPDATE conversation_sessions SET message_count = message_count + 1 WHERE session_id = $1`,
		msg.SessionID,
	)
	if err != nil {
		return Message{}, fmt.Errorf("bump message count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Message{}, ErrSessionNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

func (s *PostgresStore) SetVectorRef(ctx context.Context, messageID, vectorRef string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE conversation_messages SET vector_ref = $2 WHERE message_id = $1`,
		messageID, vectorRef,
	)
	if err != nil {
		return fmt.Errorf("set vector ref: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentMessages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 4
	}
	rows, err := s.pool.Query(ctx,
		`SELECT message_id, session_id, user_id, role, content, processing_time_ms, vector_ref, created_at
		 FROM conversation_messages WHERE session_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	// Reverse into chronological order for prompt coherence.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *PostgresStore) SessionMessages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT message_id, session_id, user_id, role, content, processing_time_ms, vector_ref, created_at
		 FROM conversation_messages WHERE session_id = $1 ORDER BY created_at`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query session messages: %w", err)
	}
	return scanMessages(rows)
}

func scanMessages(rows pgx.Rows) ([]Message, error) {
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var m Message
		var role string
		if err := rows.Scan(&m.MessageID, &m.SessionID, &m.UserID, &role, &m.Content,
			&m.ProcessingTimeMS, &m.VectorRef, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.Role = Role(role)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) SessionsByUser(ctx context.Context, userID string) ([]Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT session_id, user_id, started_at, ended_at, message_count
		 FROM conversation_sessions WHERE user_id = $1 ORDER BY started_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()
	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.SessionID, &sess.UserID, &sess.StartedAt, &sess.EndedAt, &sess.MessageCount); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) DeleteSession(ctx context.Context, sessionID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM conversation_sessions WHERE session_id = $1`,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *PostgresStore) SessionStats(ctx context.Context, sessionID string) (SessionStats, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return SessionStats{}, err
	}
	stats := SessionStats{
		SessionID: sess.SessionID,
		UserID:    sess.UserID,
		StartedAt: sess.StartedAt,
		EndedAt:   sess.EndedAt,
		IsActive:  sess.Active(),
	}
	row := s.pool.QueryRow(ctx,
		`SELECT count(*),
		        count(*) FILTER (WHERE role = 'user'),
		        count(*) FILTER (WHERE role = 'assistant'),
		        avg(processing_time_ms)
		 FROM conversation_messages WHERE session_id = $1`,
		sessionID,
	)
	if err := row.Scan(&stats.MessageCount, &stats.UserMessages, &stats.AssistantMessages, &stats.AvgProcessingTimeMS); err != nil {
		return SessionStats{}, fmt.Errorf("session stats: %w", err)
	}
	return stats, nil
}

func (s *PostgresStore) UserStats(ctx context.Context, userID string) (UserStats, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT user_id, created_at, last_active_at FROM users WHERE user_id = $1`,
		userID,
	)
	var stats UserStats
	if err := row.Scan(&stats.UserID, &stats.CreatedAt, &stats.LastActiveAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserStats{}, ErrUserNotFound
		}
		return UserStats{}, fmt.Errorf("user stats: %w", err)
	}
	row = s.pool.QueryRow(ctx,
		`SELECT
		   (SELECT count(*) FROM conversation_sessions WHERE user_id = $1),
		   (SELECT count(*) FROM conversation_messages WHERE user_id = $1)`,
		userID,
	)
	if err := row.Scan(&stats.SessionCount, &stats.MessageCount); err != nil {
		return UserStats{}, fmt.Errorf("user stats: %w", err)
	}
	return stats, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
