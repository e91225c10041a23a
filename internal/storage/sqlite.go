package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is a single-file backend for local deployments without Postgres.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite handles one writer at a time; a single connection avoids lock churn.
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(5 * time.Minute)

	s := &SQLiteStore{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			user_id TEXT PRIMARY KEY,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_active_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS conversation_sessions (
			session_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(user_id),
			started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			ended_at DATETIME NULL,
			message_count INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user ON conversation_sessions(user_id);`,
		`CREATE TABLE IF NOT EXISTS conversation_messages (
			message_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES conversation_sessions(session_id) ON DELETE CASCADE,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			processing_time_ms INTEGER NULL,
			vector_ref TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON conversation_messages(session_id, created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init sqlite schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) GetOrCreateUser(ctx context.Context, userID string) (User, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (user_id, created_at, last_active_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET last_active_at = excluded.last_active_at`,
		userID, now, now,
	)
	if err != nil {
		return User{}, fmt.Errorf("get or create user: %w", err)
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, created_at, last_active_at FROM users WHERE user_id = ?`, userID)
	var u User
	if err := row.Scan(&u.UserID, &u.CreatedAt, &u.LastActiveAt); err != nil {
		return User{}, fmt.Errorf("get or create user: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) CreateSession(ctx context.Context, userID string) (Session, error) {
	if _, err := s.GetOrCreateUser(ctx, userID); err != nil {
		return Session{}, err
	}
	sess := Session{SessionID: NewSessionID(), UserID: userID, StartedAt: time.Now().UTC()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_sessions (session_id, user_id, started_at) VALUES (?, ?, ?)`,
		sess.SessionID, sess.UserID, sess.StartedAt,
	)
	if err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, user_id, started_at, ended_at, message_count
		 FROM conversation_sessions WHERE session_id = ?`, sessionID)
	var sess Session
	if err := row.Scan(&sess.SessionID, &sess.UserID, &sess.StartedAt, &sess.EndedAt, &sess.MessageCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) EndSession(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversation_sessions SET ended_at = ? WHERE session_id = ? AND ended_at IS NULL`,
		time.Now().UTC(), sessionID,
	)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetSession(ctx, sessionID); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, msg Message) (Message, error) {
	if msg.MessageID == "" {
		msg.MessageID = NewMessageID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE conversation_sessions SET message_count = message_count + 1 WHERE session_id = ?`,
		msg.SessionID,
	)
	if err != nil {
		return Message{}, fmt.Errorf("bump message count: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Message{}, ErrSessionNotFound
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversation_messages
		 (message_id, session_id, user_id, role, content, processing_time_ms, vector_ref, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.MessageID, msg.SessionID, msg.UserID, string(msg.Role), msg.Content,
		msg.ProcessingTimeMS, msg.VectorRef, msg.CreatedAt,
	)
	if err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

func (s *SQLiteStore) SetVectorRef(ctx context.Context, messageID, vectorRef string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversation_messages SET vector_ref = ? WHERE message_id = ?`,
		vectorRef, messageID,
	)
	if err != nil {
		return fmt.Errorf("set vector ref: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecentMessages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 4
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, session_id, user_id, role, content, processing_time_ms, vector_ref, created_at
		 FROM conversation_messages WHERE session_id = ?
		 ORDER BY created_at DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	msgs, err := scanSQLMessages(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *SQLiteStore) SessionMessages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, session_id, user_id, role, content, processing_time_ms, vector_ref, created_at
		 FROM conversation_messages WHERE session_id = ? ORDER BY created_at`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query session messages: %w", err)
	}
	return scanSQLMessages(rows)
}

func scanSQLMessages(rows *sql.Rows) ([]Message, error) {
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

func (s *SQLiteStore) SessionsByUser(ctx context.Context, userID string) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, user_id, started_at, ended_at, message_count
		 FROM conversation_sessions WHERE user_id = ? ORDER BY started_at DESC`,
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

func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM conversation_sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *SQLiteStore) SessionStats(ctx context.Context, sessionID string) (SessionStats, error) {
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
	row := s.db.QueryRowContext(ctx,
		`SELECT count(*),
		        count(CASE WHEN role = 'user' THEN 1 END),
		        count(CASE WHEN role = 'assistant' THEN 1 END),
		        avg(processing_time_ms)
		 FROM conversation_messages WHERE session_id = ?`,
		sessionID,
	)
	if err := row.Scan(&stats.MessageCount, &stats.UserMessages, &stats.AssistantMessages, &stats.AvgProcessingTimeMS); err != nil {
		return SessionStats{}, fmt.Errorf("session stats: %w", err)
	}
	return stats, nil
}

func (s *SQLiteStore) UserStats(ctx context.Context, userID string) (UserStats, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, created_at, last_active_at FROM users WHERE user_id = ?`, userID)
	var stats UserStats
	if err := row.Scan(&stats.UserID, &stats.CreatedAt, &stats.LastActiveAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return UserStats{}, ErrUserNotFound
		}
		return UserStats{}, fmt.Errorf("user stats: %w", err)
	}
	row = s.db.QueryRowContext(ctx,
		`SELECT
		   (SELECT count(*) FROM conversation_sessions WHERE user_id = ?),
		   (SELECT count(*) FROM conversation_messages WHERE user_id = ?)`,
		userID, userID,
	)
	if err := row.Scan(&stats.SessionCount, &stats.MessageCount); err != nil {
		return UserStats{}, fmt.Errorf("user stats: %w", err)
	}
	return stats, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
