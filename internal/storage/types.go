package storage

import (
	"context"
	"errors"
	"time"
)

// Role identifies the speaker of a persisted message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrUserNotFound    = errors.New("user not found")
)

type User struct {
	UserID       string    `json:"user_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

type Session struct {
	SessionID    string     `json:"session_id"`
	UserID       string     `json:"user_id"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	MessageCount int        `json:"message_count"`
}

// Active reports whether the session has not been ended yet.
func (s Session) Active() bool { return s.EndedAt == nil }

// Message is one persisted utterance. Immutable once created, except for
// VectorRef which is set at most once after a successful index write.
type Message struct {
	MessageID        string    `json:"message_id"`
	SessionID        string    `json:"session_id"`
	UserID           string    `json:"user_id"`
	Role             Role      `json:"role"`
	Content          string    `json:"content"`
	ProcessingTimeMS *int64    `json:"processing_time_ms,omitempty"`
	VectorRef        string    `json:"vector_ref,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

type SessionStats struct {
	SessionID           string     `json:"session_id"`
	UserID              string     `json:"user_id"`
	StartedAt           time.Time  `json:"started_at"`
	EndedAt             *time.Time `json:"ended_at,omitempty"`
	IsActive            bool       `json:"is_active"`
	MessageCount        int        `json:"message_count"`
	UserMessages        int        `json:"user_messages"`
	AssistantMessages   int        `json:"assistant_messages"`
	AvgProcessingTimeMS *float64   `json:"avg_processing_time_ms,omitempty"`
}

type UserStats struct {
	UserID       string    `json:"user_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	SessionCount int       `json:"session_count"`
	MessageCount int       `json:"message_count"`
}

// Store is the durable CRUD collaborator for users, sessions, and messages.
type Store interface {
	GetOrCreateUser(ctx context.Context, userID string) (User, error)
	CreateSession(ctx context.Context, userID string) (Session, error)
	GetSession(ctx context.Context, sessionID string) (Session, error)
	// EndSession marks the session ended. Ending an already-ended session is a
	// no-op that preserves the first end timestamp.
	EndSession(ctx context.Context, sessionID string) error
	AppendMessage(ctx context.Context, msg Message) (Message, error)
	SetVectorRef(ctx context.Context, messageID, vectorRef string) error
	// RecentMessages returns the newest limit messages in chronological order.
	RecentMessages(ctx context.Context, sessionID string, limit int) ([]Message, error)
	SessionMessages(ctx context.Context, sessionID string) ([]Message, error)
	SessionsByUser(ctx context.Context, userID string) ([]Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
	SessionStats(ctx context.Context, sessionID string) (SessionStats, error)
	UserStats(ctx context.Context, userID string) (UserStats, error)
	Ping(ctx context.Context) error
	Close() error
}
