package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore is a simple in-process store for local/dev use and tests.
type InMemoryStore struct {
	mu       sync.RWMutex
	users    map[string]User
	sessions map[string]Session
	messages map[string][]*Message // keyed by session id, chronological
	byMsgID  map[string]*Message
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:    make(map[string]User),
		sessions: make(map[string]Session),
		messages: make(map[string][]*Message),
		byMsgID:  make(map[string]*Message),
	}
}

func (s *InMemoryStore) GetOrCreateUser(_ context.Context, userID string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	u, ok := s.users[userID]
	if !ok {
		u = User{UserID: userID, CreatedAt: now}
	}
	u.LastActiveAt = now
	s.users[userID] = u
	return u, nil
}

func (s *InMemoryStore) CreateSession(ctx context.Context, userID string) (Session, error) {
	if _, err := s.GetOrCreateUser(ctx, userID); err != nil {
		return Session{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := Session{
		SessionID: NewSessionID(),
		UserID:    userID,
		StartedAt: time.Now().UTC(),
	}
	s.sessions[sess.SessionID] = sess
	return sess, nil
}

func (s *InMemoryStore) GetSession(_ context.Context, sessionID string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return sess, nil
}

func (s *InMemoryStore) EndSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if sess.EndedAt != nil {
		return nil
	}
	now := time.Now().UTC()
	sess.EndedAt = &now
	s.sessions[sessionID] = sess
	return nil
}

func (s *InMemoryStore) AppendMessage(_ context.Context, msg Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[msg.SessionID]
	if !ok {
		return Message{}, ErrSessionNotFound
	}
	if msg.MessageID == "" {
		msg.MessageID = NewMessageID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	stored := msg
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], &stored)
	s.byMsgID[msg.MessageID] = &stored
	sess.MessageCount++
	s.sessions[msg.SessionID] = sess
	return msg, nil
}

func (s *InMemoryStore) SetVectorRef(_ context.Context, messageID, vectorRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.byMsgID[messageID]
	if !ok {
		return ErrSessionNotFound
	}
	msg.VectorRef = vectorRef
	return nil
}

func (s *InMemoryStore) RecentMessages(_ context.Context, sessionID string, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[sessionID]
	if limit <= 0 || limit > len(msgs) {
		limit = len(msgs)
	}
	out := make([]Message, 0, limit)
	for _, m := range msgs[len(msgs)-limit:] {
		out = append(out, *m)
	}
	return out, nil
}

func (s *InMemoryStore) SessionMessages(_ context.Context, sessionID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[sessionID]
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, *m)
	}
	return out, nil
}

func (s *InMemoryStore) SessionsByUser(_ context.Context, userID string) ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Session
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (s *InMemoryStore) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	for _, msg := range s.messages[sessionID] {
		delete(s.byMsgID, msg.MessageID)
	}
	delete(s.messages, sessionID)
	delete(s.sessions, sessionID)
	return nil
}

func (s *InMemoryStore) SessionStats(_ context.Context, sessionID string) (SessionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return SessionStats{}, ErrSessionNotFound
	}

	stats := SessionStats{
		SessionID: sess.SessionID,
		UserID:    sess.UserID,
		StartedAt: sess.StartedAt,
		EndedAt:   sess.EndedAt,
		IsActive:  sess.Active(),
	}
	var latSum int64
	var latCount int
	for _, msg := range s.messages[sessionID] {
		stats.MessageCount++
		switch msg.Role {
		case RoleUser:
			stats.UserMessages++
		case RoleAssistant:
			stats.AssistantMessages++
		}
		if msg.ProcessingTimeMS != nil {
			latSum += *msg.ProcessingTimeMS
			latCount++
		}
	}
	if latCount > 0 {
		avg := float64(latSum) / float64(latCount)
		stats.AvgProcessingTimeMS = &avg
	}
	return stats, nil
}

func (s *InMemoryStore) UserStats(_ context.Context, userID string) (UserStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return UserStats{}, ErrUserNotFound
	}
	stats := UserStats{UserID: u.UserID, CreatedAt: u.CreatedAt, LastActiveAt: u.LastActiveAt}
	for _, sess := range s.sessions {
		if sess.UserID != userID {
			continue
		}
		stats.SessionCount++
		stats.MessageCount += len(s.messages[sess.SessionID])
	}
	return stats, nil
}

func (s *InMemoryStore) Ping(_ context.Context) error { return nil }

func (s *InMemoryStore) Close() error { return nil }
