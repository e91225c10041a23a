package storage

import (
	"strings"

	"github.com/google/uuid"
)

// NewSessionID returns an id shaped like "session_1a2b3c4d".
func NewSessionID() string {
	return "session_" + hexID(8)
}

// NewMessageID returns an id shaped like "msg_1a2b3c4d5e6f".
func NewMessageID() string {
	return "msg_" + hexID(12)
}

func hexID(n int) string {
	h := strings.ReplaceAll(uuid.NewString(), "-", "")
	if n > len(h) {
		n = len(h)
	}
	return h[:n]
}
