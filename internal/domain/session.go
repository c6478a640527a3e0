package domain

import (
	"time"
)

// SessionInfo describes a server-side conversational session. One session
// is bound to exactly one WebSocket connection for its lifetime.
type SessionInfo struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// IsActive reports whether the server considers the session usable.
func (s *SessionInfo) IsActive() bool {
	return s.Status == "active" || s.Status == "created"
}
