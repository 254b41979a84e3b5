package domain

import (
	"context"
	"time"
)

// ChatMessage is one chat line. It is a plain value: every subscriber gets
// its own copy and nobody mutates it after construction.
type ChatMessage struct {
	Username  string
	Content   string
	Timestamp time.Time
}

// NewChatMessage stamps a message with the given instant. The timestamp is
// informational only; ordering is decided by arrival at the hub.
func NewChatMessage(username, content string, now time.Time) ChatMessage {
	return ChatMessage{
		Username:  username,
		Content:   content,
		Timestamp: now,
	}
}

// HistoryProvider serves the recent-history snapshot sent to new sessions.
type HistoryProvider interface {
	Snapshot(ctx context.Context) ([]ChatMessage, error)
}

// Renderer turns chat state into the fragments pushed to a client.
// Implementations must be pure: same input, same output, no side effects.
type Renderer interface {
	History(username string, messages []ChatMessage) ([]byte, error)
	Message(username string, message ChatMessage) ([]byte, error)
}
