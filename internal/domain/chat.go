package domain

import (
	"time"
)

// Origin identifies who produced a chat message.
type Origin string

// Message origins.
const (
	OriginUser   Origin = "user"
	OriginAgent  Origin = "agent"
	OriginSystem Origin = "system"
)

// ChatMessage is a single entry in a conversation. Entries are append-only;
// only a full history batch replaces the sequence.
type ChatMessage struct {
	Origin    Origin    `json:"origin"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation holds the ordered message sequence for one chat surface.
type Conversation struct {
	Key      string
	Messages []ChatMessage
}

// Append adds a message to the end of the conversation.
func (c *Conversation) Append(origin Origin, text string, at time.Time) {
	c.Messages = append(c.Messages, ChatMessage{Origin: origin, Text: text, Timestamp: at})
}

// Replace swaps the entire message sequence. Used when a history batch
// arrives after (re)connect so ordering stays consistent with the server.
func (c *Conversation) Replace(msgs []ChatMessage) {
	c.Messages = append(c.Messages[:0:0], msgs...)
}

// Recent returns the last n messages from the conversation.
func (c *Conversation) Recent(n int) []ChatMessage {
	if n >= len(c.Messages) {
		return c.Messages
	}
	return c.Messages[len(c.Messages)-n:]
}
