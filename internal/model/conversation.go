package model

import (
	"time"
	"unicode/utf8"
)

// DefaultConversationTitle is the sentinel title given to conversations
// created without an explicit title. A conversation still carrying it is
// eligible for auto-titling from its first user message.
const DefaultConversationTitle = "New Conversation"

// titleRuneLimit is the maximum number of runes kept when deriving a
// conversation title from message content.
const titleRuneLimit = 50

// Conversation represents a user-owned conversation thread.
type Conversation struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"user_id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// CreateConversationRequest is the request to create a new conversation.
type CreateConversationRequest struct {
	Title string `json:"title"`
}

// UpdateConversationRequest is the request to rename a conversation.
type UpdateConversationRequest struct {
	Title string `json:"title"`
}

// DeriveTitle builds a conversation title candidate from message content:
// the first 50 runes, with "..." appended only when the content is longer.
func DeriveTitle(content string) string {
	if utf8.RuneCountInString(content) <= titleRuneLimit {
		return content
	}
	runes := []rune(content)
	return string(runes[:titleRuneLimit]) + "..."
}
