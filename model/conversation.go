package model

import "time"

// MessageRole identifies who authored a conversation message
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Conversation is a Q&A thread about one document.
type Conversation struct {
	ID        int64     `json:"id"`
	PDFID     int64     `json:"pdf_id"`
	UserID    int64     `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Message struct {
	ID             int64       `json:"id"`
	ConversationID int64       `json:"conversation_id"`
	Content        string      `json:"content"`
	Role           MessageRole `json:"role"`
	CreatedAt      time.Time   `json:"created_at"`
}
