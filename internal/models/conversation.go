package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Conversation is a chat session as seen by callers, independent of the
// backend that stores it.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is a single chat message. Streaming and Complete track the
// lifecycle of an assistant reply while it is being assembled.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Streaming bool      `json:"isStreaming,omitempty"`
	Complete  bool      `json:"isComplete,omitempty"`
}

// Open reports whether the message is an assistant reply still being streamed.
func (m Message) Open() bool {
	return m.Streaming && !m.Complete
}

// ConversationRecord is the SurrealDB row for a conversation.
type ConversationRecord struct {
	ID        surrealmodels.RecordID `json:"id"`
	UserID    string                 `json:"user_id"`
	Title     string                 `json:"title"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// MessageRecord is the SurrealDB row for a message.
type MessageRecord struct {
	ID           surrealmodels.RecordID `json:"id"`
	Conversation surrealmodels.RecordID `json:"conversation"`
	Role         string                 `json:"role"`
	Content      string                 `json:"content"`
	CreatedAt    time.Time              `json:"created_at"`
}

// Conversation converts the row into the caller-facing type.
func (r ConversationRecord) Conversation() (Conversation, error) {
	id, err := RecordIDString(r.ID)
	if err != nil {
		return Conversation{}, err
	}
	return Conversation{
		ID:        id,
		Title:     r.Title,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

// Message converts the row into a completed caller-facing message.
func (r MessageRecord) Message() (Message, error) {
	id, err := RecordIDString(r.ID)
	if err != nil {
		return Message{}, err
	}
	return Message{
		ID:        id,
		Role:      Role(r.Role),
		Content:   r.Content,
		CreatedAt: r.CreatedAt,
		Complete:  true,
	}, nil
}
