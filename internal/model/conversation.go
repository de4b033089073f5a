package model

import (
	"strings"
	"time"
)

// MessageRole identifies who wrote a chat message.
type MessageRole string

// Message roles.
const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Speaker returns the label used when a message is flattened into text.
func (r MessageRole) Speaker() string {
	if r == RoleUser {
		return "User"
	}
	return "Assistant"
}

// ChatMessage is one turn of a decision conversation.
type ChatMessage struct {
	Time          time.Time
	ID            string
	Role          MessageRole
	Text          string
	ImageMIMEType string
	Image         []byte
}

// Conversation is the message thread attached to a decision.
type Conversation struct {
	LastUpdated time.Time
	ID          string
	DecisionID  string
	UserID      string
	Messages    []ChatMessage
	IsActive    bool
}

// Transcript flattens messages into "User: ..." / "Assistant: ..." lines.
func Transcript(messages []ChatMessage) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		lines = append(lines, m.Role.Speaker()+": "+m.Text)
	}
	return strings.Join(lines, "\n")
}

// ConversationEmbedding is the vector form of a finalized conversation.
// Records are immutable; a newer record for the same decision supersedes older ones.
type ConversationEmbedding struct {
	CreatedAt  time.Time
	ID         string
	DecisionID string
	UserID     string
	Text       string
	Summary    string
	Vector     []float32
}
