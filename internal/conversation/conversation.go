// Package conversation models tutoring chat history between a student and
// a knowledge base.
package conversation

import (
	"context"
	"time"

	"github.com/abhisek/studyloop/internal/apperr"
	"github.com/google/uuid"
)

// Role is the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) valid() bool {
	return r == RoleSystem || r == RoleUser || r == RoleAssistant
}

// Message is one chat turn.
type Message struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	Tokens  int       `json:"tokens,omitempty"`
	At      time.Time `json:"at"`
}

// Conversation is the append-only history for a (student, knowledge base)
// pair plus the set of chunks it has drawn on.
type Conversation struct {
	ID              string
	StudentID       string
	KnowledgeBaseID string
	Messages        []Message
	// ChunkRefs is deduplicated; order carries no meaning.
	ChunkRefs []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// New starts an empty conversation.
func New(studentID, kbID string, now time.Time) *Conversation {
	return &Conversation{
		ID:              uuid.NewString(),
		StudentID:       studentID,
		KnowledgeBaseID: kbID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Append adds m to the end of the history. Messages older than the
// current last message are rejected.
func (c *Conversation) Append(m Message) error {
	if !m.Role.valid() {
		return apperr.InvalidInput("conversation.Append", "unknown role %q", m.Role)
	}
	if n := len(c.Messages); n > 0 && m.At.Before(c.Messages[n-1].At) {
		return apperr.InvalidInput("conversation.Append", "message at %s precedes last message at %s",
			m.At.Format(time.RFC3339), c.Messages[n-1].At.Format(time.RFC3339))
	}
	c.Messages = append(c.Messages, m)
	if m.At.After(c.UpdatedAt) {
		c.UpdatedAt = m.At
	}
	return nil
}

// Reference merges chunk ids into the reference set.
func (c *Conversation) Reference(ids ...string) {
	seen := make(map[string]bool, len(c.ChunkRefs))
	for _, id := range c.ChunkRefs {
		seen[id] = true
	}
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		c.ChunkRefs = append(c.ChunkRefs, id)
	}
}

// Recent returns the last n messages, oldest first.
func (c *Conversation) Recent(n int) []Message {
	if n <= 0 {
		return nil
	}
	start := max(len(c.Messages)-n, 0)
	return c.Messages[start:]
}

// LastActivity is the time of the newest message, or the creation time for
// an empty conversation.
func (c *Conversation) LastActivity() time.Time {
	if n := len(c.Messages); n > 0 {
		return c.Messages[n-1].At
	}
	return c.CreatedAt
}

// Repository persists conversations.
type Repository interface {
	FindByID(ctx context.Context, id string) (*Conversation, error)
	// FindLatest returns the most recently updated conversation for the
	// pair, or a NotFound error.
	FindLatest(ctx context.Context, studentID, kbID string) (*Conversation, error)
	FindByStudent(ctx context.Context, studentID string) ([]*Conversation, error)
	Save(ctx context.Context, c *Conversation) error
	Delete(ctx context.Context, id string) error
}
