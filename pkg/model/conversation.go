package model

import (
	"time"

	"github.com/google/uuid"
)

type ThreadID string

// NewThreadID generates a new unique ThreadID
func NewThreadID() ThreadID {
	return ThreadID(uuid.New().String())
}

type Role string

const (
	RoleHuman  Role = "human"
	RoleAI     Role = "ai"
	RoleTool   Role = "tool"
	RoleSystem Role = "system"
)

// ToolCall is a tool invocation requested by the model in an AI message
type ToolCall struct {
	ID   string         `json:"id" firestore:"id"`
	Name string         `json:"name" firestore:"name"`
	Args map[string]any `json:"args" firestore:"args"`
}

// Message is a single entry in a conversation. Messages are append-only
// within a turn; the guard node replaces content but keeps the message ID.
type Message struct {
	ID         string     `json:"id" firestore:"id"`
	Role       Role       `json:"role" firestore:"role"`
	Content    string     `json:"content" firestore:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty" firestore:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty" firestore:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty" firestore:"tool_name,omitempty"`
}

// NewMessage creates a message with a fresh ID
func NewMessage(role Role, content string) Message {
	return Message{
		ID:      uuid.New().String(),
		Role:    role,
		Content: content,
	}
}

// Conversation is the durable state of a thread: ordered messages plus the
// grader retry counter. It is checkpointed after every node transition.
type Conversation struct {
	Thread     ThreadID  `json:"thread" firestore:"thread"`
	Messages   []Message `json:"messages" firestore:"messages"`
	RetryCount int       `json:"retry_count" firestore:"retry_count"`
	CreatedAt  time.Time `json:"created_at" firestore:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" firestore:"updated_at"`
}

// NewConversation creates an empty conversation for the given thread
func NewConversation(thread ThreadID) *Conversation {
	now := time.Now()
	return &Conversation{
		Thread:    thread,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds messages to the end of the history
func (c *Conversation) Append(msgs ...Message) {
	c.Messages = append(c.Messages, msgs...)
	c.UpdatedAt = time.Now()
}

// Last returns the most recent message, or nil if the history is empty
func (c *Conversation) Last() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[len(c.Messages)-1]
}

// LastHuman scans the history backward for the nearest human message
func (c *Conversation) LastHuman() *Message {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleHuman {
			return &c.Messages[i]
		}
	}
	return nil
}

// ReplaceContent swaps the content of the message with the given ID while
// preserving its identity. Used by the guard node for PII redaction.
func (c *Conversation) ReplaceContent(id, content string) bool {
	for i := range c.Messages {
		if c.Messages[i].ID == id {
			c.Messages[i].Content = content
			c.UpdatedAt = time.Now()
			return true
		}
	}
	return false
}

// Clone returns a deep copy, used by in-memory checkpoint stores
func (c *Conversation) Clone() *Conversation {
	clone := *c
	clone.Messages = make([]Message, len(c.Messages))
	copy(clone.Messages, c.Messages)
	for i := range clone.Messages {
		if len(c.Messages[i].ToolCalls) > 0 {
			clone.Messages[i].ToolCalls = make([]ToolCall, len(c.Messages[i].ToolCalls))
			copy(clone.Messages[i].ToolCalls, c.Messages[i].ToolCalls)
		}
	}
	return &clone
}
