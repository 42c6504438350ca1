// Package negraph defines the value types and storage contract of the
// conversation checkpoint store: conversations, their messages and the tool
// calls attached to assistant messages.
package negraph

import (
	"encoding/json"
	"strings"
	"time"
)

// Sender is the role that authored a stored message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Valid reports whether s is one of the two stored roles.
func (s Sender) Valid() bool {
	return s == SenderUser || s == SenderAssistant
}

// SenderOf maps the semantic message kind reported by an agent runtime to a
// stored role. Human-authored kinds map to user; everything the agent side
// produces (ai, assistant, tool, system) maps to assistant.
func SenderOf(kind string) Sender {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "human", "user":
		return SenderUser
	default:
		return SenderAssistant
	}
}

// Scope authorizes and filters every read and write.
type Scope struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

// Validate rejects scopes with a missing half.
func (s Scope) Validate() error {
	if strings.TrimSpace(s.ConversationID) == "" || strings.TrimSpace(s.UserID) == "" {
		return ErrInvalidScope
	}
	return nil
}

// Conversation owns an ordered sequence of messages.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Summary   *string   `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is a single stored turn message. Messages are write-once.
type Message struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	UserID         string          `json:"user_id"`
	Sender         Sender          `json:"sender"`
	Content        string          `json:"content"`
	Context        json.RawMessage `json:"context"`
	Action         json.RawMessage `json:"action"`
	ToolCalls      []ToolCall      `json:"tool_calls"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ToolCall is one tool invocation triggered by an assistant message.
type ToolCall struct {
	ID             string          `json:"id"`
	MessageID      string          `json:"message_id"`
	ConversationID string          `json:"conversation_id"`
	UserID         string          `json:"user_id"`
	ToolName       string          `json:"tool_name"`
	Input          json.RawMessage `json:"input"`
	Output         json.RawMessage `json:"output"`
	CallOrder      int             `json:"call_order"`
	CreatedAt      time.Time       `json:"created_at"`
}

// TurnMessage is the writer-side shape of a message produced by the agent
// loop during one turn.
type TurnMessage struct {
	// ID is optional; a UUID is generated when empty.
	ID string `json:"id,omitempty"`
	// Kind is the runtime's message type, see SenderOf.
	Kind      string          `json:"kind"`
	Content   string          `json:"content"`
	Context   json.RawMessage `json:"context,omitempty"`
	Action    json.RawMessage `json:"action,omitempty"`
	CreatedAt time.Time       `json:"created_at,omitempty"`
	ToolCalls []TurnToolCall  `json:"tool_calls,omitempty"`
}

// TurnToolCall is a tool invocation attached to a TurnMessage. Its call order
// is its position in TurnMessage.ToolCalls.
type TurnToolCall struct {
	ID       string          `json:"id,omitempty"`
	ToolName string          `json:"tool_name"`
	Input    json.RawMessage `json:"input,omitempty"`
	Output   json.RawMessage `json:"output,omitempty"`
}

// Checkpoint is the snapshot of a conversation needed to resume the agent
// loop. It carries no wall-clock data so identical rows always produce an
// identical checkpoint.
type Checkpoint struct {
	Scope    Scope     `json:"scope"`
	Messages []Message `json:"messages"`
}

// EmptyCheckpoint is the checkpoint of a conversation with no history.
func EmptyCheckpoint(scope Scope) *Checkpoint {
	return &Checkpoint{Scope: scope, Messages: []Message{}}
}

// Empty reports whether the checkpoint holds no messages.
func (c *Checkpoint) Empty() bool {
	return c == nil || len(c.Messages) == 0
}

// ConversationSummary is one entry of a conversation listing.
type ConversationSummary struct {
	ID        string  `json:"conversation_id"`
	Summary   *string `json:"summary"`
	CreatedAt string  `json:"created_at"`
}

// Page is one page of a user's conversations, newest first.
type Page struct {
	Data       []ConversationSummary `json:"data"`
	Limit      int                   `json:"limit"`
	HasMore    bool                  `json:"has_more"`
	NextCursor string                `json:"next_cursor,omitempty"`
}

// MigrationRecord tracks a single schema migration.
type MigrationRecord struct {
	Name      string     `json:"name"`
	Applied   bool       `json:"applied"`
	AppliedAt *time.Time `json:"applied_at,omitempty"`
	Checksum  string     `json:"checksum,omitempty"`
}
