package negraph

import (
	"context"
	"errors"
)

var (
	// ErrConnection is returned when the backing store cannot be reached.
	ErrConnection = errors.New("negraph: store unreachable")
	// ErrConstraintViolation is returned when a write collides with an
	// existing row that differs from it. Stored rows are never overwritten.
	ErrConstraintViolation = errors.New("negraph: constraint violation")
	// ErrConversationNotFound is returned by writes against a conversation
	// that does not exist for the given user. Reads return empty results
	// instead.
	ErrConversationNotFound = errors.New("negraph: conversation not found")
	ErrInvalidScope         = errors.New("negraph: scope requires conversation id and user id")
	ErrInvalidCursor        = errors.New("negraph: invalid cursor")
	ErrInvalidMessage       = errors.New("negraph: invalid message")
	// ErrNoMigration is returned by Rollback when nothing has been applied.
	ErrNoMigration = errors.New("negraph: no migration to roll back")
)

// Store defines typed single round-trip access to the conversations,
// messages and tool_calls tables. It holds no business logic.
type Store interface {
	// Conversations
	InsertConversation(ctx context.Context, userID string, summary *string) (*Conversation, error)
	FetchConversationsPage(ctx context.Context, userID string, limit int, before *Cursor) ([]Conversation, error)
	SetSummary(ctx context.Context, scope Scope, summary *string) error

	// Messages. UpsertMessage inserts msg unless a row with msg.ID exists and
	// reports whether it inserted. msg.ID must be set.
	UpsertMessage(ctx context.Context, msg *Message) (id string, inserted bool, err error)
	FetchMessages(ctx context.Context, scope Scope) ([]Message, error)

	// Tool calls
	InsertToolCall(ctx context.Context, call *ToolCall) (inserted bool, err error)
	FetchToolCalls(ctx context.Context, scope Scope) ([]ToolCall, error)
}

// SchemaManager is implemented by stores backed by a migrated SQL schema.
type SchemaManager interface {
	CreateSchema(ctx context.Context) error
	DropSchema(ctx context.Context) error
	Migrate(ctx context.Context) error
	Rollback(ctx context.Context) error
	MigrationStatus(ctx context.Context) ([]MigrationRecord, error)
}
