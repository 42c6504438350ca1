// Package memstore is an in-memory negraph.Store. It enforces the same
// scoping, idempotency and uniqueness rules as the SQL stores and is meant
// for tests and local experiments; nothing survives the process.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/niechao136/neGraph"
)

type orderKey struct {
	messageID string
	order     int
}

// Store keeps rows in maps guarded by a single mutex, so each operation is
// atomic like a single SQL statement.
type Store struct {
	mu            sync.RWMutex
	now           func() time.Time
	conversations map[string]negraph.Conversation
	messages      map[string]negraph.Message
	toolCalls     map[string]negraph.ToolCall
	callOrders    map[orderKey]string
}

// New returns an empty store.
func New() *Store {
	return &Store{
		now:           time.Now,
		conversations: make(map[string]negraph.Conversation),
		messages:      make(map[string]negraph.Message),
		toolCalls:     make(map[string]negraph.ToolCall),
		callOrders:    make(map[orderKey]string),
	}
}

// WithClock replaces the clock used for conversation creation times.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// InsertConversation creates a conversation owned by userID.
func (s *Store) InsertConversation(ctx context.Context, userID string, summary *string) (*negraph.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv := negraph.Conversation{
		ID:        uuid.New().String(),
		UserID:    userID,
		Summary:   cloneString(summary),
		CreatedAt: s.now().UTC().Truncate(time.Microsecond),
	}
	s.conversations[conv.ID] = conv

	out := conv
	return &out, nil
}

// FetchConversationsPage returns up to limit conversations newest first.
func (s *Store) FetchConversationsPage(ctx context.Context, userID string, limit int, before *negraph.Cursor) ([]negraph.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var convs []negraph.Conversation
	for _, c := range s.conversations {
		if c.UserID != userID {
			continue
		}
		if before != nil && !before.Before(c.CreatedAt, c.ID) {
			continue
		}
		c.Summary = cloneString(c.Summary)
		convs = append(convs, c)
	}

	sort.Slice(convs, func(i, j int) bool {
		if !convs[i].CreatedAt.Equal(convs[j].CreatedAt) {
			return convs[i].CreatedAt.After(convs[j].CreatedAt)
		}
		return convs[i].ID > convs[j].ID
	})

	if limit >= 0 && len(convs) > limit {
		convs = convs[:limit]
	}
	return convs, nil
}

// SetSummary replaces the summary of the conversation in scope.
func (s *Store) SetSummary(ctx context.Context, scope negraph.Scope, summary *string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[scope.ConversationID]
	if !ok || conv.UserID != scope.UserID {
		return fmt.Errorf("negraph: set summary %s: %w", scope.ConversationID, negraph.ErrConversationNotFound)
	}
	conv.Summary = cloneString(summary)
	s.conversations[conv.ID] = conv
	return nil
}

// UpsertMessage inserts msg unless a message with the same id exists.
func (s *Store) UpsertMessage(ctx context.Context, msg *negraph.Message) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	msg.CreatedAt = msg.CreatedAt.UTC().Truncate(time.Microsecond)

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[msg.ConversationID]
	if !ok || conv.UserID != msg.UserID {
		return "", false, fmt.Errorf("negraph: upsert message %s: %w", msg.ID, negraph.ErrConversationNotFound)
	}

	if existing, ok := s.messages[msg.ID]; ok {
		if existing.ConversationID != msg.ConversationID || existing.UserID != msg.UserID ||
			existing.Sender != msg.Sender || existing.Content != msg.Content {
			return "", false, fmt.Errorf("negraph: upsert message %s: %w: id already stored with different content",
				msg.ID, negraph.ErrConstraintViolation)
		}
		msg.CreatedAt = existing.CreatedAt
		return existing.ID, false, nil
	}

	if !msg.Sender.Valid() {
		return "", false, fmt.Errorf("negraph: upsert message %s: %w: sender %q", msg.ID, negraph.ErrConstraintViolation, msg.Sender)
	}

	row := *msg
	row.Context = cloneBytes(msg.Context)
	row.Action = cloneBytes(msg.Action)
	row.ToolCalls = nil
	s.messages[row.ID] = row

	return row.ID, true, nil
}

// FetchMessages returns the scope's messages ordered by timestamp then id.
func (s *Store) FetchMessages(ctx context.Context, scope negraph.Scope) ([]negraph.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var messages []negraph.Message
	for _, m := range s.messages {
		if m.ConversationID != scope.ConversationID || m.UserID != scope.UserID {
			continue
		}
		m.Context = cloneBytes(m.Context)
		m.Action = cloneBytes(m.Action)
		messages = append(messages, m)
	}

	sort.Slice(messages, func(i, j int) bool {
		if !messages[i].CreatedAt.Equal(messages[j].CreatedAt) {
			return messages[i].CreatedAt.Before(messages[j].CreatedAt)
		}
		return messages[i].ID < messages[j].ID
	})
	return messages, nil
}

// InsertToolCall inserts call unless a tool call with the same id exists.
func (s *Store) InsertToolCall(ctx context.Context, call *negraph.ToolCall) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if call.ID == "" {
		call.ID = uuid.New().String()
	}
	if call.CreatedAt.IsZero() {
		call.CreatedAt = s.now()
	}
	call.CreatedAt = call.CreatedAt.UTC().Truncate(time.Microsecond)

	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[call.MessageID]
	if !ok || msg.ConversationID != call.ConversationID || msg.UserID != call.UserID {
		return false, fmt.Errorf("negraph: insert tool call %s: message %s: %w", call.ID, call.MessageID, negraph.ErrConversationNotFound)
	}

	if existing, ok := s.toolCalls[call.ID]; ok {
		if existing.MessageID != call.MessageID || existing.ConversationID != call.ConversationID ||
			existing.UserID != call.UserID || existing.ToolName != call.ToolName || existing.CallOrder != call.CallOrder {
			return false, fmt.Errorf("negraph: insert tool call %s: %w: id already stored with different content",
				call.ID, negraph.ErrConstraintViolation)
		}
		call.CreatedAt = existing.CreatedAt
		return false, nil
	}

	if call.CallOrder < 0 {
		return false, fmt.Errorf("negraph: insert tool call %s: %w: negative call order", call.ID, negraph.ErrConstraintViolation)
	}
	key := orderKey{messageID: call.MessageID, order: call.CallOrder}
	if other, taken := s.callOrders[key]; taken {
		return false, fmt.Errorf("negraph: insert tool call %s: %w: call order %d already used by %s",
			call.ID, negraph.ErrConstraintViolation, call.CallOrder, other)
	}

	row := *call
	row.Input = cloneBytes(call.Input)
	if len(row.Input) == 0 {
		row.Input = []byte("{}")
	}
	row.Output = cloneBytes(call.Output)
	s.toolCalls[row.ID] = row
	s.callOrders[key] = row.ID

	return true, nil
}

// FetchToolCalls returns the scope's tool calls ordered by call order.
func (s *Store) FetchToolCalls(ctx context.Context, scope negraph.Scope) ([]negraph.ToolCall, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var calls []negraph.ToolCall
	for _, c := range s.toolCalls {
		if c.ConversationID != scope.ConversationID || c.UserID != scope.UserID {
			continue
		}
		c.Input = cloneBytes(c.Input)
		c.Output = cloneBytes(c.Output)
		calls = append(calls, c)
	}

	sort.Slice(calls, func(i, j int) bool {
		a, b := calls[i], calls[j]
		if a.CallOrder != b.CallOrder {
			return a.CallOrder < b.CallOrder
		}
		if a.MessageID != b.MessageID {
			return a.MessageID < b.MessageID
		}
		return a.ID < b.ID
	})
	return calls, nil
}

// Counts reports how many rows each table holds.
func (s *Store) Counts() (conversations, messages, toolCalls int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations), len(s.messages), len(s.toolCalls)
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

var _ negraph.Store = (*Store)(nil)
