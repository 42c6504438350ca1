package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/niechao136/neGraph"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var onConflictIDDoNothing = clause.OnConflict{
	Columns:   []clause.Column{{Name: "id"}},
	DoNothing: true,
}

// InsertConversation creates a conversation owned by userID.
func (s *Store) InsertConversation(ctx context.Context, userID string, summary *string) (*negraph.Conversation, error) {
	row := conversationRow{
		ID:        uuid.New().String(),
		UserID:    userID,
		Summary:   summary,
		CreatedAt: s.now().UTC().Truncate(time.Microsecond),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, mapError("insert conversation", err)
	}

	conv := row.domain()
	return &conv, nil
}

// FetchConversationsPage returns up to limit conversations newest first.
func (s *Store) FetchConversationsPage(ctx context.Context, userID string, limit int, before *negraph.Cursor) ([]negraph.Conversation, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)

	switch {
	case before == nil:
	case before.ID == "":
		q = q.Where("created_at < ?", before.CreatedAt)
	default:
		q = q.Where("(created_at < ? OR (created_at = ? AND id < ?))",
			before.CreatedAt, before.CreatedAt, before.ID)
	}

	var rows []conversationRow
	err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, mapError("fetch conversations", err)
	}

	convs := make([]negraph.Conversation, 0, len(rows))
	for _, r := range rows {
		convs = append(convs, r.domain())
	}
	return convs, nil
}

// SetSummary replaces the summary of the conversation in scope.
func (s *Store) SetSummary(ctx context.Context, scope negraph.Scope, summary *string) error {
	res := s.db.WithContext(ctx).Model(&conversationRow{}).
		Where("id = ? AND user_id = ?", scope.ConversationID, scope.UserID).
		Update("summary", summary)
	if res.Error != nil {
		return mapError("set summary", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("negraph: set summary %s: %w", scope.ConversationID, negraph.ErrConversationNotFound)
	}
	return nil
}

// UpsertMessage inserts msg unless a message with the same id exists. The
// ownership check and the insert share a transaction.
func (s *Store) UpsertMessage(ctx context.Context, msg *negraph.Message) (string, bool, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	msg.CreatedAt = msg.CreatedAt.UTC().Truncate(time.Microsecond)

	row := messageRow{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		UserID:         msg.UserID,
		Sender:         string(msg.Sender),
		Message:        msg.Content,
		Context:        toNullJSON(msg.Context),
		Action:         toNullJSON(msg.Action),
		Timestamp:      msg.CreatedAt,
	}

	var (
		stored   messageRow
		inserted bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owners int64
		err := tx.Model(&conversationRow{}).
			Where("id = ? AND user_id = ?", msg.ConversationID, msg.UserID).
			Count(&owners).Error
		if err != nil {
			return err
		}
		if owners == 0 {
			return negraph.ErrConversationNotFound
		}

		err = tx.Where("id = ?", msg.ID).First(&stored).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		res := tx.Clauses(onConflictIDDoNothing).Create(&row)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			stored, inserted = row, true
			return nil
		}
		return tx.Where("id = ?", msg.ID).First(&stored).Error
	})
	if errors.Is(err, negraph.ErrConversationNotFound) {
		return "", false, fmt.Errorf("negraph: upsert message %s: %w", msg.ID, negraph.ErrConversationNotFound)
	}
	if err != nil {
		return "", false, mapError("upsert message", err)
	}

	if !inserted && (stored.ConversationID != msg.ConversationID || stored.UserID != msg.UserID ||
		stored.Sender != string(msg.Sender) || stored.Message != msg.Content) {
		return "", false, fmt.Errorf("negraph: upsert message %s: %w: id already stored with different content",
			msg.ID, negraph.ErrConstraintViolation)
	}

	msg.CreatedAt = stored.Timestamp.UTC()
	return stored.ID, inserted, nil
}

// FetchMessages returns the scope's messages ordered by timestamp then id.
func (s *Store) FetchMessages(ctx context.Context, scope negraph.Scope) ([]negraph.Message, error) {
	var rows []messageRow
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", scope.ConversationID, scope.UserID).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "timestamp"}}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}}).
		Find(&rows).Error
	if err != nil {
		return nil, mapError("fetch messages", err)
	}

	messages := make([]negraph.Message, 0, len(rows))
	for _, r := range rows {
		messages = append(messages, r.domain())
	}
	return messages, nil
}

// InsertToolCall inserts call unless a tool call with the same id exists.
func (s *Store) InsertToolCall(ctx context.Context, call *negraph.ToolCall) (bool, error) {
	if call.ID == "" {
		call.ID = uuid.New().String()
	}
	if call.CreatedAt.IsZero() {
		call.CreatedAt = s.now()
	}
	call.CreatedAt = call.CreatedAt.UTC().Truncate(time.Microsecond)

	input := datatypes.JSON("{}")
	if len(call.Input) > 0 {
		input = datatypes.JSON(append([]byte(nil), call.Input...))
	}
	row := toolCallRow{
		ID:             call.ID,
		MessageID:      call.MessageID,
		ConversationID: call.ConversationID,
		UserID:         call.UserID,
		ToolName:       call.ToolName,
		Input:          input,
		Output:         toNullJSON(call.Output),
		Timestamp:      call.CreatedAt,
		CallOrder:      call.CallOrder,
	}

	var (
		stored   toolCallRow
		inserted bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owners int64
		err := tx.Model(&messageRow{}).
			Where("id = ? AND conversation_id = ? AND user_id = ?", call.MessageID, call.ConversationID, call.UserID).
			Count(&owners).Error
		if err != nil {
			return err
		}
		if owners == 0 {
			return negraph.ErrConversationNotFound
		}

		err = tx.Where("id = ?", call.ID).First(&stored).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		res := tx.Clauses(onConflictIDDoNothing).Create(&row)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			stored, inserted = row, true
			return nil
		}
		return tx.Where("id = ?", call.ID).First(&stored).Error
	})
	if errors.Is(err, negraph.ErrConversationNotFound) {
		return false, fmt.Errorf("negraph: insert tool call %s: message %s: %w", call.ID, call.MessageID, negraph.ErrConversationNotFound)
	}
	if err != nil {
		return false, mapError("insert tool call", err)
	}

	if !inserted && (stored.MessageID != call.MessageID || stored.ConversationID != call.ConversationID ||
		stored.UserID != call.UserID || stored.ToolName != call.ToolName || stored.CallOrder != call.CallOrder) {
		return false, fmt.Errorf("negraph: insert tool call %s: %w: id already stored with different content",
			call.ID, negraph.ErrConstraintViolation)
	}

	call.CreatedAt = stored.Timestamp.UTC()
	return inserted, nil
}

// FetchToolCalls returns the scope's tool calls ordered by call order.
func (s *Store) FetchToolCalls(ctx context.Context, scope negraph.Scope) ([]negraph.ToolCall, error) {
	var rows []toolCallRow
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", scope.ConversationID, scope.UserID).
		Order("call_order ASC").Order("message_id ASC").Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, mapError("fetch tool calls", err)
	}

	calls := make([]negraph.ToolCall, 0, len(rows))
	for _, r := range rows {
		calls = append(calls, r.domain())
	}
	return calls, nil
}
