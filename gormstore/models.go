package gormstore

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/niechao136/neGraph"
	"gorm.io/datatypes"
)

// nullJSON is a JSON column that may be NULL.
type nullJSON struct {
	datatypes.JSON
}

func (n *nullJSON) Scan(value any) error {
	if value == nil {
		n.JSON = nil
		return nil
	}
	return n.JSON.Scan(value)
}

func (n nullJSON) Value() (driver.Value, error) {
	if len(n.JSON) == 0 {
		return nil, nil
	}
	return n.JSON.Value()
}

func toNullJSON(b json.RawMessage) nullJSON {
	if len(b) == 0 {
		return nullJSON{}
	}
	return nullJSON{JSON: datatypes.JSON(append([]byte(nil), b...))}
}

func (n nullJSON) raw() json.RawMessage {
	if len(n.JSON) == 0 {
		return nil
	}
	return json.RawMessage(append([]byte(nil), n.JSON...))
}

type conversationRow struct {
	ID        string    `gorm:"type:text;primaryKey"`
	UserID    string    `gorm:"type:text;not null;index:idx_conversations_user_created,priority:1"`
	Summary   *string   `gorm:"type:text"`
	CreatedAt time.Time `gorm:"not null;index:idx_conversations_user_created,priority:2"`
}

func (conversationRow) TableName() string { return "conversations" }

func (r conversationRow) domain() negraph.Conversation {
	return negraph.Conversation{
		ID:        r.ID,
		UserID:    r.UserID,
		Summary:   r.Summary,
		CreatedAt: r.CreatedAt.UTC(),
	}
}

type messageRow struct {
	ID             string    `gorm:"type:text;primaryKey"`
	ConversationID string    `gorm:"type:text;not null;index:idx_messages_scope,priority:1"`
	UserID         string    `gorm:"type:text;not null;index:idx_messages_scope,priority:2"`
	Sender         string    `gorm:"type:text;not null;check:chk_messages_sender,sender IN ('user','assistant')"`
	Message        string    `gorm:"column:message;type:text;not null"`
	Context        nullJSON  `gorm:"column:context"`
	Action         nullJSON  `gorm:"column:action"`
	Timestamp      time.Time `gorm:"column:timestamp;not null;index:idx_messages_scope,priority:3"`

	Conversation *conversationRow `gorm:"foreignKey:ConversationID"`
}

func (messageRow) TableName() string { return "messages" }

func (r messageRow) domain() negraph.Message {
	return negraph.Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		UserID:         r.UserID,
		Sender:         negraph.Sender(r.Sender),
		Content:        r.Message,
		Context:        r.Context.raw(),
		Action:         r.Action.raw(),
		CreatedAt:      r.Timestamp.UTC(),
	}
}

type toolCallRow struct {
	ID             string         `gorm:"type:text;primaryKey"`
	MessageID      string         `gorm:"type:text;not null;uniqueIndex:idx_tool_calls_message_order,priority:1"`
	ConversationID string         `gorm:"type:text;not null;index:idx_tool_calls_scope,priority:1"`
	UserID         string         `gorm:"type:text;not null;index:idx_tool_calls_scope,priority:2"`
	ToolName       string         `gorm:"type:text;not null"`
	Input          datatypes.JSON `gorm:"not null"`
	Output         nullJSON
	Timestamp      time.Time `gorm:"column:timestamp;not null"`
	CallOrder      int       `gorm:"not null;check:chk_tool_calls_order,call_order >= 0;uniqueIndex:idx_tool_calls_message_order,priority:2"`

	Message *messageRow `gorm:"foreignKey:MessageID"`
}

func (toolCallRow) TableName() string { return "tool_calls" }

func (r toolCallRow) domain() negraph.ToolCall {
	return negraph.ToolCall{
		ID:             r.ID,
		MessageID:      r.MessageID,
		ConversationID: r.ConversationID,
		UserID:         r.UserID,
		ToolName:       r.ToolName,
		Input:          json.RawMessage(append([]byte(nil), r.Input...)),
		Output:         r.Output.raw(),
		CallOrder:      r.CallOrder,
		CreatedAt:      r.Timestamp.UTC(),
	}
}
