package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/niechao136/neGraph"
)

// insertToolCallSQL mirrors upsertMessageSQL: the owning message must belong
// to the scope, and an existing id turns the insert into a no-op that
// returns the stored row.
const insertToolCallSQL = `
WITH owner AS (
	SELECT 1 FROM messages WHERE id = $2 AND conversation_id = $3 AND user_id = $4
), ins AS (
	INSERT INTO tool_calls (id, message_id, conversation_id, user_id, tool_name, input, output, timestamp, call_order)
	SELECT $1::text, $2::text, $3::text, $4::text, $5::text, $6::jsonb, $7::jsonb, $8::timestamptz, $9::integer
	FROM owner
	ON CONFLICT (id) DO NOTHING
	RETURNING message_id, conversation_id, user_id, tool_name, call_order, timestamp
)
SELECT message_id, conversation_id, user_id, tool_name, call_order, timestamp, true FROM ins
UNION ALL
SELECT message_id, conversation_id, user_id, tool_name, call_order, timestamp, false FROM tool_calls
WHERE id = $1 AND EXISTS (SELECT 1 FROM owner) AND NOT EXISTS (SELECT 1 FROM ins)`

type storedToolCall struct {
	messageID      string
	conversationID string
	userID         string
	toolName       string
	callOrder      int
	timestamp      time.Time
}

func (t storedToolCall) matches(call *negraph.ToolCall) bool {
	return t.messageID == call.MessageID &&
		t.conversationID == call.ConversationID &&
		t.userID == call.UserID &&
		t.toolName == call.ToolName &&
		t.callOrder == call.CallOrder
}

// InsertToolCall inserts call unless a tool call with the same id exists.
func (s *PGStore) InsertToolCall(ctx context.Context, call *negraph.ToolCall) (bool, error) {
	if call.ID == "" {
		call.ID = uuid.New().String()
	}
	if call.CreatedAt.IsZero() {
		call.CreatedAt = time.Now().UTC()
	}
	input := call.Input
	if len(input) == 0 {
		input = []byte("{}")
	}

	var (
		row      storedToolCall
		inserted bool
	)
	err := s.withConn(ctx, func(conn *pgxpool.Conn) error {
		err := conn.QueryRow(ctx, insertToolCallSQL,
			call.ID, call.MessageID, call.ConversationID, call.UserID, call.ToolName,
			string(input), jsonParam(call.Output), call.CreatedAt, call.CallOrder,
		).Scan(&row.messageID, &row.conversationID, &row.userID, &row.toolName, &row.callOrder, &row.timestamp, &inserted)
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		return conn.QueryRow(ctx,
			`SELECT message_id, conversation_id, user_id, tool_name, call_order, timestamp
			 FROM tool_calls
			 WHERE id = $1
			   AND EXISTS (SELECT 1 FROM messages WHERE id = $2 AND conversation_id = $3 AND user_id = $4)`,
			call.ID, call.MessageID, call.ConversationID, call.UserID,
		).Scan(&row.messageID, &row.conversationID, &row.userID, &row.toolName, &row.callOrder, &row.timestamp)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("negraph: insert tool call %s: message %s: %w", call.ID, call.MessageID, negraph.ErrConversationNotFound)
	}
	if err != nil {
		return false, mapError("insert tool call", err)
	}

	if !inserted && !row.matches(call) {
		return false, fmt.Errorf("negraph: insert tool call %s: %w: id already stored with different content",
			call.ID, negraph.ErrConstraintViolation)
	}

	call.CreatedAt = row.timestamp.UTC()
	return inserted, nil
}

// FetchToolCalls returns the scope's tool calls ordered by call order.
func (s *PGStore) FetchToolCalls(ctx context.Context, scope negraph.Scope) ([]negraph.ToolCall, error) {
	var calls []negraph.ToolCall

	err := s.withConn(ctx, func(conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx,
			`SELECT id, message_id, conversation_id, user_id, tool_name, input, output, timestamp, call_order
			 FROM tool_calls
			 WHERE conversation_id = $1 AND user_id = $2
			 ORDER BY call_order ASC, message_id ASC, id ASC`,
			scope.ConversationID, scope.UserID,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				call          negraph.ToolCall
				input, output []byte
			)
			err := rows.Scan(&call.ID, &call.MessageID, &call.ConversationID, &call.UserID, &call.ToolName,
				&input, &output, &call.CreatedAt, &call.CallOrder)
			if err != nil {
				return fmt.Errorf("scan tool call: %w", err)
			}
			call.Input = input
			call.Output = output
			call.CreatedAt = call.CreatedAt.UTC()
			calls = append(calls, call)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, mapError("fetch tool calls", err)
	}

	return calls, nil
}
