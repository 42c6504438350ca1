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

// upsertMessageSQL inserts the message only when the conversation belongs to
// the user and no row with the id exists, in one statement. It returns the
// inserted row, or the pre-existing row when the insert was skipped, or no
// row at all when the conversation is not in scope. Ownership is decided
// first, so an out-of-scope caller learns nothing about stored ids.
const upsertMessageSQL = `
WITH owner AS (
	SELECT 1 FROM conversations WHERE id = $2 AND user_id = $3
), ins AS (
	INSERT INTO messages (id, conversation_id, user_id, sender, message, context, action, timestamp)
	SELECT $1::text, $2::text, $3::text, $4::text, $5::text, $6::jsonb, $7::jsonb, $8::timestamptz
	FROM owner
	ON CONFLICT (id) DO NOTHING
	RETURNING id, conversation_id, user_id, sender, message, timestamp
)
SELECT id, conversation_id, user_id, sender, message, timestamp, true FROM ins
UNION ALL
SELECT id, conversation_id, user_id, sender, message, timestamp, false FROM messages
WHERE id = $1 AND EXISTS (SELECT 1 FROM owner) AND NOT EXISTS (SELECT 1 FROM ins)`

type storedMessage struct {
	id             string
	conversationID string
	userID         string
	sender         string
	content        string
	timestamp      time.Time
}

func (m storedMessage) matches(msg *negraph.Message) bool {
	return m.conversationID == msg.ConversationID &&
		m.userID == msg.UserID &&
		m.sender == string(msg.Sender) &&
		m.content == msg.Content
}

// UpsertMessage inserts msg unless a message with the same id exists. An
// existing row with different content is reported as a constraint
// violation and left untouched.
func (s *PGStore) UpsertMessage(ctx context.Context, msg *negraph.Message) (string, bool, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	var (
		row      storedMessage
		inserted bool
	)
	err := s.withConn(ctx, func(conn *pgxpool.Conn) error {
		err := conn.QueryRow(ctx, upsertMessageSQL,
			msg.ID, msg.ConversationID, msg.UserID, string(msg.Sender), msg.Content,
			jsonParam(msg.Context), jsonParam(msg.Action), msg.CreatedAt,
		).Scan(&row.id, &row.conversationID, &row.userID, &row.sender, &row.content, &row.timestamp, &inserted)
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		// A concurrent writer may have committed the same id after this
		// statement took its snapshot.
		return conn.QueryRow(ctx,
			`SELECT id, conversation_id, user_id, sender, message, timestamp
			 FROM messages
			 WHERE id = $1
			   AND EXISTS (SELECT 1 FROM conversations WHERE id = $2 AND user_id = $3)`,
			msg.ID, msg.ConversationID, msg.UserID,
		).Scan(&row.id, &row.conversationID, &row.userID, &row.sender, &row.content, &row.timestamp)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, fmt.Errorf("negraph: upsert message %s: %w", msg.ID, negraph.ErrConversationNotFound)
	}
	if err != nil {
		return "", false, mapError("upsert message", err)
	}

	if !inserted && !row.matches(msg) {
		return "", false, fmt.Errorf("negraph: upsert message %s: %w: id already stored with different content",
			msg.ID, negraph.ErrConstraintViolation)
	}

	msg.CreatedAt = row.timestamp.UTC()
	return row.id, inserted, nil
}

// FetchMessages returns the scope's messages in insertion order.
func (s *PGStore) FetchMessages(ctx context.Context, scope negraph.Scope) ([]negraph.Message, error) {
	var messages []negraph.Message

	err := s.withConn(ctx, func(conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx,
			`SELECT id, conversation_id, user_id, sender, message, context, action, timestamp
			 FROM messages
			 WHERE conversation_id = $1 AND user_id = $2
			 ORDER BY timestamp ASC, id ASC`,
			scope.ConversationID, scope.UserID,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				msg             negraph.Message
				sender          string
				ctxBlob, action []byte
			)
			err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.UserID, &sender, &msg.Content, &ctxBlob, &action, &msg.CreatedAt)
			if err != nil {
				return fmt.Errorf("scan message: %w", err)
			}
			msg.Sender = negraph.Sender(sender)
			msg.Context = ctxBlob
			msg.Action = action
			msg.CreatedAt = msg.CreatedAt.UTC()
			messages = append(messages, msg)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, mapError("fetch messages", err)
	}

	return messages, nil
}
