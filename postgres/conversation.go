package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/niechao136/neGraph"
)

// InsertConversation creates a conversation owned by userID.
func (s *PGStore) InsertConversation(ctx context.Context, userID string, summary *string) (*negraph.Conversation, error) {
	conv := &negraph.Conversation{
		ID:      uuid.New().String(),
		UserID:  userID,
		Summary: summary,
	}

	err := s.withConn(ctx, func(conn *pgxpool.Conn) error {
		return conn.QueryRow(ctx,
			`INSERT INTO conversations (id, user_id, summary)
			 VALUES ($1, $2, $3)
			 RETURNING created_at`,
			conv.ID, userID, summary,
		).Scan(&conv.CreatedAt)
	})
	if err != nil {
		return nil, mapError("insert conversation", err)
	}
	conv.CreatedAt = conv.CreatedAt.UTC()

	return conv, nil
}

// FetchConversationsPage returns up to limit of the user's conversations,
// newest first, positioned after before when it is set.
func (s *PGStore) FetchConversationsPage(ctx context.Context, userID string, limit int, before *negraph.Cursor) ([]negraph.Conversation, error) {
	var convs []negraph.Conversation

	err := s.withConn(ctx, func(conn *pgxpool.Conn) error {
		var (
			rows pgx.Rows
			err  error
		)
		switch {
		case before == nil:
			rows, err = conn.Query(ctx,
				`SELECT id, user_id, summary, created_at
				 FROM conversations
				 WHERE user_id = $1
				 ORDER BY created_at DESC, id DESC
				 LIMIT $2`,
				userID, limit,
			)
		case before.ID == "":
			rows, err = conn.Query(ctx,
				`SELECT id, user_id, summary, created_at
				 FROM conversations
				 WHERE user_id = $1 AND created_at < $2
				 ORDER BY created_at DESC, id DESC
				 LIMIT $3`,
				userID, before.CreatedAt, limit,
			)
		default:
			rows, err = conn.Query(ctx,
				`SELECT id, user_id, summary, created_at
				 FROM conversations
				 WHERE user_id = $1 AND (created_at, id) < ($2::timestamptz, $3::text)
				 ORDER BY created_at DESC, id DESC
				 LIMIT $4`,
				userID, before.CreatedAt, before.ID, limit,
			)
		}
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var c negraph.Conversation
			if err := rows.Scan(&c.ID, &c.UserID, &c.Summary, &c.CreatedAt); err != nil {
				return err
			}
			c.CreatedAt = c.CreatedAt.UTC()
			convs = append(convs, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, mapError("fetch conversations", err)
	}

	return convs, nil
}

// SetSummary replaces the summary of the conversation in scope.
func (s *PGStore) SetSummary(ctx context.Context, scope negraph.Scope, summary *string) error {
	var affected int64

	err := s.withConn(ctx, func(conn *pgxpool.Conn) error {
		tag, err := conn.Exec(ctx,
			`UPDATE conversations SET summary = $3 WHERE id = $1 AND user_id = $2`,
			scope.ConversationID, scope.UserID, summary,
		)
		affected = tag.RowsAffected()
		return err
	})
	if err != nil {
		return mapError("set summary", err)
	}

	if affected == 0 {
		return fmt.Errorf("negraph: set summary %s: %w", scope.ConversationID, negraph.ErrConversationNotFound)
	}
	return nil
}
