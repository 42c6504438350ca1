package checkpoint

import (
	"context"
	"strings"

	"github.com/niechao136/neGraph"
	"github.com/rs/zerolog"
)

// Index creates conversations and pages through a user's conversations.
type Index struct {
	store        negraph.Store
	log          zerolog.Logger
	defaultLimit int
	maxLimit     int
}

// NewIndex creates an index on store.
func NewIndex(store negraph.Store, opts ...Option) *Index {
	o := buildOptions(opts)
	return &Index{
		store:        store,
		log:          o.log,
		defaultLimit: o.defaultLimit,
		maxLimit:     o.maxLimit,
	}
}

// Create starts a conversation for userID and returns its id.
func (x *Index) Create(ctx context.Context, userID string, summary *string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", negraph.ErrInvalidScope
	}

	conv, err := x.store.InsertConversation(ctx, userID, summary)
	if err != nil {
		return "", err
	}

	x.log.Debug().Str("conversation_id", conv.ID).Msg("Created conversation")
	return conv.ID, nil
}

// ListPage returns one page of the user's conversations, newest first.
// before is empty for the first page and the previous page's NextCursor
// afterwards; a bare ISO-8601 timestamp is also accepted.
func (x *Index) ListPage(ctx context.Context, userID string, limit int, before string) (*negraph.Page, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, negraph.ErrInvalidScope
	}

	cursor, err := negraph.ParseCursor(before)
	if err != nil {
		return nil, err
	}

	limit = x.clamp(limit)

	rows, err := x.store.FetchConversationsPage(ctx, userID, limit+1, cursor)
	if err != nil {
		return nil, err
	}

	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}

	page := &negraph.Page{
		Data:    make([]negraph.ConversationSummary, 0, len(rows)),
		Limit:   limit,
		HasMore: hasMore,
	}
	for _, c := range rows {
		page.Data = append(page.Data, negraph.ConversationSummary{
			ID:        c.ID,
			Summary:   c.Summary,
			CreatedAt: negraph.FormatTimestamp(c.CreatedAt),
		})
	}
	if hasMore {
		page.NextCursor = negraph.CursorOf(rows[len(rows)-1]).String()
	}

	return page, nil
}

// SetSummary replaces the summary of the conversation in scope.
func (x *Index) SetSummary(ctx context.Context, scope negraph.Scope, summary *string) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	return x.store.SetSummary(ctx, scope, summary)
}

func (x *Index) clamp(limit int) int {
	if limit <= 0 {
		return x.defaultLimit
	}
	return min(limit, x.maxLimit)
}
