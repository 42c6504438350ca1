package negraph

import (
	"fmt"
	"strings"
	"time"
)

const cursorSep = "|"

// Cursor marks the last row of a conversation page. A cursor without an ID
// filters strictly by creation time; with an ID it resumes at the exact
// (created_at, id) position, so conversations sharing a timestamp are
// neither skipped nor repeated.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// CursorOf returns the cursor positioned at c.
func CursorOf(c Conversation) Cursor {
	return Cursor{CreatedAt: c.CreatedAt, ID: c.ID}
}

// String encodes the cursor as "<RFC 3339 timestamp>|<id>", or just the
// timestamp when the cursor has no id.
func (c Cursor) String() string {
	ts := FormatTimestamp(c.CreatedAt)
	if c.ID == "" {
		return ts
	}
	return ts + cursorSep + c.ID
}

// ParseCursor decodes a cursor produced by Cursor.String or a bare ISO-8601
// timestamp. An empty string yields a nil cursor.
func ParseCursor(s string) (*Cursor, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	raw, id, _ := strings.Cut(s, cursorSep)
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidCursor, s, err)
	}
	if strings.Contains(s, cursorSep) && id == "" {
		return nil, fmt.Errorf("%w: %q: empty id", ErrInvalidCursor, s)
	}

	return &Cursor{CreatedAt: ts.UTC(), ID: id}, nil
}

// FormatTimestamp renders t as an ISO-8601 (RFC 3339) UTC timestamp.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Before reports whether a conversation created at createdAt with the given
// id sorts strictly after the cursor in newest-first order.
func (c Cursor) Before(createdAt time.Time, id string) bool {
	if createdAt.Before(c.CreatedAt) {
		return true
	}
	if c.ID == "" || !createdAt.Equal(c.CreatedAt) {
		return false
	}
	return id < c.ID
}
