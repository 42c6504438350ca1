package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/niechao136/neGraph"
	"github.com/rs/zerolog"
)

// Stored timestamps have microsecond resolution.
const tick = time.Microsecond

var errNotJSON = errors.New("not valid JSON")

var toolCallNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:negraph:tool-call"))

// ToolCallID derives the id of the order-th tool call of a message. Tool
// calls submitted without an id get this id, so replaying a turn never
// duplicates them.
func ToolCallID(messageID string, order int) string {
	return uuid.NewSHA1(toolCallNamespace, fmt.Appendf(nil, "%s/%d", messageID, order)).String()
}

// SaveResult reports what a Save call did.
type SaveResult struct {
	// Committed is the length of the input prefix whose messages and tool
	// calls are durably stored.
	Committed         int      `json:"committed"`
	MessagesInserted  int      `json:"messages_inserted"`
	MessagesSkipped   int      `json:"messages_skipped"`
	ToolCallsInserted int      `json:"tool_calls_inserted"`
	ToolCallsSkipped  int      `json:"tool_calls_skipped"`
	MessageIDs        []string `json:"message_ids"`
}

// SaveError is returned when Save stops partway through a turn. Messages
// before index Committed are stored; resending from there is enough, and
// resending the whole turn is also safe.
type SaveError struct {
	Committed int
	MessageID string
	Err       error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("negraph: save stopped at message %d (%s): %v", e.Committed, e.MessageID, e.Err)
}

func (e *SaveError) Unwrap() error { return e.Err }

// Writer persists turn messages and their tool calls. It is the only
// component that mutates stored state and it never reads it back.
type Writer struct {
	store negraph.Store
	log   zerolog.Logger
	now   func() time.Time
}

// NewWriter creates a writer on store.
func NewWriter(store negraph.Store, opts ...Option) *Writer {
	o := buildOptions(opts)
	return &Writer{store: store, log: o.log, now: o.now}
}

// Save stores turn in order. Messages and tool calls whose id is already
// stored are skipped, so Save may be replayed with an overlapping prefix.
// On failure the partial result is returned together with a *SaveError.
func (w *Writer) Save(ctx context.Context, scope negraph.Scope, turn []negraph.TurnMessage) (SaveResult, error) {
	res := SaveResult{MessageIDs: make([]string, 0, len(turn))}

	if err := scope.Validate(); err != nil {
		return res, err
	}
	if err := validateTurn(turn); err != nil {
		return res, err
	}

	start := time.Now()
	var last time.Time

	for i, tm := range turn {
		msg := negraph.Message{
			ID:             tm.ID,
			ConversationID: scope.ConversationID,
			UserID:         scope.UserID,
			Sender:         negraph.SenderOf(tm.Kind),
			Content:        tm.Content,
			Context:        tm.Context,
			Action:         tm.Action,
		}
		if msg.ID == "" {
			msg.ID = uuid.New().String()
		}
		msg.CreatedAt, last = w.stamp(tm.CreatedAt, last)

		if err := ctx.Err(); err != nil {
			return res, w.fail(scope, res, msg.ID, err)
		}

		id, inserted, err := w.store.UpsertMessage(ctx, &msg)
		if err != nil {
			return res, w.fail(scope, res, msg.ID, err)
		}
		if inserted {
			res.MessagesInserted++
		} else {
			res.MessagesSkipped++
		}

		for order, tc := range tm.ToolCalls {
			call := negraph.ToolCall{
				ID:             tc.ID,
				MessageID:      id,
				ConversationID: scope.ConversationID,
				UserID:         scope.UserID,
				ToolName:       tc.ToolName,
				Input:          tc.Input,
				Output:         tc.Output,
				CallOrder:      order,
				CreatedAt:      msg.CreatedAt,
			}
			if call.ID == "" {
				call.ID = ToolCallID(id, order)
			}

			inserted, err := w.store.InsertToolCall(ctx, &call)
			if err != nil {
				return res, w.fail(scope, res, id, err)
			}
			if inserted {
				res.ToolCallsInserted++
			} else {
				res.ToolCallsSkipped++
			}
		}

		res.Committed = i + 1
		res.MessageIDs = append(res.MessageIDs, id)
	}

	w.log.Debug().
		Str("conversation_id", scope.ConversationID).
		Int("messages", len(turn)).
		Int("messages_inserted", res.MessagesInserted).
		Int("messages_skipped", res.MessagesSkipped).
		Int("tool_calls_inserted", res.ToolCallsInserted).
		Int("tool_calls_skipped", res.ToolCallsSkipped).
		Dur("took", time.Since(start)).
		Msg("Saved turn")

	return res, nil
}

// stamp returns the timestamp for the next message and the new high-water
// mark. Generated timestamps strictly increase within one Save so messages
// read back in input order; caller-supplied ones are kept as given.
func (w *Writer) stamp(given, last time.Time) (time.Time, time.Time) {
	if !given.IsZero() {
		ts := given.UTC().Truncate(tick)
		return ts, maxTime(ts, last)
	}

	ts := w.now().UTC().Truncate(tick)
	if !ts.After(last) {
		ts = last.Add(tick)
	}
	return ts, ts
}

func (w *Writer) fail(scope negraph.Scope, res SaveResult, messageID string, err error) error {
	w.log.Warn().
		Err(err).
		Str("conversation_id", scope.ConversationID).
		Str("message_id", messageID).
		Int("committed", res.Committed).
		Msg("Turn partially saved")

	return &SaveError{Committed: res.Committed, MessageID: messageID, Err: err}
}

// validateTurn rejects malformed input before anything is written.
func validateTurn(turn []negraph.TurnMessage) error {
	for i, tm := range turn {
		if err := validJSON(tm.Context); err != nil {
			return fmt.Errorf("%w: message %d context: %v", negraph.ErrInvalidMessage, i, err)
		}
		if err := validJSON(tm.Action); err != nil {
			return fmt.Errorf("%w: message %d action: %v", negraph.ErrInvalidMessage, i, err)
		}
		for j, tc := range tm.ToolCalls {
			if strings.TrimSpace(tc.ToolName) == "" {
				return fmt.Errorf("%w: message %d tool call %d has no tool name", negraph.ErrInvalidMessage, i, j)
			}
			if err := validJSON(tc.Input); err != nil {
				return fmt.Errorf("%w: message %d tool call %d input: %v", negraph.ErrInvalidMessage, i, j, err)
			}
			if err := validJSON(tc.Output); err != nil {
				return fmt.Errorf("%w: message %d tool call %d output: %v", negraph.ErrInvalidMessage, i, j, err)
			}
		}
	}
	return nil
}

func validJSON(b json.RawMessage) error {
	if len(b) == 0 || json.Valid(b) {
		return nil
	}
	return errNotJSON
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
