package checkpoint_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/niechao136/neGraph"
	"github.com/niechao136/neGraph/checkpoint"
	"github.com/niechao136/neGraph/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func frozen() time.Time { return base }

func newSaver(t *testing.T, opts ...checkpoint.Option) (*checkpoint.Saver, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	return checkpoint.New(store, opts...), store
}

func scenarioTurn() []negraph.TurnMessage {
	return []negraph.TurnMessage{
		{ID: "m1", Kind: "human", Content: "hello"},
		{
			ID:      "m2",
			Kind:    "ai",
			Content: "hi",
			ToolCalls: []negraph.TurnToolCall{
				{ID: "tc1", ToolName: "search", Input: json.RawMessage(`{"q":"hello"}`)},
			},
		},
	}
}

func TestScenario(t *testing.T) {
	ctx := context.Background()
	s, _ := newSaver(t)

	convID, err := s.Create(ctx, "u1", nil)
	require.NoError(t, err)
	scope := negraph.Scope{ConversationID: convID, UserID: "u1"}

	res, err := s.Save(ctx, scope, scenarioTurn())
	require.NoError(t, err)
	assert.Equal(t, checkpoint.SaveResult{
		Committed:         2,
		MessagesInserted:  2,
		ToolCallsInserted: 1,
		MessageIDs:        []string{"m1", "m2"},
	}, res)

	cp, err := s.Load(ctx, scope)
	require.NoError(t, err)
	require.Len(t, cp.Messages, 2)

	m1, m2 := cp.Messages[0], cp.Messages[1]
	assert.Equal(t, "m1", m1.ID)
	assert.Equal(t, negraph.SenderUser, m1.Sender)
	assert.Equal(t, "hello", m1.Content)
	assert.NotNil(t, m1.ToolCalls)
	assert.Empty(t, m1.ToolCalls)

	assert.Equal(t, "m2", m2.ID)
	assert.Equal(t, negraph.SenderAssistant, m2.Sender)
	assert.Equal(t, "hi", m2.Content)
	require.Len(t, m2.ToolCalls, 1)
	assert.Equal(t, "tc1", m2.ToolCalls[0].ID)
	assert.Equal(t, "search", m2.ToolCalls[0].ToolName)
	assert.Equal(t, 0, m2.ToolCalls[0].CallOrder)
	assert.JSONEq(t, `{"q":"hello"}`, string(m2.ToolCalls[0].Input))
	assert.True(t, m1.CreatedAt.Before(m2.CreatedAt))

	page, err := s.ListPage(ctx, "u1", 10, "")
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, convID, page.Data[0].ID)
	assert.False(t, page.HasMore)
	assert.Empty(t, page.NextCursor)
}

func TestSaveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, store := newSaver(t)

	convID, err := s.Create(ctx, "u1", nil)
	require.NoError(t, err)
	scope := negraph.Scope{ConversationID: convID, UserID: "u1"}

	_, err = s.Save(ctx, scope, scenarioTurn())
	require.NoError(t, err)
	first, err := s.Load(ctx, scope)
	require.NoError(t, err)

	res, err := s.Save(ctx, scope, scenarioTurn())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Committed)
	assert.Equal(t, 0, res.MessagesInserted)
	assert.Equal(t, 2, res.MessagesSkipped)
	assert.Equal(t, 1, res.ToolCallsSkipped)

	_, messages, calls := store.Counts()
	assert.Equal(t, 2, messages)
	assert.Equal(t, 1, calls)

	second, err := s.Load(ctx, scope)
	require.NoError(t, err)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("checkpoint changed after replay (-first +second):\n%s", diff)
	}

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestSaveOverlappingPrefix(t *testing.T) {
	ctx := context.Background()
	s, _ := newSaver(t)

	convID, err := s.Create(ctx, "u1", nil)
	require.NoError(t, err)
	scope := negraph.Scope{ConversationID: convID, UserID: "u1"}

	turn := scenarioTurn()
	_, err = s.Save(ctx, scope, turn)
	require.NoError(t, err)

	turn = append(turn, negraph.TurnMessage{ID: "m3", Kind: "human", Content: "thanks"})
	res, err := s.Save(ctx, scope, turn)
	require.NoError(t, err)
	assert.Equal(t, 1, res.MessagesInserted)
	assert.Equal(t, 2, res.MessagesSkipped)

	cp, err := s.Load(ctx, scope)
	require.NoError(t, err)
	require.Len(t, cp.Messages, 3)
	assert.Equal(t, "m3", cp.Messages[2].ID)
}

func TestOrderPreservedWithFrozenClock(t *testing.T) {
	ctx := context.Background()
	s, _ := newSaver(t, checkpoint.WithClock(frozen))

	convID, err := s.Create(ctx, "u1", nil)
	require.NoError(t, err)
	scope := negraph.Scope{ConversationID: convID, UserID: "u1"}

	// Ids sort opposite to input order so only timestamps can order them.
	var turn []negraph.TurnMessage
	for i := range 5 {
		turn = append(turn, negraph.TurnMessage{
			ID:      fmt.Sprintf("z%d", 9-i),
			Kind:    "human",
			Content: fmt.Sprintf("message %d", i),
		})
	}

	_, err = s.Save(ctx, scope, turn)
	require.NoError(t, err)

	cp, err := s.Load(ctx, scope)
	require.NoError(t, err)
	require.Len(t, cp.Messages, 5)
	for i, m := range cp.Messages {
		assert.Equal(t, turn[i].ID, m.ID)
		if i > 0 {
			assert.True(t, cp.Messages[i-1].CreatedAt.Before(m.CreatedAt))
		}
	}
}

func TestToolCallOrderPreserved(t *testing.T) {
	ctx := context.Background()
	s, _ := newSaver(t)

	convID, err := s.Create(ctx, "u1", nil)
	require.NoError(t, err)
	scope := negraph.Scope{ConversationID: convID, UserID: "u1"}

	_, err = s.Save(ctx, scope, []negraph.TurnMessage{{
		ID:   "m1",
		Kind: "ai",
		ToolCalls: []negraph.TurnToolCall{
			{ID: "tc-c", ToolName: "t0"},
			{ID: "tc-b", ToolName: "t1"},
			{ID: "tc-a", ToolName: "t2"},
		},
	}})
	require.NoError(t, err)

	cp, err := s.Load(ctx, scope)
	require.NoError(t, err)
	require.Len(t, cp.Messages, 1)

	var names []string
	for i, tc := range cp.Messages[0].ToolCalls {
		assert.Equal(t, i, tc.CallOrder)
		assert.Equal(t, "m1", tc.MessageID)
		names = append(names, tc.ToolName)
	}
	assert.Equal(t, []string{"t0", "t1", "t2"}, names)
}

func TestGeneratedToolCallIDsAreDeterministic(t *testing.T) {
	ctx := context.Background()
	s, store := newSaver(t)

	convID, err := s.Create(ctx, "u1", nil)
	require.NoError(t, err)
	scope := negraph.Scope{ConversationID: convID, UserID: "u1"}

	turn := []negraph.TurnMessage{{
		ID:   "m1",
		Kind: "ai",
		ToolCalls: []negraph.TurnToolCall{
			{ToolName: "search"},
			{ToolName: "fetch", Output: json.RawMessage(`"ok"`)},
		},
	}}

	_, err = s.Save(ctx, scope, turn)
	require.NoError(t, err)
	res, err := s.Save(ctx, scope, turn)
	require.NoError(t, err)
	assert.Equal(t, 2, res.ToolCallsSkipped)

	_, _, calls := store.Counts()
	assert.Equal(t, 2, calls)

	cp, err := s.Load(ctx, scope)
	require.NoError(t, err)
	require.Len(t, cp.Messages[0].ToolCalls, 2)
	assert.Equal(t, checkpoint.ToolCallID("m1", 0), cp.Messages[0].ToolCalls[0].ID)
	assert.Equal(t, checkpoint.ToolCallID("m1", 1), cp.Messages[0].ToolCalls[1].ID)
	assert.JSONEq(t, `{}`, string(cp.Messages[0].ToolCalls[0].Input))
	assert.NotEqual(t, checkpoint.ToolCallID("m1", 0), checkpoint.ToolCallID("m2", 0))
}

func TestTenantIsolation(t *testing.T) {
	ctx := context.Background()
	s, store := newSaver(t)

	convID, err := s.Create(ctx, "u1", nil)
	require.NoError(t, err)
	_, err = s.Save(ctx, negraph.Scope{ConversationID: convID, UserID: "u1"}, scenarioTurn())
	require.NoError(t, err)

	foreign := negraph.Scope{ConversationID: convID, UserID: "u2"}

	cp, err := s.Load(ctx, foreign)
	require.NoError(t, err)
	assert.True(t, cp.Empty())

	res, err := s.Save(ctx, foreign, []negraph.TurnMessage{{ID: "x1", Kind: "human", Content: "steal"}})
	var saveErr *checkpoint.SaveError
	require.ErrorAs(t, err, &saveErr)
	assert.ErrorIs(t, err, negraph.ErrConversationNotFound)
	assert.Equal(t, 0, saveErr.Committed)
	assert.Equal(t, 0, res.Committed)

	// Replaying ids that exist under another user must not reveal them.
	for _, turn := range [][]negraph.TurnMessage{
		{{ID: "m1", Kind: "human", Content: "overwrite"}},
		scenarioTurn(),
	} {
		res, err = s.Save(ctx, foreign, turn)
		require.ErrorAs(t, err, &saveErr)
		assert.ErrorIs(t, err, negraph.ErrConversationNotFound)
		assert.NotErrorIs(t, err, negraph.ErrConstraintViolation)
		assert.Equal(t, "m1", saveErr.MessageID)
		assert.Equal(t, 0, res.Committed)
	}

	page, err := s.ListPage(ctx, "u2", 10, "")
	require.NoError(t, err)
	assert.Empty(t, page.Data)

	_, messages, _ := store.Counts()
	assert.Equal(t, 2, messages)
}

func TestEmptyState(t *testing.T) {
	ctx := context.Background()
	s, _ := newSaver(t)

	convID, err := s.Create(ctx, "u1", nil)
	require.NoError(t, err)

	cp, err := s.Load(ctx, negraph.Scope{ConversationID: convID, UserID: "u1"})
	require.NoError(t, err)
	assert.NotNil(t, cp.Messages)
	assert.Empty(t, cp.Messages)

	cp, err = s.Load(ctx, negraph.Scope{ConversationID: "missing", UserID: "u1"})
	require.NoError(t, err)
	assert.True(t, cp.Empty())

	page, err := s.ListPage(ctx, "nobody", 0, "")
	require.NoError(t, err)
	assert.NotNil(t, page.Data)
	assert.Empty(t, page.Data)
	assert.False(t, page.HasMore)

	res, err := s.Save(ctx, negraph.Scope{ConversationID: convID, UserID: "u1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Committed)
}

func TestInvalidInputWritesNothing(t *testing.T) {
	ctx := context.Background()
	s, store := newSaver(t)

	convID, err := s.Create(ctx, "u1", nil)
	require.NoError(t, err)
	scope := negraph.Scope{ConversationID: convID, UserID: "u1"}

	_, err = s.Save(ctx, negraph.Scope{UserID: "u1"}, scenarioTurn())
	assert.ErrorIs(t, err, negraph.ErrInvalidScope)

	_, err = s.Load(ctx, negraph.Scope{ConversationID: convID})
	assert.ErrorIs(t, err, negraph.ErrInvalidScope)

	_, err = s.Create(ctx, " ", nil)
	assert.ErrorIs(t, err, negraph.ErrInvalidScope)

	tests := []struct {
		name string
		turn []negraph.TurnMessage
	}{
		{"bad context", []negraph.TurnMessage{{Kind: "human", Context: json.RawMessage(`{`)}}},
		{"bad action", []negraph.TurnMessage{{Kind: "ai", Action: json.RawMessage(`nope`)}}},
		{"missing tool name", []negraph.TurnMessage{{Kind: "ai", ToolCalls: []negraph.TurnToolCall{{ToolName: " "}}}}},
		{"bad tool input", []negraph.TurnMessage{{Kind: "ai", ToolCalls: []negraph.TurnToolCall{{ToolName: "x", Input: json.RawMessage(`[`)}}}}},
		{"bad tool output", []negraph.TurnMessage{
			{Kind: "human", Content: "ok"},
			{Kind: "ai", ToolCalls: []negraph.TurnToolCall{{ToolName: "x", Output: json.RawMessage(`}`)}}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Save(ctx, scope, tt.turn)
			assert.ErrorIs(t, err, negraph.ErrInvalidMessage)
		})
	}

	_, messages, calls := store.Counts()
	assert.Zero(t, messages)
	assert.Zero(t, calls)
}

// failingStore fails the failAt-th UpsertMessage call (1-based).
type failingStore struct {
	negraph.Store
	failAt int
	calls  int
}

var errBoom = errors.New("boom")

func (f *failingStore) UpsertMessage(ctx context.Context, msg *negraph.Message) (string, bool, error) {
	f.calls++
	if f.calls == f.failAt {
		return "", false, fmt.Errorf("negraph: upsert message: %w: %w", negraph.ErrConnection, errBoom)
	}
	return f.Store.UpsertMessage(ctx, msg)
}

func TestPartialSaveReportsProgress(t *testing.T) {
	ctx := context.Background()
	mem := memstore.New()
	flaky := &failingStore{Store: mem, failAt: 2}
	s := checkpoint.New(flaky)

	convID, err := s.Create(ctx, "u1", nil)
	require.NoError(t, err)
	scope := negraph.Scope{ConversationID: convID, UserID: "u1"}

	turn := append(scenarioTurn(), negraph.TurnMessage{ID: "m3", Kind: "human", Content: "more"})

	res, err := s.Save(ctx, scope, turn)
	var saveErr *checkpoint.SaveError
	require.ErrorAs(t, err, &saveErr)
	assert.ErrorIs(t, err, negraph.ErrConnection)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, saveErr.Committed)
	assert.Equal(t, "m2", saveErr.MessageID)
	assert.Equal(t, 1, res.Committed)
	assert.Equal(t, []string{"m1"}, res.MessageIDs)

	// Resending the whole turn completes it without duplicates.
	res, err = s.Save(ctx, scope, turn)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Committed)
	assert.Equal(t, 1, res.MessagesSkipped)
	assert.Equal(t, 2, res.MessagesInserted)

	cp, err := s.Load(ctx, scope)
	require.NoError(t, err)
	require.Len(t, cp.Messages, 3)
	assert.Len(t, cp.Messages[1].ToolCalls, 1)
}

func TestCancelledSave(t *testing.T) {
	s, store := newSaver(t)

	convID, err := s.Create(context.Background(), "u1", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = s.Save(ctx, negraph.Scope{ConversationID: convID, UserID: "u1"}, scenarioTurn())
	var saveErr *checkpoint.SaveError
	require.ErrorAs(t, err, &saveErr)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, saveErr.Committed)

	_, messages, _ := store.Counts()
	assert.Zero(t, messages)
}

func TestListPageCompleteWithCollidingTimestamps(t *testing.T) {
	ctx := context.Background()
	store := memstore.New().WithClock(frozen)
	s := checkpoint.New(store, checkpoint.WithPageLimits(10, 20))

	want := map[string]bool{}
	for range 25 {
		id, err := s.Create(ctx, "u1", nil)
		require.NoError(t, err)
		want[id] = true
	}
	_, err := s.Create(ctx, "u2", nil)
	require.NoError(t, err)

	got := map[string]bool{}
	cursor := ""
	pages := 0
	for {
		page, err := s.ListPage(ctx, "u1", 0, cursor)
		require.NoError(t, err)
		pages++
		assert.Equal(t, 10, page.Limit)
		for _, c := range page.Data {
			assert.False(t, got[c.ID], "duplicate %s", c.ID)
			got[c.ID] = true
			assert.Equal(t, negraph.FormatTimestamp(base), c.CreatedAt)
		}
		if !page.HasMore {
			assert.Empty(t, page.NextCursor)
			break
		}
		cursor = page.NextCursor
	}

	assert.Equal(t, 3, pages)
	assert.Equal(t, want, got)
}

func TestListPageLimits(t *testing.T) {
	ctx := context.Background()
	s, _ := newSaver(t, checkpoint.WithPageLimits(2, 3))

	for range 5 {
		_, err := s.Create(ctx, "u1", nil)
		require.NoError(t, err)
	}

	page, err := s.ListPage(ctx, "u1", 0, "")
	require.NoError(t, err)
	assert.Equal(t, 2, page.Limit)
	assert.Len(t, page.Data, 2)
	assert.True(t, page.HasMore)

	page, err = s.ListPage(ctx, "u1", 1000, "")
	require.NoError(t, err)
	assert.Equal(t, 3, page.Limit)
	assert.Len(t, page.Data, 3)

	_, err = s.ListPage(ctx, "u1", 10, "yesterday")
	assert.ErrorIs(t, err, negraph.ErrInvalidCursor)

	_, err = s.ListPage(ctx, "", 10, "")
	assert.ErrorIs(t, err, negraph.ErrInvalidScope)
}

func TestListPageBareTimestampCursor(t *testing.T) {
	ctx := context.Background()
	clock := base
	store := memstore.New().WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	})
	s := checkpoint.New(store)

	var ids []string
	for range 3 {
		id, err := s.Create(ctx, "u1", nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	page, err := s.ListPage(ctx, "u1", 10, negraph.FormatTimestamp(base.Add(3*time.Second)))
	require.NoError(t, err)
	require.Len(t, page.Data, 2)
	assert.Equal(t, ids[1], page.Data[0].ID)
	assert.Equal(t, ids[0], page.Data[1].ID)
}

func TestSetSummary(t *testing.T) {
	ctx := context.Background()
	s, _ := newSaver(t)

	initial := "draft"
	convID, err := s.Create(ctx, "u1", &initial)
	require.NoError(t, err)

	updated := "final"
	require.NoError(t, s.SetSummary(ctx, negraph.Scope{ConversationID: convID, UserID: "u1"}, &updated))

	err = s.SetSummary(ctx, negraph.Scope{ConversationID: convID, UserID: "u2"}, &updated)
	assert.ErrorIs(t, err, negraph.ErrConversationNotFound)

	page, err := s.ListPage(ctx, "u1", 10, "")
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	require.NotNil(t, page.Data[0].Summary)
	assert.Equal(t, "final", *page.Data[0].Summary)
}
