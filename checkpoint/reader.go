package checkpoint

import (
	"context"
	"sort"
	"time"

	"github.com/niechao136/neGraph"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Reader rebuilds checkpoints from stored rows.
type Reader struct {
	store negraph.Store
	log   zerolog.Logger
}

// NewReader creates a reader on store.
func NewReader(store negraph.Store, opts ...Option) *Reader {
	o := buildOptions(opts)
	return &Reader{store: store, log: o.log}
}

// Load returns the checkpoint of the conversation in scope. A conversation
// with no messages, or one that belongs to another user, yields the empty
// checkpoint rather than an error.
func (r *Reader) Load(ctx context.Context, scope negraph.Scope) (*negraph.Checkpoint, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()

	var (
		messages []negraph.Message
		calls    []negraph.ToolCall
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		messages, err = r.store.FetchMessages(gctx, scope)
		return err
	})
	g.Go(func() error {
		var err error
		calls, err = r.store.FetchToolCalls(gctx, scope)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	cp, orphans := Assemble(scope, messages, calls)

	ev := r.log.Debug()
	if orphans > 0 {
		// Tool calls committed after the message fetch ran.
		ev = r.log.Info()
	}
	ev.Str("conversation_id", scope.ConversationID).
		Int("messages", len(cp.Messages)).
		Int("tool_calls", len(calls)).
		Int("orphan_tool_calls", orphans).
		Dur("took", time.Since(start)).
		Msg("Loaded checkpoint")

	return cp, nil
}

// Assemble orders messages by timestamp then id, groups tool calls under
// their message ordered by call order then id, and returns the checkpoint
// with the number of tool calls whose message was not among messages. The
// inputs are not modified.
func Assemble(scope negraph.Scope, messages []negraph.Message, calls []negraph.ToolCall) (*negraph.Checkpoint, int) {
	cp := negraph.EmptyCheckpoint(scope)
	if len(messages) == 0 {
		return cp, len(calls)
	}

	groups := make(map[string][]negraph.ToolCall, len(messages))
	for _, c := range calls {
		groups[c.MessageID] = append(groups[c.MessageID], c)
	}
	for _, g := range groups {
		sort.SliceStable(g, func(i, j int) bool {
			if g[i].CallOrder != g[j].CallOrder {
				return g[i].CallOrder < g[j].CallOrder
			}
			return g[i].ID < g[j].ID
		})
	}

	cp.Messages = make([]negraph.Message, len(messages))
	copy(cp.Messages, messages)
	sort.SliceStable(cp.Messages, func(i, j int) bool {
		a, b := cp.Messages[i], cp.Messages[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	attached := 0
	for i := range cp.Messages {
		group := groups[cp.Messages[i].ID]
		if group == nil {
			group = []negraph.ToolCall{}
		}
		cp.Messages[i].ToolCalls = group
		attached += len(group)
	}

	return cp, len(calls) - attached
}
