// Package checkpoint persists agent turns and rebuilds them into resumable
// checkpoints on top of a negraph.Store.
//
// The agent loop calls Save after every turn and Load before resuming a
// conversation; the API layer calls Create and ListPage. Saver bundles the
// three components behind the Checkpointer interface.
package checkpoint

import (
	"context"

	"github.com/niechao136/neGraph"
)

// Checkpointer is the contract offered to the agent loop and the API layer.
type Checkpointer interface {
	Create(ctx context.Context, userID string, summary *string) (string, error)
	Save(ctx context.Context, scope negraph.Scope, turn []negraph.TurnMessage) (SaveResult, error)
	Load(ctx context.Context, scope negraph.Scope) (*negraph.Checkpoint, error)
	ListPage(ctx context.Context, userID string, limit int, before string) (*negraph.Page, error)
}

// Saver is a Writer, Reader and Index sharing one store.
type Saver struct {
	*Writer
	*Reader
	*Index
}

// New creates a Saver on store.
func New(store negraph.Store, opts ...Option) *Saver {
	return &Saver{
		Writer: NewWriter(store, opts...),
		Reader: NewReader(store, opts...),
		Index:  NewIndex(store, opts...),
	}
}

var _ Checkpointer = (*Saver)(nil)
