// Package postgres implements negraph.Store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/niechao136/neGraph"
)

// PGStore is the PostgreSQL schema accessor. Every operation acquires its
// own connection from the shared Pool and releases it before returning.
type PGStore struct {
	pool *Pool
}

// New creates a store on pool.
func New(pool *Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) withConn(ctx context.Context, fn func(conn *pgxpool.Conn) error) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(conn)

	return fn(conn)
}

// jsonParam passes an optional JSON blob as SQL NULL when it is empty.
func jsonParam(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// Ensure PGStore implements the negraph interfaces at compile time.
var (
	_ negraph.Store         = (*PGStore)(nil)
	_ negraph.SchemaManager = (*PGStore)(nil)
)
