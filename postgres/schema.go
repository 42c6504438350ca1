package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CreateSchema applies all pending migrations.
func (s *PGStore) CreateSchema(ctx context.Context) error {
	return s.Migrate(ctx)
}

// DropSchema drops the checkpoint tables and the migrations tracking table.
func (s *PGStore) DropSchema(ctx context.Context) error {
	return s.withConn(ctx, func(conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, `
			DROP TABLE IF EXISTS negraph_migrations CASCADE;
			DROP TABLE IF EXISTS tool_calls CASCADE;
			DROP TABLE IF EXISTS messages CASCADE;
			DROP TABLE IF EXISTS conversations CASCADE;
		`)
		return mapError("drop schema", err)
	})
}
