package gormstore

import (
	"context"

	"github.com/niechao136/neGraph"
)

// schemaName is reported by MigrationStatus. AutoMigrate manages the whole
// schema as a single step.
const schemaName = "0001_init"

func models() []any {
	return []any{&conversationRow{}, &messageRow{}, &toolCallRow{}}
}

// Migrate creates or updates the tables.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(models()...); err != nil {
		return mapError("auto migrate", err)
	}
	return nil
}

// CreateSchema is Migrate.
func (s *Store) CreateSchema(ctx context.Context) error {
	return s.Migrate(ctx)
}

// DropSchema drops every table in dependency order.
func (s *Store) DropSchema(ctx context.Context) error {
	err := s.db.WithContext(ctx).Migrator().DropTable(&toolCallRow{}, &messageRow{}, &conversationRow{})
	if err != nil {
		return mapError("drop schema", err)
	}
	return nil
}

// Rollback reverts the only schema step, which drops the tables. It returns
// negraph.ErrNoMigration when no table is left.
func (s *Store) Rollback(ctx context.Context) error {
	m := s.db.WithContext(ctx).Migrator()
	for _, model := range models() {
		if m.HasTable(model) {
			return s.DropSchema(ctx)
		}
	}
	return negraph.ErrNoMigration
}

// MigrationStatus reports whether the tables exist.
func (s *Store) MigrationStatus(ctx context.Context) ([]negraph.MigrationRecord, error) {
	m := s.db.WithContext(ctx).Migrator()

	applied := true
	for _, model := range models() {
		if !m.HasTable(model) {
			applied = false
			break
		}
	}

	return []negraph.MigrationRecord{{Name: schemaName, Applied: applied}}, nil
}
