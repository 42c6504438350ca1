package postgres

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/niechao136/neGraph"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const createMigrationsTableSQL = `
CREATE TABLE IF NOT EXISTS negraph_migrations (
	id         SERIAL PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	checksum   TEXT NOT NULL
);`

// step is one embedded migration: NAME.up.sql with an optional NAME.down.sql.
type step struct {
	name     string
	up       string
	down     string
	checksum string
}

type appliedStep struct {
	id        int
	appliedAt time.Time
	checksum  string
}

// plan pairs the embedded steps with what the database has recorded.
type plan struct {
	steps   []step
	applied map[string]appliedStep
}

func embeddedSteps() ([]step, error) {
	names, err := fs.Glob(migrationsFS, "migrations/*.up.sql")
	if err != nil {
		return nil, err
	}

	steps := make([]step, 0, len(names))
	for _, file := range names {
		up, err := migrationsFS.ReadFile(file)
		if err != nil {
			return nil, err
		}
		name := strings.TrimSuffix(path.Base(file), ".up.sql")
		down, _ := migrationsFS.ReadFile(path.Join("migrations", name+".down.sql"))
		sum := sha256.Sum256(up)
		steps = append(steps, step{name: name, up: string(up), down: string(down), checksum: hex.EncodeToString(sum[:])})
	}

	sort.Slice(steps, func(i, j int) bool { return steps[i].name < steps[j].name })
	return steps, nil
}

// loadPlan makes sure the bookkeeping table exists and reads it together
// with the embedded steps.
func loadPlan(ctx context.Context, conn *pgxpool.Conn) (*plan, error) {
	if _, err := conn.Exec(ctx, createMigrationsTableSQL); err != nil {
		return nil, mapError("ensure migrations table", err)
	}

	steps, err := embeddedSteps()
	if err != nil {
		return nil, fmt.Errorf("negraph: load migrations: %w", err)
	}

	rows, err := conn.Query(ctx, `SELECT id, name, applied_at, checksum FROM negraph_migrations`)
	if err != nil {
		return nil, mapError("get applied migrations", err)
	}
	applied := make(map[string]appliedStep)
	var (
		name string
		rec  appliedStep
	)
	_, err = pgx.ForEachRow(rows, []any{&rec.id, &name, &rec.appliedAt, &rec.checksum}, func() error {
		applied[name] = rec
		return nil
	})
	if err != nil {
		return nil, mapError("get applied migrations", err)
	}

	return &plan{steps: steps, applied: applied}, nil
}

// latest returns the most recently applied step.
func (p *plan) latest() (step, appliedStep, bool) {
	var (
		best    step
		bestRec appliedStep
		found   bool
	)
	for _, st := range p.steps {
		rec, ok := p.applied[st.name]
		if ok && (!found || rec.id > bestRec.id) {
			best, bestRec, found = st, rec, true
		}
	}
	return best, bestRec, found
}

// Migrate applies all pending migrations in order, each in its own
// transaction. An applied migration whose checksum changed aborts the run.
func (s *PGStore) Migrate(ctx context.Context) error {
	return s.withConn(ctx, func(conn *pgxpool.Conn) error {
		p, err := loadPlan(ctx, conn)
		if err != nil {
			return err
		}

		for _, st := range p.steps {
			if rec, ok := p.applied[st.name]; ok {
				if rec.checksum != st.checksum {
					return fmt.Errorf("negraph: migration %s checksum mismatch (expected %s, got %s)", st.name, rec.checksum, st.checksum)
				}
				continue
			}

			err := pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
				if _, err := tx.Exec(ctx, st.up); err != nil {
					return err
				}
				_, err := tx.Exec(ctx, `INSERT INTO negraph_migrations (name, checksum) VALUES ($1, $2)`, st.name, st.checksum)
				return err
			})
			if err != nil {
				return mapError("apply migration "+st.name, err)
			}
		}
		return nil
	})
}

// Rollback reverts the most recently applied migration. It returns
// negraph.ErrNoMigration when nothing is applied.
func (s *PGStore) Rollback(ctx context.Context) error {
	return s.withConn(ctx, func(conn *pgxpool.Conn) error {
		p, err := loadPlan(ctx, conn)
		if err != nil {
			return err
		}

		st, rec, ok := p.latest()
		if !ok {
			return negraph.ErrNoMigration
		}
		if st.down == "" {
			return fmt.Errorf("negraph: no down migration for %s", st.name)
		}

		err = pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, st.down); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `DELETE FROM negraph_migrations WHERE id = $1`, rec.id)
			return err
		})
		return mapError("roll back migration "+st.name, err)
	})
}

// MigrationStatus lists every embedded migration with its applied state.
func (s *PGStore) MigrationStatus(ctx context.Context) ([]negraph.MigrationRecord, error) {
	var records []negraph.MigrationRecord

	err := s.withConn(ctx, func(conn *pgxpool.Conn) error {
		p, err := loadPlan(ctx, conn)
		if err != nil {
			return err
		}

		for _, st := range p.steps {
			rec := negraph.MigrationRecord{Name: st.name}
			if applied, ok := p.applied[st.name]; ok {
				at := applied.appliedAt.UTC()
				rec.Applied = true
				rec.AppliedAt = &at
				rec.Checksum = applied.checksum
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}
