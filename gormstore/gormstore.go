// Package gormstore implements negraph.Store on gorm, so the checkpoint
// tables can live in SQLite for local runs or in PostgreSQL through the gorm
// postgres driver. The schema comes from AutoMigrate instead of the embedded
// SQL migrations used by package postgres.
package gormstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/niechao136/neGraph"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects the database opened by Open.
type Config struct {
	Driver          string
	DSN             string
	MaxConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	Logger          zerolog.Logger
}

// Store is a negraph.Store backed by a *gorm.DB.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// New wraps an open gorm handle. The handle should be opened with
// TranslateError enabled so constraint errors can be recognised.
func New(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Open connects with the driver named in cfg and returns a Store on it.
func Open(cfg Config) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverSQLite:
		dialector = sqlite.Open(cfg.DSN)
	case DriverPostgres, "":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("negraph: unsupported driver %q", cfg.Driver)
	}

	gl := gormlogger.New(&cfg.Logger, gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	})

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gl,
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", negraph.ErrConnection, cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("negraph: get sql.DB: %w", err)
	}
	if cfg.Driver == DriverSQLite {
		// One connection keeps an in-memory database alive and the
		// foreign_keys pragma in effect.
		sqlDB.SetMaxOpenConns(1)
		if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
			return nil, mapError("enable foreign keys", err)
		}
	} else if cfg.MaxConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MaxConnLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.MaxConnLifetime)
	}
	if cfg.MaxConnIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(cfg.MaxConnIdleTime)
	}

	return New(db), nil
}

// WithClock replaces the clock used for conversation creation times.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// DB exposes the underlying handle.
func (s *Store) DB() *gorm.DB { return s.db }

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if isConstraintError(err) {
		return fmt.Errorf("negraph: %s: %w: %w", op, negraph.ErrConstraintViolation, err)
	}
	if isConnectionError(err) {
		return fmt.Errorf("negraph: %s: %w: %w", op, negraph.ErrConnection, err)
	}
	return fmt.Errorf("negraph: %s: %w", op, err)
}

func isConstraintError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) ||
		errors.Is(err, gorm.ErrForeignKeyViolated) ||
		errors.Is(err, gorm.ErrCheckConstraintViolated) {
		return true
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "23")
	}
	return false
}

func isConnectionError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

var _ negraph.Store = (*Store)(nil)
var _ negraph.SchemaManager = (*Store)(nil)
