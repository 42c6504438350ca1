package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/niechao136/neGraph"
)

// DefaultMaxConns bounds the pool when PoolConfig.MaxConns is unset.
const DefaultMaxConns = 10

// PoolConfig describes the single database the pool connects to.
type PoolConfig struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// Pool lazily creates a bounded pgx pool on first Acquire and shares it for
// the lifetime of the process. Construct one per process and pass it to
// every component that needs the database.
type Pool struct {
	cfg PoolConfig

	mu sync.Mutex
	db *pgxpool.Pool
}

// NewPool records cfg; no connection is made until the first Acquire.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = DefaultMaxConns
	}
	return &Pool{cfg: cfg}
}

// Wrap adopts an already constructed pgx pool.
func Wrap(db *pgxpool.Pool) *Pool {
	return &Pool{db: db}
}

// Acquire returns a pooled connection, creating the pool on first use. It
// blocks while every connection is in use until one is released or ctx is
// done. Callers must Release the connection on every exit path.
func (p *Pool) Acquire(ctx context.Context) (*pgxpool.Conn, error) {
	db, err := p.open(ctx)
	if err != nil {
		return nil, err
	}

	conn, err := db.Acquire(ctx)
	if err != nil {
		return nil, mapError("acquire connection", err)
	}
	return conn, nil
}

// Release returns conn to the pool. A nil conn is ignored.
func (p *Pool) Release(conn *pgxpool.Conn) {
	if conn != nil {
		conn.Release()
	}
}

// Stat reports pool statistics, or nil before the pool exists.
func (p *Pool) Stat() *pgxpool.Stat {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db == nil {
		return nil
	}
	return p.db.Stat()
}

// Close closes every connection. The pool is recreated on the next Acquire.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db != nil {
		p.db.Close()
		p.db = nil
	}
}

// open creates the pool once. A failed attempt is not remembered, so a later
// call tries again.
func (p *Pool) open(ctx context.Context) (*pgxpool.Pool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.db != nil {
		return p.db, nil
	}

	cfg, err := p.poolConfig()
	if err != nil {
		return nil, err
	}

	db, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("negraph: create pool: %w: %w", negraph.ErrConnection, err)
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("negraph: ping database: %w: %w", negraph.ErrConnection, err)
	}

	p.db = db
	return db, nil
}

func (p *Pool) poolConfig() (*pgxpool.Config, error) {
	if p.cfg.URL == "" {
		return nil, fmt.Errorf("negraph: database url is empty")
	}

	cfg, err := pgxpool.ParseConfig(p.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("negraph: parse database url: %w", err)
	}

	cfg.MaxConns = p.cfg.MaxConns
	if p.cfg.MinConns > 0 {
		cfg.MinConns = min(p.cfg.MinConns, p.cfg.MaxConns)
	}
	if p.cfg.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = p.cfg.MaxConnLifetime
	}
	if p.cfg.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = p.cfg.MaxConnIdleTime
	}
	if p.cfg.ConnectTimeout > 0 {
		cfg.ConnConfig.ConnectTimeout = p.cfg.ConnectTimeout
	}

	return cfg, nil
}
