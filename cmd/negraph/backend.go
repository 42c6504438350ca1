package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/niechao136/neGraph"
	"github.com/niechao136/neGraph/checkpoint"
	"github.com/niechao136/neGraph/gormstore"
	"github.com/niechao136/neGraph/internal/config"
	"github.com/niechao136/neGraph/internal/logging"
	"github.com/niechao136/neGraph/postgres"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

// backend is the store selected by database.driver plus everything built on it.
type backend struct {
	cfg    *config.Config
	log    zerolog.Logger
	store  negraph.Store
	schema negraph.SchemaManager
	saver  *checkpoint.Saver
	close  func()
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func openBackend(c *cli.Context) (*backend, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	b := &backend{cfg: cfg, log: logger}

	switch cfg.Database.Driver {
	case gormstore.DriverSQLite:
		s, err := gormstore.Open(gormstore.Config{
			Driver:          gormstore.DriverSQLite,
			DSN:             cfg.Database.URL,
			MaxConns:        int(cfg.Database.MaxConns),
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
			MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
			Logger:          logger,
		})
		if err != nil {
			return nil, err
		}
		b.store, b.schema = s, s
		b.close = func() { _ = s.Close() }
	default:
		pool := postgres.NewPool(postgres.PoolConfig{
			URL:             cfg.Database.URL,
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
			MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
			ConnectTimeout:  cfg.Database.ConnectTimeout,
		})
		s := postgres.New(pool)
		b.store, b.schema = s, s
		b.close = pool.Close
	}

	b.saver = checkpoint.New(b.store,
		checkpoint.WithLogger(logger),
		checkpoint.WithPageLimits(cfg.Pagination.DefaultLimit, cfg.Pagination.MaxLimit),
	)

	logger.Debug().Str("driver", cfg.Database.Driver).Msg("Opened store")
	return b, nil
}

func printJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
