// Package app assembles ledgerd from configuration: storage, the ledger
// engine, webhook delivery and the HTTP and gRPC transports.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/example/business-ledger/internal/auth"
	"github.com/example/business-ledger/internal/config"
	"github.com/example/business-ledger/internal/database"
	"github.com/example/business-ledger/internal/ledger"
	"github.com/example/business-ledger/internal/webhook"
)

// Storage groups the stores of one database.
type Storage struct {
	Driver   string
	Ledger   ledger.Store
	Webhooks webhook.Store
	Keys     auth.KeyStore

	migrate func(context.Context) ([]string, error)
	close   func()
}

// OpenStorage connects to the configured database. It does not migrate.
func OpenStorage(ctx context.Context, cfg config.Database) (*Storage, error) {
	switch cfg.Driver {
	case database.DriverPostgres:
		pool, err := database.OpenPostgres(ctx, cfg.URL, int32(cfg.MaxConns))
		if err != nil {
			return nil, err
		}
		return &Storage{
			Driver:   cfg.Driver,
			Ledger:   ledger.NewPostgresStore(pool),
			Webhooks: webhook.NewPostgresStore(pool),
			Keys:     &auth.PostgresKeyStore{Pool: pool},
			migrate: func(ctx context.Context) ([]string, error) {
				return database.MigratePostgres(ctx, pool)
			},
			close: pool.Close,
		}, nil

	case database.DriverSQLite:
		db, err := database.OpenSQLite(cfg.URL, cfg.MaxConns)
		if err != nil {
			return nil, err
		}
		return &Storage{
			Driver:   cfg.Driver,
			Ledger:   ledger.NewSQLiteStore(db),
			Webhooks: webhook.NewSQLiteStore(db),
			Keys:     &auth.SQLiteKeyStore{DB: db},
			migrate: func(ctx context.Context) ([]string, error) {
				return database.MigrateSQLite(ctx, db)
			},
			close: func() { _ = db.Close() },
		}, nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Migrate applies pending migrations and logs each one applied.
func (s *Storage) Migrate(ctx context.Context, logger *slog.Logger) error {
	applied, err := s.migrate(ctx)
	if err != nil {
		return fmt.Errorf("failed to migrate %s database: %w", s.Driver, err)
	}
	for _, v := range applied {
		logger.Info("applied migration", "driver", s.Driver, "version", v)
	}
	return nil
}

func (s *Storage) Close() {
	if s.close != nil {
		s.close()
	}
}
