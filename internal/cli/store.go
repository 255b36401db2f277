package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pendergraft/contraverify/internal/config"
	"github.com/pendergraft/contraverify/internal/storage"
)

// openStore opens and migrates the configured store. Commands that cannot
// work without one pass requireStore, which falls back to SQLite.
func openStore(ctx context.Context, cfg config.StorageConfig, requireStore bool, logger *slog.Logger) (storage.Store, error) {
	if cfg.Type == "" {
		if !requireStore {
			return nil, nil
		}
		cfg.Type = "sqlite"
	}

	store, err := storage.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return store, nil
}
