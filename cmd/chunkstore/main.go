// Command chunkstore validates and stores embedded document chunks.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/custodia-labs/chunkstore/internal/adapters/driven/config/file"
	"github.com/custodia-labs/chunkstore/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/chunkstore/internal/adapters/driven/storage/postgres"
	"github.com/custodia-labs/chunkstore/internal/adapters/driven/storage/resilient"
	"github.com/custodia-labs/chunkstore/internal/adapters/driven/storage/rest"
	"github.com/custodia-labs/chunkstore/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/chunkstore/internal/adapters/driving/cli"
	"github.com/custodia-labs/chunkstore/internal/core/domain"
	"github.com/custodia-labs/chunkstore/internal/core/ports/driven"
	"github.com/custodia-labs/chunkstore/internal/core/services"
	"github.com/custodia-labs/chunkstore/internal/logger"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// A .env file in the working directory may carry SUPABASE_* or CHUNKSTORE_* values.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Error("loading .env: %v", err)
	}

	configStore, err := file.NewConfigStore(os.Getenv("CHUNKSTORE_CONFIG_DIR"))
	if err != nil {
		logger.Error("opening config: %v", err)
		return err
	}
	settingsService := services.NewSettingsService(configStore)

	engine, closeStore, err := openEngine(ctx, settingsService)
	if err != nil {
		// Settings commands still work so the configuration can be fixed.
		logger.Error("storage unavailable: %v (run 'chunkstore settings wizard')", err)
	} else {
		defer closeStore() //nolint:errcheck
	}

	cli.SetVersion(version)
	if engine != nil {
		cli.SetServices(engine, settingsService)
	} else {
		// Avoid a typed nil so commands see the storage as missing.
		cli.SetServices(nil, settingsService)
	}
	return cli.Execute(ctx)
}

// openEngine builds the configured store, wraps it with retries and returns
// the storage engine plus a function that releases the store.
func openEngine(ctx context.Context, settingsService *services.SettingsService) (*services.StorageEngine, func() error, error) {
	settings, err := settingsService.Get()
	if err != nil {
		return nil, nil, fmt.Errorf("reading settings: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return nil, nil, err
	}

	store, err := openStore(ctx, settings)
	if err != nil {
		return nil, nil, err
	}
	wrapped := resilient.New(store, resilient.FromSettings(settings.Retry))

	engine, err := services.NewStorageEngine(wrapped,
		services.WithSubBatchSize(settings.Storage.SubBatchSize),
		services.WithConcurrency(settings.Storage.Concurrency),
		services.WithVectorLimits(settings.Vector.Limits()),
	)
	if err != nil {
		wrapped.Close() //nolint:errcheck
		return nil, nil, err
	}
	logger.Debug("Storage backend: %s, sub-batch %d, concurrency %d",
		settings.Storage.Backend, settings.Storage.SubBatchSize, settings.Storage.Concurrency)
	return engine, wrapped.Close, nil
}

// openStore creates the RemoteStore for the configured backend.
func openStore(ctx context.Context, settings *domain.AppSettings) (driven.RemoteStore, error) {
	switch settings.Storage.Backend {
	case domain.StorageBackendMemory:
		return memory.NewChunkStore(), nil
	case domain.StorageBackendSQLite:
		return sqlite.NewStore(settings.Storage.DataDir)
	case domain.StorageBackendPostgres:
		return postgres.NewStore(ctx, settings.Postgres, settings.Vector.Dimensions)
	case domain.StorageBackendREST:
		return rest.NewStore(settings.REST)
	default:
		return nil, fmt.Errorf("%w: storage backend %q", domain.ErrUnsupportedType, settings.Storage.Backend)
	}
}
