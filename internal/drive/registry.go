package drive

import (
	"context"

	"github.com/bleepstore/bleepdrive/internal/config"
	"github.com/bleepstore/bleepdrive/internal/storage"
)

// builtinFactories returns a fresh map of the drivers shipped with
// BleepDrive.
func builtinFactories() map[string]Factory {
	return map[string]Factory{
		storage.DriverS3: func(ctx context.Context, _ string, cfg config.DiskConfig) (storage.Storage, error) {
			return storage.NewS3Storage(ctx, cfg)
		},
		storage.DriverMinio: func(_ context.Context, _ string, cfg config.DiskConfig) (storage.Storage, error) {
			return storage.NewMinioStorage(cfg)
		},
		storage.DriverGCS: func(ctx context.Context, _ string, cfg config.DiskConfig) (storage.Storage, error) {
			return storage.NewGCSStorage(ctx, cfg)
		},
		storage.DriverAzure: func(_ context.Context, _ string, cfg config.DiskConfig) (storage.Storage, error) {
			return storage.NewAzureStorage(cfg)
		},
		storage.DriverWebDAV: func(_ context.Context, _ string, cfg config.DiskConfig) (storage.Storage, error) {
			return storage.NewWebDAVStorage(cfg)
		},
		storage.DriverLocal: func(_ context.Context, _ string, cfg config.DiskConfig) (storage.Storage, error) {
			return storage.NewLocalStorage(cfg)
		},
		storage.DriverMemory: func(_ context.Context, _ string, cfg config.DiskConfig) (storage.Storage, error) {
			return storage.NewMemoryStorage(cfg), nil
		},
		storage.DriverSQLite: func(_ context.Context, _ string, cfg config.DiskConfig) (storage.Storage, error) {
			return storage.NewSQLiteStorage(cfg)
		},
	}
}

// Drivers returns the names of the built-in drivers.
func Drivers() []string {
	return []string{
		storage.DriverS3,
		storage.DriverMinio,
		storage.DriverGCS,
		storage.DriverAzure,
		storage.DriverWebDAV,
		storage.DriverLocal,
		storage.DriverMemory,
		storage.DriverSQLite,
	}
}
