package main

import (
	"context"
	"fmt"

	"github.com/always-cache/fusion-client/contexttracker"
	"github.com/always-cache/fusion-client/storage"

	"github.com/go-redis/redis/v8"
)

// openStore opens the storage provider for the context tracker.
func openStore(ctx context.Context, config StoreConfig) (storage.Provider, error) {
	namespace := contexttracker.StorageNamespace
	switch config.Type {
	case "memory":
		return storage.NewMemoryProvider(), nil
	case "sqlite", "":
		filename := config.Path
		if filename == "memory" {
			filename = "file::memory:?cache=shared"
		}
		return storage.NewSQLiteProvider(ctx, filename, namespace)
	case "leveldb":
		return storage.OpenLevelDBProvider(ctx, config.Path, namespace)
	case "redis":
		return storage.OpenRedisProvider(ctx, &redis.Options{Addr: config.Redis}, namespace)
	default:
		return nil, fmt.Errorf("unknown store type %q", config.Type)
	}
}
