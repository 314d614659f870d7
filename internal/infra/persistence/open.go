// Package persistence selects a Storage backend from configuration.
package persistence

import (
	"context"
	"fmt"

	"evalcore/internal/config"
	"evalcore/internal/core"
	"evalcore/internal/infra/persistence/memory"
	"evalcore/internal/infra/persistence/postgres"
	"evalcore/internal/infra/persistence/sqlite"
)

// Open constructs the store named by settings.StoreDriver.
func Open(ctx context.Context, settings config.Settings) (core.Storage, error) {
	switch settings.StoreDriver {
	case "postgres":
		if settings.DatabaseURL == "" {
			return nil, fmt.Errorf("postgres store: DATABASE_URL not set")
		}
		return postgres.New(ctx, settings.DatabaseURL)
	case "sqlite":
		return sqlite.New(ctx, settings.SQLitePath)
	case "memory":
		return memory.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", settings.StoreDriver)
	}
}
