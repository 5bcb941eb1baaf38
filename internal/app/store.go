package app

import (
	"context"

	"devour/internal/config"
	"devour/internal/storage"
	logx "devour/pkg/logx"
)

// OpenStore opens the configured Retention Store without the rest of the
// app, for offline commands. migrate=false leaves the schema untouched.
func OpenStore(ctx context.Context, cfg *config.Config, log logx.Logger, migrate bool) (storage.Store, error) {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	sc.SkipMigrate = !migrate
	return storage.Open(ctx, sc, log)
}
