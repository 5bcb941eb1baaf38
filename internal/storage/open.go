package storage

import (
	"context"
	"fmt"
	"strings"

	logx "devour/pkg/logx"
)

const DefaultSQLitePath = "./data/devour.db"

// Open initializes the configured store and, unless cfg.SkipMigrate is set,
// brings its schema up to date.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))

	var (
		st  Store
		err error
	)
	switch driver {
	case "", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Path) == "" {
			cfg.Path = DefaultSQLitePath
		}
		st, err = openSQLite(ctx, cfg, log)
	case "postgres", "postgresql":
		st, err = openPostgres(ctx, cfg, log)
	case "file":
		st, err = openFile(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
	if err != nil {
		return nil, err
	}

	if m, ok := st.(Migrator); ok && !cfg.SkipMigrate {
		applied, err := m.Migrate(ctx)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		if len(applied) > 0 {
			log.Info("storage migrated", logx.String("driver", st.Driver()), logx.Any("versions", applied))
		}
	}
	return st, nil
}
