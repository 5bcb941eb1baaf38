package storage

import (
	"context"
	"errors"
	"time"

	"devour/internal/retention"
)

var ErrClosed = errors.New("storage closed")

// Config configures the store.
//
// Driver values:
//   - "sqlite" (default): SQLite database file, pure Go driver
//   - "postgres": PostgreSQL via DSN
//   - "file": dependency-free JSON snapshot + journal
type Config struct {
	Driver       string
	Path         string
	DSN          string
	BusyTimeout  time.Duration // sqlite only; 0 means default
	MaxOpenConns int           // postgres only; 0 means default

	// SkipMigrate opens the store without applying pending migrations.
	SkipMigrate bool
}

// Store is the persistence API used by the app: retention policies plus the
// audit log and the notifier's dedup state.
type Store interface {
	retention.Store
	retention.Auditor

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error
	Driver() string
}

// Migrator is implemented by backends with a versioned schema.
type Migrator interface {
	// Migrate applies pending migrations and returns their versions.
	Migrate(ctx context.Context) ([]int, error)
	SchemaVersion(ctx context.Context) (int, error)
}
