package storage

import (
	"context"
	"embed"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	logx "devour/pkg/logx"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
)

//go:embed migrations
var migrationsFS embed.FS

const migrationsTable = "schema_migrations"

// pgMigrateLock is an arbitrary advisory lock key so two processes never
// migrate the same database at once.
const pgMigrateLock = 0x6465766f7572

type migration struct {
	version int
	name    string
	sql     string
}

// loadMigrations reads migrations/<dialect>/NNNN_name.sql in version order.
func loadMigrations(dialect string) ([]migration, error) {
	dir := path.Join("migrations", dialect)
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read migrations for %s", dialect)
	}
	out := make([]migration, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		prefix, _, _ := strings.Cut(name, "_")
		v, err := strconv.Atoi(prefix)
		if err != nil || v <= 0 {
			return nil, errors.Errorf("migration %s: name must start with a positive version", name)
		}
		b, err := migrationsFS.ReadFile(path.Join(dir, name))
		if err != nil {
			return nil, errors.Wrapf(err, "read migration %s", name)
		}
		out = append(out, migration{version: v, name: name, sql: string(b)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	for i := 1; i < len(out); i++ {
		if out[i].version == out[i-1].version {
			return nil, errors.Errorf("duplicate migration version %d", out[i].version)
		}
	}
	return out, nil
}

func (s *sqlStore) ensureMigrationsTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+migrationsTable+` (
  version    INTEGER NOT NULL PRIMARY KEY,
  applied_at BIGINT  NOT NULL
)`)
	return errors.Wrap(err, "create schema_migrations")
}

func (s *sqlStore) SchemaVersion(ctx context.Context) (int, error) {
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return 0, err
	}
	var v int
	err := s.getBuilder(ctx, &v, s.builder.Select("COALESCE(MAX(version), 0)").From(migrationsTable))
	return v, errors.Wrap(err, "read schema version")
}

func (s *sqlStore) Migrate(ctx context.Context) ([]int, error) {
	ms, err := loadMigrations(s.dialect)
	if err != nil {
		return nil, err
	}
	cur, err := s.SchemaVersion(ctx)
	if err != nil {
		return nil, err
	}

	var applied []int
	for _, m := range ms {
		if m.version <= cur {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return applied, err
		}
		applied = append(applied, m.version)
		s.log.Debug("migration applied", logx.String("driver", s.dialect), logx.String("name", m.name))
	}
	return applied, nil
}

func (s *sqlStore) applyMigration(ctx context.Context, m migration) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrapf(err, "migration %s: begin", m.name)
	}
	defer func() { _ = tx.Rollback() }()

	if s.dialect == "postgres" {
		if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", pgMigrateLock); err != nil {
			return errors.Wrapf(err, "migration %s: lock", m.name)
		}
		// Another process may have applied it while we waited for the lock.
		var n int
		q, args, _ := s.builder.Select("COUNT(*)").From(migrationsTable).Where(sq.Eq{"version": m.version}).ToSql()
		if err := tx.GetContext(ctx, &n, q, args...); err != nil {
			return errors.Wrapf(err, "migration %s: check", m.name)
		}
		if n > 0 {
			return nil
		}
	}

	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		return errors.Wrapf(err, "migration %s", m.name)
	}
	q, args, err := s.builder.Insert(migrationsTable).Columns("version", "applied_at").Values(m.version, s.now().UnixMilli()).ToSql()
	if err != nil {
		return errors.Wrap(err, "build query")
	}
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return errors.Wrapf(err, "migration %s: record", m.name)
	}
	return errors.Wrapf(tx.Commit(), "migration %s: commit", m.name)
}
