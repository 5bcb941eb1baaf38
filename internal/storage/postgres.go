package storage

import (
	"context"
	"strings"
	"time"

	logx "devour/pkg/logx"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

const (
	defaultBusyTimeout = time.Second
	defaultPGOpenConns = 8
	pgConnMaxIdleTime  = 5 * time.Minute
	pgConnectTimeout   = 10 * time.Second
)

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres")
	}
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	n := cfg.MaxOpenConns
	if n <= 0 {
		n = defaultPGOpenConns
	}
	db.SetMaxOpenConns(n)
	db.SetMaxIdleConns(n)
	db.SetConnMaxIdleTime(pgConnMaxIdleTime)

	pctx, cancel := context.WithTimeout(ctx, pgConnectTimeout)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "connect postgres")
	}

	log.Debug("postgres opened", logx.Int("max_open_conns", n))
	return newSQLStore(db, "postgres", sq.Dollar, log), nil
}
