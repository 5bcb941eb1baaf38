package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"devour/internal/retention"
	logx "devour/pkg/logx"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

const (
	policiesTable = "retention_policies"
	auditTable    = "audit"
	dedupTable    = "dedup"
)

var policyColumns = []string{"id", "guild_id", "channel_id", "inactive_after_ms", "last_swept_at", "created_at", "updated_at"}

// sqlStore implements Store for every SQL dialect. Timestamps are stored as
// unix milliseconds so both dialects share one schema shape.
type sqlStore struct {
	db      *sqlx.DB
	builder sq.StatementBuilderType
	dialect string
	log     logx.Logger
	now     func() time.Time
}

type policyRow struct {
	ID              string        `db:"id"`
	GuildID         string        `db:"guild_id"`
	ChannelID       string        `db:"channel_id"`
	InactiveAfterMS int64         `db:"inactive_after_ms"`
	LastSweptAt     sql.NullInt64 `db:"last_swept_at"`
	CreatedAt       int64         `db:"created_at"`
	UpdatedAt       int64         `db:"updated_at"`
}

func (r policyRow) policy() retention.Policy {
	p := retention.Policy{
		ID:            r.ID,
		GuildID:       r.GuildID,
		ChannelID:     r.ChannelID,
		InactiveAfter: time.Duration(r.InactiveAfterMS) * time.Millisecond,
		CreatedAt:     time.UnixMilli(r.CreatedAt).UTC(),
		UpdatedAt:     time.UnixMilli(r.UpdatedAt).UTC(),
	}
	if r.LastSweptAt.Valid {
		t := time.UnixMilli(r.LastSweptAt.Int64).UTC()
		p.LastSweptAt = &t
	}
	return p
}

func newSQLStore(db *sqlx.DB, dialect string, ph sq.PlaceholderFormat, log logx.Logger) *sqlStore {
	return &sqlStore{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(ph),
		dialect: dialect,
		log:     log,
		now:     time.Now,
	}
}

func (s *sqlStore) Driver() string { return s.dialect }

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlStore) execBuilder(ctx context.Context, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build query")
	}
	return s.db.ExecContext(ctx, query, args...)
}

func (s *sqlStore) getBuilder(ctx context.Context, dest any, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return errors.Wrap(err, "build query")
	}
	return s.db.GetContext(ctx, dest, query, args...)
}

func (s *sqlStore) selectBuilder(ctx context.Context, dest any, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return errors.Wrap(err, "build query")
	}
	return s.db.SelectContext(ctx, dest, query, args...)
}

func (s *sqlStore) Upsert(ctx context.Context, p retention.Policy) (retention.Policy, error) {
	if err := p.Validate(); err != nil {
		return retention.Policy{}, err
	}
	ms := p.InactiveAfter.Milliseconds()
	if ms <= 0 {
		return retention.Policy{}, &retention.ValidationError{Field: "inactive_after", Reason: "must be at least 1ms"}
	}
	now := s.now().UnixMilli()

	// The insert carries a fresh id; on conflict the existing id, created_at
	// and last_swept_at are kept.
	q := s.builder.
		Insert(policiesTable).
		Columns("id", "guild_id", "channel_id", "inactive_after_ms", "created_at", "updated_at").
		Values(uuid.NewString(), p.GuildID, p.ChannelID, ms, now, now).
		Suffix("ON CONFLICT (channel_id) DO UPDATE SET " +
			"guild_id = excluded.guild_id, " +
			"inactive_after_ms = excluded.inactive_after_ms, " +
			"updated_at = excluded.updated_at " +
			"RETURNING " + strings.Join(policyColumns, ", "))

	var row policyRow
	if err := s.getBuilder(ctx, &row, q); err != nil {
		return retention.Policy{}, errors.Wrapf(err, "upsert policy for channel %s", p.ChannelID)
	}
	return row.policy(), nil
}

func (s *sqlStore) Remove(ctx context.Context, channelID string) (bool, error) {
	res, err := s.execBuilder(ctx, s.builder.Delete(policiesTable).Where(sq.Eq{"channel_id": channelID}))
	if err != nil {
		return false, errors.Wrapf(err, "remove policy for channel %s", channelID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "rows affected")
	}
	return n > 0, nil
}

func (s *sqlStore) Get(ctx context.Context, channelID string) (retention.Policy, bool, error) {
	var row policyRow
	err := s.getBuilder(ctx, &row, s.builder.Select(policyColumns...).From(policiesTable).Where(sq.Eq{"channel_id": channelID}))
	if errors.Is(err, sql.ErrNoRows) {
		return retention.Policy{}, false, nil
	}
	if err != nil {
		return retention.Policy{}, false, errors.Wrapf(err, "get policy for channel %s", channelID)
	}
	return row.policy(), true, nil
}

func (s *sqlStore) ListAll(ctx context.Context) ([]retention.Policy, error) {
	var rows []policyRow
	if err := s.selectBuilder(ctx, &rows, s.builder.Select(policyColumns...).From(policiesTable).OrderBy("channel_id")); err != nil {
		return nil, errors.Wrap(err, "list policies")
	}
	out := make([]retention.Policy, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.policy())
	}
	return out, nil
}

func (s *sqlStore) RecordSwept(ctx context.Context, channelID, policyID string, at time.Time) error {
	ms := at.UnixMilli()
	q := s.builder.
		Update(policiesTable).
		Set("last_swept_at", ms).
		Where(sq.Eq{"channel_id": channelID}).
		Where(sq.Or{sq.Eq{"last_swept_at": nil}, sq.Lt{"last_swept_at": ms}})
	if policyID != "" {
		q = q.Where(sq.Eq{"id": policyID})
	}
	if _, err := s.execBuilder(ctx, q); err != nil {
		return errors.Wrapf(err, "record sweep for channel %s", channelID)
	}
	return nil
}

func (s *sqlStore) AppendAudit(ctx context.Context, e retention.AuditEntry) error {
	if e.At.IsZero() {
		e.At = s.now()
	}
	q := s.builder.
		Insert(auditTable).
		Columns("at", "actor_id", "guild_id", "channel_id", "action", "detail").
		Values(e.At.UnixMilli(), e.ActorID, e.GuildID, e.ChannelID, e.Action, e.Detail)
	_, err := s.execBuilder(ctx, q)
	return errors.Wrap(err, "append audit")
}

func (s *sqlStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	q := s.builder.
		Insert(dedupTable).
		Columns("dedup_key", "expires_at").
		Values(key, until.UnixMilli()).
		Suffix("ON CONFLICT (dedup_key) DO UPDATE SET expires_at = excluded.expires_at")
	if _, err := s.execBuilder(ctx, q); err != nil {
		return errors.Wrap(err, "put dedup")
	}
	// Expired keys are pruned lazily on writes.
	_, err := s.execBuilder(ctx, s.builder.Delete(dedupTable).Where(sq.Lt{"expires_at": s.now().UnixMilli()}))
	return errors.Wrap(err, "prune dedup")
}

func (s *sqlStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.getBuilder(ctx, &ms, s.builder.Select("expires_at").From(dedupTable).Where(sq.Eq{"dedup_key": key}))
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, errors.Wrap(err, "get dedup")
	}
	return time.UnixMilli(ms), true, nil
}
