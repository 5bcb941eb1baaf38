package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"devour/internal/retention"
	"devour/internal/retention/retentiontest"
	logx "devour/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T, driver string) Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "devour.db")
	st, err := Open(context.Background(), Config{Driver: driver, Path: path}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSQLiteContract(t *testing.T) {
	retentiontest.RunStoreContract(t, func(t *testing.T) retention.Store { return openTemp(t, "sqlite") })
}

func TestFileContract(t *testing.T) {
	retentiontest.RunStoreContract(t, func(t *testing.T) retention.Store { return openTemp(t, "file") })
}

func TestReopenKeepsPolicies(t *testing.T) {
	for _, driver := range []string{"sqlite", "file"} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "devour.db")
			cfg := Config{Driver: driver, Path: path}

			st, err := Open(ctx, cfg, logx.Nop())
			require.NoError(t, err)
			p, err := st.Upsert(ctx, retention.Policy{GuildID: "g", ChannelID: "42", InactiveAfter: 30 * 24 * time.Hour})
			require.NoError(t, err)
			at := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
			require.NoError(t, st.RecordSwept(ctx, "42", p.ID, at))
			_, err = st.Upsert(ctx, retention.Policy{GuildID: "g", ChannelID: "43", InactiveAfter: time.Hour})
			require.NoError(t, err)
			_, err = st.Remove(ctx, "43")
			require.NoError(t, err)
			require.NoError(t, st.Close())

			st, err = Open(ctx, cfg, logx.Nop())
			require.NoError(t, err)
			defer st.Close()
			all, err := st.ListAll(ctx)
			require.NoError(t, err)
			require.Len(t, all, 1)
			assert.Equal(t, p.ID, all[0].ID)
			assert.Equal(t, 30*24*time.Hour, all[0].InactiveAfter)
			require.NotNil(t, all[0].LastSweptAt)
			assert.True(t, all[0].LastSweptAt.Equal(at))
		})
	}
}

func TestFileJournalSurvivesWithoutClose(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "policies")
	st, err := Open(ctx, Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	_, err = st.Upsert(ctx, retention.Policy{GuildID: "g", ChannelID: "1", InactiveAfter: time.Minute})
	require.NoError(t, err)

	// A second open replays the journal written so far.
	st2, err := Open(ctx, Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st2.Close()
	_, ok, err := st2.Get(ctx, "1")
	require.NoError(t, err)
	assert.True(t, ok)
	_ = st.Close()
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "devour.db")

	st, err := Open(ctx, Config{Driver: "sqlite", Path: path, SkipMigrate: true}, logx.Nop())
	require.NoError(t, err)
	m, ok := st.(Migrator)
	require.True(t, ok)

	v, err := m.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, v)

	applied, err := m.Migrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, applied)

	applied, err = m.Migrate(ctx)
	require.NoError(t, err)
	assert.Empty(t, applied)

	v, err = m.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	require.NoError(t, st.Close())
}

func TestLoadMigrationsOrdered(t *testing.T) {
	for _, d := range []string{"sqlite", "postgres"} {
		ms, err := loadMigrations(d)
		require.NoError(t, err)
		require.NotEmpty(t, ms)
		for i := 1; i < len(ms); i++ {
			assert.Less(t, ms[i-1].version, ms[i].version)
		}
	}
}

func TestDedupAndAudit(t *testing.T) {
	for _, driver := range []string{"sqlite", "file"} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			st := openTemp(t, driver)

			until := time.Now().Add(time.Hour).Truncate(time.Millisecond)
			require.NoError(t, st.PutDedup(ctx, "sweep:42:missing_access", until))
			got, ok, err := st.GetDedup(ctx, "sweep:42:missing_access")
			require.NoError(t, err)
			require.True(t, ok)
			assert.True(t, got.Equal(until))

			_, ok, err = st.GetDedup(ctx, "nope")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, st.AppendAudit(ctx, retention.AuditEntry{ChannelID: "42", Action: "configure", Detail: "30 days"}))
			require.NoError(t, st.Ping(ctx))
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "mongo"}, logx.Nop())
	require.Error(t, err)
}
