package retention_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"devour/internal/eventbus"
	"devour/internal/retention"
	"devour/internal/retention/retentiontest"
	logx "devour/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCanceler struct {
	mu       sync.Mutex
	canceled []string
}

func (f *fakeCanceler) Cancel(ch string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, ch)
	return true
}

type auditLog struct {
	mu      sync.Mutex
	entries []retention.AuditEntry
}

func (a *auditLog) AppendAudit(_ context.Context, e retention.AuditEntry) error {
	a.mu.Lock()
	a.entries = append(a.entries, e)
	a.mu.Unlock()
	return nil
}

func newManager(t *testing.T) (*retention.Manager, *retention.Cache, *retentiontest.MemStore, *fakeCanceler, *auditLog) {
	t.Helper()
	st := retentiontest.NewMemStore()
	cache := retention.NewCache(st, logx.Nop(), nil)
	cn := &fakeCanceler{}
	al := &auditLog{}
	m := retention.NewManager(st, cache, logx.Nop(), retention.WithCanceler(cn), retention.WithAuditor(al), retention.WithBus(eventbus.New()))
	return m, cache, st, cn, al
}

func TestConfigureIsVisibleInCacheImmediately(t *testing.T) {
	m, cache, _, _, al := newManager(t)
	ctx := context.Background()

	p, err := m.Configure(ctx, retention.ConfigureRequest{GuildID: "g", ChannelID: "42", Amount: 30, Unit: "days", ActorID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 30*24*time.Hour, p.InactiveAfter)

	got, ok := cache.Snapshot().Lookup("42")
	require.True(t, ok)
	assert.Equal(t, p.ID, got.ID)

	got, ok, err = m.Get(ctx, "42")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, p.InactiveAfter, got.InactiveAfter)
	require.Len(t, al.entries, 1)
	assert.Equal(t, "configure", al.entries[0].Action)
	assert.Equal(t, "30 days", al.entries[0].Detail)
}

func TestConfigureDefaults(t *testing.T) {
	m, _, _, _, _ := newManager(t)
	p, err := m.Configure(context.Background(), retention.ConfigureRequest{GuildID: "g", ChannelID: "1", Amount: 3})
	require.NoError(t, err)
	assert.Equal(t, 3*24*time.Hour, p.InactiveAfter)
}

func TestConfigureRejectsZeroAmount(t *testing.T) {
	m, _, _, _, _ := newManager(t)
	_, err := m.Configure(context.Background(), retention.ConfigureRequest{GuildID: "g", ChannelID: "1", Amount: 0, Unit: "hours"})
	require.Error(t, err)
	assert.True(t, retention.IsValidation(err))

	_, ok, err := m.Get(context.Background(), "1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConfigureRejectsInvalidInput(t *testing.T) {
	m, cache, st, _, _ := newManager(t)
	ctx := context.Background()
	for _, req := range []retention.ConfigureRequest{
		{GuildID: "g", ChannelID: "1", Amount: -1},
		{GuildID: "g", ChannelID: "1", Amount: 5, Unit: "fortnights"},
		{GuildID: "g", Amount: 5},
		{ChannelID: "1", Amount: 5},
	} {
		_, err := m.Configure(ctx, req)
		require.True(t, retention.IsValidation(err), "req %+v: %v", req, err)
	}
	assert.Equal(t, 0, st.Upserts)
	assert.Equal(t, 0, cache.Snapshot().Len())
}

func TestReconfigureKeepsLastSwept(t *testing.T) {
	m, _, st, _, _ := newManager(t)
	ctx := context.Background()
	p, err := m.Configure(ctx, retention.ConfigureRequest{GuildID: "g", ChannelID: "1", Amount: 1, Unit: "h"})
	require.NoError(t, err)
	at := time.Now().UTC()
	require.NoError(t, st.RecordSwept(ctx, "1", p.ID, at))

	p2, err := m.Configure(ctx, retention.ConfigureRequest{GuildID: "g", ChannelID: "1", Amount: 2, Unit: "h"})
	require.NoError(t, err)
	assert.Equal(t, p.ID, p2.ID)
	assert.Equal(t, 2*time.Hour, p2.InactiveAfter)
	require.NotNil(t, p2.LastSweptAt)
}

func TestRemoveCancelsSweepAndRefreshes(t *testing.T) {
	m, cache, _, cn, _ := newManager(t)
	ctx := context.Background()
	_, err := m.Configure(ctx, retention.ConfigureRequest{GuildID: "g", ChannelID: "1", Amount: 1})
	require.NoError(t, err)

	removed, err := m.Remove(ctx, "1", "u1")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, []string{"1"}, cn.canceled)
	_, ok := cache.Snapshot().Lookup("1")
	assert.False(t, ok)

	removed, err = m.Remove(ctx, "1", "u1")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Len(t, cn.canceled, 1)
}
