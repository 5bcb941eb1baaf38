package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"devour/internal/config"
	"devour/internal/eventbus"
	"devour/internal/retention"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseConfig = `
discord:
  token: test-token
  register_commands: false
logging:
  level: error
storage:
  driver: file
  path: %s
retention:
  sweep_every: 5m
  refresh_every: 1m
`

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "devour.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

// newTestApp builds an App on the file store without starting it, so
// nothing dials Discord.
func newTestApp(t *testing.T) *App {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf(baseConfig, filepath.Join(dir, "policies"))
	a, err := New(context.Background(), Options{ConfigPath: writeConfig(t, dir, body), Version: "test"})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = a.store.Close()
		_ = a.logs.Close()
	})
	return a
}

func scheduleSpecs(a *App) map[string]string {
	out := map[string]string{}
	for _, s := range a.sched.Snapshot().Schedules {
		out[s.Name] = s.Spec
	}
	return out
}

func TestNewRequiresDiscordToken(t *testing.T) {
	dir := t.TempDir()
	body := "storage:\n  driver: file\n  path: " + filepath.Join(dir, "p") + "\n"
	_, err := New(context.Background(), Options{ConfigPath: writeConfig(t, dir, body)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord.token")
}

func TestRegisterJobsUsesRetentionIntervals(t *testing.T) {
	a := newTestApp(t)
	require.NoError(t, a.registerJobs(a.rs))

	specs := scheduleSpecs(a)
	assert.Equal(t, "@every 5m0s", specs[jobSweep])
	assert.Equal(t, "@every 1m0s", specs[jobRefresh])
}

func TestApplyConfigReschedulesRetention(t *testing.T) {
	a := newTestApp(t)
	require.NoError(t, a.registerJobs(a.rs))

	events, unsub := a.bus.Subscribe(16)
	defer unsub()

	oldCfg := a.cfgm.Get()
	newCfg := *oldCfg
	newCfg.Retention.SweepEvery = "2m"
	newCfg.Retention.RefreshEvery = "30s"
	newCfg.Retention.Workers = 8

	a.applyConfig(context.Background(), oldCfg, &newCfg)

	assert.Equal(t, 2*time.Minute, a.rs.SweepEvery)
	specs := scheduleSpecs(a)
	assert.Equal(t, "@every 2m0s", specs[jobSweep])
	assert.Equal(t, "@every 30s", specs[jobRefresh])
	assert.Equal(t, 8, a.sweeps.Snapshot().Workers)

	select {
	case e := <-events:
		require.Equal(t, eventbus.TypeConfigReloaded, e.Type)
		assert.Equal(t, []string{"retention"}, e.Data)
	case <-time.After(2 * time.Second):
		t.Fatal("no config.reloaded event")
	}
}

func TestApplyConfigWithoutChangesPublishesNothing(t *testing.T) {
	a := newTestApp(t)
	events, unsub := a.bus.Subscribe(4)
	defer unsub()

	cfg := a.cfgm.Get()
	a.applyConfig(context.Background(), cfg, cfg)

	select {
	case e := <-events:
		t.Fatalf("unexpected event %s", e.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestApplyConfigKeepsRetentionOnInvalidValues(t *testing.T) {
	a := newTestApp(t)
	prev := a.rs

	oldCfg := a.cfgm.Get()
	newCfg := *oldCfg
	newCfg.Retention.PageSize = 500
	a.applyConfig(context.Background(), oldCfg, &newCfg)

	assert.Equal(t, prev, a.rs)
}

func TestStatusAndReadiness(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	_, err := a.policies.Configure(ctx, retention.ConfigureRequest{GuildID: "g1", ChannelID: "c1", Amount: 3, Unit: "days"})
	require.NoError(t, err)

	st, ok := a.status(ctx).(Status)
	require.True(t, ok)
	assert.Equal(t, 1, st.Policies)
	assert.Equal(t, "file", st.Storage)
	assert.Equal(t, "test", st.Version)
	assert.Len(t, st.Engines, 2)
	assert.Nil(t, st.LastTick)

	assert.ErrorIs(t, a.ready(ctx), errGatewayDown)
}

func TestMapNotifierConfigDefaultsWhenOmitted(t *testing.T) {
	n, err := mapNotifierConfig(&config.Config{})
	require.NoError(t, err)
	assert.True(t, n.Enabled)
	assert.Equal(t, defaultDedupWindow, n.DedupWindow)

	n, err = mapNotifierConfig(&config.Config{Notifier: &config.NotifierConfig{Enabled: true, DedupWindow: "10m", RetryBase: "1s"}})
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, n.DedupWindow)
	assert.Equal(t, time.Second, n.RetryBase)

	_, err = mapNotifierConfig(&config.Config{Notifier: &config.NotifierConfig{RetryBase: "soon"}})
	assert.Error(t, err)
}

func TestMapTelegramConfigNeedsTokenAndChat(t *testing.T) {
	_, ok := mapTelegramConfig(&config.Config{})
	assert.False(t, ok)
	_, ok = mapTelegramConfig(&config.Config{Telegram: &config.TelegramConfig{Token: "t"}})
	assert.False(t, ok)
	tc, ok := mapTelegramConfig(&config.Config{Telegram: &config.TelegramConfig{Token: " t ", ChatID: -100, ThreadID: 7}})
	require.True(t, ok)
	assert.Equal(t, "t", tc.Token)
	assert.Equal(t, int64(-100), tc.ChatID)
	assert.Equal(t, 7, tc.ThreadID)
}

func TestMapEngineConfigsSplitsTriggersFromSweeps(t *testing.T) {
	rs, err := config.RetentionConfig{Workers: 6, QueueSize: 32, SweepTimeout: "3m"}.Resolve()
	require.NoError(t, err)

	tasks, sweeps := mapEngineConfigs(rs)
	assert.Equal(t, "tasks", tasks.Name)
	assert.Equal(t, "sweep", sweeps.Name)
	assert.Equal(t, 6, sweeps.Workers)
	assert.Equal(t, 32, sweeps.QueueSize)
	assert.Equal(t, 3*time.Minute, sweeps.DefaultTimeout)
	assert.Equal(t, 3*time.Minute, mapSweepConfig(rs).Timeout)
}

func TestSweepScheduleOverridesInterval(t *testing.T) {
	a := newTestApp(t)
	require.NoError(t, a.registerJobs(a.rs))

	oldCfg := a.cfgm.Get()
	newCfg := *oldCfg
	newCfg.Retention.SweepSchedule = "*/10 * * * *"
	require.NoError(t, validateSweepSchedule(&newCfg))
	a.applyConfig(context.Background(), oldCfg, &newCfg)

	assert.Equal(t, "*/10 * * * *", scheduleSpecs(a)[jobSweep])

	newCfg.Retention.SweepSchedule = "every tuesday"
	assert.Error(t, validateSweepSchedule(&newCfg))
}
