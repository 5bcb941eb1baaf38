package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	logx "devour/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
discord:
  guild_id: "111"
logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ""
storage:
  driver: sqlite
  path: ./data/devour.db
retention:
  sweep_every: 2m
  refresh_every: 10m
  keep_pinned: true
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestDecodeYAMLAndResolveDefaults(t *testing.T) {
	cfg, err := Decode("devour.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))

	s, err := cfg.Retention.Resolve()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, s.SweepEvery)
	// refresh is capped at the sweep interval
	assert.Equal(t, 2*time.Minute, s.RefreshEvery)
	assert.Equal(t, DefaultSweepTimeout, s.SweepTimeout)
	assert.Equal(t, DefaultSweepWorkers, s.Workers)
	assert.Equal(t, DefaultPageSize, s.PageSize)
	assert.Equal(t, DefaultBulkMaxAge, s.BulkMaxAge)
	assert.Equal(t, 5, s.Burst)
	assert.True(t, s.KeepPinned)
	assert.True(t, cfg.Discord.ShouldRegisterCommands())
}

func TestPublishKeepsNewest(t *testing.T) {
	m := NewManager("", Env{})
	ch := m.Subscribe(1)
	a, b := &Config{}, &Config{}
	m.publish(a)
	m.publish(b)
	assert.Same(t, b, <-ch)
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	oldCfg := &Config{Discord: DiscordConfig{Token: "secret-a"}}
	newCfg := &Config{Discord: DiscordConfig{Token: "secret-b"}, Retention: RetentionConfig{Workers: 2}}
	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"discord", "retention"}, changed)

	var buf bytes.Buffer
	logx.NewWriter(&buf, "debug").Info("config reloaded", attrs...)
	assert.NotContains(t, buf.String(), "secret-")
	assert.Contains(t, buf.String(), `"discord.token_changed":true`)
}

func TestDebouncerCoalescesBursts(t *testing.T) {
	var runs atomic.Int32
	d := &debouncer{delay: 30 * time.Millisecond, fn: func() { runs.Add(1) }}
	defer d.stop()
	for range 5 {
		d.poke()
		time.Sleep(5 * time.Millisecond)
	}
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.EqualValues(t, 1, runs.Load())
}

func TestReloadSkipsUnchangedAndRejectsInvalid(t *testing.T) {
	p := writeFile(t, "devour.yaml", sampleYAML)
	m := NewManager(p, Env{})
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)

	ok, err := m.Reload(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	m.SetValidator(func(context.Context, *Config) error { return assert.AnError })
	require.NoError(t, os.WriteFile(p, []byte(sampleYAML+"  workers: 3\n"), 0o600))
	ok, err = m.Reload(context.Background())
	require.ErrorIs(t, err, assert.AnError)
	assert.False(t, ok)
	assert.Zero(t, m.Get().Retention.Workers)

	m.SetValidator(nil)
	ok, err = m.Reload(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, (<-ch).Retention.Workers)
}

func TestDecodeRejectsNonStringYAMLKeys(t *testing.T) {
	_, err := Decode("devour.yaml", []byte("retention:\n  1: x\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retention")
}

func TestMaxRateLimitRetriesKeepsExplicitZero(t *testing.T) {
	for _, tc := range []struct {
		body string
		want int
	}{
		{"retention:\n  sweep_every: 5m\n", DefaultMaxRateLimitRetries},
		{"retention:\n  max_rate_limit_retries: 0\n", 0},
		{"retention:\n  max_rate_limit_retries: 2\n", 2},
	} {
		cfg, err := Decode("devour.yaml", []byte(tc.body))
		require.NoError(t, err)
		s, err := cfg.Retention.Resolve()
		require.NoError(t, err)
		assert.Equal(t, tc.want, s.MaxRateLimitRetries, tc.body)
	}

	cfg, err := Decode("devour.yaml", []byte("retention:\n  max_rate_limit_retries: -1\n"))
	require.NoError(t, err)
	_, err = cfg.Retention.Resolve()
	assert.ErrorContains(t, err, "max_rate_limit_retries")
}
