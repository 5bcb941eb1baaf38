package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	logx "devour/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recSender struct {
	mu    sync.Mutex
	fails int
	texts []string
	calls int
}

func (r *recSender) Name() string { return "rec" }

func (r *recSender) Send(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.fails > 0 {
		r.fails--
		return errors.New("unavailable")
	}
	r.texts = append(r.texts, text)
	return nil
}

func (r *recSender) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

type memDedup struct {
	mu sync.Mutex
	m  map[string]time.Time
}

func (d *memDedup) PutDedup(_ context.Context, key string, until time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.m[key] = until
	return nil
}

func (d *memDedup) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.m[key]
	return u, ok, nil
}

func (d *memDedup) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.m)
}

func start(t *testing.T, cfg Config, store DedupStore, senders ...Sender) *Service {
	t.Helper()
	cfg.Enabled = true
	if cfg.RatePerSec == 0 {
		cfg.RatePerSec = 1000
	}
	s := New(cfg, senders, store, logx.Nop(), nil)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAlertDeliveredToEverySender(t *testing.T) {
	a, b := &recSender{}, &recSender{}
	s := start(t, Config{}, nil, a, b)

	s.Alert(context.Background(), "sweep:c1:missing_access", "channel c1 is gone")
	waitFor(t, "delivery", func() bool { return len(a.sent()) == 1 && len(b.sent()) == 1 })
	assert.Equal(t, "[devour] ALERT: channel c1 is gone", a.sent()[0])
	assert.Len(t, s.History(), 2)
}

func TestDedupSuppressesSameKey(t *testing.T) {
	snd := &recSender{}
	store := &memDedup{m: map[string]time.Time{}}
	s := start(t, Config{DedupWindow: time.Hour}, store, snd)

	for i := 0; i < 5; i++ {
		s.Alert(context.Background(), "sweep:c1:missing_access", "again")
	}
	s.Alert(context.Background(), "sweep:c2:missing_access", "other")
	waitFor(t, "delivery", func() bool { return len(snd.sent()) == 2 })
	waitFor(t, "persist", func() bool { return store.len() == 2 })

	// A fresh service sharing the store still suppresses the key.
	snd2 := &recSender{}
	s2 := start(t, Config{DedupWindow: time.Hour}, store, snd2)
	require.NoError(t, s2.Notify(context.Background(), Notification{Key: "sweep:c1:missing_access", Text: "after restart"}))
	require.NoError(t, s2.Notify(context.Background(), Notification{Key: "sweep:c3:unknown_channel", Text: "new"}))
	waitFor(t, "delivery", func() bool { return len(snd2.sent()) == 1 })
	assert.Contains(t, snd2.sent()[0], "new")
}

func TestRetriesThenSucceeds(t *testing.T) {
	snd := &recSender{fails: 2}
	start(t, Config{RetryMax: 3, RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond}, nil, snd).
		Alert(context.Background(), "k", "flaky")
	waitFor(t, "delivery", func() bool { return len(snd.sent()) == 1 })
	snd.mu.Lock()
	assert.Equal(t, 3, snd.calls)
	snd.mu.Unlock()
}

func TestGivesUpAfterRetryBudget(t *testing.T) {
	snd := &recSender{fails: 10}
	s := start(t, Config{RetryMax: 1, RetryBase: time.Millisecond, RetryMaxDelay: time.Millisecond}, nil, snd)
	s.Alert(context.Background(), "k", "down")
	waitFor(t, "failure recorded", func() bool {
		h := s.History()
		return len(h) == 1 && h[0].Error != ""
	})
	snd.mu.Lock()
	assert.Equal(t, 2, snd.calls)
	snd.mu.Unlock()
}

func TestDisabledAndStopped(t *testing.T) {
	s := New(Config{}, []Sender{&recSender{}}, nil, logx.Nop(), nil)
	assert.ErrorIs(t, s.Notify(context.Background(), Notification{Text: "x"}), ErrDisabled)

	s = New(Config{Enabled: true}, nil, nil, logx.Nop(), nil)
	assert.False(t, s.Enabled())

	s = start(t, Config{}, nil, &recSender{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.ErrorIs(t, s.Notify(context.Background(), Notification{Text: "x"}), ErrStopped)
}

func TestLogSinkUsesTextKey(t *testing.T) {
	snd := &recSender{}
	s := start(t, Config{DedupWindow: time.Minute}, nil, snd)
	sink := s.LogSink()
	require.NoError(t, sink.Alert(context.Background(), "store down"))
	require.NoError(t, sink.Alert(context.Background(), "store down"))
	waitFor(t, "delivery", func() bool { return len(snd.sent()) == 1 })
	assert.Equal(t, "[devour] warning: store down", snd.sent()[0])
}

func TestRetryDelayIsCapped(t *testing.T) {
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt < 10; attempt++ {
		d := retryDelay(cfg, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}
}
