package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

type captureSink struct {
	mu   sync.Mutex
	msgs []string
}

func (c *captureSink) Alert(ctx context.Context, text string) error {
	c.mu.Lock()
	c.msgs = append(c.msgs, text)
	c.mu.Unlock()
	return nil
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func TestWriterLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "sweep"))
	log.Info("sweep.finished", Int("deleted", 3), Duration("dur", time.Second))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode: %v (%s)", err, buf.String())
	}
	if m["comp"] != "sweep" || m["message"] != "sweep.finished" {
		t.Fatalf("unexpected line: %v", m)
	}
	if m["deleted"].(float64) != 3 {
		t.Fatalf("deleted = %v", m["deleted"])
	}
}

func TestServiceApplySwapsLevel(t *testing.T) {
	svc, log := New(Config{Level: "info", Console: true})
	defer svc.Close()
	if log.Enabled(LevelDebug) {
		t.Fatal("debug should be off at info")
	}
	svc.Apply(Config{Level: "debug", Console: true})
	if !log.Enabled(LevelDebug) {
		t.Fatal("existing logger should follow Apply")
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Error("nothing happens")
	if Nop().IsZero() {
		t.Fatal("Nop logger is not the zero value")
	}
}

func TestRenderAlert(t *testing.T) {
	got := renderAlert([]byte(`{"level":"error","comp":"sweep","message":"sweep.failed","zeta":1,"alpha":"x","time":"t"}` + "\n"))
	want := "ERROR [sweep] sweep.failed\nalpha: x\nzeta: 1"
	if got != want {
		t.Fatalf("renderAlert = %q, want %q", got, want)
	}
	if raw := renderAlert([]byte("  not json \n")); raw != "not json" {
		t.Fatalf("raw fallback = %q", raw)
	}
	long := renderAlert([]byte(`{"level":"warn","message":"` + strings.Repeat("x", 3000) + `"}`))
	if len(long) != alertMaxLen || !strings.HasSuffix(long, "...") {
		t.Fatalf("long alert not clipped: len=%d", len(long))
	}
}

func TestAlertSinkRespectsMinLevel(t *testing.T) {
	svc, log := New(Config{Level: "debug", File: FileConfig{}, Alert: AlertConfig{Enabled: true, MinLevel: "error", RatePerSec: 50}})
	defer svc.Close()
	sink := &captureSink{}
	svc.SetAlertSink(sink)

	log.Warn("below threshold")
	log.Error("above threshold", String("channel", "42"))

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.msgs) != 1 {
		t.Fatalf("alerts = %d, want 1 (%v)", len(sink.msgs), sink.msgs)
	}
	if !strings.Contains(sink.msgs[0], "above threshold") || !strings.Contains(sink.msgs[0], "channel: 42") {
		t.Fatalf("unexpected alert text: %q", sink.msgs[0])
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("warning", LevelInfo) != LevelWarn {
		t.Fatal("warning should map to warn")
	}
	if ParseLevel("bogus", LevelInfo) != LevelInfo {
		t.Fatal("unknown level should use default")
	}
	if ParseLevel(" TRACE ", LevelInfo) != LevelTrace {
		t.Fatal("levels are case-insensitive")
	}
	if ParseLevel("", LevelError) != LevelError {
		t.Fatal("empty level should use default")
	}
}
