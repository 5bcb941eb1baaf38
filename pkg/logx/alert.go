package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// AlertConfig forwards log lines at or above MinLevel to the alert sink.
type AlertConfig struct {
	Enabled    bool
	MinLevel   string
	RatePerSec int
}

// AlertSink receives rendered alert text. It must not log through the
// Service that feeds it.
type AlertSink interface {
	Alert(ctx context.Context, text string) error
}

const (
	alertQueueSize   = 256
	alertSendTimeout = 10 * time.Second
	alertMaxLen      = 1800
	alertMaxValueLen = 400
)

// forwarder is a zerolog.LevelWriter that hands lines to the sink from a
// single goroutine. Writes never block; excess lines are dropped.
type forwarder struct {
	mu      sync.Mutex
	sink    AlertSink
	min     zerolog.Level
	limiter *rate.Limiter

	queue  chan string
	cancel context.CancelFunc
	done   chan struct{}
}

func newForwarder() *forwarder {
	return &forwarder{
		min:     LevelError,
		limiter: rate.NewLimiter(1, 1),
		queue:   make(chan string, alertQueueSize),
	}
}

func (f *forwarder) setSink(sink AlertSink) {
	f.mu.Lock()
	f.sink = sink
	f.mu.Unlock()
}

func (f *forwarder) configure(cfg AlertConfig) {
	rps := max(1, cfg.RatePerSec)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.min = ParseLevel(cfg.MinLevel, LevelError)
	f.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	if cfg.Enabled && f.cancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		f.cancel = cancel
		f.done = make(chan struct{})
		go f.run(ctx, f.done)
	}
}

func (f *forwarder) stop() {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.cancel, f.done = nil, nil
	f.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (f *forwarder) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-f.queue:
			f.mu.Lock()
			sink := f.sink
			f.mu.Unlock()
			if sink == nil {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, alertSendTimeout)
			_ = sink.Alert(sctx, text)
			cancel()
		}
	}
}

func (f *forwarder) Write(p []byte) (int, error) { return f.WriteLevel(LevelInfo, p) }

func (f *forwarder) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	f.mu.Lock()
	pass := f.sink != nil && level >= f.min && f.limiter.Allow()
	f.mu.Unlock()
	if !pass {
		return len(p), nil
	}
	if text := renderAlert(p); text != "" {
		select {
		case f.queue <- text:
		default:
		}
	}
	return len(p), nil
}

// renderAlert turns a JSON log line into chat text: a header with level,
// component and message, then one "key: value" line per remaining field in
// key order. Lines that are not JSON are passed through trimmed.
func renderAlert(p []byte) string {
	p = bytes.TrimSpace(p)
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return clip(string(p), alertMaxLen)
	}

	var b strings.Builder
	if lvl, _ := m[zerolog.LevelFieldName].(string); lvl != "" {
		b.WriteString(strings.ToUpper(lvl))
		b.WriteByte(' ')
	}
	if comp, _ := m["comp"].(string); comp != "" {
		b.WriteString("[" + comp + "] ")
	}
	msg, _ := m[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	for _, k := range []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName, "comp"} {
		delete(m, k)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %s", k, clip(fmt.Sprint(m[k]), alertMaxValueLen))
	}
	return clip(b.String(), alertMaxLen)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
