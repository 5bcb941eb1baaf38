package notifier

import (
	"context"
	"sync"
	"time"

	logx "devour/pkg/logx"

	"github.com/google/uuid"
)

const (
	dedupReadWait  = 250 * time.Millisecond
	dedupWriteWait = time.Second
)

type dedupWrite struct {
	key   string
	until time.Time
}

// suppressor remembers, per key, until when repeats are swallowed. The
// optional store carries windows across restarts.
type suppressor struct {
	store DedupStore
	now   func() time.Time

	mu    sync.Mutex
	until map[string]time.Time
}

func newSuppressor(store DedupStore, now func() time.Time) *suppressor {
	return &suppressor{store: store, now: now, until: make(map[string]time.Time)}
}

func (d *suppressor) persistent() bool { return d.store != nil }

func (d *suppressor) active(key string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.until[key]
	return ok && now.Before(u)
}

// allow reports whether key may be sent now and, if so, opens a new window.
func (d *suppressor) allow(ctx context.Context, key string, window time.Duration, maxEntries int, persist chan<- dedupWrite) bool {
	now := d.now()
	if d.active(key, now) {
		return false
	}
	if d.store != nil {
		rctx, cancel := context.WithTimeout(ctx, dedupReadWait)
		u, ok, err := d.store.GetDedup(rctx, key)
		cancel()
		if err == nil && ok && now.Before(u) {
			d.mu.Lock()
			d.until[key] = u
			d.mu.Unlock()
			return false
		}
	}

	u := now.Add(window)
	d.mu.Lock()
	d.until[key] = u
	d.prune(now, maxEntries)
	d.mu.Unlock()

	if persist != nil {
		select {
		case persist <- dedupWrite{key: key, until: u}:
		default:
		}
	}
	return true
}

// prune drops expired keys, then the soonest-expiring ones above maxEntries.
// Caller holds mu.
func (d *suppressor) prune(now time.Time, maxEntries int) {
	for k, u := range d.until {
		if !now.Before(u) {
			delete(d.until, k)
		}
	}
	for len(d.until) > maxEntries {
		var oldest string
		for k, u := range d.until {
			if oldest == "" || u.Before(d.until[oldest]) {
				oldest = k
			}
		}
		delete(d.until, oldest)
	}
}

func (d *suppressor) persistLoop(ctx context.Context, writes <-chan dedupWrite, log logx.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case w, ok := <-writes:
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, dedupWriteWait)
			if err := d.store.PutDedup(wctx, w.key, w.until); err != nil {
				log.Debug("dedup persist failed", logx.String("key", w.key), logx.Err(err))
			}
			cancel()
		}
	}
}

// textKey derives a stable key for alerts that carry none.
func textKey(text string) string {
	return "text:" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(text)).String()
}
