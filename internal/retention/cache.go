package retention

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"devour/internal/eventbus"
	logx "devour/pkg/logx"
)

// Snapshot is an immutable point-in-time view of all policies.
type Snapshot struct {
	policies  []Policy
	byChannel map[string]int
	loadedAt  time.Time
	gen       uint64
}

var emptySnapshot = &Snapshot{byChannel: map[string]int{}}

func newSnapshot(ps []Policy, gen uint64, at time.Time) *Snapshot {
	idx := make(map[string]int, len(ps))
	for i, p := range ps {
		idx[p.ChannelID] = i
	}
	return &Snapshot{policies: ps, byChannel: idx, loadedAt: at, gen: gen}
}

// Policies returns the snapshot's policies. The slice is shared and must not
// be modified.
func (s *Snapshot) Policies() []Policy { return s.policies }

func (s *Snapshot) Len() int { return len(s.policies) }

func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

func (s *Snapshot) Lookup(channelID string) (Policy, bool) {
	i, ok := s.byChannel[channelID]
	if !ok {
		return Policy{}, false
	}
	return s.policies[i], true
}

// Cache holds the latest Snapshot of the store. Readers never block.
type Cache struct {
	store Store
	log   logx.Logger
	bus   eventbus.Bus
	now   func() time.Time

	cur atomic.Pointer[Snapshot]

	// gen orders refreshes by start time; a refresh only publishes if no
	// newer refresh has published first.
	gen     atomic.Uint64
	swapMu  sync.Mutex
	lastErr atomic.Pointer[refreshErr]
}

type refreshErr struct {
	err error
	at  time.Time
}

func NewCache(store Store, log logx.Logger, bus eventbus.Bus) *Cache {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	c := &Cache{store: store, log: log, bus: bus, now: time.Now}
	c.cur.Store(emptySnapshot)
	return c
}

// Snapshot returns the current snapshot; never nil.
func (c *Cache) Snapshot() *Snapshot { return c.cur.Load() }

// Refresh reloads every policy from the store and swaps the snapshot. On
// error the previous snapshot stays in place.
func (c *Cache) Refresh(ctx context.Context) error {
	gen := c.gen.Add(1)
	ps, err := c.store.ListAll(ctx)
	if err != nil {
		c.lastErr.Store(&refreshErr{err: err, at: c.now()})
		c.log.Warn("cache.refresh_failed", logx.Err(err), logx.Int("kept", c.Snapshot().Len()))
		return err
	}
	next := newSnapshot(ps, gen, c.now())

	c.swapMu.Lock()
	if cur := c.cur.Load(); cur.gen > gen {
		c.swapMu.Unlock()
		c.log.Debug("cache.refresh_superseded", logx.Uint64("gen", gen), logx.Uint64("current", cur.gen))
		return nil
	}
	c.cur.Store(next)
	c.swapMu.Unlock()
	c.lastErr.Store(nil)

	c.log.Debug("cache.refreshed", logx.Int("policies", next.Len()), logx.Uint64("gen", gen))
	c.bus.Publish(eventbus.Event{Type: eventbus.TypeCacheRefreshed, Time: next.loadedAt, Data: next.Len()})
	return nil
}

// LastRefreshError reports the most recent refresh failure, cleared by a
// successful refresh.
func (c *Cache) LastRefreshError() (time.Time, error) {
	e := c.lastErr.Load()
	if e == nil {
		return time.Time{}, nil
	}
	return e.at, e.err
}
