package sweep

import (
	"context"
	"errors"
	"sync"

	"devour/internal/purge"

	"golang.org/x/sync/semaphore"
)

// guildLimiter caps concurrent sweeps per guild on top of the pool's
// global worker limit.
type guildLimiter struct {
	mu    sync.Mutex
	limit int64
	slots map[string]*guildSlot
}

type guildSlot struct {
	sem   *semaphore.Weighted
	users int
}

func newGuildLimiter() *guildLimiter {
	return &guildLimiter{slots: make(map[string]*guildSlot)}
}

// setLimit changes the cap. Sweeps already holding a slot finish under the
// old cap; new acquisitions use the new one.
func (g *guildLimiter) setLimit(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if int64(n) == g.limit {
		return
	}
	g.limit = int64(max(n, 0))
	g.slots = make(map[string]*guildSlot)
}

// acquire blocks until guild has a free slot or ctx ends.
func (g *guildLimiter) acquire(ctx context.Context, guild string) (func(), error) {
	g.mu.Lock()
	if g.limit <= 0 || guild == "" {
		g.mu.Unlock()
		return func() {}, nil
	}
	slot := g.slots[guild]
	if slot == nil {
		slot = &guildSlot{sem: semaphore.NewWeighted(g.limit)}
		g.slots[guild] = slot
	}
	slot.users++
	g.mu.Unlock()

	if err := slot.sem.Acquire(ctx, 1); err != nil {
		g.leave(guild, slot)
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			slot.sem.Release(1)
			g.leave(guild, slot)
		})
	}, nil
}

func (g *guildLimiter) leave(guild string, slot *guildSlot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	slot.users--
	if slot.users == 0 && g.slots[guild] == slot {
		delete(g.slots, guild)
	}
}

// outcomeOf maps a context that ended before the sweep began.
func outcomeOf(ctx context.Context) purge.Outcome {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return purge.OutcomeTimeout
	}
	return purge.OutcomeCanceled
}
