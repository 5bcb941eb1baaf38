package scheduler

import (
	"hash/fnv"
	"math/rand/v2"
	"time"

	"github.com/robfig/cron/v3"
)

const maxStartupSpread = 30 * time.Second

// delayedFirst fires once at first, then follows base.
type delayedFirst struct {
	base  cron.Schedule
	first time.Time
}

func (d delayedFirst) Next(t time.Time) time.Time {
	if t.Before(d.first) {
		return d.first
	}
	return d.base.Next(t)
}

// withStartupSpread pushes the first run of an every-interval schedule back
// by a jitter below min(every, 30s) so a restart does not fire all schedules
// in the same instant. The jitter mixes the schedule name into the seed.
func withStartupSpread(every time.Duration, now time.Time, name string) (cron.Schedule, time.Duration) {
	window := min(every, maxStartupSpread)
	if window <= 0 {
		return cron.Every(every), 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	rng := rand.New(rand.NewPCG(h.Sum64(), uint64(now.UnixNano())))
	jitter := time.Duration(rng.Int64N(int64(window)))
	return delayedFirst{base: cron.Every(every), first: now.Add(every + jitter)}, jitter
}
