package purge

import (
	"context"
	"time"
)

// SetClock replaces the executor's clock and sleep for tests.
func (e *Executor) SetClock(now func() time.Time, sleep func(context.Context, time.Duration) error) {
	if now != nil {
		e.now = now
	}
	if sleep != nil {
		e.sleep = sleep
	}
}
