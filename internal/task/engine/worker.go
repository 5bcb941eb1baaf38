package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	logx "devour/pkg/logx"
)

// slowTask is the duration above which a completed task logs at info.
const slowTask = 750 * time.Millisecond

func (s *Service) work(ctx context.Context, p *pool) {
	for {
		// Checked first so a closed quit wins over a non-empty queue.
		select {
		case <-ctx.Done():
			return
		case <-p.quit:
			return
		default:
		}
		select {
		case <-ctx.Done():
			return
		case <-p.quit:
			return
		case qt := <-p.queue:
			s.inFlight.Add(1)
			s.exec(ctx, qt)
			s.inFlight.Add(-1)
		}
	}
}

func (s *Service) exec(ctx context.Context, qt queuedTask) {
	t := qt.task
	start := time.Now()
	waited := max(start.Sub(qt.enqueuedAt), 0)

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	if cfg.MaxQueueDelay > 0 && waited > cfg.MaxQueueDelay {
		qt.drop(ErrStaleQueue)
		s.drops.total.Add(1)
		s.drops.stale.Add(1)
		s.publish("task.dropped", TaskEvent{ID: t.ID, Name: t.Name, Started: start, QueueDelay: waited, Error: "stale_queue_delay"})
		s.staleWarn.Do(func() {
			s.log.Warn("task dropped: waited too long in queue",
				logx.String("task", t.Name),
				logx.Duration("queue_delay", waited),
				logx.Uint64("dropped_stale", s.drops.stale.Load()),
			)
		})
		s.hist.add(HistoryItem{ID: t.ID, Name: t.Name, Started: start, QueueDelay: waited, Error: "stale_queue_delay"}, cfg.HistorySize)
		return
	}
	defer qt.release()

	s.log.Debug("task.started", logx.String("task", t.Name), logx.Duration("queue_delay", waited))
	s.publish("task.started", TaskEvent{ID: t.ID, Name: t.Name, Started: start, QueueDelay: waited})

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if qt.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, qt.timeout)
	}
	err := s.guard(runCtx, t)
	cancel()

	ev := TaskEvent{ID: t.ID, Name: t.Name, Started: start, QueueDelay: waited, Duration: time.Since(start)}
	fields := []logx.Field{logx.String("task", t.Name), logx.Duration("queue_delay", waited), logx.Duration("dur", ev.Duration)}
	switch {
	case err != nil:
		ev.Error = err.Error()
		s.log.Warn("task.failed", append(fields, logx.Err(err))...)
		s.publish("task.failed", ev)
	case ev.Duration >= slowTask:
		s.log.Info("task.completed", fields...)
		s.publish("task.finished", ev)
	default:
		s.log.Debug("task.completed", fields...)
		s.publish("task.finished", ev)
	}
	s.hist.add(HistoryItem{ID: t.ID, Name: t.Name, Started: start, QueueDelay: waited, Duration: ev.Duration, Error: ev.Error}, cfg.HistorySize)
}

// guard turns a panic in t.Run into an error.
func (s *Service) guard(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("task.panic", logx.String("task", t.Name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	return t.Run(ctx)
}

type dropCounters struct {
	total     atomic.Uint64
	queueFull atomic.Uint64
	stale     atomic.Uint64
}

// history keeps the most recent task outcomes, oldest first.
type history struct {
	mu    sync.Mutex
	items []HistoryItem
}

func (h *history) add(item HistoryItem, limit int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = append(h.items, item)
	if over := len(h.items) - limit; over > 0 {
		h.items = append(h.items[:0:0], h.items[over:]...)
	}
}

func (h *history) list() []HistoryItem {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]HistoryItem(nil), h.items...)
}
