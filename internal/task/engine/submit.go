package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"devour/internal/eventbus"
	logx "devour/pkg/logx"
)

type queuedTask struct {
	task       Task
	enqueuedAt time.Time
	timeout    time.Duration
	holdsState bool
	dropOnce   *sync.Once
}

func (qt queuedTask) release() {
	if qt.holdsState {
		qt.task.State.release()
	}
}

func (qt queuedTask) drop(reason error) {
	qt.release()
	if qt.task.OnDrop != nil {
		qt.dropOnce.Do(func() { qt.task.OnDrop(reason) })
	}
}

// Enqueue offers t to the queue and fails with ErrQueueFull rather than wait.
func (s *Service) Enqueue(t Task) error {
	return s.enqueue(context.Background(), t, false)
}

// Submit waits for queue room until ctx ends or the engine stops.
func (s *Service) Submit(ctx context.Context, t Task) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.enqueue(ctx, t, true)
}

func (t *Task) check() error {
	if t.Run == nil {
		return errors.New("engine: task has no Run func")
	}
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return errors.New("engine: task name required")
	}
	if t.Overlap == OverlapSkipIfRunning && t.State == nil {
		return errors.New("engine: OverlapSkipIfRunning needs a State")
	}
	return nil
}

func (s *Service) enqueue(ctx context.Context, t Task, wait bool) error {
	if err := t.check(); err != nil {
		return err
	}
	now := time.Now()
	if strings.TrimSpace(t.ID) == "" {
		t.ID = fmt.Sprintf("%s-%x-%x", s.name, now.UnixNano(), s.seq.Add(1))
	}

	s.mu.Lock()
	cfg, p := s.cfg, s.run
	s.mu.Unlock()
	switch {
	case !cfg.Enabled:
		return ErrDisabled
	case p == nil:
		return ErrStopped
	}

	qt := queuedTask{task: t, enqueuedAt: now, timeout: t.Timeout, dropOnce: new(sync.Once)}
	if qt.timeout <= 0 {
		qt.timeout = cfg.DefaultTimeout
	}
	if t.Overlap == OverlapSkipIfRunning {
		if !t.State.tryAcquire() {
			s.publish("task.skipped", TaskEvent{ID: t.ID, Name: t.Name, Started: now, Error: "overlap_skip"})
			s.log.Debug("task skipped; previous run in progress", logx.String("task", t.Name))
			return ErrOverlapSkip
		}
		qt.holdsState = true
	}

	s.gate.RLock()
	defer s.gate.RUnlock()
	select {
	case <-p.quit:
		qt.release()
		return ErrStopping
	default:
	}

	if !wait {
		select {
		case p.queue <- qt:
			return nil
		default:
			qt.release()
			s.rejectFull(now, t, p.queue)
			return ErrQueueFull
		}
	}
	select {
	case p.queue <- qt:
		return nil
	case <-ctx.Done():
		qt.release()
		return ctx.Err()
	case <-p.quit:
		qt.release()
		return ErrStopping
	}
}

func (s *Service) publish(typ string, ev TaskEvent) {
	ev.Engine = s.name
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
}

func (s *Service) rejectFull(now time.Time, t Task, q chan queuedTask) {
	s.drops.total.Add(1)
	s.drops.queueFull.Add(1)
	s.publish("task.dropped", TaskEvent{ID: t.ID, Name: t.Name, Started: now, Error: "queue_full"})
	s.fullWarn.Do(func() {
		s.log.Warn("task dropped: queue full",
			logx.String("task", t.Name),
			logx.Int("queue_len", len(q)),
			logx.Int("queue_cap", cap(q)),
			logx.Uint64("dropped_queue_full", s.drops.queueFull.Load()),
		)
	})
}
