package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"devour/internal/eventbus"
	rtsup "devour/internal/runtime/supervisor"
	logx "devour/pkg/logx"

	"golang.org/x/time/rate"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

const historySize = 300

type job struct {
	n   Notification
	key string
}

// Service fans alerts out to its senders. It is safe for concurrent use.
type Service struct {
	log     logx.Logger
	bus     eventbus.Bus
	senders []Sender
	now     func() time.Time

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	run     *runner

	dedup  *suppressor
	recent recent
}

// runner is one started generation of workers.
type runner struct {
	queue   chan job
	persist chan dedupWrite
	sup     *rtsup.Supervisor
	// callers counts Notify calls that may still send on queue.
	callers sync.WaitGroup
	// done is made when Stop begins and closed when the queue is drained.
	done chan struct{}
}

// New builds a notifier. store may be nil for in-memory dedup only.
func New(cfg Config, senders []Sender, store DedupStore, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	s := &Service{
		log:     log,
		bus:     bus,
		senders: senders,
		now:     time.Now,
	}
	s.dedup = newSuppressor(store, func() time.Time { return s.now() })
	s.Apply(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled && len(s.senders) > 0
}

// Apply swaps limits in place. A new worker count applies on the next Start.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.mu.Unlock()
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	for s.run != nil {
		if s.run.done == nil {
			s.mu.Unlock()
			return
		}
		done := s.run.done
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if !s.cfg.Enabled || len(s.senders) == 0 {
		s.mu.Unlock()
		return
	}
	r := &runner{
		queue: make(chan job, s.cfg.QueueSize),
		sup: rtsup.New(ctx,
			rtsup.WithLogger(s.log.With(logx.String("comp", "notifier"))),
			rtsup.WithCancelOnError(false),
		),
	}
	if s.dedup.persistent() {
		r.persist = make(chan dedupWrite, 256)
	}
	workers := s.cfg.Workers
	s.run = r
	s.mu.Unlock()

	if r.persist != nil {
		r.sup.GoRestart("dedup.persist", func(c context.Context) error {
			s.dedup.persistLoop(c, r.persist, s.log)
			return s.exitErr(c, r, "persist loop")
		}, rtsup.WithPublishFirstError(true))
	}
	for i := range workers {
		r.sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.work(c, r.queue)
			return s.exitErr(c, r, "worker")
		}, rtsup.WithPublishFirstError(true))
	}
	s.log.Info("notifier started", logx.Int("workers", workers), logx.Int("senders", len(s.senders)))
}

// exitErr classifies a loop exit. Loops only return cleanly while stopping.
func (s *Service) exitErr(c context.Context, r *runner, what string) error {
	s.mu.Lock()
	stopping := r.done != nil
	s.mu.Unlock()
	switch {
	case stopping:
		return context.Canceled
	case c.Err() != nil:
		return c.Err()
	default:
		return fmt.Errorf("notifier %s exited unexpectedly", what)
	}
}

// Stop refuses new alerts and drains the queue until ctx is done, after
// which pending sends are abandoned.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	r := s.run
	if r == nil {
		s.mu.Unlock()
		return
	}
	if r.done == nil {
		r.done = make(chan struct{})
		go s.drain(r)
	}
	done := r.done
	s.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		r.sup.Cancel()
	}
}

func (s *Service) drain(r *runner) {
	r.callers.Wait()
	if r.persist != nil {
		close(r.persist)
	}
	close(r.queue)
	_ = r.sup.Wait(context.Background())

	s.mu.Lock()
	if s.run == r {
		s.run = nil
	}
	s.mu.Unlock()
	close(r.done)
}

// Alert queues a critical alert under key. Failures are logged, not returned.
func (s *Service) Alert(ctx context.Context, key, text string) {
	err := s.Notify(ctx, Notification{Key: key, Level: LevelCritical, Text: text})
	if err != nil && !errors.Is(err, ErrDisabled) {
		s.log.Warn("alert not queued", logx.String("key", key), logx.Err(err))
	}
}

// Notify queues n unless its key is inside the dedup window. It never waits
// for queue room.
func (s *Service) Notify(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if !s.cfg.Enabled || len(s.senders) == 0 {
		s.mu.Unlock()
		return ErrDisabled
	}
	r := s.run
	if r == nil || r.done != nil {
		s.mu.Unlock()
		return ErrStopped
	}
	cfg := s.cfg
	r.callers.Add(1)
	s.mu.Unlock()
	defer r.callers.Done()

	key := n.Key
	if key == "" {
		key = textKey(n.Text)
	}
	if cfg.DedupWindow > 0 && !s.dedup.allow(ctx, key, cfg.DedupWindow, cfg.DedupMaxEntries, r.persist) {
		s.publish(EventDeduped, Event{Key: key})
		return nil
	}

	select {
	case r.queue <- job{n: n, key: key}:
		s.publish(EventQueued, Event{Key: key})
		return nil
	default:
		s.publish(EventDropped, Event{Key: key, Error: ErrQueueFull.Error()})
		return ErrQueueFull
	}
}

// History returns recent deliveries and failures, oldest first.
func (s *Service) History() []HistoryItem { return s.recent.list() }

func (s *Service) publish(typ string, ev Event) {
	ev.At = s.now()
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}
