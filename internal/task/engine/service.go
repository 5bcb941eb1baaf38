package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"devour/internal/eventbus"
	rtsup "devour/internal/runtime/supervisor"
	logx "devour/pkg/logx"

	"golang.org/x/time/rate"
)

const warnThrottleEvery = 5 * time.Second

var errWorkerExited = errors.New("worker exited unexpectedly")

// Service is a fixed set of workers draining a bounded queue.
type Service struct {
	name string
	log  logx.Logger
	bus  eventbus.Bus

	mu  sync.Mutex
	cfg Config
	run *pool

	// gate is read-held for every hand-off to a queue and write-held while
	// a stopped pool is drained, so an accepted task is never stranded.
	gate sync.RWMutex

	inFlight atomic.Int32
	seq      atomic.Uint64
	drops    dropCounters
	hist     history

	fullWarn  rate.Sometimes
	staleWarn rate.Sometimes
}

// pool is one started generation of workers.
type pool struct {
	queue chan queuedTask
	quit  chan struct{}
	sup   *rtsup.Supervisor
	// done is made when Stop begins and closed once the pool is drained.
	done chan struct{}
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	return &Service{
		name:      cfg.Name,
		cfg:       cfg,
		log:       log.With(logx.String("engine", cfg.Name)),
		bus:       bus,
		fullWarn:  rate.Sometimes{Interval: warnThrottleEvery},
		staleWarn: rate.Sometimes{Interval: warnThrottleEvery},
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

func (s *Service) running() bool { return s.run != nil && s.run.done == nil }

// Apply swaps the config. A change to the worker count, queue size or the
// enabled flag restarts a running pool, dropping what was queued.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	prev := s.cfg
	cfg.Name = prev.Name
	s.cfg = cfg
	wasRunning := s.running()
	s.mu.Unlock()

	if !wasRunning || (prev.Workers == cfg.Workers && prev.QueueSize == cfg.QueueSize && prev.Enabled == cfg.Enabled) {
		return
	}
	s.log.Info("engine restarting", logx.Int("workers", cfg.Workers), logx.Int("queue", cfg.QueueSize))
	s.Stop(ctx)
	s.Start(ctx)
}

// Start launches the workers. A pool that is still stopping is waited for.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
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
	cfg := s.cfg
	if !cfg.Enabled {
		s.mu.Unlock()
		return
	}
	p := &pool{
		queue: make(chan queuedTask, cfg.QueueSize),
		quit:  make(chan struct{}),
		sup: rtsup.New(context.WithoutCancel(ctx),
			rtsup.WithLogger(s.log),
			rtsup.WithCancelOnError(false),
		),
	}
	s.run = p
	s.mu.Unlock()

	for i := range cfg.Workers {
		p.sup.GoRestart(fmt.Sprintf("%s.worker.%d", cfg.Name, i), func(c context.Context) error {
			s.work(c, p)
			select {
			case <-p.quit:
				return context.Canceled
			default:
			}
			if err := c.Err(); err != nil {
				return err
			}
			return errWorkerExited
		}, rtsup.WithPublishFirstError(true))
	}
	s.log.Info("engine started", logx.Int("workers", cfg.Workers), logx.Int("queue", cfg.QueueSize))
}

// Stop cancels running tasks and waits, bounded by ctx, for the workers to
// exit. Tasks still queued are dropped with ErrStopped.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	p := s.run
	if p == nil {
		s.mu.Unlock()
		return
	}
	if p.done == nil {
		p.done = make(chan struct{})
		close(p.quit)
		go s.retire(p)
	}
	done := p.done
	s.mu.Unlock()

	select {
	case <-done:
		s.log.Info("engine stopped")
	case <-ctx.Done():
		s.log.Warn("engine stop timed out", logx.Err(ctx.Err()))
	}
}

func (s *Service) retire(p *pool) {
	p.sup.Cancel()
	_ = p.sup.Wait(context.Background())

	s.gate.Lock()
	n := 0
	for drained := false; !drained; {
		select {
		case qt := <-p.queue:
			qt.drop(ErrStopped)
			n++
		default:
			drained = true
		}
	}
	s.gate.Unlock()
	if n > 0 {
		s.log.Info("engine dropped queued tasks", logx.Int("count", n))
	}

	s.mu.Lock()
	if s.run == p {
		s.run = nil
	}
	s.mu.Unlock()
	close(p.done)
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	p := s.run
	running := s.running()
	s.mu.Unlock()

	snap := Snapshot{
		Name:             cfg.Name,
		Enabled:          cfg.Enabled,
		Running:          running,
		Workers:          cfg.Workers,
		InFlight:         int(s.inFlight.Load()),
		Dropped:          s.drops.total.Load(),
		DroppedQueueFull: s.drops.queueFull.Load(),
		DroppedStale:     s.drops.stale.Load(),
		DefaultTimeout:   cfg.DefaultTimeout,
		MaxQueueDelay:    cfg.MaxQueueDelay,
		History:          s.hist.list(),
	}
	if p != nil {
		snap.QueueLen, snap.QueueCap = len(p.queue), cap(p.queue)
	}
	return snap
}
