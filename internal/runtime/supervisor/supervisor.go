package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"time"

	logx "devour/pkg/logx"
)

// stableRun is how long a restarted goroutine must stay up before its
// backoff resets.
const stableRun = 30 * time.Second

// Supervisor owns a set of named goroutines sharing one context. Panics
// become errors, and the first error is kept for Err and Wait.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logx.Logger

	cancelOnErr bool

	errMu sync.Mutex
	err   error

	wg       sync.WaitGroup
	waitOnce sync.Once
	done     chan struct{}

	stats statsTable
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option { return func(s *Supervisor) { s.log = log } }

// WithCancelOnError cancels the shared context on the first failure.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, log: logx.Nop(), done: make(chan struct{})}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel ends the shared context without waiting.
func (s *Supervisor) Cancel() { s.cancel() }

// Err is the first recorded failure, if any.
func (s *Supervisor) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Supervisor) record(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

// attempt runs fn once. It returns nil for a clean exit, for
// context.Canceled and for anything returned after shutdown began.
func (s *Supervisor) attempt(name string, restart bool, fn func(ctx context.Context) error) error {
	began := s.stats.start(name, restart)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				p := &panicInfo{value: r, stack: string(debug.Stack())}
				s.stats.panicked(name, p)
				s.log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", r), logx.Stack(p.stack))
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return fn(s.ctx)
	}()
	if err == nil || errors.Is(err, context.Canceled) || s.ctx.Err() != nil {
		s.stats.stop(name, began, nil)
		return nil
	}
	err = fmt.Errorf("%s: %w", name, err)
	s.stats.stop(name, began, err)
	return err
}

// Go runs fn once.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.attempt(name, false, fn); err != nil {
			s.record(err)
			if s.cancelOnErr {
				s.cancel()
			}
		}
	}()
}

func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

type RestartOption func(*restartPolicy)

type restartPolicy struct {
	minWait time.Duration
	maxWait time.Duration
	publish bool
}

// WithRestartBackoff bounds the doubling wait between restarts.
func WithRestartBackoff(minWait, maxWait time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if minWait > 0 {
			p.minWait = minWait
		}
		if maxWait > 0 {
			p.maxWait = maxWait
		}
	}
}

// WithPublishFirstError makes restart failures visible through Err.
func WithPublishFirstError(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.publish = enabled }
}

// GoRestart runs fn until it returns nil or the context ends, restarting it
// after errors and panics with jittered exponential backoff.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	pol := restartPolicy{minWait: 250 * time.Millisecond, maxWait: 30 * time.Second}
	for _, o := range opts {
		o(&pol)
	}
	pol.maxWait = max(pol.maxWait, pol.minWait)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		wait := pol.minWait
		for n := 0; s.ctx.Err() == nil; n++ {
			began := time.Now()
			err := s.attempt(name, n > 0, fn)
			if err == nil {
				return
			}
			if pol.publish {
				s.record(err)
			}
			if time.Since(began) >= stableRun {
				wait = pol.minWait
			}
			pause := wait + rand.N(wait/5+1)
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", pause), logx.Err(err))
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(pause):
			}
			wait = min(2*wait, pol.maxWait)
		}
	}()
}

// Stop cancels and waits, bounded by ctx.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every goroutine has returned or ctx ends, then reports
// Err.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.waitOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.done)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return s.Err()
	}
}

type panicInfo struct {
	value any
	stack string
}
