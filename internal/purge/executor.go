package purge

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	logx "devour/pkg/logx"

	"golang.org/x/time/rate"
)

const (
	// Platform limits for bulk deletes.
	maxBulk = 100
	minBulk = 2

	maxPageSize = 100
)

// Config controls the executor. Zero values take defaults.
type Config struct {
	PageSize   int
	BulkMaxAge time.Duration
	KeepPinned bool

	// RatePerSec and Burst bound API calls across all concurrent sweeps.
	RatePerSec float64
	Burst      int

	// MaxRateLimitRetries bounds rate-limit retries within one sweep.
	MaxRateLimitRetries int
	// MaxRetryWait is the longest retry-after the executor will sleep for. A
	// longer one aborts the sweep as retryable.
	MaxRetryWait time.Duration
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 || c.PageSize > maxPageSize {
		c.PageSize = maxPageSize
	}
	if c.BulkMaxAge <= 0 {
		c.BulkMaxAge = 14*24*time.Hour - time.Hour
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 5
	}
	if c.Burst <= 0 {
		c.Burst = max(1, int(c.RatePerSec))
	}
	if c.MaxRateLimitRetries < 0 {
		c.MaxRateLimitRetries = 0
	}
	if c.MaxRetryWait <= 0 {
		c.MaxRetryWait = 30 * time.Second
	}
	return c
}

// Result describes one sweep. Deleted counts partial progress even when the
// sweep failed.
type Result struct {
	ChannelID        string
	Cutoff           time.Time
	Deleted          int
	Bulk             int
	Single           int
	Vanished         int
	KeptPinned       int
	Scanned          int
	Pages            int
	RateLimitRetries int
	Outcome          Outcome
	Err              error
	Duration         time.Duration
}

// Executor deletes messages older than a cutoff through a MessageAPI.
// One Executor serves every channel; its limiter is shared.
type Executor struct {
	api MessageAPI
	log logx.Logger
	lim *rate.Limiter

	mu  sync.RWMutex
	cfg Config

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewExecutor(api MessageAPI, cfg Config, log logx.Logger) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Executor{
		api:   api,
		log:   log,
		lim:   rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		cfg:   cfg,
		now:   time.Now,
		sleep: sleepCtx,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Apply swaps the configuration. In-flight sweeps pick up the new limiter
// settings immediately and the rest on their next sweep.
func (e *Executor) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
	e.lim.SetLimit(rate.Limit(cfg.RatePerSec))
	e.lim.SetBurst(cfg.Burst)
}

func (e *Executor) config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// sweep is the state of one Sweep call.
type sweep struct {
	e       *Executor
	cfg     Config
	channel string
	cutoff  time.Time
	res     *Result
	retries int
}

// Sweep deletes every message in channelID with a timestamp strictly before
// cutoff. It never returns an error; the outcome is in the Result.
func (e *Executor) Sweep(ctx context.Context, channelID string, cutoff time.Time) Result {
	start := e.now()
	res := Result{ChannelID: channelID, Cutoff: cutoff}
	s := &sweep{e: e, cfg: e.config(), channel: channelID, cutoff: cutoff, res: &res}

	err := s.run(ctx)
	res.Outcome, res.Err = classify(ctx, err)
	res.Duration = e.now().Sub(start)
	return res
}

func (s *sweep) run(ctx context.Context) error {
	before := ""
	if c, ok := s.e.api.(Cursorer); ok {
		before = c.CursorFor(s.cutoff)
	}

	for {
		var page []Message
		err := s.call(ctx, "list messages", func(ctx context.Context) error {
			var err error
			page, err = s.e.api.ListMessagesBefore(ctx, s.channel, before, s.cfg.PageSize)
			return err
		})
		if err != nil {
			return err
		}
		s.res.Pages++
		if len(page) == 0 {
			return nil
		}
		s.res.Scanned += len(page)

		if err := s.purgePage(ctx, page); err != nil {
			return err
		}
		s.e.log.Trace("purge.page",
			logx.String("channel", s.channel),
			logx.Int("size", len(page)),
			logx.Int("deleted", s.res.Deleted),
		)

		// Deleting listed messages never shifts older pages, so the oldest id
		// of this page is a stable cursor.
		before = page[len(page)-1].ID
		if len(page) < s.cfg.PageSize {
			return nil
		}
	}
}

// purgePage deletes the eligible messages of one page. Messages young enough
// go through bulk delete; the rest, and any single leftover, are deleted one
// by one.
func (s *sweep) purgePage(ctx context.Context, page []Message) error {
	now := s.e.now()
	var bulk, single []string
	for _, m := range page {
		if !m.Timestamp.Before(s.cutoff) {
			continue
		}
		if s.cfg.KeepPinned && m.Pinned {
			s.res.KeptPinned++
			continue
		}
		if now.Sub(m.Timestamp) < s.cfg.BulkMaxAge {
			bulk = append(bulk, m.ID)
		} else {
			single = append(single, m.ID)
		}
	}

	for len(bulk) > 0 {
		n := min(len(bulk), maxBulk)
		chunk := bulk[:n]
		bulk = bulk[n:]
		if len(chunk) < minBulk {
			single = append(single, chunk...)
			continue
		}
		err := s.call(ctx, "bulk delete", func(ctx context.Context) error {
			return s.e.api.BulkDeleteMessages(ctx, s.channel, chunk)
		})
		switch {
		case err == nil:
			s.res.Deleted += len(chunk)
			s.res.Bulk += len(chunk)
		case errors.Is(err, ErrBulkTooOld):
			s.e.log.Debug("purge.bulk_fallback", logx.String("channel", s.channel), logx.Int("count", len(chunk)))
			single = append(single, chunk...)
		default:
			return err
		}
	}

	for _, id := range single {
		err := s.call(ctx, "delete message", func(ctx context.Context) error {
			return s.e.api.DeleteMessage(ctx, s.channel, id)
		})
		switch {
		case err == nil:
			s.res.Deleted++
			s.res.Single++
		case errors.Is(err, ErrUnknownMessage):
			s.res.Vanished++
		default:
			return err
		}
	}
	return nil
}

// call runs fn under the shared limiter and retries rate-limit responses
// after the server's retry-after, within the sweep's retry budget.
func (s *sweep) call(ctx context.Context, op string, fn func(context.Context) error) error {
	for {
		if err := s.e.wait(ctx); err != nil {
			return err
		}
		err := fn(ctx)
		var rl *RateLimitError
		if !errors.As(err, &rl) {
			return err
		}
		if s.retries >= s.cfg.MaxRateLimitRetries {
			return &RetryableAPIError{Op: op, Err: fmt.Errorf("rate limit retries exhausted (%d): %w", s.cfg.MaxRateLimitRetries, err)}
		}
		if rl.RetryAfter > s.cfg.MaxRetryWait {
			return &RetryableAPIError{Op: op, Err: fmt.Errorf("retry-after %s exceeds max wait %s: %w", rl.RetryAfter, s.cfg.MaxRetryWait, err)}
		}
		s.retries++
		s.res.RateLimitRetries++
		wait := rl.RetryAfter + s.e.jitter(rl.RetryAfter)
		s.e.log.Debug("purge.rate_limited",
			logx.String("channel", s.channel),
			logx.String("op", op),
			logx.Duration("wait", wait),
			logx.Bool("global", rl.Global),
			logx.Int("retry", s.retries),
		)
		if err := s.e.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (e *Executor) wait(ctx context.Context) error {
	if err := e.lim.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// The limiter refuses waits that would overrun the deadline.
		if _, ok := ctx.Deadline(); ok {
			return context.DeadlineExceeded
		}
		return &RetryableAPIError{Op: "rate limiter", Err: err}
	}
	return nil
}

// jitter adds up to 10% on top of a retry-after; never less than the server
// asked for.
func (e *Executor) jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return time.Duration(e.rng.Int63n(int64(d)/10 + 1))
}

// classify maps the error that ended a sweep onto an Outcome.
func classify(ctx context.Context, err error) (Outcome, error) {
	if err == nil {
		return OutcomeSuccess, nil
	}
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return OutcomeCanceled, fmt.Errorf("%w: %v", ErrCanceled, err)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return OutcomeTimeout, fmt.Errorf("%w: %v", ErrTimeout, err)
	case IsPermanent(err):
		return OutcomePermanent, err
	case IsRetryable(err):
		return OutcomeRetryable, err
	}
	return OutcomeRetryable, &RetryableAPIError{Op: "sweep", Err: err}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
