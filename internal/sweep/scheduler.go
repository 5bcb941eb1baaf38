package sweep

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"devour/internal/eventbus"
	"devour/internal/purge"
	"devour/internal/task/engine"
	logx "devour/pkg/logx"
)

const (
	defaultTimeout  = 10 * time.Minute
	recordTimeout   = 10 * time.Second
	alertTimeout    = 10 * time.Second
	maxErrorInState = 300
)

// entry is one channel's state. Its mutex serializes every transition for
// that channel; different channels never contend.
type entry struct {
	mu       sync.Mutex
	state    State
	failure  FailureKind
	policyID string
	attempt  int // consecutive failed sweeps

	runID    uint64
	canceled bool
	cancel   context.CancelFunc

	lastStarted  time.Time
	lastFinished time.Time
	lastOutcome  string
	lastDeleted  int
	lastError    string
}

// Scheduler drives periodic sweeps of every channel in the policy cache.
type Scheduler struct {
	cache SnapshotSource
	exec  Sweeper
	store PolicyStore
	pool  Submitter
	log   logx.Logger
	bus   eventbus.Bus
	alert Alerter
	obs   Observer
	now   func() time.Time

	entries sync.Map // channel id -> *entry
	runSeq  atomic.Uint64
	timeout atomic.Int64
	guilds  *guildLimiter

	lastTick atomic.Pointer[TickReport]
}

type Option func(*Scheduler)

func WithAlerter(a Alerter) Option          { return func(s *Scheduler) { s.alert = a } }
func WithObserver(o Observer) Option        { return func(s *Scheduler) { s.obs = o } }
func WithBus(b eventbus.Bus) Option         { return func(s *Scheduler) { s.bus = b } }
func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

func New(cfg Config, cache SnapshotSource, exec Sweeper, store PolicyStore, pool Submitter, log logx.Logger, opts ...Option) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{
		cache:  cache,
		exec:   exec,
		store:  store,
		pool:   pool,
		log:    log,
		bus:    eventbus.Nop{},
		now:    time.Now,
		guilds: newGuildLimiter(),
	}
	for _, o := range opts {
		o(s)
	}
	s.Apply(cfg)
	return s
}

func (s *Scheduler) Apply(cfg Config) {
	t := cfg.Timeout
	if t <= 0 {
		t = defaultTimeout
	}
	s.timeout.Store(int64(t))
	s.guilds.setLimit(cfg.GuildConcurrency)
}

func (s *Scheduler) entry(channelID string) *entry {
	if v, ok := s.entries.Load(channelID); ok {
		return v.(*entry)
	}
	v, _ := s.entries.LoadOrStore(channelID, &entry{})
	return v.(*entry)
}

// Tick takes one cache snapshot and dispatches a sweep for every channel that
// is not already sweeping. It blocks while the sweep pool is saturated.
func (s *Scheduler) Tick(ctx context.Context) TickReport {
	tickAt := s.now()
	snap := s.cache.Snapshot()
	rep := TickReport{At: tickAt, Policies: snap.Len()}
	timeout := time.Duration(s.timeout.Load())

	live := make(map[string]struct{}, snap.Len())
	for _, p := range snap.Policies() {
		live[p.ChannelID] = struct{}{}
		if ctx.Err() != nil {
			rep.DispatchFailed++
			continue
		}

		e := s.entry(p.ChannelID)
		e.mu.Lock()
		if e.state == Sweeping {
			e.mu.Unlock()
			rep.Skipped++
			s.log.Debug("sweep.skipped", logx.String("channel", p.ChannelID), logx.Time("started", e.lastStarted))
			s.bus.Publish(eventbus.Event{Type: eventbus.TypeSweepSkipped, Time: tickAt, Data: p.ChannelID})
			continue
		}
		prevState, prevFailure := e.state, e.failure
		e.state = Sweeping
		e.canceled = false
		e.policyID = p.ID
		e.runID = s.runSeq.Add(1)
		t := task{
			channelID: p.ChannelID,
			guildID:   p.GuildID,
			policyID:  p.ID,
			cutoff:    p.Cutoff(tickAt),
			tickAt:    tickAt,
			attempt:   e.attempt + 1,
			runID:     e.runID,
		}
		e.mu.Unlock()

		err := s.pool.Submit(ctx, engine.Task{
			Name:    "sweep:" + t.channelID,
			Timeout: timeout,
			Run:     func(ctx context.Context) error { return s.run(ctx, t) },
			OnDrop: func(reason error) {
				s.restore(t, prevState, prevFailure)
				s.log.Warn("sweep.dropped", logx.String("channel", t.channelID), logx.Err(reason))
			},
		})
		if err != nil {
			s.restore(t, prevState, prevFailure)
			rep.DispatchFailed++
			s.log.Warn("sweep.dispatch_failed", logx.String("channel", t.channelID), logx.Err(err))
			continue
		}
		rep.Dispatched++
	}

	rep.Collected = s.collect(live)
	rep.Duration = s.now().Sub(tickAt)
	s.lastTick.Store(&rep)

	lvl := s.log.Debug
	if rep.Dispatched > 0 || rep.DispatchFailed > 0 {
		lvl = s.log.Info
	}
	lvl("tick.completed",
		logx.Int("policies", rep.Policies),
		logx.Int("dispatched", rep.Dispatched),
		logx.Int("skipped", rep.Skipped),
		logx.Int("dispatch_failed", rep.DispatchFailed),
		logx.Duration("dur", rep.Duration),
	)
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeTickCompleted, Time: tickAt, Data: rep})
	if s.obs != nil {
		s.obs.ObserveTick(rep)
	}
	return rep
}

// restore undoes a dispatch that never ran.
func (s *Scheduler) restore(t task, state State, failure FailureKind) {
	e := s.entry(t.channelID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runID != t.runID || e.state != Sweeping {
		return
	}
	e.state, e.failure = state, failure
	e.cancel = nil
}

// collect drops state for channels that left the snapshot. Entries still
// sweeping are left to finish.
func (s *Scheduler) collect(live map[string]struct{}) int {
	n := 0
	s.entries.Range(func(k, v any) bool {
		ch := k.(string)
		if _, ok := live[ch]; ok {
			return true
		}
		e := v.(*entry)
		e.mu.Lock()
		if e.state != Sweeping {
			s.entries.CompareAndDelete(ch, e)
			n++
		}
		e.mu.Unlock()
		return true
	})
	return n
}

func (s *Scheduler) run(ctx context.Context, t task) error {
	e := s.entry(t.channelID)
	e.mu.Lock()
	if e.runID != t.runID || e.state != Sweeping {
		e.mu.Unlock()
		return nil
	}
	if e.canceled {
		e.mu.Unlock()
		s.drop(t, e, "canceled before start")
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.cancel = cancel
	e.lastStarted = s.now()
	e.mu.Unlock()

	// The policy may have been removed or replaced while the task was queued.
	// The store has the final word: the snapshot lags when a refresh failed.
	if p, ok := s.cache.Snapshot().Lookup(t.channelID); !ok || p.ID != t.policyID {
		s.drop(t, e, "policy changed before start")
		return nil
	}
	current, err := s.confirm(ctx, t)
	if err != nil {
		outcome := purge.OutcomeRetryable
		if ctx.Err() != nil {
			outcome = outcomeOf(ctx)
		}
		s.finish(t, e, purge.Result{ChannelID: t.channelID, Cutoff: t.cutoff, Outcome: outcome, Err: err})
		return nil
	}
	if !current {
		s.drop(t, e, "policy gone from store")
		return nil
	}

	s.log.Debug("sweep.started",
		logx.String("channel", t.channelID),
		logx.Time("cutoff", t.cutoff),
		logx.Int("attempt", t.attempt),
	)
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeSweepStarted, Time: e.lastStarted, Data: t.channelID})

	release, err := s.guilds.acquire(ctx, t.guildID)
	if err != nil {
		// Canceled or timed out while waiting on the guild cap.
		s.finish(t, e, purge.Result{ChannelID: t.channelID, Outcome: outcomeOf(ctx), Err: err})
		return nil
	}
	res := func() purge.Result {
		defer release()
		return s.exec.Sweep(ctx, t.channelID, t.cutoff)
	}()

	if res.Outcome == purge.OutcomeSuccess {
		// Bookkeeping runs while the channel is still Sweeping, so no other
		// sweep of it can interleave. Deletion wins: the store ignores the
		// record when the policy is gone or was recreated.
		rctx, rcancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
		if err := s.store.RecordSwept(rctx, t.channelID, t.policyID, t.tickAt); err != nil {
			s.log.Error("sweep.record_failed", logx.String("channel", t.channelID), logx.Err(err))
		}
		rcancel()
	}
	s.finish(t, e, res)
	return nil
}

// drop ends a run that did no work and forgets the channel; the next tick
// starts it fresh if it still has a policy.
// confirm reports whether the task's policy is still the stored one.
func (s *Scheduler) confirm(ctx context.Context, t task) (bool, error) {
	gctx, cancel := context.WithTimeout(ctx, recordTimeout)
	defer cancel()
	p, ok, err := s.store.Get(gctx, t.channelID)
	if err != nil {
		return false, &purge.RetryableAPIError{Op: "confirm policy", Err: err}
	}
	return ok && p.ID == t.policyID, nil
}

func (s *Scheduler) drop(t task, e *entry, why string) {
	e.mu.Lock()
	if e.runID == t.runID {
		e.state = Idle
		e.cancel = nil
		s.entries.CompareAndDelete(t.channelID, e)
	}
	e.mu.Unlock()
	s.log.Debug("sweep.dropped", logx.String("channel", t.channelID), logx.String("reason", why))
}

func (s *Scheduler) finish(t task, e *entry, res purge.Result) {
	if s.obs != nil {
		s.obs.ObserveSweep(res, t.attempt)
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeSweepFinished, Time: s.now(), Data: res})

	fields := []logx.Field{
		logx.String("channel", t.channelID),
		logx.String("outcome", res.Outcome.String()),
		logx.Int("deleted", res.Deleted),
		logx.Int("scanned", res.Scanned),
		logx.Int("rate_limit_retries", res.RateLimitRetries),
		logx.Int("attempt", t.attempt),
		logx.Duration("dur", res.Duration),
	}

	e.mu.Lock()
	if e.runID != t.runID {
		e.mu.Unlock()
		return
	}
	e.cancel = nil
	e.lastFinished = s.now()
	e.lastOutcome = res.Outcome.String()
	e.lastDeleted = res.Deleted
	e.lastError = ""
	if res.Err != nil {
		e.lastError = truncate(res.Err.Error(), maxErrorInState)
	}

	var alertText string
	switch res.Outcome {
	case purge.OutcomeSuccess:
		e.state, e.failure, e.attempt = Idle, NoFailure, 0
	case purge.OutcomeRetryable, purge.OutcomeTimeout:
		e.state, e.failure = Failed, RetryableFailure
		e.attempt++
	case purge.OutcomePermanent:
		e.state, e.failure = Failed, PermanentFailure
		e.attempt++
		alertText = fmt.Sprintf("Sweep of channel %s failed permanently (attempt %d): %v", t.channelID, e.attempt, res.Err)
	case purge.OutcomeCanceled:
		e.state = Idle
		s.entries.CompareAndDelete(t.channelID, e)
	}
	e.mu.Unlock()

	switch res.Outcome {
	case purge.OutcomeSuccess:
		s.log.Info("sweep.finished", fields...)
	case purge.OutcomeCanceled:
		s.log.Info("sweep.canceled", fields...)
	case purge.OutcomePermanent:
		s.log.Error("sweep.failed", append(fields, logx.Err(res.Err))...)
	default:
		s.log.Warn("sweep.failed", append(fields, logx.Err(res.Err))...)
	}

	if alertText != "" && s.alert != nil {
		actx, cancel := context.WithTimeout(context.Background(), alertTimeout)
		s.alert.Alert(actx, "sweep:"+t.channelID+":"+permanentReason(res.Err), alertText)
		cancel()
	}
}

// Cancel stops the channel's in-flight sweep, if any, and forgets its state.
// It reports whether a sweep was in flight.
func (s *Scheduler) Cancel(channelID string) bool {
	v, ok := s.entries.Load(channelID)
	if !ok {
		return false
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Sweeping {
		s.entries.CompareAndDelete(channelID, e)
		return false
	}
	e.canceled = true
	if e.cancel != nil {
		e.cancel()
	}
	return true
}

// Status returns every tracked channel ordered by channel id.
func (s *Scheduler) Status() []ChannelStatus {
	var out []ChannelStatus
	s.entries.Range(func(k, v any) bool {
		out = append(out, v.(*entry).status(k.(string)))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out
}

// ChannelStatus returns one channel's state; ok is false if it is untracked.
func (s *Scheduler) ChannelStatus(channelID string) (ChannelStatus, bool) {
	v, ok := s.entries.Load(channelID)
	if !ok {
		return ChannelStatus{}, false
	}
	return v.(*entry).status(channelID), true
}

// LastTick returns the report of the most recent tick, if any.
func (s *Scheduler) LastTick() (TickReport, bool) {
	r := s.lastTick.Load()
	if r == nil {
		return TickReport{}, false
	}
	return *r, true
}

func (e *entry) status(channelID string) ChannelStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ChannelStatus{
		ChannelID:    channelID,
		PolicyID:     e.policyID,
		State:        e.state,
		StateName:    e.state.String(),
		Failure:      e.failure,
		FailureName:  e.failure.String(),
		Attempt:      e.attempt,
		LastStarted:  e.lastStarted,
		LastFinished: e.lastFinished,
		LastOutcome:  e.lastOutcome,
		LastDeleted:  e.lastDeleted,
		LastError:    e.lastError,
	}
}

func permanentReason(err error) string {
	var pf *purge.PermanentFailure
	if errors.As(err, &pf) {
		return pf.Reason
	}
	return "unknown"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
