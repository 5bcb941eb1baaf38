package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"devour/internal/task/engine"
	logx "devour/pkg/logx"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"
)

const triggerWarnEvery = 5 * time.Second

func New(cfg Config, eng Enqueuer, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		log:    log,
		engine: eng,
		byName: make(map[string]*schedule),
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config. A timezone change rebuilds a running cron.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tzChanged := strings.TrimSpace(s.cfg.Timezone) != strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg
	if s.cron == nil || !tzChanged {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
	s.startLocked()
	s.log.Info("scheduler restarted", logx.String("tz", s.loc.String()))
}

// Start begins firing every registered schedule.
func (s *Service) Start(_ context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil || !s.cfg.Enabled {
		return
	}
	s.startLocked()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.byName)))
}

func (s *Service) startLocked() {
	s.loc = s.location()
	s.cron = cron.New(cron.WithParser(specParser), cron.WithLocation(s.loc))
	for _, name := range s.order {
		if err := s.registerLocked(s.byName[name]); err != nil {
			s.log.Error("schedule register failed", logx.String("name", name), logx.Err(err))
		}
	}
	s.cron.Start()
}

// Stop halts firing, waiting for cron's own goroutine up to ctx. Schedules
// stay registered for a later Start.
func (s *Service) Stop(ctx context.Context) {
	began := time.Now()
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	for _, sch := range s.byName {
		sch.entry = 0
	}
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(began)))
}

// AddSchedule registers raw (a cron expression or a duration, see
// ParseSchedule) under name, replacing any schedule with that name.
func (s *Service) AddSchedule(name, raw string, timeout time.Duration, job func(ctx context.Context) error) error {
	ps, err := ParseSchedule(raw)
	if err != nil {
		return err
	}
	if ps.Kind == SpecInterval {
		return s.AddInterval(name, ps.Every, timeout, job)
	}
	return s.AddCron(name, ps.Cron, timeout, job)
}

func (s *Service) AddCron(name, spec string, timeout time.Duration, job func(ctx context.Context) error) error {
	if _, err := specParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	return s.put(&schedule{name: name, spec: spec, timeout: timeout, run: job})
}

func (s *Service) AddInterval(name string, every, timeout time.Duration, job func(ctx context.Context) error) error {
	if every <= 0 {
		return errors.New("interval must be > 0")
	}
	return s.put(&schedule{name: name, spec: "@every " + every.String(), every: every, timeout: timeout, run: job})
}

func (s *Service) put(sch *schedule) error {
	sch.name = strings.TrimSpace(sch.name)
	switch {
	case sch.name == "":
		return errors.New("schedule name required")
	case sch.run == nil:
		return errors.New("schedule job required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.byName[sch.name]; ok {
		sch.state, sch.warn = old.state, old.warn
		s.unregisterLocked(old)
	} else {
		sch.state = &engine.RunState{}
		sch.warn = &rate.Sometimes{Interval: triggerWarnEvery}
		s.order = append(s.order, sch.name)
	}
	s.byName[sch.name] = sch
	if s.cron == nil {
		return nil
	}
	if err := s.registerLocked(sch); err != nil {
		s.log.Error("schedule register failed", logx.String("name", sch.name), logx.String("spec", sch.spec), logx.Err(err))
		return err
	}
	s.log.Debug("schedule registered",
		logx.String("name", sch.name),
		logx.String("spec", sch.spec),
		logx.Duration("timeout", sch.timeout),
		logx.String("next", s.upcomingLocked(sch, 3)),
	)
	return nil
}

// Remove unschedules name and reports whether it was registered.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	sch, ok := s.byName[name]
	if !ok {
		return false
	}
	s.unregisterLocked(sch)
	delete(s.byName, name)
	s.order = slices.DeleteFunc(s.order, func(n string) bool { return n == name })
	s.log.Debug("schedule removed", logx.String("name", name))
	return true
}

func (s *Service) registerLocked(sch *schedule) error {
	fire := cron.FuncJob(func() { s.trigger(sch) })
	if sch.every > 0 {
		var sched cron.Schedule
		sched, sch.spread = withStartupSpread(sch.every, time.Now().In(s.loc), sch.name)
		sch.entry = s.cron.Schedule(sched, fire)
		return nil
	}
	id, err := s.cron.AddJob(sch.spec, fire)
	if err != nil {
		return err
	}
	sch.entry, sch.spread = id, 0
	return nil
}

func (s *Service) unregisterLocked(sch *schedule) {
	if s.cron != nil && sch.entry != 0 {
		s.cron.Remove(sch.entry)
	}
	sch.entry = 0
}

// trigger hands one run to the engine. An overlap skip is routine (a pass
// outlasting its interval); other failures warn, throttled per schedule.
func (s *Service) trigger(sch *schedule) {
	if s.engine == nil {
		return
	}
	err := s.engine.Enqueue(engine.Task{
		Name:    sch.name,
		Timeout: sch.timeout,
		Run:     sch.run,
		Overlap: engine.OverlapSkipIfRunning,
		State:   sch.state,
	})
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrOverlapSkip):
		s.log.Debug("schedule trigger skipped: previous run still active", logx.String("schedule", sch.name))
	default:
		sch.warn.Do(func() {
			s.log.Warn("schedule failed to enqueue task", logx.String("schedule", sch.name), logx.Err(err))
		})
	}
}

func (s *Service) location() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; using Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// upcomingLocked lists the next n fire times for debug logs.
func (s *Service) upcomingLocked(sch *schedule, n int) string {
	if !s.log.Enabled(logx.LevelDebug) || sch.entry == 0 {
		return ""
	}
	next := s.cron.Entry(sch.entry).Schedule
	if next == nil {
		return ""
	}
	out := make([]string, 0, n)
	for t := time.Now().In(s.loc); len(out) < n; {
		if t = next.Next(t); t.IsZero() {
			break
		}
		out = append(out, t.Format(time.DateTime))
	}
	return strings.Join(out, ", ")
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{Enabled: s.cfg.Enabled, Started: s.cron != nil, Timezone: s.cfg.Timezone}
	if s.loc != nil {
		snap.Timezone = s.loc.String()
	}
	for _, name := range s.order {
		sch := s.byName[name]
		info := ScheduleInfo{
			Name:          sch.name,
			Spec:          sch.spec,
			Timeout:       sch.timeout,
			StartupSpread: sch.spread,
			Running:       sch.state.Running(),
		}
		if s.cron != nil && sch.entry != 0 {
			e := s.cron.Entry(sch.entry)
			info.Next, info.Prev = e.Next, e.Prev
		}
		snap.Schedules = append(snap.Schedules, info)
	}
	return snap
}
