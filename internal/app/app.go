package app

import (
	"context"
	"fmt"
	"time"

	"devour/internal/commands"
	"devour/internal/config"
	"devour/internal/eventbus"
	"devour/internal/notifier"
	"devour/internal/observability/diag"
	"devour/internal/observability/metrics"
	"devour/internal/purge"
	"devour/internal/retention"
	rtsup "devour/internal/runtime/supervisor"
	"devour/internal/storage"
	"devour/internal/sweep"
	"devour/internal/task/engine"
	"devour/internal/task/scheduler"
	"devour/internal/transport/discord"
	"devour/internal/transport/telegram/sender"
	logx "devour/pkg/logx"
	"devour/pkg/systemd"
)

// Schedule names registered on the trigger scheduler.
const (
	jobSweep   = "retention.sweep"
	jobRefresh = "retention.refresh"
)

type Options struct {
	ConfigPath string
	Env        config.Env
	Version    string
}

type App struct {
	version string
	started time.Time

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	cache    *retention.Cache
	policies *retention.Manager
	exec     *purge.Executor
	sweeper  *sweep.Scheduler

	tasks  *engine.Service
	sweeps *engine.Service
	sched  *scheduler.Service

	discord *discord.Client
	gateway *discord.Gateway

	notif   *notifier.Service
	metrics *metrics.Metrics
	diag    *diag.Service

	// rs is the retention config currently applied. Only Start and the
	// reload loop touch it.
	rs config.RetentionSettings
}

// New loads the config and builds every component. Nothing connects to
// Discord until Start.
func New(ctx context.Context, opts Options) (*App, error) {
	cfgm := config.NewManager(opts.ConfigPath, opts.Env)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.RequireDiscord(cfg); err != nil {
		return nil, err
	}
	rs, err := cfg.Retention.Resolve()
	if err != nil {
		return nil, err
	}
	if err := validateSweepSchedule(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	appLog := log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	appLog.Info("storage opened", logx.String("driver", store.Driver()))

	dc, err := mapDiscordConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	dcl, err := discord.New(dc, log.With(logx.String("comp", "discord")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	a := &App{
		version: opts.Version,
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		discord: dcl,
		metrics: metrics.New(),
		rs:      rs,
	}

	a.cache = retention.NewCache(store, log.With(logx.String("comp", "cache")), bus)
	a.policies = retention.NewManager(store, a.cache, log.With(logx.String("comp", "policies")),
		retention.WithAuditor(store),
		retention.WithBus(bus),
	)
	a.exec = purge.NewExecutor(dcl, mapPurgeConfig(rs), log.With(logx.String("comp", "purge")))

	tasksCfg, sweepsCfg := mapEngineConfigs(rs)
	a.tasks = engine.New(tasksCfg, log.With(logx.String("comp", "taskengine")), bus)
	a.sweeps = engine.New(sweepsCfg, log.With(logx.String("comp", "sweepengine")), bus)
	a.sched = scheduler.New(mapSchedulerConfig(cfg), a.tasks, log.With(logx.String("comp", "scheduler")))

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	var senders []notifier.Sender
	if tc, ok := mapTelegramConfig(cfg); ok {
		tg, err := sender.New(tc, log.With(logx.String("comp", "telegram")))
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		senders = append(senders, tg)
	}
	if dc.AlertChannelID != "" {
		senders = append(senders, dcl)
	}
	a.notif = notifier.New(ncfg, senders, store, log.With(logx.String("comp", "notifier")), bus)
	logSvc.SetAlertSink(a.notif.LogSink())

	a.sweeper = sweep.New(mapSweepConfig(rs), a.cache, a.exec, store, a.sweeps, log.With(logx.String("comp", "sweep")),
		sweep.WithAlerter(a.notif),
		sweep.WithObserver(a.metrics),
		sweep.WithBus(bus),
	)
	a.policies.SetCanceler(a.sweeper)

	handler := commands.New(a.policies, a.sweeper, log.With(logx.String("comp", "commands")))
	a.gateway = discord.NewGateway(dcl, handler, log.With(logx.String("comp", "gateway")))

	dgc, err := mapDiagConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.diag = diag.New(dgc, diag.Sources{
		Metrics: a.metrics.Handler(),
		Ready:   a.ready,
		Status:  a.status,
	}, log.With(logx.String("comp", "diag")))

	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.started = time.Now()
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := config.RequireDiscord(cfg); err != nil {
			return err
		}
		if _, err := mapNotifierConfig(cfg); err != nil {
			return err
		}
		if _, err := mapDiagConfig(cfg); err != nil {
			return err
		}
		if err := validateSweepSchedule(cfg); err != nil {
			return err
		}
		_, err := mapDiscordConfig(cfg)
		return err
	})

	// The first tick must see the persisted policies.
	if err := a.cache.Refresh(ctx); err != nil {
		return fmt.Errorf("load policies: %w", err)
	}

	run := a.sup.Context()
	a.sup.Go0("metrics.events", func(c context.Context) { a.metrics.Run(c, a.bus) })

	a.sweeps.Start(run)
	a.tasks.Start(run)
	if a.notif.Enabled() {
		a.notif.Start(run)
	}
	if err := a.registerJobs(a.rs); err != nil {
		return err
	}
	a.sched.Start(run)
	a.diag.Start(run)

	if err := a.gateway.Start(run); err != nil {
		return fmt.Errorf("discord gateway: %w", err)
	}

	if a.log.Enabled(logx.LevelDebug) {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("eventbus.log", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if iv := systemd.WatchdogInterval(); iv > 0 {
		a.sup.Go0("systemd.watchdog", func(c context.Context) {
			systemd.Watchdog(c, iv, a.store.Ping)
		})
	}
	if ok, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}

	a.log.Info("app started",
		logx.String("version", a.version),
		logx.String("sweep", sweepSpec(a.rs)),
		logx.Int("policies", a.cache.Snapshot().Len()),
	)
	return nil
}

// registerJobs (re)registers the periodic tick and cache refresh. Registering
// an existing name replaces it and keeps its run state.
func (a *App) registerJobs(rs config.RetentionSettings) error {
	if err := a.sched.AddInterval(jobRefresh, rs.RefreshEvery, triggerTimeout, a.cache.Refresh); err != nil {
		return err
	}
	return a.sched.AddSchedule(jobSweep, sweepSpec(rs), triggerTimeout, func(c context.Context) error {
		a.sweeper.Tick(c)
		return nil
	})
}

// sweepSpec is the tick schedule: the cron expression when configured, the
// interval otherwise.
func sweepSpec(rs config.RetentionSettings) string {
	if rs.SweepSchedule != "" {
		return rs.SweepSchedule
	}
	return rs.SweepEvery.String()
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()

	a.sup.Cancel()

	// step runs fn with an upper bound so one component can't stall the whole stop.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			limit = min(limit, time.Until(dl))
		}
		if limit <= 0 {
			a.log.Warn("stop step skipped; no time left", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			if took := time.Since(start); took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// Triggers first so nothing new is dispatched, then the pools drain.
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("gateway", 2*time.Second, a.gateway.Stop)
	step("taskengine", 2*time.Second, func(c context.Context) error { a.tasks.Stop(c); return nil })
	step("sweepengine", 5*time.Second, func(c context.Context) error { a.sweeps.Stop(c); return nil })
	step("diag", time.Second, func(c context.Context) error { a.diag.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	a.logs.SetAlertSink(nil)
	return a.logs.Close()
}
