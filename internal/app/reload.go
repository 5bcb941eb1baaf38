package app

import (
	"context"
	"slices"
	"strings"
	"time"

	"devour/internal/config"
	"devour/internal/eventbus"
	logx "devour/pkg/logx"
)

// restartOnly lists sections that are read once at startup.
var restartOnly = []string{"discord", "storage", "telegram"}

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig pushes a validated config into the running components.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range restartOnly {
		if slices.Contains(sections, s) {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	a.logs.Apply(mapLoggingConfig(newCfg))

	if slices.Contains(sections, "retention") {
		a.applyRetention(ctx, newCfg)
	}
	if slices.Contains(sections, "scheduler") {
		a.sched.Apply(mapSchedulerConfig(newCfg))
	}

	if ncfg, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		wasEnabled := a.notif.Enabled()
		a.notif.Apply(ncfg)
		switch {
		case wasEnabled && !a.notif.Enabled():
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !wasEnabled && a.notif.Enabled():
			a.log.Info("notifier enabled via config")
			a.notif.Start(ctx)
		}
	}

	if dgc, err := mapDiagConfig(newCfg); err != nil {
		a.log.Warn("invalid diag config; keeping previous", logx.Err(err))
	} else {
		a.diag.Reconfigure(ctx, dgc)
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Time: time.Now(), Data: sections})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) applyRetention(ctx context.Context, cfg *config.Config) {
	rs, err := cfg.Retention.Resolve()
	if err != nil {
		a.log.Warn("invalid retention config; keeping previous", logx.Err(err))
		return
	}
	prev := a.rs
	a.rs = rs

	a.exec.Apply(mapPurgeConfig(rs))
	a.sweeper.Apply(mapSweepConfig(rs))
	_, sweepsCfg := mapEngineConfigs(rs)
	a.sweeps.Apply(ctx, sweepsCfg)

	if prev.SweepEvery != rs.SweepEvery || prev.SweepSchedule != rs.SweepSchedule || prev.RefreshEvery != rs.RefreshEvery {
		if err := a.registerJobs(rs); err != nil {
			a.log.Warn("reschedule failed", logx.Err(err))
			return
		}
		a.log.Info("retention rescheduled",
			logx.String("sweep", sweepSpec(rs)),
			logx.Duration("refresh_every", rs.RefreshEvery),
		)
	}
}
