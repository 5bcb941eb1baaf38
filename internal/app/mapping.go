package app

import (
	"fmt"
	"strings"
	"time"

	"devour/internal/config"
	"devour/internal/notifier"
	"devour/internal/observability/diag"
	"devour/internal/purge"
	"devour/internal/storage"
	"devour/internal/sweep"
	"devour/internal/task/engine"
	"devour/internal/task/scheduler"
	"devour/internal/transport/discord"
	"devour/internal/transport/telegram/sender"
	logx "devour/pkg/logx"
)

// defaultDedupWindow applies when the notifier section is omitted: alerts
// still flow to a configured destination, one per condition per hour.
const defaultDedupWindow = time.Hour

// triggerTimeout bounds the tick and refresh jobs on the trigger engine. A
// tick only dispatches, so it is short unless sweep backpressure holds it.
const triggerTimeout = 2 * time.Minute

func mapLoggingConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Alert: logx.AlertConfig{
			Enabled:    l.Alert.Enabled,
			MinLevel:   l.Alert.MinLevel,
			RatePerSec: l.Alert.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:       strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:         strings.TrimSpace(sc.Path),
		DSN:          strings.TrimSpace(sc.DSN),
		BusyTimeout:  busy,
		MaxOpenConns: sc.MaxOpenConns,
	}, nil
}

// mapEngineConfigs returns the trigger engine and the sweep engine configs.
func mapEngineConfigs(rs config.RetentionSettings) (engine.Config, engine.Config) {
	tasks := engine.Config{
		Name:           "tasks",
		Enabled:        true,
		Workers:        2,
		QueueSize:      16,
		DefaultTimeout: triggerTimeout,
	}
	sweeps := engine.Config{
		Name:           "sweep",
		Enabled:        true,
		Workers:        rs.Workers,
		QueueSize:      rs.QueueSize,
		DefaultTimeout: rs.SweepTimeout,
		MaxQueueDelay:  rs.MaxQueueDelay,
	}
	return tasks, sweeps
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Enabled: true, Timezone: cfg.Scheduler.Timezone}
}

func validateSweepSchedule(cfg *config.Config) error {
	s := strings.TrimSpace(cfg.Retention.SweepSchedule)
	if s == "" {
		return nil
	}
	if _, err := scheduler.ParseSchedule(s); err != nil {
		return fmt.Errorf("retention.sweep_schedule: %w", err)
	}
	return nil
}

func mapPurgeConfig(rs config.RetentionSettings) purge.Config {
	return purge.Config{
		PageSize:            rs.PageSize,
		BulkMaxAge:          rs.BulkMaxAge,
		KeepPinned:          rs.KeepPinned,
		RatePerSec:          rs.RatePerSec,
		Burst:               rs.Burst,
		MaxRateLimitRetries: rs.MaxRateLimitRetries,
		MaxRetryWait:        rs.MaxRetryWait,
	}
}

func mapSweepConfig(rs config.RetentionSettings) sweep.Config {
	return sweep.Config{Timeout: rs.SweepTimeout, GuildConcurrency: rs.GuildConcurrency}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notifier
	if n == nil {
		return notifier.Config{Enabled: true, DedupWindow: defaultDedupWindow}, nil
	}
	out := notifier.Config{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		DedupMaxEntries: n.DedupMaxEntries,
	}
	var err error
	if out.RetryBase, err = config.ParseDurationField("notifier.retry_base", n.RetryBase); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = config.ParseDurationOrDefault("notifier.dedup_window", n.DedupWindow, defaultDedupWindow); err != nil {
		return notifier.Config{}, err
	}
	return out, nil
}

func mapDiscordConfig(cfg *config.Config) (discord.Config, error) {
	d := cfg.Discord
	timeout, err := config.ParseDurationField("discord.request_timeout", d.RequestTimeout)
	if err != nil {
		return discord.Config{}, err
	}
	return discord.Config{
		Token:            strings.TrimSpace(d.Token),
		GuildID:          strings.TrimSpace(d.GuildID),
		RegisterCommands: d.ShouldRegisterCommands(),
		AlertChannelID:   strings.TrimSpace(d.AlertChannelID),
		RequestTimeout:   timeout,
	}, nil
}

// mapTelegramConfig reports false when no Telegram destination is configured.
func mapTelegramConfig(cfg *config.Config) (sender.Config, bool) {
	t := cfg.Telegram
	if t == nil || strings.TrimSpace(t.Token) == "" || t.ChatID == 0 {
		return sender.Config{}, false
	}
	return sender.Config{Token: strings.TrimSpace(t.Token), ChatID: t.ChatID, ThreadID: t.ThreadID}, true
}

func mapDiagConfig(cfg *config.Config) (diag.Config, error) {
	d := cfg.Diag
	out := diag.Config{
		Enabled:       d.Enabled,
		Addr:          strings.TrimSpace(d.Addr),
		Token:         strings.TrimSpace(d.Token),
		AllowInsecure: d.AllowInsecure,
		Pprof:         d.Pprof,
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationField("diag.read_timeout", d.ReadTimeout); err != nil {
		return diag.Config{}, err
	}
	if out.WriteTimeout, err = config.ParseDurationField("diag.write_timeout", d.WriteTimeout); err != nil {
		return diag.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationField("diag.idle_timeout", d.IdleTimeout); err != nil {
		return diag.Config{}, err
	}
	return out, nil
}
