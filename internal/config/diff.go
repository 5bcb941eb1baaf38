package config

import (
	"reflect"
	"sort"
	"strings"

	logx "devour/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured attrs for logging. Tokens and DSNs are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	od, nd := oldCfg.Discord, newCfg.Discord
	if od.Token != nd.Token || od.GuildID != nd.GuildID || od.AlertChannelID != nd.AlertChannelID ||
		od.ShouldRegisterCommands() != nd.ShouldRegisterCommands() || od.RequestTimeout != nd.RequestTimeout {
		changed = append(changed, "discord")
		attrs = append(attrs,
			logx.Bool("discord.token_changed", od.Token != nd.Token),
			logx.String("discord.guild_id", nd.GuildID),
			logx.Bool("discord.alert_channel_set", strings.TrimSpace(nd.AlertChannelID) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alert_enabled", newCfg.Logging.Alert.Enabled),
		)
	}

	oldS, newS := oldCfg.Storage, newCfg.Storage
	if !reflect.DeepEqual(oldS, newS) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newS.Path) != ""),
			logx.Bool("storage.dsn_set", strings.TrimSpace(newS.DSN) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Retention, newCfg.Retention) {
		changed = append(changed, "retention")
		r := newCfg.Retention
		attrs = append(attrs,
			logx.String("retention.sweep_every", r.SweepEvery),
			logx.String("retention.sweep_schedule", r.SweepSchedule),
			logx.String("retention.refresh_every", r.RefreshEvery),
			logx.Int("retention.workers", r.Workers),
			logx.Int("retention.guild_concurrency", r.GuildConcurrency),
			logx.Bool("retention.keep_pinned", r.KeepPinned),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs, logx.String("scheduler.timezone", newCfg.Scheduler.Timezone))
	}

	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
		if n := newCfg.Notifier; n != nil {
			attrs = append(attrs,
				logx.Bool("notifier.enabled", n.Enabled),
				logx.Int("notifier.workers", n.Workers),
				logx.Int("notifier.rate_per_sec", n.RatePerSec),
			)
		}
	}

	if !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram) {
		changed = append(changed, "telegram")
		if t := newCfg.Telegram; t != nil {
			attrs = append(attrs, logx.Int64("telegram.chat_id", t.ChatID), logx.Bool("telegram.token_set", t.Token != ""))
		}
	}

	od2, nd2 := oldCfg.Diag, newCfg.Diag
	od2.Token, nd2.Token = tokenMark(od2.Token), tokenMark(nd2.Token)
	if od2 != nd2 || oldCfg.Diag.Token != newCfg.Diag.Token {
		changed = append(changed, "diag")
		attrs = append(attrs,
			logx.Bool("diag.enabled", nd2.Enabled),
			logx.String("diag.addr", nd2.Addr),
			logx.Bool("diag.token_set", nd2.Token != ""),
			logx.Bool("diag.pprof", nd2.Pprof),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func tokenMark(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return "set"
}
