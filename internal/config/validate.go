package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Retention defaults.
const (
	DefaultSweepEvery          = 5 * time.Minute
	DefaultRefreshEvery        = time.Minute
	DefaultSweepTimeout        = 10 * time.Minute
	DefaultSweepWorkers        = 4
	DefaultSweepQueueSize      = 256
	DefaultPageSize            = 100
	DefaultRatePerSec          = 5.0
	DefaultMaxRateLimitRetries = 5
	DefaultMaxRetryWait        = 30 * time.Second

	// The platform rejects bulk deletes of messages older than 14 days. The
	// default leaves an hour of margin for clock skew and slow sweeps.
	DefaultBulkMaxAge = 14*24*time.Hour - time.Hour
	maxBulkAge        = 14 * 24 * time.Hour
)

// RetentionSettings is RetentionConfig with defaults applied and durations parsed.
type RetentionSettings struct {
	SweepEvery    time.Duration
	SweepSchedule string
	RefreshEvery  time.Duration
	SweepTimeout  time.Duration
	Workers       int
	QueueSize     int
	MaxQueueDelay time.Duration
	// GuildConcurrency is 0 when unlimited.
	GuildConcurrency int

	PageSize            int
	RatePerSec          float64
	Burst               int
	MaxRateLimitRetries int
	MaxRetryWait        time.Duration
	BulkMaxAge          time.Duration
	KeepPinned          bool
}

func (c RetentionConfig) Resolve() (RetentionSettings, error) {
	var (
		s   RetentionSettings
		err error
	)
	if s.SweepEvery, err = ParseDurationOrDefault("retention.sweep_every", c.SweepEvery, DefaultSweepEvery); err != nil {
		return s, err
	}
	if s.RefreshEvery, err = ParseDurationOrDefault("retention.refresh_every", c.RefreshEvery, DefaultRefreshEvery); err != nil {
		return s, err
	}
	s.SweepSchedule = strings.TrimSpace(c.SweepSchedule)
	// A refresh slower than the sweep tick would let ticks run on stale policy.
	s.RefreshEvery = min(s.RefreshEvery, s.SweepEvery)
	if s.SweepTimeout, err = ParseDurationOrDefault("retention.sweep_timeout", c.SweepTimeout, DefaultSweepTimeout); err != nil {
		return s, err
	}
	if s.MaxQueueDelay, err = ParseDurationField("retention.max_queue_delay", c.MaxQueueDelay); err != nil {
		return s, err
	}
	if s.MaxRetryWait, err = ParseDurationOrDefault("retention.max_retry_wait", c.MaxRetryWait, DefaultMaxRetryWait); err != nil {
		return s, err
	}
	if s.BulkMaxAge, err = ParseDurationOrDefault("retention.bulk_max_age", c.BulkMaxAge, DefaultBulkMaxAge); err != nil {
		return s, err
	}
	if s.BulkMaxAge > maxBulkAge {
		return s, fmt.Errorf("retention.bulk_max_age: must be <= %s", maxBulkAge)
	}

	s.Workers = positiveOr(c.Workers, DefaultSweepWorkers)
	s.QueueSize = positiveOr(c.QueueSize, DefaultSweepQueueSize)
	if c.GuildConcurrency < 0 {
		return s, errors.New("retention.guild_concurrency: must be >= 0")
	}
	s.GuildConcurrency = c.GuildConcurrency
	s.PageSize = positiveOr(c.PageSize, DefaultPageSize)
	if s.PageSize > 100 {
		return s, errors.New("retention.page_size: must be <= 100")
	}
	s.RatePerSec = c.RatePerSec
	if s.RatePerSec <= 0 {
		s.RatePerSec = DefaultRatePerSec
	}
	s.Burst = positiveOr(c.Burst, max(1, int(s.RatePerSec)))
	s.MaxRateLimitRetries = DefaultMaxRateLimitRetries
	if r := c.MaxRateLimitRetries; r != nil {
		if *r < 0 {
			return s, errors.New("retention.max_rate_limit_retries: must be >= 0")
		}
		s.MaxRateLimitRetries = *r
	}
	s.KeepPinned = c.KeepPinned
	return s, nil
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

var storageDrivers = map[string]bool{"": true, "sqlite": true, "sqlite3": true, "postgres": true, "postgresql": true, "file": true}

// Validate checks everything that can be checked without touching the network.
// The Discord token is not required here so offline CLI commands can load
// the same file; see RequireDiscord.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if !storageDrivers[driver] {
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	if strings.HasPrefix(driver, "postgres") && strings.TrimSpace(cfg.Storage.DSN) == "" {
		errs = append(errs, errors.New("storage.dsn: required for postgres (or set DATABASE_URL)"))
	}
	if driver == "file" && strings.TrimSpace(cfg.Storage.Path) == "" {
		errs = append(errs, errors.New("storage.path: required for the file driver"))
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}

	if _, err := cfg.Retention.Resolve(); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("discord.request_timeout", cfg.Discord.RequestTimeout); err != nil {
		errs = append(errs, err)
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}

	if cfg.Diag.Enabled {
		if err := validateDiag(cfg.Diag); err != nil {
			errs = append(errs, err)
		}
	}

	if n := cfg.Notifier; n != nil {
		for path, raw := range map[string]string{
			"notifier.retry_base":      n.RetryBase,
			"notifier.retry_max_delay": n.RetryMaxDelay,
			"notifier.dedup_window":    n.DedupWindow,
		} {
			if _, err := ParseDurationField(path, raw); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if t := cfg.Telegram; t != nil && strings.TrimSpace(t.Token) != "" && t.ChatID == 0 {
		errs = append(errs, errors.New("telegram.chat_id: required when telegram.token is set"))
	}
	return errors.Join(errs...)
}

// RequireDiscord reports whether the bot can connect.
func RequireDiscord(cfg *Config) error {
	if cfg == nil || strings.TrimSpace(cfg.Discord.Token) == "" {
		return errors.New("discord.token: required (or set DISCORD_TOKEN)")
	}
	return nil
}

func validateDiag(d DiagConfig) error {
	addr := strings.TrimSpace(d.Addr)
	if addr == "" {
		addr = "127.0.0.1:9090"
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("diag.addr: %w", err)
	}
	if !isLoopback(host) && strings.TrimSpace(d.Token) == "" && !d.AllowInsecure {
		return fmt.Errorf("diag.addr: %q is not loopback; set diag.token or diag.allow_insecure", addr)
	}
	for path, raw := range map[string]string{
		"diag.read_timeout":  d.ReadTimeout,
		"diag.write_timeout": d.WriteTimeout,
		"diag.idle_timeout":  d.IdleTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	return nil
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// ShouldRegisterCommands reports whether slash commands should be (re)registered.
func (d DiscordConfig) ShouldRegisterCommands() bool {
	return d.RegisterCommands == nil || *d.RegisterCommands
}
