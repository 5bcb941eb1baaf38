package config

// Config is the on-disk configuration (YAML or JSON).
//
// All durations are Go duration strings ("500ms", "10s", "5m", "336h").
// Unknown keys are rejected.
type Config struct {
	Discord   DiscordConfig   `json:"discord"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Retention RetentionConfig `json:"retention"`
	Scheduler SchedulerConfig `json:"scheduler,omitempty"`

	// Notifier and Telegram are optional; when omitted no operator alerts are sent
	// except through discord.alert_channel_id.
	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Telegram *TelegramConfig `json:"telegram,omitempty"`

	Diag DiagConfig `json:"diag,omitempty"`
}

// DiscordConfig configures the bot session. Token is usually supplied through
// DISCORD_TOKEN instead of the file.
type DiscordConfig struct {
	Token string `json:"token,omitempty"`

	// GuildID registers slash commands in one guild (instant propagation).
	// Empty registers them globally.
	GuildID string `json:"guild_id,omitempty"`

	// RegisterCommands defaults to true.
	RegisterCommands *bool `json:"register_commands,omitempty"`

	// AlertChannelID receives operator alerts (permanent sweep failures).
	AlertChannelID string `json:"alert_channel_id,omitempty"`

	RequestTimeout string `json:"request_timeout,omitempty"` // default "20s"
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Alert   LoggingAlert `json:"alert,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlert forwards log lines at or above MinLevel to the notifier.
type LoggingAlert struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// StorageConfig selects the Retention Store backend.
//
//	"storage": { "driver": "sqlite", "path": "./data/devour.db" }
//	"storage": { "driver": "postgres", "dsn": "postgres://..." }
//	"storage": { "driver": "file", "path": "./data/policies" }
//
// An empty driver means sqlite, or postgres when DATABASE_URL is set.
type StorageConfig struct {
	Driver       string `json:"driver,omitempty"`
	Path         string `json:"path,omitempty"`
	DSN          string `json:"dsn,omitempty"`
	BusyTimeout  string `json:"busy_timeout,omitempty"` // sqlite
	MaxOpenConns int    `json:"max_open_conns,omitempty"`
}

// RetentionConfig controls sweeping and the purge executor.
//
// Defaults (when fields are omitted/zero):
//   - sweep_every: "5m" (ignored when sweep_schedule is set)
//   - refresh_every: "1m" (capped at sweep_every)
//   - sweep_timeout: "10m"
//   - workers: 4, queue_size: 256
//   - page_size: 100
//   - rate_per_sec: 5, burst: 5
//   - max_rate_limit_retries: 5 when omitted (0 is kept), max_retry_wait: "30s"
//   - bulk_max_age: "335h" (just under the 14 day platform limit)
type RetentionConfig struct {
	SweepEvery string `json:"sweep_every,omitempty"`
	// SweepSchedule is a cron expression ("*/5 * * * *", "@hourly") that
	// replaces sweep_every when set.
	SweepSchedule string `json:"sweep_schedule,omitempty"`
	RefreshEvery  string `json:"refresh_every,omitempty"`
	SweepTimeout  string `json:"sweep_timeout,omitempty"`

	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	MaxQueueDelay string `json:"max_queue_delay,omitempty"`
	// GuildConcurrency caps concurrent sweeps within one guild; 0 leaves
	// only the workers limit.
	GuildConcurrency int `json:"guild_concurrency,omitempty"`

	PageSize   int     `json:"page_size,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`
	// nil takes the default; 0 aborts a sweep on its first rate limit.
	MaxRateLimitRetries *int   `json:"max_rate_limit_retries,omitempty"`
	MaxRetryWait        string `json:"max_retry_wait,omitempty"`
	BulkMaxAge          string `json:"bulk_max_age,omitempty"`
	KeepPinned          bool   `json:"keep_pinned,omitempty"`
}

type SchedulerConfig struct {
	Timezone string `json:"timezone,omitempty"`
}

// NotifierConfig controls the operator alert pipeline.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers,omitempty"`
	QueueSize       int    `json:"queue_size,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	RetryMax        int    `json:"retry_max,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
}

// TelegramConfig is an optional alert destination (ops chat).
type TelegramConfig struct {
	Token    string `json:"token,omitempty"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
}

// DiagConfig controls the diagnostics HTTP server (/healthz, /metrics, pprof).
//
// Prefer binding to localhost. A non-loopback address requires a token or
// allow_insecure.
type DiagConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default "127.0.0.1:9090"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
