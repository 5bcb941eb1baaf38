package config

import (
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// Env holds environment overrides. Secrets normally come from here rather
// than from the config file.
type Env struct {
	DiscordToken  string `envconfig:"DISCORD_TOKEN"`
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	StorageDriver string `envconfig:"DEVOUR_STORAGE_DRIVER"`
	LogLevel      string `envconfig:"DEVOUR_LOG_LEVEL"`
	TelegramToken string `envconfig:"TELEGRAM_TOKEN"`
	DiagToken     string `envconfig:"DEVOUR_DIAG_TOKEN"`
}

// LoadEnv reads Env from the process environment.
func LoadEnv() (Env, error) {
	var e Env
	if err := envconfig.Process("", &e); err != nil {
		return Env{}, err
	}
	return e, nil
}

// Overlay applies non-empty environment values on top of cfg.
func (e Env) Overlay(cfg *Config) {
	if cfg == nil {
		return
	}
	if v := strings.TrimSpace(e.DiscordToken); v != "" {
		cfg.Discord.Token = v
	}
	if v := strings.TrimSpace(e.DatabaseURL); v != "" {
		cfg.Storage.DSN = v
		if strings.TrimSpace(cfg.Storage.Driver) == "" {
			cfg.Storage.Driver = "postgres"
		}
	}
	if v := strings.TrimSpace(e.StorageDriver); v != "" {
		cfg.Storage.Driver = v
	}
	if v := strings.TrimSpace(e.LogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(e.TelegramToken); v != "" {
		if cfg.Telegram == nil {
			cfg.Telegram = &TelegramConfig{}
		}
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(e.DiagToken); v != "" {
		cfg.Diag.Token = v
	}
}
