package discord

import "time"

type Config struct {
	Token string

	// GuildID registers commands in one guild; empty registers globally.
	GuildID          string
	RegisterCommands bool

	// AlertChannelID receives operator alerts; empty disables Discord alerts.
	AlertChannelID string

	RequestTimeout time.Duration
}

const defaultRequestTimeout = 20 * time.Second
