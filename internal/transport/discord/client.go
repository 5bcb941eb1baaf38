package discord

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"devour/internal/purge"
	logx "devour/pkg/logx"

	"github.com/bwmarrin/discordgo"
)

// Client is the Discord REST side: it implements purge.MessageAPI and sends
// operator alerts.
type Client struct {
	cfg Config
	log logx.Logger
	s   *discordgo.Session
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("discord token is empty")
	}
	if !strings.HasPrefix(token, "Bot ") {
		token = "Bot " + token
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	s, err := discordgo.New(token)
	if err != nil {
		return nil, err
	}
	// Slash commands need no privileged intents.
	s.Identify.Intents = discordgo.IntentsGuilds
	// The purge executor owns retries so it can bound them per sweep.
	s.ShouldRetryOnRateLimit = false
	s.MaxRestRetries = 0
	s.Client = &http.Client{Timeout: cfg.RequestTimeout}
	s.LogLevel = discordgo.LogWarning
	return &Client{cfg: cfg, log: log, s: s}, nil
}

// Session exposes the underlying session to the gateway.
func (c *Client) Session() *discordgo.Session { return c.s }

func (c *Client) ListMessagesBefore(ctx context.Context, channelID, before string, limit int) ([]purge.Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	msgs, err := c.s.ChannelMessages(channelID, limit, before, "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapError("list messages", err)
	}
	out := make([]purge.Message, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		out = append(out, purge.Message{ID: m.ID, Timestamp: m.Timestamp, Pinned: m.Pinned})
	}
	return out, nil
}

func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return mapError("delete message", c.s.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)))
}

func (c *Client) BulkDeleteMessages(ctx context.Context, channelID string, messageIDs []string) error {
	if len(messageIDs) < 2 {
		return errors.New("bulk delete needs at least two messages")
	}
	return mapError("bulk delete", c.s.ChannelMessagesBulkDelete(channelID, messageIDs, discordgo.WithContext(ctx)))
}

// CursorFor starts listing at t; newer pages are never fetched.
func (c *Client) CursorFor(t time.Time) string { return snowflakeAt(t) }

func (c *Client) Name() string { return "discord" }

// Send posts an operator alert to the configured alert channel.
func (c *Client) Send(ctx context.Context, text string) error {
	if c.cfg.AlertChannelID == "" {
		return errors.New("discord alert channel not configured")
	}
	_, err := c.s.ChannelMessageSendComplex(c.cfg.AlertChannelID, &discordgo.MessageSend{
		Content:         truncate(text, messageLimit),
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}, discordgo.WithContext(ctx))
	return mapError("send alert", err)
}

const messageLimit = 2000

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

var (
	_ purge.MessageAPI = (*Client)(nil)
	_ purge.Cursorer   = (*Client)(nil)
)
