// Package sender delivers operator alerts to a Telegram chat.
package sender

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	logx "devour/pkg/logx"

	tele "gopkg.in/telebot.v4"
)

type Config struct {
	Token    string
	ChatID   int64
	ThreadID int // forum topic; 0 for none
	Timeout  time.Duration

	// URL overrides the Bot API endpoint (tests, local Bot API servers).
	URL string
}

const textLimit = 4000

type Sender struct {
	cfg Config
	bot *tele.Bot
	log logx.Logger
}

func New(cfg Config, log logx.Logger) (*Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	// Offline: alerts only send, so the bot never polls or calls getMe.
	b, err := tele.NewBot(tele.Settings{
		URL:     cfg.URL,
		Token:   cfg.Token,
		Offline: true,
		Client:  &http.Client{Timeout: cfg.Timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Sender{cfg: cfg, bot: b, log: log}, nil
}

func (s *Sender) Name() string { return "telegram" }

// Send posts text, split into chunks under the message size limit.
func (s *Sender) Send(ctx context.Context, text string) error {
	chat := &tele.Chat{ID: s.cfg.ChatID}
	opt := &tele.SendOptions{DisableWebPagePreview: true, ThreadID: s.cfg.ThreadID}
	for _, chunk := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.bot.Send(chat, chunk, opt); err != nil {
			return err
		}
	}
	return nil
}

// splitText cuts s into chunks of at most limit runes, preferring newline
// boundaries that keep chunks at least a third full.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	var out []string
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start+limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
