package notifier

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	logx "devour/pkg/logx"
)

const sendTimeout = 10 * time.Second

func (s *Service) work(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			for _, snd := range s.senders {
				s.deliver(ctx, snd, j)
			}
		}
	}
}

// deliver sends j through snd, retrying up to cfg.RetryMax times.
func (s *Service) deliver(ctx context.Context, snd Sender, j job) {
	s.mu.Lock()
	cfg, lim := s.cfg, s.limiter
	s.mu.Unlock()

	text := prefix(j.n.Level) + j.n.Text
	item := HistoryItem{Key: j.key, Sender: snd.Name(), Text: text}
	attempts := 1 + cfg.RetryMax

	var err error
	for attempt := 1; ; attempt++ {
		if lim.Wait(ctx) != nil {
			return
		}
		sctx, cancel := context.WithTimeout(ctx, sendTimeout)
		err = snd.Send(sctx, text)
		cancel()
		if err == nil {
			item.At = s.now()
			s.recent.add(item)
			s.publish(EventSent, Event{Key: j.key, Sender: snd.Name()})
			return
		}
		s.log.Debug("alert send failed", logx.String("sender", snd.Name()), logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", attempts))
		if attempt >= attempts {
			break
		}
		select {
		case <-time.After(retryDelay(cfg, attempt)):
		case <-ctx.Done():
			return
		}
	}

	// Logged at warn: an error line would loop back in through the log sink.
	s.log.Warn("alert dropped after retries", logx.String("sender", snd.Name()), logx.String("key", j.key), logx.Err(err))
	item.At, item.Error = s.now(), err.Error()
	s.recent.add(item)
	s.publish(EventFailed, Event{Key: j.key, Sender: snd.Name(), Error: item.Error})
}

func prefix(l Level) string {
	switch l {
	case LevelCritical:
		return "[devour] ALERT: "
	case LevelWarn:
		return "[devour] warning: "
	default:
		return "[devour] "
	}
}

// retryDelay is the pause after a failed attempt: RetryBase doubled per
// attempt, jittered to 70..130% and capped at RetryMaxDelay.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase << min(attempt-1, 20)
	if d <= 0 || d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	d = time.Duration(float64(d) * (0.7 + 0.6*rand.Float64()))
	return max(min(d, cfg.RetryMaxDelay), time.Millisecond)
}

type recent struct {
	mu    sync.Mutex
	items []HistoryItem
}

func (r *recent) add(it HistoryItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, it)
	if over := len(r.items) - historySize; over > 0 {
		r.items = append(r.items[:0:0], r.items[over:]...)
	}
}

func (r *recent) list() []HistoryItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]HistoryItem(nil), r.items...)
}
