package notifier

import (
	"context"

	logx "devour/pkg/logx"
)

// logSink forwards high-severity log lines as alerts.
type logSink struct{ s *Service }

// LogSink adapts the service to logx.AlertSink.
func (s *Service) LogSink() logx.AlertSink { return logSink{s} }

func (l logSink) Alert(ctx context.Context, text string) error {
	return l.s.Notify(ctx, Notification{Level: LevelWarn, Text: text})
}
