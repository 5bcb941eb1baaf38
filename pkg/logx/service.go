package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
	Alert   AlertConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

const defaultLogPath = "./devour.log"

// Service owns the process log outputs and can swap them at runtime.
type Service struct {
	root atomic.Pointer[zerolog.Logger]

	mu   sync.Mutex
	file *os.File
	fwd  *forwarder
}

// New applies cfg and returns the service with a logger bound to it.
func New(cfg Config) (*Service, Logger) {
	s := &Service{fwd: newForwarder()}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

// SetAlertSink attaches the operator sink; nil detaches it.
func (s *Service) SetAlertSink(sink AlertSink) { s.fwd.setSink(sink) }

// Apply rebuilds outputs and levels. Loggers already handed out pick up the
// new root on their next write.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fwd.configure(cfg.Alert)

	var outs []io.Writer
	if cfg.Console {
		outs = append(outs, consoleWriter(os.Stdout))
	}
	if f := s.reopen(cfg.File); f != nil {
		outs = append(outs, zerolog.SyncWriter(f))
	}
	if cfg.Alert.Enabled {
		outs = append(outs, s.fwd)
	}
	if len(outs) == 0 {
		outs = append(outs, consoleWriter(os.Stdout))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(outs...)).
		Level(ParseLevel(cfg.Level, LevelInfo)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
}

// reopen closes the current file and opens the configured one. Caller holds mu.
func (s *Service) reopen(fc FileConfig) *os.File {
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	if !fc.Enabled {
		return nil
	}
	path := strings.TrimSpace(fc.Path)
	if path == "" {
		path = defaultLogPath
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logx: open %s: %v\n", path, err)
		return nil
	}
	s.file = f
	return f
}

// Close stops alert delivery and closes the log file. Later writes go to
// the console.
func (s *Service) Close() error {
	s.fwd.stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.file != nil {
		err = s.file.Close()
		s.file = nil
	}
	zl := zerolog.New(consoleWriter(os.Stdout)).With().Timestamp().Logger()
	s.root.Store(&zl)
	return err
}
