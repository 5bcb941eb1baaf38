// Package diag serves the diagnostics HTTP endpoints: liveness, readiness,
// Prometheus metrics, a JSON status document and optionally pprof.
package diag

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	rtsup "devour/internal/runtime/supervisor"
	logx "devour/pkg/logx"
)

// Config controls the server. A non-loopback Addr needs a Token unless
// AllowInsecure is set.
type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool
	Pprof         bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

const (
	defaultAddr     = "127.0.0.1:9090"
	shutdownTimeout = 2 * time.Second
)

var errInsecureBind = errors.New("diag: non-loopback addr requires token or allow_insecure")

// Sources supplies endpoint contents. A nil field disables its endpoint;
// a nil Ready always reports ready.
type Sources struct {
	Metrics http.Handler
	Ready   func(ctx context.Context) error
	Status  func(ctx context.Context) any
}

type Service struct {
	log logx.Logger
	src Sources

	mu   sync.Mutex
	cfg  Config
	inst *instance
}

// instance is one started server generation.
type instance struct {
	sup  *rtsup.Supervisor
	srv  *http.Server
	addr string
	// done is made when Stop begins and closed once serving has ended.
	done chan struct{}
}

func New(cfg Config, src Sources, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, src: src, log: log}
}

// Addr is the bound address, or "" when not serving.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inst == nil {
		return ""
	}
	return s.inst.addr
}

// Reconfigure applies cfg, starting, stopping or restarting the server.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) {
	s.mu.Lock()
	prev, up := s.cfg, s.inst != nil
	s.cfg = cfg
	s.mu.Unlock()

	if up && (!cfg.Enabled || prev != cfg) {
		s.Stop(ctx)
	}
	s.Start(ctx)
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	for s.inst != nil {
		if s.inst.done == nil {
			s.mu.Unlock()
			return
		}
		done := s.inst.done
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	inst := &instance{sup: rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "diag"))),
		rtsup.WithCancelOnError(false),
	)}
	s.inst = inst
	s.mu.Unlock()

	inst.sup.GoRestart("http.serve", func(c context.Context) error { return s.serve(c, inst) },
		rtsup.WithPublishFirstError(true),
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
	)
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	inst := s.inst
	if inst == nil {
		s.mu.Unlock()
		return
	}
	if inst.done == nil {
		inst.done = make(chan struct{})
		go s.shutdown(inst)
	}
	done := inst.done
	s.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		inst.sup.Cancel()
	}
}

func (s *Service) shutdown(inst *instance) {
	s.mu.Lock()
	srv := inst.srv
	s.mu.Unlock()
	if srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		_ = srv.Shutdown(sctx)
		cancel()
	}
	inst.sup.Cancel()
	_ = inst.sup.Wait(context.Background())

	s.mu.Lock()
	if s.inst == inst {
		s.inst = nil
	}
	s.mu.Unlock()
	close(inst.done)
	s.log.Info("diag stopped")
}

// checkBind resolves the listen address and enforces the token rule.
func checkBind(cfg Config) (string, bool, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = defaultAddr
	}
	exposed := cfg.Token == "" && !isLoopbackAddr(addr)
	if exposed && !cfg.AllowInsecure {
		return addr, true, errInsecureBind
	}
	return addr, exposed, nil
}

func (s *Service) serve(ctx context.Context, inst *instance) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	addr, exposed, err := checkBind(cfg)
	if err != nil {
		s.log.Error("diag refused to start", logx.String("addr", addr), logx.Err(err))
		return err
	}
	if exposed {
		s.log.Warn("diag serving without token on a non-loopback addr", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		s.log.Error("diag listen failed", logx.String("addr", addr), logx.Err(err))
		return err
	}
	srv := &http.Server{
		Handler:      s.Handler(cfg),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	defer srv.Close()

	s.mu.Lock()
	inst.srv, inst.addr = srv, ln.Addr().String()
	s.mu.Unlock()

	stopWatch := context.AfterFunc(ctx, func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(sctx)
	})
	defer stopWatch()

	s.log.Info("diag started", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", cfg.Token != ""), logx.Bool("pprof", cfg.Pprof))
	err = srv.Serve(ln)

	s.mu.Lock()
	stopping := inst.done != nil
	inst.srv, inst.addr = nil, ""
	s.mu.Unlock()

	switch {
	case stopping, ctx.Err() != nil:
		return context.Canceled
	case err == nil, errors.Is(err, http.ErrServerClosed):
		return errors.New("diag server exited unexpectedly")
	default:
		return err
	}
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	host = strings.TrimSpace(host)
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
