package diag

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"net/http/pprof"
	"strings"

	logx "devour/pkg/logx"
)

var pprofRoutes = map[string]http.HandlerFunc{
	"/debug/pprof/":        pprof.Index,
	"/debug/pprof/cmdline": pprof.Cmdline,
	"/debug/pprof/profile": pprof.Profile,
	"/debug/pprof/symbol":  pprof.Symbol,
	"/debug/pprof/trace":   pprof.Trace,
}

// Handler builds the routes for cfg. /healthz skips auth so local probes
// keep working with a token set.
func (s *Service) Handler(cfg Config) http.Handler {
	mux := http.NewServeMux()
	guard := bearer(cfg.Token)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /readyz", guard(http.HandlerFunc(s.readyz)))
	if s.src.Metrics != nil {
		mux.Handle("GET /metrics", guard(s.src.Metrics))
	}
	if s.src.Status != nil {
		mux.Handle("GET /status", guard(http.HandlerFunc(s.statusz)))
	}
	if cfg.Pprof {
		for path, h := range pprofRoutes {
			mux.Handle(path, guard(h))
		}
	}
	return mux
}

func (s *Service) readyz(w http.ResponseWriter, r *http.Request) {
	if s.src.Ready != nil {
		if err := s.src.Ready(r.Context()); err != nil {
			http.Error(w, "not ready: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	_, _ = w.Write([]byte("ready"))
}

func (s *Service) statusz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.src.Status(r.Context())); err != nil {
		s.log.Debug("status encode failed", logx.Err(err))
	}
}

// bearer wraps handlers so they require token, given either as
// "Authorization: Bearer <token>" or ?token=<token>. An empty token
// disables the check.
func bearer(token string) func(http.Handler) http.Handler {
	want := []byte(strings.TrimSpace(token))
	return func(h http.Handler) http.Handler {
		if len(want) == 0 {
			return h
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.URL.Query().Get("token")
			if got == "" {
				if v, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
					got = strings.TrimSpace(v)
				}
			}
			if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			h.ServeHTTP(w, r)
		})
	}
}
