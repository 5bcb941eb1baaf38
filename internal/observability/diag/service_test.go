package diag

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	logx "devour/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, h http.Handler, target, bearer string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	b, _ := io.ReadAll(rec.Body)
	return rec.Code, string(b)
}

func TestEndpoints(t *testing.T) {
	ready := errors.New("gateway down")
	s := New(Config{}, Sources{
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("devour_ticks_total 3")) }),
		Ready:   func(context.Context) error { return ready },
		Status:  func(context.Context) any { return map[string]int{"policies": 2} },
	}, logx.Nop())
	h := s.Handler(Config{})

	code, body := get(t, h, "/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)

	code, body = get(t, h, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "gateway down")
	ready = nil
	code, _ = get(t, h, "/readyz", "")
	assert.Equal(t, http.StatusOK, code)

	_, body = get(t, h, "/metrics", "")
	assert.Contains(t, body, "devour_ticks_total")

	_, body = get(t, h, "/status", "")
	assert.JSONEq(t, `{"policies":2}`, body)

	code, _ = get(t, h, "/debug/pprof/", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestTokenAuth(t *testing.T) {
	s := New(Config{}, Sources{Status: func(context.Context) any { return "x" }}, logx.Nop())
	h := s.Handler(Config{Token: "s3cret", Pprof: true})

	code, _ := get(t, h, "/status", "")
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = get(t, h, "/status", "wrong")
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = get(t, h, "/status", "s3cret")
	assert.Equal(t, http.StatusOK, code)
	code, _ = get(t, h, "/status?token=s3cret", "")
	assert.Equal(t, http.StatusOK, code)
	code, _ = get(t, h, "/debug/pprof/cmdline", "s3cret")
	assert.Equal(t, http.StatusOK, code)

	code, _ = get(t, h, "/healthz", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestServeAndStop(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, Sources{}, logx.Nop())
	s.Start(context.Background())
	require.Eventually(t, func() bool { return s.Addr() != "" }, 3*time.Second, 5*time.Millisecond)

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.Equal(t, "", s.Addr())
}

func TestIsLoopbackAddr(t *testing.T) {
	assert.True(t, isLoopbackAddr("127.0.0.1:9090"))
	assert.True(t, isLoopbackAddr("localhost:9090"))
	assert.True(t, isLoopbackAddr("[::1]:9090"))
	assert.False(t, isLoopbackAddr(":9090"))
	assert.False(t, isLoopbackAddr("0.0.0.0:9090"))
	assert.False(t, isLoopbackAddr("bad"))
}

func TestCheckBind(t *testing.T) {
	addr, exposed, err := checkBind(Config{})
	require.NoError(t, err)
	assert.Equal(t, defaultAddr, addr)
	assert.False(t, exposed)

	_, _, err = checkBind(Config{Addr: ":9090"})
	assert.ErrorIs(t, err, errInsecureBind)

	_, exposed, err = checkBind(Config{Addr: ":9090", AllowInsecure: true})
	require.NoError(t, err)
	assert.True(t, exposed)

	_, exposed, err = checkBind(Config{Addr: ":9090", Token: "t"})
	require.NoError(t, err)
	assert.False(t, exposed)
}
