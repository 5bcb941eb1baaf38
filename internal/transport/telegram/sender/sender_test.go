package sender

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	logx "devour/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitTextPrefersNewlines(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitText("short", 10))

	got := splitText("aaaa\nbbbb\ncccc", 10)
	assert.Equal(t, []string{"aaaa\nbbbb", "cccc"}, got)

	long := strings.Repeat("x", 25)
	got = splitText(long, 10)
	require.Len(t, got, 3)
	assert.Equal(t, long, strings.Join(got, ""))
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config{ChatID: 1}, logx.Nop())
	assert.Error(t, err)
	_, err = New(Config{Token: "t"}, logx.Nop())
	assert.Error(t, err)
}

func TestSendPostsToBotAPI(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, r.URL.Path+" "+string(b))
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":-100,"type":"supergroup"}}}`)
	}))
	defer srv.Close()

	s, err := New(Config{Token: "123:abc", ChatID: -100, ThreadID: 9, URL: srv.URL}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Send(context.Background(), "sweep of channel 42 failed"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 1)
	assert.Contains(t, bodies[0], "/bot123:abc/sendMessage")
	assert.Contains(t, bodies[0], "sweep of channel 42 failed")
}

func TestSendHonorsCanceledContext(t *testing.T) {
	s, err := New(Config{Token: "123:abc", ChatID: 1, URL: "http://127.0.0.1:1"}, logx.Nop())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Send(ctx, "x"), context.Canceled)
}
