package sweep

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuildLimiterCapsPerGuild(t *testing.T) {
	g := newGuildLimiter()
	g.setLimit(1)

	rel, err := g.acquire(context.Background(), "g1")
	require.NoError(t, err)

	// Another guild is unaffected.
	other, err := g.acquire(context.Background(), "g2")
	require.NoError(t, err)
	other()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.acquire(ctx, "g1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "timeout", outcomeOf(ctx).String())

	rel()
	rel() // second release is a no-op
	rel2, err := g.acquire(context.Background(), "g1")
	require.NoError(t, err)
	rel2()

	g.mu.Lock()
	assert.Empty(t, g.slots, "idle guilds are forgotten")
	g.mu.Unlock()
}

func TestGuildLimiterUnlimited(t *testing.T) {
	g := newGuildLimiter()
	for range 10 {
		_, err := g.acquire(context.Background(), "g1")
		require.NoError(t, err)
	}
	g.setLimit(2)
	a, err := g.acquire(context.Background(), "g1")
	require.NoError(t, err)
	b, err := g.acquire(context.Background(), "g1")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.acquire(ctx, "g1")
	assert.ErrorIs(t, err, context.Canceled)
	a()
	b()
}
