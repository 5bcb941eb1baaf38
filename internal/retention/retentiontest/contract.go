package retentiontest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"devour/internal/retention"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStoreContract checks the behaviour every retention.Store backend must
// share. open must return a fresh, empty store.
func RunStoreContract(t *testing.T, open func(t *testing.T) retention.Store) {
	ctx := context.Background()
	mk := func(ch string, d time.Duration) retention.Policy {
		return retention.Policy{GuildID: "g1", ChannelID: ch, InactiveAfter: d}
	}

	t.Run("UpsertThenGet", func(t *testing.T) {
		s := open(t)
		for i, d := range []time.Duration{time.Second, 90 * time.Minute, 30 * 24 * time.Hour} {
			ch := fmt.Sprintf("c%d", i)
			saved, err := s.Upsert(ctx, mk(ch, d))
			require.NoError(t, err)
			require.NotEmpty(t, saved.ID)
			assert.Nil(t, saved.LastSweptAt)

			got, ok, err := s.Get(ctx, ch)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, ch, got.ChannelID)
			assert.Equal(t, d, got.InactiveAfter)
			assert.Equal(t, saved.ID, got.ID)
		}
	})

	t.Run("UpsertRejectsNonPositive", func(t *testing.T) {
		s := open(t)
		for _, d := range []time.Duration{0, -time.Second} {
			_, err := s.Upsert(ctx, mk("c1", d))
			require.True(t, retention.IsValidation(err), "got %v", err)
		}
		_, ok, err := s.Get(ctx, "c1")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("UpsertKeepsIdentityAndLastSwept", func(t *testing.T) {
		s := open(t)
		first, err := s.Upsert(ctx, mk("c1", time.Hour))
		require.NoError(t, err)
		at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
		require.NoError(t, s.RecordSwept(ctx, "c1", first.ID, at))

		p := mk("c1", 2*time.Hour)
		p.GuildID = "g2"
		second, err := s.Upsert(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, 2*time.Hour, second.InactiveAfter)
		assert.Equal(t, "g2", second.GuildID)
		require.NotNil(t, second.LastSweptAt)
		assert.True(t, second.LastSweptAt.Equal(at))
	})

	t.Run("ConcurrentUpsertsSerialize", func(t *testing.T) {
		s := open(t)
		var wg sync.WaitGroup
		for i := 1; i <= 8; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				_, err := s.Upsert(ctx, mk("c1", time.Duration(n)*time.Minute))
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()
		all, err := s.ListAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Greater(t, all[0].InactiveAfter, time.Duration(0))
	})

	t.Run("RemoveAndList", func(t *testing.T) {
		s := open(t)
		for _, ch := range []string{"c3", "c1", "c2"} {
			_, err := s.Upsert(ctx, mk(ch, time.Hour))
			require.NoError(t, err)
		}
		all, err := s.ListAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []string{"c1", "c2", "c3"}, []string{all[0].ChannelID, all[1].ChannelID, all[2].ChannelID})

		removed, err := s.Remove(ctx, "c2")
		require.NoError(t, err)
		assert.True(t, removed)
		removed, err = s.Remove(ctx, "c2")
		require.NoError(t, err)
		assert.False(t, removed)

		all, err = s.ListAll(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("RecordSweptIsMonotonic", func(t *testing.T) {
		s := open(t)
		p, err := s.Upsert(ctx, mk("c1", time.Hour))
		require.NoError(t, err)
		t1 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		require.NoError(t, s.RecordSwept(ctx, "c1", p.ID, t1))
		require.NoError(t, s.RecordSwept(ctx, "c1", p.ID, t1.Add(-time.Hour)))

		got, _, err := s.Get(ctx, "c1")
		require.NoError(t, err)
		require.NotNil(t, got.LastSweptAt)
		assert.True(t, got.LastSweptAt.Equal(t1))

		require.NoError(t, s.RecordSwept(ctx, "c1", "", t1.Add(time.Minute)))
		got, _, err = s.Get(ctx, "c1")
		require.NoError(t, err)
		assert.True(t, got.LastSweptAt.Equal(t1.Add(time.Minute)))
	})

	t.Run("RecordSweptAfterRemoveIsNoop", func(t *testing.T) {
		s := open(t)
		p, err := s.Upsert(ctx, mk("c1", time.Hour))
		require.NoError(t, err)
		_, err = s.Remove(ctx, "c1")
		require.NoError(t, err)

		require.NoError(t, s.RecordSwept(ctx, "c1", p.ID, time.Now()))
		_, ok, err := s.Get(ctx, "c1")
		require.NoError(t, err)
		assert.False(t, ok, "record_swept must not resurrect a removed policy")
	})

	t.Run("RecordSweptIgnoresRecreatedPolicy", func(t *testing.T) {
		s := open(t)
		old, err := s.Upsert(ctx, mk("c1", time.Hour))
		require.NoError(t, err)
		_, err = s.Remove(ctx, "c1")
		require.NoError(t, err)
		fresh, err := s.Upsert(ctx, mk("c1", time.Hour))
		require.NoError(t, err)
		assert.NotEqual(t, old.ID, fresh.ID)

		require.NoError(t, s.RecordSwept(ctx, "c1", old.ID, time.Now()))
		got, _, err := s.Get(ctx, "c1")
		require.NoError(t, err)
		assert.Nil(t, got.LastSweptAt)
	})
}
