package presence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, ttl time.Duration) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewManager(client, ttl), mr
}

func TestManager_TouchAndExpire(t *testing.T) {
	ctx := context.Background()
	m, mr := newTestManager(t, 30*time.Second)

	require.NoError(t, m.Touch(ctx, "ABC123", 1))
	require.NoError(t, m.Touch(ctx, "ABC123", 2))

	online, err := m.Online(ctx, "ABC123", []int64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, map[int64]bool{1: true, 2: true, 3: false}, online)

	mr.FastForward(20 * time.Second)
	require.NoError(t, m.Touch(ctx, "ABC123", 2))
	mr.FastForward(20 * time.Second)

	online, err = m.Online(ctx, "ABC123", []int64{1, 2})
	require.NoError(t, err)
	assert.False(t, online[1], "missed heartbeat goes offline")
	assert.True(t, online[2], "touch refreshes the ttl")
}

func TestManager_Remove(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, time.Minute)

	require.NoError(t, m.Touch(ctx, "ABC123", 1))
	require.NoError(t, m.Remove(ctx, "ABC123", 1))

	online, err := m.Online(ctx, "ABC123", []int64{1})
	require.NoError(t, err)
	assert.False(t, online[1])

	t.Run("rooms are isolated", func(t *testing.T) {
		require.NoError(t, m.Touch(ctx, "OTHER", 1))
		online, err := m.Online(ctx, "ABC123", []int64{1})
		require.NoError(t, err)
		assert.False(t, online[1])
	})
}

func TestManager_OnlineEmpty(t *testing.T) {
	m, mr := newTestManager(t, time.Minute)
	mr.Close()

	online, err := m.Online(context.Background(), "ABC123", nil)
	require.NoError(t, err, "no round trip for an empty list")
	assert.Empty(t, online)
}
