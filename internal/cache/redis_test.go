package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestBlacklistToken(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.BlacklistToken(ctx, "abc", time.Now().Add(time.Minute)))
	require.True(t, c.IsTokenBlacklisted(ctx, "abc"))
	require.False(t, c.IsTokenBlacklisted(ctx, "other"))

	// 已过期的 token 不写入
	require.NoError(t, c.BlacklistToken(ctx, "old", time.Now().Add(-time.Minute)))
	require.False(t, c.IsTokenBlacklisted(ctx, "old"))

	mr.FastForward(2 * time.Minute)
	require.False(t, c.IsTokenBlacklisted(ctx, "abc"))
}

func TestGeneratingMarkers(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.MarkGenerating(ctx, 1, "c1", time.Minute))
	require.NoError(t, c.MarkGenerating(ctx, 1, "c2", time.Minute))

	ids, err := c.GeneratingConversations(ctx, 1)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"c1", "c2"}, ids)

	require.NoError(t, c.ClearGenerating(ctx, 1, "c1"))
	ids, err = c.GeneratingConversations(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []string{"c2"}, ids)
}

func TestPublishSubscribeStatus(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	sub := c.SubscribeStatus(ctx, 9)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, c.PublishStatus(ctx, 9, StatusEvent{ConversationID: "c1", Status: StatusStarted}))

	select {
	case msg := <-sub.Channel():
		ev, err := DecodeStatus(msg)
		require.NoError(t, err)
		require.Equal(t, "c1", ev.ConversationID)
		require.Equal(t, StatusStarted, ev.Status)
		require.NotZero(t, ev.Timestamp)
	case <-time.After(2 * time.Second):
		t.Fatal("status event not received")
	}
}
