package cache

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSearchMemoriesRanksByOverlap(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.AddMemory(ctx, 1, "c1", "I live in Berlin", "Berlin is a great city."))
	require.NoError(t, c.AddMemory(ctx, 1, "c1", "My dog is called Rex", "Nice name for a dog."))
	require.NoError(t, c.AddMemory(ctx, 1, "c2", "Weather in Berlin today?", "Cloudy."))
	require.NoError(t, c.AddMemory(ctx, 2, "c3", "Berlin trip", "Have fun."))

	got, err := c.SearchMemories(ctx, 1, "what should I do in Berlin today", 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Contains(t, got[0], "Weather in Berlin today?")
	require.Contains(t, got[1], "I live in Berlin")

	got, err = c.SearchMemories(ctx, 1, "berlin", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	// 得分相同时较新的在前
	require.Contains(t, got[0], "Weather")

	got, err = c.SearchMemories(ctx, 1, "quantum physics", 5)
	require.NoError(t, err)
	require.Empty(t, got)

	got, err = c.SearchMemories(ctx, 3, "berlin", 5)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestSearchMemoriesHanCharacters(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.AddMemory(ctx, 1, "c1", "我喜欢喝咖啡", "好的，记住了。"))
	got, err := c.SearchMemories(ctx, 1, "推荐一种咖啡", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "用户: 我喜欢喝咖啡\n回复: 好的，记住了。", got[0])

	// 展示用的标签不参与匹配
	got, err = c.SearchMemories(ctx, 1, "回复", 5)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestAddMemoryTrimsAndTruncates(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	for i := 0; i < maxMemories+5; i++ {
		require.NoError(t, c.AddMemory(ctx, 1, "c1", fmt.Sprintf("note %d", i), "ok"))
	}
	items, err := mr.List(memoryKey(1))
	require.NoError(t, err)
	require.Len(t, items, maxMemories)

	require.NoError(t, c.AddMemory(ctx, 1, "c1", "long answer", strings.Repeat("a", memoryResponseRunes+50)))
	got, err := c.SearchMemories(ctx, 1, "long", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.True(t, strings.HasSuffix(got[0], "…"))
	require.Len(t, []rune(strings.TrimPrefix(got[0], "用户: long answer\n回复: ")), memoryResponseRunes+1)
}

func TestSearchMemoriesZeroLimit(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.AddMemory(ctx, 1, "c1", "berlin", "ok"))
	got, err := c.SearchMemories(ctx, 1, "berlin", 0)
	require.NoError(t, err)
	require.Empty(t, got)
}
