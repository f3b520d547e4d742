package llm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// fixedCounter 每个轮次按内容长度计数，方便构造边界
type fixedCounter struct{}

func (fixedCounter) Count(text string) int { return len(text) }

func TestContextSize(t *testing.T) {
	require.Equal(t, 8192, ContextSize("gpt-4"))
	require.Equal(t, 32768, ContextSize("gemini-2.5-flash"))
	require.Equal(t, DefaultContextSize, ContextSize("unknown-model"))
}

func TestBudgetReservesAtLeast64(t *testing.T) {
	require.Equal(t, 1000-64, Budget(1000, 10))
	require.Equal(t, 1000-500, Budget(1000, 500))
	require.Equal(t, 0, Budget(50, 10))
}

func TestEstimateTokens(t *testing.T) {
	require.Equal(t, 1, EstimateTokens(""))
	require.Equal(t, 1, EstimateTokens("abcd"))
	require.Equal(t, 2, EstimateTokens("abcde"))
}

func TestTrimKeepsSystemAndNewestPrefix(t *testing.T) {
	turns := []Turn{
		{Role: RoleSystem, Content: "sys"},   // 3
		{Role: RoleUser, Content: "aaaaa"},   // 5
		{Role: RoleAssistant, Content: "bb"}, // 2
		{Role: RoleUser, Content: "cccc"},    // 4
	}

	out := Trim(turns, 9, fixedCounter{})
	require.Equal(t, []Turn{turns[0], turns[2], turns[3]}, out)

	// 预算足够时保留全部
	require.Equal(t, turns, Trim(turns, 100, fixedCounter{}))
}

func TestTrimNeverSkipsToOlderTurns(t *testing.T) {
	turns := []Turn{
		{Role: RoleUser, Content: "a"},
		{Role: RoleAssistant, Content: "bbbbbbbbbb"},
		{Role: RoleUser, Content: "c"},
	}

	// "a" 可以放下，但它前面的轮次已经放不下，所以不会跳过去选它
	out := Trim(turns, 5, fixedCounter{})
	require.Equal(t, []Turn{turns[2]}, out)
}

func TestTrimSystemOverBudget(t *testing.T) {
	turns := []Turn{
		{Role: RoleUser, Content: "hello"},
		{Role: RoleSystem, Content: "a very long system prompt"},
	}

	out := Trim(turns, 4, fixedCounter{})
	require.Equal(t, []Turn{turns[1]}, out)
}

func TestTiktokenCounter(t *testing.T) {
	c := NewTiktokenCounter().ForModel("gpt-4o")
	require.Greater(t, c.Count("hello world, this is a test"), 1)
	require.Equal(t, 1, c.Count(""))
}
