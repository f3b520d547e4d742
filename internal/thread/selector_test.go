package thread

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSelectorDefaultsToZero(t *testing.T) {
	s := NewSelector()
	require.Equal(t, 0, s.Index("never-seen"))
}

func TestSelectorSelectClamps(t *testing.T) {
	s := NewSelector()

	require.Equal(t, 2, s.Select("p", 7, 3))
	require.Equal(t, 2, s.Index("p"))
	require.Equal(t, 0, s.Select("p", -4, 3))
	require.Equal(t, 0, s.Select("q", 3, 0))
}

func TestSelectorPreviousNextNoWraparound(t *testing.T) {
	s := NewSelector()

	require.Equal(t, 0, s.Previous("p", 3))
	require.Equal(t, 1, s.Next("p", 3))
	require.Equal(t, 2, s.Next("p", 3))
	require.Equal(t, 2, s.Next("p", 3))
	require.Equal(t, 1, s.Previous("p", 3))
	require.Equal(t, 0, s.Previous("p", 3))
	require.Equal(t, 0, s.Previous("p", 3))
}

func TestSelectorPreviousFromOutOfRangeIndex(t *testing.T) {
	// 下标 9 在 3 个分支下展示为最后一个，向前一步应到第二个
	s := NewSelectorFrom(map[string]int{"p": 9})
	require.Equal(t, 1, s.Previous("p", 3))
	require.Equal(t, 0, s.Previous("p", 3))

	// 分支被删光时停在 0
	s = NewSelectorFrom(map[string]int{"q": 4})
	require.Equal(t, 0, s.Previous("q", 0))
}

func TestSelectorSnapshotIsCopy(t *testing.T) {
	s := NewSelectorFrom(map[string]int{"a": 1, "b": -2})
	snap := s.Snapshot()
	require.Equal(t, Selections{"a": 1, "b": 0}, snap)

	snap["a"] = 9
	require.Equal(t, 1, s.Index("a"))

	s.Reset()
	require.Equal(t, 0, s.Index("a"))
}
