package logger

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeKVs(t *testing.T) {
	out := sanitizeKVs([]interface{}{
		"api_key", "sk-live-123",
		"user_id", int64(42),
		"prompt_tokens", 17,
		"pair_id", "abc",
		"dangling",
	})

	require.Len(t, out, 9)
	require.Equal(t, "[REDACTED]", out[1])
	require.True(t, strings.HasPrefix(out[3].(string), "hash:"))
	require.Equal(t, 17, out[5])
	require.Equal(t, "abc", out[7])
	require.Equal(t, "dangling", out[8])
}

func TestLooksLikeJWT(t *testing.T) {
	require.True(t, looksLikeJWT("eyJhbGciOiJIUzI1NiJ9.eyJ1c2VyX2lkIjo0Mn0.sig"))
	require.False(t, looksLikeJWT("hello.world"))
}
