package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitWritesDefaultsAndPersistsToken(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, InitAt(dir))
	require.Equal(t, "http://localhost:8080", GetServerURL())
	require.False(t, IsLoggedIn())
	require.FileExists(t, Path())

	require.NoError(t, SaveToken("abc"))
	require.True(t, IsLoggedIn())

	// 重新加载后 Token 仍在
	require.NoError(t, InitAt(dir))
	require.Equal(t, "abc", GetAccessToken())

	require.NoError(t, ClearToken())
	require.NoError(t, InitAt(dir))
	require.False(t, IsLoggedIn())
}

func TestServerOverride(t *testing.T) {
	require.NoError(t, InitAt(t.TempDir()))
	SetServerURL("https://chat.example.com/")
	require.Equal(t, "https://chat.example.com", GetServerURL())

	t.Setenv("GALAXY_CHAT_MODEL", "gpt-4o-mini")
	require.NoError(t, InitAt(t.TempDir()))
	require.Equal(t, "gpt-4o-mini", GetModel())
}
