package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, "gemini-2.5-flash", cfg.AI.Model)
	require.Equal(t, 1024, cfg.AI.ReservedTokens)
	require.Equal(t, 5*time.Minute, cfg.AI.StreamTimeout)
	require.True(t, cfg.AI.Memory)
	require.Equal(t, 5, cfg.AI.MemoryLimit)
	require.Equal(t, "local", cfg.Storage.Driver)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	body := []byte(`
server:
  port: 9090
database:
  driver: postgres
  dsn: "host=db user=chat dbname=chat"
ai:
  provider: mock
  system_prompt: "be brief"
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), body, 0o644))
	t.Setenv("AI_MODEL", "gpt-4o")

	cfg, err := Load(dir)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, "mock", cfg.AI.Provider)
	require.Equal(t, "be brief", cfg.AI.SystemPrompt)
	require.Equal(t, "gpt-4o", cfg.AI.Model)
}
