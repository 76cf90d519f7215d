package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 1.0, cfg.Coordinator.MaxPlaybackDriftSeconds)
	assert.Equal(t, 2.0, cfg.Coordinator.PositionUpdateIntervalSeconds)
	assert.Empty(t, cfg.Coordinator.AllowedTransportRoles)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  addr: ":9999"
coordinator:
  max_playback_drift_seconds: 0.5
  position_update_interval_seconds: 1.5
  allowed_transport_roles:
    - presenter
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, 0.5, cfg.Coordinator.MaxPlaybackDriftSeconds)
	assert.Equal(t, []string{"presenter"}, cfg.Coordinator.AllowedTransportRoles)
	assert.Equal(t, "debug", cfg.Log.Level)

	rt := cfg.Coordinator.Runtime()
	assert.Equal(t, 0.5, rt.MaxPlaybackDrift)
	assert.Equal(t, 1500*time.Millisecond, rt.PositionUpdateInterval)
}

func TestLoad_InvalidDriftRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
coordinator:
  max_playback_drift_seconds: -1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_EnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":9999\"\n"), 0644))

	t.Setenv("SYNCROOM_ADDR", ":7777")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.Server.Addr)
}
